// Package config loads the engine configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/happyhackingspace/disco/errkind"
	"github.com/happyhackingspace/disco/maxent"
	"github.com/happyhackingspace/disco/weights"
)

// Classifier names.
const (
	P1     = "p1"
	MaxEnt = "maxent"
)

// Config is the whole configuration file.
type Config struct {
	Model    string         `yaml:"model"`
	Labels   LabelsConfig   `yaml:"labels"`
	Features FeaturesConfig `yaml:"features"`
	P1       P1Config       `yaml:"p1"`
	MaxEnt   MaxEntConfig   `yaml:"maxent"`

	// Dir is the directory relative paths were resolved against.
	Dir string `yaml:"-"`

	envProblems []string
}

// LabelsConfig describes the label vocabulary.
type LabelsConfig struct {
	File        string   `yaml:"file"`
	List        []string `yaml:"list"`
	Suffixes    bool     `yaml:"suffixes"`
	StartEnd    bool     `yaml:"start_end"`
	NestedNames bool     `yaml:"nested_names"`
}

// FeaturesConfig describes the extractor catalogs.
type FeaturesConfig struct {
	Catalog   string            `yaml:"catalog"`
	PerLabel  map[string]string `yaml:"per_label"`
	Capacity  int               `yaml:"capacity"`
	ListCache int               `yaml:"list_cache"`
}

// P1Config holds the perceptron knobs.
type P1Config struct {
	Epochs             int     `yaml:"epochs"`
	OvergenThreshold   float64 `yaml:"overgen_threshold"`
	UndergenThreshold  float64 `yaml:"undergen_threshold"`
	AddUnseenOnMistake bool    `yaml:"add_unseen_on_mistake"`
	RealAveraged       bool    `yaml:"real_averaged"`
	VectorDump         string  `yaml:"vector_dump"`
}

// MaxEntConfig holds the log-linear model knobs.
type MaxEntConfig struct {
	TrainMode          string  `yaml:"train_mode"`
	PercentHeldOut     int     `yaml:"percent_held_out"`
	MaxIterations      int     `yaml:"max_iterations"`
	GaussianVariance   float64 `yaml:"gaussian_variance"`
	MinLikelihoodDelta float64 `yaml:"min_likelihood_delta"`
	StopCheckFrequency int     `yaml:"stop_check_frequency"`
	PruningThreshold   int     `yaml:"pruning_threshold"`
	Workers            int     `yaml:"workers"`
	TrainingVectorDump string  `yaml:"training_vector_dump"`
	HeldOutVectorDump  string  `yaml:"held_out_vector_dump"`
}

// Default returns a configuration with every knob set.
func Default() *Config {
	me := maxent.DefaultOptions()
	return &Config{
		Model: MaxEnt,
		Features: FeaturesConfig{
			Capacity:  1000,
			ListCache: 64,
		},
		P1: P1Config{
			Epochs:       5,
			RealAveraged: true,
		},
		MaxEnt: MaxEntConfig{
			TrainMode:          me.Mode.String(),
			MaxIterations:      me.MaxIterations,
			MinLikelihoodDelta: me.MinLikelihoodDelta,
			StopCheckFrequency: me.StopCheckFrequency,
			Workers:            me.Workers,
		},
	}
}

// Load reads a YAML file over the defaults, applies DISCO_* environment
// overrides, resolves relative paths against the file's directory and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w: %w", errkind.ErrConfiguration, err)
	}
	cfg, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, path)
	}
	return cfg, nil
}

// Parse is Load on in-memory YAML, resolving paths against dir.
func Parse(data []byte, dir string) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: %w: %w", errkind.ErrConfiguration, err)
	}
	cfg.applyEnvironment()
	cfg.resolve(dir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvironment() {
	if v := os.Getenv("DISCO_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("DISCO_TRAIN_MODE"); v != "" {
		c.MaxEnt.TrainMode = v
	}
	c.envInt("DISCO_MAX_ITERATIONS", &c.MaxEnt.MaxIterations)
	c.envInt("DISCO_EPOCHS", &c.P1.Epochs)
}

// envInt overrides *dst with an integer variable. A malformed value is
// reported by Validate.
func (c *Config) envInt(name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		c.envProblems = append(c.envProblems, fmt.Sprintf("%s=%q is not an integer", name, v))
		return
	}
	*dst = n
}

func (c *Config) resolve(dir string) {
	c.Dir = dir
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) || dir == "" {
			return p
		}
		return filepath.Join(dir, p)
	}
	c.Labels.File = abs(c.Labels.File)
	c.Features.Catalog = abs(c.Features.Catalog)
	for k, v := range c.Features.PerLabel {
		c.Features.PerLabel[k] = abs(v)
	}
	c.P1.VectorDump = abs(c.P1.VectorDump)
	c.MaxEnt.TrainingVectorDump = abs(c.MaxEnt.TrainingVectorDump)
	c.MaxEnt.HeldOutVectorDump = abs(c.MaxEnt.HeldOutVectorDump)
}

// Validate checks the knobs for consistency.
func (c *Config) Validate() error {
	c.Model = strings.ToLower(strings.TrimSpace(c.Model))
	problems := slices.Clone(c.envProblems)
	switch c.Model {
	case P1, MaxEnt:
	default:
		problems = append(problems, fmt.Sprintf("unknown model %q", c.Model))
	}
	if c.Labels.File == "" && len(c.Labels.List) == 0 {
		problems = append(problems, "no label vocabulary")
	}
	if c.Labels.File != "" && len(c.Labels.List) > 0 {
		problems = append(problems, "labels.file and labels.list are exclusive")
	}
	if c.Labels.NestedNames && !c.Labels.Suffixes {
		problems = append(problems, "nested label names need suffixes")
	}
	if c.Features.Catalog == "" {
		problems = append(problems, "no feature catalog")
	}
	if c.Features.Capacity <= 0 {
		problems = append(problems, "features.capacity must be positive")
	}
	if c.P1.Epochs <= 0 {
		problems = append(problems, "p1.epochs must be positive")
	}
	if c.P1.OvergenThreshold != 0 && c.P1.UndergenThreshold != 0 {
		problems = append(problems, "overgen and undergen thresholds are mutually exclusive")
	}
	if _, err := maxent.ParseMode(c.MaxEnt.TrainMode); err != nil {
		problems = append(problems, fmt.Sprintf("unknown train mode %q", c.MaxEnt.TrainMode))
	}
	if p := c.MaxEnt.PercentHeldOut; p < 0 || p > 50 {
		problems = append(problems, fmt.Sprintf("percent_held_out %d outside [0, 50]", p))
	}
	if c.MaxEnt.MaxIterations <= 0 {
		problems = append(problems, "maxent.max_iterations must be positive")
	}
	if c.MaxEnt.StopCheckFrequency <= 0 {
		problems = append(problems, "maxent.stop_check_frequency must be positive")
	}
	if c.MaxEnt.GaussianVariance < 0 {
		problems = append(problems, "maxent.gaussian_variance must not be negative")
	}
	if c.MaxEnt.MinLikelihoodDelta < 0 {
		problems = append(problems, "maxent.min_likelihood_delta must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: %s: %w", strings.Join(problems, "; "), errkind.ErrConfiguration)
	}
	return nil
}

// Mode returns the configured maxent training mode.
func (c *Config) Mode() maxent.Mode {
	m, _ := maxent.ParseMode(c.MaxEnt.TrainMode)
	return m
}

// Params returns the parameters recorded in model headers. Those that
// change what a feature means are marked for consistency checking.
func (c *Config) Params() []weights.Param {
	p := []weights.Param{
		{Key: "model", Value: c.Model, Checked: true},
		{Key: "labels", Value: base(c.Labels.File), Checked: true},
		{Key: "suffixes", Value: strconv.FormatBool(c.Labels.Suffixes), Checked: true},
		{Key: "start_end", Value: strconv.FormatBool(c.Labels.StartEnd), Checked: true},
		{Key: "features", Value: base(c.Features.Catalog), Checked: true},
	}
	switch c.Model {
	case P1:
		p = append(p,
			weights.Param{Key: "epochs", Value: strconv.Itoa(c.P1.Epochs)},
			weights.Param{Key: "real_averaged", Value: strconv.FormatBool(c.P1.RealAveraged)},
			weights.Param{Key: "add_unseen_on_mistake", Value: strconv.FormatBool(c.P1.AddUnseenOnMistake)},
		)
	case MaxEnt:
		p = append(p,
			weights.Param{Key: "train_mode", Value: c.Mode().String()},
			weights.Param{Key: "percent_held_out", Value: strconv.Itoa(c.MaxEnt.PercentHeldOut)},
			weights.Param{Key: "max_iterations", Value: strconv.Itoa(c.MaxEnt.MaxIterations)},
			weights.Param{Key: "gaussian_variance", Value: strconv.FormatFloat(c.MaxEnt.GaussianVariance, 'g', -1, 64)},
			weights.Param{Key: "pruning_threshold", Value: strconv.Itoa(c.MaxEnt.PruningThreshold)},
		)
	}
	return p
}

func base(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Base(path)
}
