package disco

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/happyhackingspace/disco/errkind"
	"github.com/happyhackingspace/disco/feature"
	"github.com/happyhackingspace/disco/internal/config"
	"github.com/happyhackingspace/disco/maxent"
	"github.com/happyhackingspace/disco/perceptron"
	"github.com/happyhackingspace/disco/tagset"
	"github.com/happyhackingspace/disco/weights"
)

// Options carries what a configuration file cannot.
type Options struct {
	Logger *slog.Logger
	// Catalog resolves extractor types; nil uses the built-in types only.
	Catalog *feature.Catalog
}

// Engine is a configured classifier with its registry and extractors.
type Engine struct {
	Config     *config.Config
	Tags       *tagset.Registry
	Sets       feature.Sets
	Classifier Classifier
	// Header is the header of the loaded model, if any.
	Header weights.Header

	log     *slog.Logger
	closers []io.Closer
}

// New builds an untrained engine. Vector dump files named by the
// configuration are created; Close closes them.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	e, err := build(cfg, opts, weights.New(), true)
	if err != nil {
		return nil, fmt.Errorf("disco: %w", err)
	}
	return e, nil
}

// Load builds an engine around a saved model. Consistency parameters that
// differ between the model header and cfg are logged, not rejected.
func Load(cfg *config.Config, modelPath string, opts Options) (*Engine, error) {
	f, err := os.Open(modelPath)
	if err != nil {
		return nil, fmt.Errorf("disco: %w", err)
	}
	defer f.Close()
	return Read(cfg, f, opts)
}

// Read is Load from a reader.
func Read(cfg *config.Config, r io.Reader, opts Options) (*Engine, error) {
	store := weights.New()
	h, stats, err := store.Read(r)
	if err != nil {
		return nil, fmt.Errorf("disco: %w", err)
	}
	e, err := build(cfg, opts, store, false)
	if err != nil {
		return nil, fmt.Errorf("disco: %w", err)
	}
	e.Header = h
	for _, m := range h.Check(cfg.Params()) {
		e.log.Warn("Model parameter mismatch", "key", m.Key, "model", m.Model, "config", m.Current)
	}
	if stats.Duplicates > 0 {
		e.log.Warn("Model has duplicate features", "count", stats.Duplicates)
	}
	e.log.Debug("Loaded model", "id", h.ID, "features", stats.Features, "zeros", stats.Zeros)
	return e, nil
}

func build(cfg *config.Config, opts Options, store *weights.Store, training bool) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil configuration: %w", errkind.ErrPrecondition)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{Config: cfg, log: log}

	var err error
	e.Tags, err = labels(cfg)
	if err != nil {
		return nil, err
	}
	e.Sets, err = extractorSets(cfg, opts.Catalog, e.Tags)
	if err != nil {
		return nil, err
	}

	switch cfg.Model {
	case config.P1:
		po := perceptron.Options{
			OvergenThreshold:   cfg.P1.OvergenThreshold,
			UndergenThreshold:  cfg.P1.UndergenThreshold,
			AddUnseenOnMistake: cfg.P1.AddUnseenOnMistake,
			RealAveraged:       cfg.P1.RealAveraged,
			Logger:             log,
		}
		if training {
			if po.Dump, err = e.create(cfg.P1.VectorDump); err != nil {
				return nil, err
			}
		}
		d, err := perceptron.New(e.Tags, e.Sets, store, po)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.Classifier = NewPerceptron(d)
	default:
		mo := maxent.Options{
			Mode:               cfg.Mode(),
			PercentHeldOut:     cfg.MaxEnt.PercentHeldOut,
			MaxIterations:      cfg.MaxEnt.MaxIterations,
			GaussianVariance:   cfg.MaxEnt.GaussianVariance,
			MinLikelihoodDelta: cfg.MaxEnt.MinLikelihoodDelta,
			StopCheckFrequency: cfg.MaxEnt.StopCheckFrequency,
			Workers:            cfg.MaxEnt.Workers,
			Logger:             log,
		}
		if training {
			if mo.TrainingDump, err = e.create(cfg.MaxEnt.TrainingVectorDump); err != nil {
				return nil, err
			}
			if mo.HeldOutDump, err = e.create(cfg.MaxEnt.HeldOutVectorDump); err != nil {
				e.Close()
				return nil, err
			}
		}
		m, err := maxent.New(e.Tags, e.Sets, store, mo)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.Classifier = NewMaxEnt(m, cfg.MaxEnt.PruningThreshold)
	}
	return e, nil
}

// create opens a dump file, returning a nil writer for an empty path.
func (e *Engine) create(path string) (io.Writer, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Create(path)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.closers = append(e.closers, f)
	return f, nil
}

func labels(cfg *config.Config) (*tagset.Registry, error) {
	opts := tagset.Options{
		Suffixes:    cfg.Labels.Suffixes,
		StartEnd:    cfg.Labels.StartEnd,
		NestedNames: cfg.Labels.NestedNames,
	}
	if cfg.Labels.File != "" {
		return tagset.Load(cfg.Labels.File, opts)
	}
	return tagset.New(cfg.Labels.List, opts)
}

func extractorSets(cfg *config.Config, catalog *feature.Catalog, tags *tagset.Registry) (feature.Sets, error) {
	if catalog == nil {
		catalog = feature.NewCatalog()
	}
	env := feature.Env{Capacity: cfg.Features.Capacity}
	if cfg.Features.ListCache > 0 {
		cache, err := feature.NewListCache(cfg.Features.ListCache)
		if err != nil {
			return feature.Sets{}, err
		}
		env.Lists = cache
	}

	shared, err := catalog.Load(cfg.Features.Catalog, env)
	if err != nil {
		return feature.Sets{}, err
	}
	if len(cfg.Features.PerLabel) == 0 {
		return feature.Shared(shared), nil
	}

	byLabel := make([]*feature.Set, tags.Count())
	env.Superset = shared
	for sym, path := range cfg.Features.PerLabel {
		i, ok := tags.IndexOf(sym)
		if !ok {
			return feature.Sets{}, fmt.Errorf("per-label catalog for unknown label %q: %w", sym, errkind.ErrConfiguration)
		}
		set, err := catalog.Load(path, env)
		if err != nil {
			return feature.Sets{}, err
		}
		byLabel[i] = set
	}
	return feature.PerLabel(byLabel, shared), nil
}

// Decode returns the best label symbol for obs and its score.
func (e *Engine) Decode(obs feature.Observation) (string, float64, error) {
	label, score, err := e.Classifier.Decode(obs)
	if err != nil {
		return "", 0, fmt.Errorf("disco: %w", err)
	}
	sym, err := e.Tags.Label(label)
	if err != nil {
		return "", 0, fmt.Errorf("disco: %w", err)
	}
	return sym, score, nil
}

// Distribution returns the posterior of every label. Only maxent engines
// produce one.
func (e *Engine) Distribution(obs feature.Observation) (map[string]float64, error) {
	d, ok := e.Classifier.(Distributor)
	if !ok {
		return nil, fmt.Errorf("disco: %s model has no distribution: %w", e.Config.Model, errkind.ErrPrecondition)
	}
	dist := make([]float64, e.Tags.Count())
	if _, err := d.DecodeToDistribution(obs, dist); err != nil {
		return nil, fmt.Errorf("disco: %w", err)
	}
	out := make(map[string]float64, len(dist))
	for i, p := range dist {
		sym, _ := e.Tags.Label(i)
		out[sym] = p
	}
	return out, nil
}

// Write serializes the model with a fresh header recording the
// configuration.
func (e *Engine) Write(w io.Writer) error {
	h := weights.NewHeader(e.Config.Params()...)
	if err := e.Classifier.Save(w, h); err != nil {
		return fmt.Errorf("disco: %w", err)
	}
	return nil
}

// Save writes the model to path.
func (e *Engine) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("disco: %w", err)
	}
	if err := e.Write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("disco: %w", err)
	}
	e.log.Info("Model saved", "path", path, "features", e.Classifier.Weights().Len())
	return nil
}

// Close closes the vector dump files.
func (e *Engine) Close() error {
	var errs []error
	for _, c := range e.closers {
		errs = append(errs, c.Close())
	}
	e.closers = nil
	return errors.Join(errs...)
}
