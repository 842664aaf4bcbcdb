// Package maxent implements the log-linear (maximum entropy) classifier.
//
// Events are collected into a training set and an optional held-out set,
// then a model is derived with either Generalized Iterative Scaling (GIS)
// or Sequential Conditional GIS (SCGIS), optionally with a Gaussian prior.
// The derived log-weights live in a shared weights.Store, so decoding needs
// nothing but the store.
package maxent

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/happyhackingspace/disco/errkind"
	"github.com/happyhackingspace/disco/feature"
	"github.com/happyhackingspace/disco/tagset"
	"github.com/happyhackingspace/disco/weights"
)

// LogOfZero stands in for the logarithm of zero.
const LogOfZero = -10000

// Log is math.Log with zero, and anything below it, mapped to LogOfZero.
func Log(x float64) float64 {
	if x <= 0 {
		return LogOfZero
	}
	return math.Log(x)
}

// Mode selects the training algorithm.
type Mode int

const (
	SCGIS Mode = iota
	GIS
)

// String returns the mode's name.
func (m Mode) String() string {
	switch m {
	case SCGIS:
		return "SCGIS"
	case GIS:
		return "GIS"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses "GIS" or "SCGIS", ignoring case.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SCGIS", "":
		return SCGIS, nil
	case "GIS":
		return GIS, nil
	}
	return 0, fmt.Errorf("maxent: unknown training mode %q: %w", s, errkind.ErrConfiguration)
}

// Options holds the training tunables.
type Options struct {
	Mode Mode
	// PercentHeldOut routes roughly this share of added events to the
	// held-out set, which then drives the stopping rule.
	PercentHeldOut int
	MaxIterations  int
	// GaussianVariance enables a Gaussian prior on the weights when
	// non-zero. Only SCGIS uses it.
	GaussianVariance float64
	// MinLikelihoodDelta stops training once the log-likelihood moves by
	// less than this amount per event between two checks.
	MinLikelihoodDelta float64
	// StopCheckFrequency is the number of iterations between likelihood
	// checks.
	StopCheckFrequency int
	// Workers splits the GIS expectation pass over this many goroutines.
	// Partial sums are reduced in partition order, so a run is
	// reproducible for a given worker count.
	Workers int

	Logger       *slog.Logger
	TrainingDump io.Writer
	HeldOutDump  io.Writer
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Mode:               SCGIS,
		MaxIterations:      100,
		MinLikelihoodDelta: 0.0001,
		StopCheckFrequency: 1,
		Workers:            1,
	}
}

func (o Options) validate() error {
	switch {
	case o.Mode != SCGIS && o.Mode != GIS:
		return fmt.Errorf("maxent: unknown training mode %d: %w", int(o.Mode), errkind.ErrConfiguration)
	case o.PercentHeldOut < 0 || o.PercentHeldOut > 50:
		return fmt.Errorf("maxent: held-out percentage %d outside [0, 50]: %w", o.PercentHeldOut, errkind.ErrConfiguration)
	case o.MaxIterations <= 0:
		return fmt.Errorf("maxent: max iterations must be positive, got %d: %w", o.MaxIterations, errkind.ErrConfiguration)
	case o.StopCheckFrequency <= 0:
		return fmt.Errorf("maxent: stop check frequency must be positive, got %d: %w",
			o.StopCheckFrequency, errkind.ErrConfiguration)
	case o.GaussianVariance < 0:
		return fmt.Errorf("maxent: negative Gaussian variance %g: %w", o.GaussianVariance, errkind.ErrConfiguration)
	case o.MinLikelihoodDelta < 0:
		return fmt.Errorf("maxent: negative likelihood delta %g: %w", o.MinLikelihoodDelta, errkind.ErrConfiguration)
	}
	return nil
}

// Model is the log-linear classifier. It is not safe for concurrent use.
type Model struct {
	tags     *tagset.Registry
	sets     feature.Sets
	weights  *weights.Store
	opts     Options
	log      *slog.Logger
	training *EventSet
	heldOut  *EventSet
	added    int
	buf      []feature.Feature
	scores   []float64
}

// New creates a model over a registry, its extractor sets and a weight
// table. The weight table may already hold a derived model.
func New(tags *tagset.Registry, sets feature.Sets, store *weights.Store, opts Options) (*Model, error) {
	if tags == nil {
		return nil, fmt.Errorf("maxent: nil label registry: %w", errkind.ErrPrecondition)
	}
	if store == nil {
		return nil, fmt.Errorf("maxent: weight table not initialized: %w", errkind.ErrPrecondition)
	}
	if sets.Empty() {
		return nil, fmt.Errorf("maxent: no extractor set: %w", errkind.ErrConfiguration)
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	m := &Model{
		tags:     tags,
		sets:     sets,
		weights:  store,
		opts:     opts,
		log:      log,
		training: NewEventSet(tags, sets, true),
		heldOut:  NewEventSet(tags, sets, false),
	}
	if opts.TrainingDump != nil {
		m.training.SetDump(opts.TrainingDump)
	}
	if opts.HeldOutDump != nil {
		m.heldOut.SetDump(opts.HeldOutDump)
	}
	return m, nil
}

// Labels returns the registry the model was built with.
func (m *Model) Labels() *tagset.Registry { return m.tags }

// Weights returns the weight table.
func (m *Model) Weights() *weights.Store { return m.weights }

// Options returns the model's options.
func (m *Model) Options() Options { return m.opts }

// Training returns the pending training events.
func (m *Model) Training() *EventSet { return m.training }

// HeldOut returns the pending held-out events.
func (m *Model) HeldOut() *EventSet { return m.heldOut }

// AddToTraining records one event whose correct label is correct.
func (m *Model) AddToTraining(obs feature.Observation, correct int) error {
	return m.AddEvent(obs, correct, 1)
}

// AddState records count occurrences of st with its label as the correct
// outcome. Extractors see the position and history of st for every
// candidate label.
func (m *Model) AddState(st feature.State, count int) error {
	return m.route().AddState(st, count)
}

// AddEvent records count occurrences of (obs, correct).
func (m *Model) AddEvent(obs feature.Observation, correct, count int) error {
	return m.route().Add(obs, correct, count)
}

// route picks the set for the next event. When a held-out percentage p is
// configured, every (100/p)-th event goes to the held-out set.
func (m *Model) route() *EventSet {
	target := m.training
	if p := m.opts.PercentHeldOut; p > 0 && m.added%(100/p) == 0 {
		target = m.heldOut
	}
	m.added++
	return target
}

// scoresOf fills m.scores with the raw score of every label, ignoring
// admissibility.
func (m *Model) scoresOf(obs feature.Observation) ([]float64, error) {
	n := m.tags.Count()
	if cap(m.scores) < n {
		m.scores = make([]float64, n)
	}
	m.scores = m.scores[:n]
	for i := range n {
		sym, _ := m.tags.Label(i)
		var err error
		m.buf, err = m.sets.Extract(feature.State{Label: sym, LabelIndex: i, Observation: obs}, m.buf[:0])
		if err != nil {
			return nil, fmt.Errorf("maxent: %w", err)
		}
		var s float64
		for _, f := range m.buf {
			s += m.weights.Value(f)
		}
		m.scores[i] = s
	}
	return m.scores, nil
}

// Score returns the raw score of label, the sum of its features'
// log-weights, or LogOfZero if obs does not admit it.
func (m *Model) Score(obs feature.Observation, label int) (float64, error) {
	if label < 0 || label >= m.tags.Count() {
		return 0, fmt.Errorf("maxent: label %d outside [0, %d): %w", label, m.tags.Count(), errkind.ErrIndexOutOfRange)
	}
	if !obs.IsValidLabel(label) {
		return LogOfZero, nil
	}
	s, err := m.scoresOf(obs)
	if err != nil {
		return 0, err
	}
	return s[label], nil
}

// DecodeToDistribution writes the posterior probability of every label to
// dist and returns the most probable one. Admissibility is ignored.
func (m *Model) DecodeToDistribution(obs feature.Observation, dist []float64) (int, error) {
	n := m.tags.Count()
	if len(dist) < n {
		return m.tags.NoneIndex(), fmt.Errorf("maxent: distribution buffer holds %d of %d labels: %w",
			len(dist), n, errkind.ErrIndexOutOfRange)
	}
	s, err := m.scoresOf(obs)
	if err != nil {
		return m.tags.NoneIndex(), err
	}
	z := floats.LogSumExp(s)
	best := 0
	for i, v := range s {
		dist[i] = math.Exp(v - z)
		if dist[i] > dist[best] {
			best = i
		}
	}
	return best, nil
}

// Decode returns the admissible label with the highest raw score, and
// that score. Ties go to the lower index. With no admissible label it
// returns NONE and LogOfZero.
func (m *Model) Decode(obs feature.Observation) (int, float64, error) {
	s, err := m.scoresOf(obs)
	if err != nil {
		return m.tags.NoneIndex(), 0, err
	}
	best, score := -1, 0.0
	for i, v := range s {
		if !obs.IsValidLabel(i) {
			continue
		}
		if best == -1 || v > score {
			best, score = i, v
		}
	}
	if best == -1 {
		return m.tags.NoneIndex(), LogOfZero, nil
	}
	return best, score, nil
}

// DecodeNormalized is Decode with the score replaced by its posterior
// probability among the admissible labels.
func (m *Model) DecodeNormalized(obs feature.Observation) (int, float64, error) {
	best, score, err := m.Decode(obs)
	if err != nil || score == LogOfZero {
		return best, 0, err
	}
	admissible := make([]float64, 0, len(m.scores))
	for i, v := range m.scores {
		if obs.IsValidLabel(i) && v != LogOfZero {
			admissible = append(admissible, v)
		}
	}
	if len(admissible) == 0 {
		return best, 0, nil
	}
	return best, math.Exp(score - floats.LogSumExp(admissible)), nil
}

// DecodeLabel is Decode returning the label symbol.
func (m *Model) DecodeLabel(obs feature.Observation) (string, float64, error) {
	label, score, err := m.Decode(obs)
	if err != nil {
		return "", 0, err
	}
	sym, err := m.tags.Label(label)
	return sym, score, err
}

// Write serializes the model's weights, skipping zero weights.
func (m *Model) Write(w io.Writer, h weights.Header) error {
	return m.weights.Write(w, h, weights.WriteOptions{Values: weights.Live, SkipZero: true})
}
