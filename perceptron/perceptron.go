// Package perceptron implements the averaged multiclass perceptron decoder.
//
// A Decoder scores each admissible label of an observation as the sum of
// the weights of the features extracted for it, picks the best label with
// optional calibration toward or away from NONE, and learns from mistakes.
// In real-averaged mode the weight table accumulates exact averages: cells
// are flushed right before every mutation and once more at the end of
// training.
package perceptron

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/happyhackingspace/disco/errkind"
	"github.com/happyhackingspace/disco/feature"
	"github.com/happyhackingspace/disco/tagset"
	"github.com/happyhackingspace/disco/weights"
)

// InvalidScore is reported for a label the observation does not admit.
const InvalidScore = -10000

// noScore seeds the best and runner-up trackers of Decode.
const noScore = -1e13

// Options holds the decoder's tunables.
type Options struct {
	// OvergenThreshold makes Decode prefer the runner-up over a winning
	// NONE when (best-second)/best falls below it.
	OvergenThreshold float64
	// UndergenThreshold makes Decode prefer a runner-up NONE over the
	// winner when (best-second)/best falls below it.
	UndergenThreshold float64
	// AddUnseenOnMistake inserts features of the wrong label that are not
	// yet in the table before penalizing them.
	AddUnseenOnMistake bool
	// RealAveraged keeps exact running averages in the weight table.
	RealAveraged bool

	Logger *slog.Logger
	Dump   io.Writer // receives one feature vector line per training call
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{RealAveraged: true}
}

// Decoder is the perceptron classifier. It is not safe for concurrent use.
type Decoder struct {
	tags    *tagset.Registry
	sets    feature.Sets
	weights *weights.Store
	opts    Options
	log     *slog.Logger
	life    int64
	buf     []feature.Feature
}

// New creates a decoder over a registry, its extractor sets and a weight
// table. The weight table may already hold a trained model.
func New(tags *tagset.Registry, sets feature.Sets, store *weights.Store, opts Options) (*Decoder, error) {
	if tags == nil {
		return nil, fmt.Errorf("perceptron: nil label registry: %w", errkind.ErrPrecondition)
	}
	if store == nil {
		return nil, fmt.Errorf("perceptron: weight table not initialized: %w", errkind.ErrPrecondition)
	}
	if sets.Empty() {
		return nil, fmt.Errorf("perceptron: no extractor set: %w", errkind.ErrConfiguration)
	}
	if opts.OvergenThreshold != 0 && opts.UndergenThreshold != 0 {
		return nil, fmt.Errorf("perceptron: overgen and undergen thresholds are mutually exclusive: %w",
			errkind.ErrConfiguration)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Decoder{
		tags:    tags,
		sets:    sets,
		weights: store,
		opts:    opts,
		log:     log,
		life:    store.Flushed(),
	}, nil
}

// Labels returns the registry the decoder was built with.
func (d *Decoder) Labels() *tagset.Registry { return d.tags }

// Weights returns the weight table.
func (d *Decoder) Weights() *weights.Store { return d.weights }

// Life returns the number of training calls counted for averaging.
func (d *Decoder) Life() int64 { return d.life }

// Options returns the decoder's options.
func (d *Decoder) Options() Options { return d.opts }

// features extracts the features of (obs, label) into the shared buffer.
// The result is only valid until the next call.
func (d *Decoder) features(obs feature.Observation, label int) ([]feature.Feature, error) {
	sym, err := d.tags.Label(label)
	if err != nil {
		return nil, fmt.Errorf("perceptron: %w", err)
	}
	st := feature.State{Label: sym, LabelIndex: label, Observation: obs}
	d.buf, err = d.sets.Extract(st, d.buf[:0])
	if err != nil {
		return nil, fmt.Errorf("perceptron: %w", err)
	}
	return d.buf, nil
}

func (d *Decoder) rawScore(obs feature.Observation, label int) (float64, error) {
	fs, err := d.features(obs, label)
	if err != nil {
		return 0, err
	}
	var score float64
	for _, f := range fs {
		score += d.weights.Value(f)
	}
	return score, nil
}

// Score returns the sum of the current weights of the features of
// (obs, label), or InvalidScore if obs does not admit label. Features not in
// the table contribute nothing and are not inserted.
func (d *Decoder) Score(obs feature.Observation, label int) (float64, error) {
	if err := d.checkLabel(label); err != nil {
		return 0, err
	}
	if !obs.IsValidLabel(label) {
		return InvalidScore, nil
	}
	return d.rawScore(obs, label)
}

// Scores fills dst with Score for every label. dst must hold Count labels.
func (d *Decoder) Scores(obs feature.Observation, dst []float64) error {
	n := d.tags.Count()
	if len(dst) < n {
		return fmt.Errorf("perceptron: score buffer holds %d of %d labels: %w", len(dst), n, errkind.ErrIndexOutOfRange)
	}
	for i := range n {
		s, err := d.Score(obs, i)
		if err != nil {
			return err
		}
		dst[i] = s
	}
	return nil
}

// Decode returns the best admissible label and its score. With no
// admissible label it returns NONE and InvalidScore.
func (d *Decoder) Decode(obs feature.Observation) (int, float64, error) {
	r := ranking{best: noScore, second: noScore, bestTag: -1, secondTag: -1}
	for i := range d.tags.Count() {
		if !obs.IsValidLabel(i) {
			continue
		}
		s, err := d.rawScore(obs, i)
		if err != nil {
			return d.tags.NoneIndex(), 0, err
		}
		r.offer(i, s)
	}
	if r.bestTag == -1 {
		return d.tags.NoneIndex(), InvalidScore, nil
	}
	if d.log.Enabled(context.Background(), slog.LevelDebug) {
		d.logDecision(obs, r)
	}
	label, score := d.calibrate(r)
	return label, score, nil
}

// DecodeLabel is Decode returning the label symbol.
func (d *Decoder) DecodeLabel(obs feature.Observation) (string, float64, error) {
	label, score, err := d.Decode(obs)
	if err != nil {
		return "", 0, err
	}
	sym, err := d.tags.Label(label)
	return sym, score, err
}

// Choose applies the decision rule of Decode to precomputed scores, one
// per label index.
func (d *Decoder) Choose(obs feature.Observation, scores []float64) (int, float64, error) {
	n := d.tags.Count()
	if len(scores) < n {
		return d.tags.NoneIndex(), 0, fmt.Errorf("perceptron: %d scores for %d labels: %w",
			len(scores), n, errkind.ErrIndexOutOfRange)
	}
	r := ranking{best: noScore, second: noScore, bestTag: -1, secondTag: -1}
	for i := range n {
		if obs.IsValidLabel(i) {
			r.offer(i, scores[i])
		}
	}
	if r.bestTag == -1 {
		return d.tags.NoneIndex(), InvalidScore, nil
	}
	label, score := d.calibrate(r)
	return label, score, nil
}

type ranking struct {
	best, second       float64
	bestTag, secondTag int
}

// offer keeps the first label seen on ties.
func (r *ranking) offer(label int, score float64) {
	if score > r.best {
		r.second, r.secondTag = r.best, r.bestTag
		r.best, r.bestTag = score, label
	} else if score > r.second {
		r.second, r.secondTag = score, label
	}
}

func (d *Decoder) calibrate(r ranking) (int, float64) {
	none := d.tags.NoneIndex()
	if r.secondTag == -1 {
		return r.bestTag, r.best
	}
	margin := (r.best - r.second) / r.best

	if d.opts.OvergenThreshold != 0 && r.bestTag == none && margin < d.opts.OvergenThreshold {
		return r.secondTag, r.second
	}
	if d.opts.UndergenThreshold != 0 && r.bestTag != none && r.secondTag == none &&
		margin < d.opts.UndergenThreshold {
		return none, r.second
	}
	return r.bestTag, r.best
}

func (d *Decoder) checkLabel(label int) error {
	if label < 0 || label >= d.tags.Count() {
		return fmt.Errorf("perceptron: label %d outside [0, %d): %w", label, d.tags.Count(), errkind.ErrIndexOutOfRange)
	}
	return nil
}
