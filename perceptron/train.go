package perceptron

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/happyhackingspace/disco/errkind"
	"github.com/happyhackingspace/disco/feature"
	"github.com/happyhackingspace/disco/weights"
)

// Train decodes obs once and, on a mistake, moves weight from the
// predicted label's features to the correct label's. It reports whether
// the prediction was correct.
func (d *Decoder) Train(obs feature.Observation, correct int) (bool, error) {
	return d.TrainWeighted(obs, correct, 1)
}

// TrainWeighted is Train with an update of size weight.
func (d *Decoder) TrainWeighted(obs feature.Observation, correct int, weight float64) (bool, error) {
	if correct < 0 || correct >= d.tags.Count() {
		return false, fmt.Errorf("perceptron: training label %d outside [0, %d): %w",
			correct, d.tags.Count(), errkind.ErrPrecondition)
	}
	if d.opts.Dump != nil {
		if err := d.dump(obs, correct); err != nil {
			return false, err
		}
	}

	hyp, _, err := d.Decode(obs)
	if err != nil {
		return false, err
	}
	if hyp != correct {
		if d.opts.RealAveraged {
			d.weights.FlushAverages(d.life)
		}
		if err := d.adjust(obs, hyp, -weight, d.opts.AddUnseenOnMistake); err != nil {
			return false, err
		}
		if err := d.adjust(obs, correct, weight, true); err != nil {
			return false, err
		}
	}
	if d.opts.RealAveraged {
		d.life++
	}
	return hyp == correct, nil
}

// AdjustErrorWeights adds delta to the features of the correct candidate
// and subtracts it from those of the hypothesis. The two candidates may
// come from different observations, as in ranking.
func (d *Decoder) AdjustErrorWeights(hypObs feature.Observation, hyp int,
	correctObs feature.Observation, correct int, delta float64, addUnseen bool) error {
	if hyp < 0 || correct < 0 {
		return fmt.Errorf("perceptron: negative label while training: %w", errkind.ErrPrecondition)
	}
	if d.opts.RealAveraged {
		d.weights.FlushAverages(d.life)
	}
	if err := d.adjust(correctObs, correct, delta, true); err != nil {
		return err
	}
	return d.adjust(hypObs, hyp, -delta, addUnseen)
}

// Advance counts one training step for averaging without touching the
// weights. Ranking callers that drive AdjustErrorWeights use it. Like
// TrainWeighted it only counts in real-averaged mode.
func (d *Decoder) Advance() {
	if d.opts.RealAveraged {
		d.life++
	}
}

func (d *Decoder) adjust(obs feature.Observation, label int, delta float64, addUnseen bool) error {
	if label < 0 {
		return fmt.Errorf("perceptron: negative label while training: %w", errkind.ErrPrecondition)
	}
	fs, err := d.features(obs, label)
	if err != nil {
		return err
	}
	debug := d.log.Enabled(context.Background(), slog.LevelDebug)
	for _, f := range fs {
		c, ok := d.weights.Get(f)
		if !ok {
			if !addUnseen {
				continue
			}
			c = d.weights.GetOrInsert(f)
		}
		c.Value += delta
		if debug {
			d.log.Debug("Adjusting weight", "feature", f.String(), "by", delta, "now", c.Value)
		}
	}
	return nil
}

// AddFeatures inserts the features of (obs, label) with the given value,
// raising existing weights below it. Features of NONE are added at 0 as
// well so that NONE competes from the start.
func (d *Decoder) AddFeatures(obs feature.Observation, label int, value float64) error {
	if err := d.checkLabel(label); err != nil {
		return err
	}
	fs, err := d.features(obs, label)
	if err != nil {
		return err
	}
	if d.opts.RealAveraged {
		d.weights.FlushAverages(d.life)
	}
	for _, f := range fs {
		if c, ok := d.weights.Get(f); ok {
			if value > c.Value {
				c.Value = value
			}
			continue
		}
		d.weights.GetOrInsert(f).Value = value
	}
	if none := d.tags.NoneIndex(); label != none {
		return d.AddFeatures(obs, none, 0)
	}
	return nil
}

// FlushAverages folds the current weights into the running sums up to the
// current life. Call it once after the last training call.
func (d *Decoder) FlushAverages() {
	d.weights.FlushAverages(d.life)
}

// UseAverages flushes and then makes the averaged weights the live ones,
// so decoding matches a written and reloaded model. It does nothing unless
// the decoder is real-averaged and has trained.
func (d *Decoder) UseAverages() {
	if !d.opts.RealAveraged || d.life == 0 {
		return
	}
	d.FlushAverages()
	d.weights.UseAverages(d.life)
}

// Write serializes the model. In real-averaged mode the averaged weights
// are written, otherwise the live ones.
func (d *Decoder) Write(w io.Writer, h weights.Header) error {
	opts := weights.WriteOptions{Values: weights.Live, SkipZero: true}
	if d.opts.RealAveraged && d.life > 0 {
		d.FlushAverages()
		opts.Values = weights.Averaged
		opts.Life = d.life
	}
	return d.weights.Write(w, h, opts)
}

func (d *Decoder) dump(obs feature.Observation, correct int) error {
	fs, err := d.features(obs, correct)
	if err != nil {
		return err
	}
	unlabelled := make([]feature.Feature, len(fs))
	for i, f := range fs {
		unlabelled[i] = f.WithLabel("")
	}
	sym, _ := d.tags.Label(correct)
	if _, err := fmt.Fprintln(d.opts.Dump, feature.FormatVector(sym, unlabelled)); err != nil {
		return fmt.Errorf("perceptron: dump: %w", err)
	}
	return nil
}
