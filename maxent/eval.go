package maxent

import (
	"fmt"

	"github.com/happyhackingspace/disco/errkind"
	"github.com/happyhackingspace/disco/feature"
)

// Tally accumulates accuracy and NONE-aware precision and recall counts
// over decoded events. Events where both the gold and the predicted label
// are NONE only count toward accuracy.
type Tally struct {
	Events    float64
	Right     float64
	Correct   float64
	Spurious  float64
	Missed    float64
	WrongType float64
}

// Observe records count events with the given gold and predicted labels.
func (t *Tally) Observe(gold, predicted int, count float64, isNone func(int) bool) {
	t.Events += count
	if gold == predicted {
		t.Right += count
	}
	goldNone, predNone := isNone(gold), isNone(predicted)
	switch {
	case goldNone && predNone:
	case gold == predicted:
		t.Correct += count
	case goldNone:
		t.Spurious += count
	case predNone:
		t.Missed += count
	default:
		t.WrongType += count
	}
}

func (t *Tally) observeScores(s []float64, counts []float64, isNone func(int) bool) {
	predicted := argmax(s)
	for gold, c := range counts {
		if c > 0 {
			t.Observe(gold, predicted, c, isNone)
		}
	}
}

// Merge adds the counts of o.
func (t *Tally) Merge(o Tally) {
	t.Events += o.Events
	t.Right += o.Right
	t.Correct += o.Correct
	t.Spurious += o.Spurious
	t.Missed += o.Missed
	t.WrongType += o.WrongType
}

// Accuracy returns the percentage of events decoded to their gold label.
func (t Tally) Accuracy() float64 {
	if t.Events == 0 {
		return 0
	}
	return 100 * t.Right / t.Events
}

// Precision is Correct over all non-NONE predictions.
func (t Tally) Precision() float64 {
	d := t.Correct + t.Spurious + t.WrongType
	if d == 0 {
		return 0
	}
	return t.Correct / d
}

// Recall is Correct over all non-NONE gold events.
func (t Tally) Recall() float64 {
	d := t.Correct + t.Missed + t.WrongType
	if d == 0 {
		return 0
	}
	return t.Correct / d
}

// F1 is the harmonic mean of Precision and Recall.
func (t Tally) F1() float64 {
	p, r := t.Precision(), t.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// eventScores fills s with the score of every label of ev under the
// weight table.
func (m *Model) eventScores(ev *event, s []float64) {
	for l, fs := range ev.features {
		var v float64
		for _, f := range fs {
			v += m.weights.Value(f)
		}
		s[l] = v
	}
}

// LogLikelihood returns the log-likelihood of set under the current
// weights.
func (m *Model) LogLikelihood(set *EventSet) float64 {
	s := make([]float64, m.tags.Count())
	var ll float64
	for _, ev := range set.events {
		m.eventScores(ev, s)
		ll += logLikelihood(s, ev.counts)
	}
	return ll
}

// Evaluate decodes every event of set with the current weights, ignoring
// admissibility.
func (m *Model) Evaluate(set *EventSet) Tally {
	s := make([]float64, m.tags.Count())
	counts := make([]float64, m.tags.Count())
	var out Tally
	for _, ev := range set.events {
		m.eventScores(ev, s)
		for l, c := range ev.counts {
			counts[l] = float64(c)
		}
		out.observeScores(s, counts, m.tags.IsNone)
	}
	return out
}

// PercentCorrect decodes each observation with Decode and returns the
// percentage whose label matches gold.
func (m *Model) PercentCorrect(obs []feature.Observation, gold []int) (float64, error) {
	if len(gold) != len(obs) {
		return 0, fmt.Errorf("maxent: %d observations with %d gold labels: %w", len(obs), len(gold), errkind.ErrPrecondition)
	}
	var t Tally
	for i, o := range obs {
		label, _, err := m.Decode(o)
		if err != nil {
			return 0, err
		}
		t.Observe(gold[i], label, 1, m.tags.IsNone)
	}
	return t.Accuracy(), nil
}
