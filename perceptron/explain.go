package perceptron

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/happyhackingspace/disco/feature"
)

// Term is one feature's contribution to a score.
type Term struct {
	Feature feature.Feature
	Weight  float64
	Known   bool
}

// Explanation breaks a label's score into its features.
type Explanation struct {
	Label string
	Terms []Term
	Score float64
}

// String renders one "feature: weight" line per term, "NOT IN TABLE" for
// unknown features, and a closing SCORE line.
func (e Explanation) String() string {
	var b strings.Builder
	b.WriteString(e.Label)
	b.WriteString(":\n")
	for _, t := range e.Terms {
		b.WriteString(t.Feature.String())
		b.WriteString(": ")
		if t.Known {
			b.WriteString(strconv.FormatFloat(t.Weight, 'g', -1, 64))
		} else {
			b.WriteString("NOT IN TABLE")
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "SCORE: %g\n", e.Score)
	return b.String()
}

// Explain lists the features of (obs, label) with their current weights.
func (d *Decoder) Explain(obs feature.Observation, label int) (Explanation, error) {
	if err := d.checkLabel(label); err != nil {
		return Explanation{}, err
	}
	fs, err := d.features(obs, label)
	if err != nil {
		return Explanation{}, err
	}
	sym, _ := d.tags.Label(label)
	e := Explanation{Label: sym, Terms: make([]Term, 0, len(fs))}
	for _, f := range fs {
		t := Term{Feature: f}
		if c, ok := d.weights.Get(f); ok {
			t.Weight, t.Known = c.Value, true
			e.Score += c.Value
		}
		e.Terms = append(e.Terms, t)
	}
	return e, nil
}

// KnownLabels returns the labels for which the named extractor produces at
// least one feature already in the weight table.
func (d *Decoder) KnownLabels(obs feature.Observation, extractor string) ([]int, error) {
	var known []int
	for i := range d.tags.Count() {
		set, err := d.sets.For(i)
		if err != nil {
			return nil, err
		}
		ex, ok := set.Lookup(extractor)
		if !ok {
			continue
		}
		sym, _ := d.tags.Label(i)
		d.buf = ex.Extract(feature.State{Label: sym, LabelIndex: i, Observation: obs}, d.buf[:0])
		for _, f := range d.buf {
			if _, ok := d.weights.Get(f); ok {
				known = append(known, i)
				break
			}
		}
	}
	return known, nil
}

func (d *Decoder) logDecision(obs feature.Observation, r ranking) {
	labels := []int{r.bestTag}
	if r.secondTag >= 0 && r.secondTag != r.bestTag {
		labels = append(labels, r.secondTag)
	}
	if none := d.tags.NoneIndex(); r.bestTag != none && r.secondTag != none {
		labels = append(labels, none)
	}
	for _, l := range labels {
		e, err := d.Explain(obs, l)
		if err != nil {
			return
		}
		d.log.Debug("P1 candidate", "label", e.Label, "score", e.Score, "features", e.String())
	}
}
