// Package disco is a discriminative classification engine over sparse,
// hand-engineered features.
//
// Callers describe each decision as an observation, let pluggable
// extractors produce the features of every candidate label, and pick a
// label with either an averaged perceptron (p1) or a log-linear model
// (maxent) trained on labelled examples.
//
//	cfg, _ := config.Load("disco.yaml")
//	e, _ := disco.Load(cfg, "relations.model", disco.Options{})
//	label, score, _ := e.Decode(obs)
package disco

import (
	"io"

	"github.com/happyhackingspace/disco/feature"
	"github.com/happyhackingspace/disco/maxent"
	"github.com/happyhackingspace/disco/perceptron"
	"github.com/happyhackingspace/disco/tagset"
	"github.com/happyhackingspace/disco/weights"
)

// Classifier is what callers need from either model.
type Classifier interface {
	Labels() *tagset.Registry
	Weights() *weights.Store
	// Score returns the raw score of one label.
	Score(obs feature.Observation, label int) (float64, error)
	// Decode returns the best admissible label and its score.
	Decode(obs feature.Observation) (int, float64, error)
	// Learn presents one training example.
	Learn(obs feature.Observation, correct int) error
	// Finish ends training.
	Finish() error
	// Save writes the trained weights after the header.
	Save(w io.Writer, h weights.Header) error
}

// Distributor is implemented by classifiers that produce posteriors.
type Distributor interface {
	DecodeToDistribution(obs feature.Observation, dist []float64) (int, error)
}

// Perceptron is the p1 Classifier.
type Perceptron struct {
	*perceptron.Decoder
}

// NewPerceptron wraps a perceptron decoder.
func NewPerceptron(d *perceptron.Decoder) *Perceptron {
	return &Perceptron{Decoder: d}
}

// Learn runs one perceptron update on (obs, correct).
func (p *Perceptron) Learn(obs feature.Observation, correct int) error {
	_, err := p.Train(obs, correct)
	return err
}

// Finish flushes the running averages and decodes with them from then on.
func (p *Perceptron) Finish() error {
	p.UseAverages()
	return nil
}

// Save writes the model, averaged in real-averaged mode.
func (p *Perceptron) Save(w io.Writer, h weights.Header) error {
	return p.Write(w, h)
}

// MaxEnt is the maxent Classifier. Learn collects events; Finish derives
// the model from them.
type MaxEnt struct {
	*maxent.Model
	Pruning    int
	Continuous bool
	report     maxent.Report
}

// NewMaxEnt wraps a log-linear model.
func NewMaxEnt(m *maxent.Model, pruning int) *MaxEnt {
	return &MaxEnt{Model: m, Pruning: pruning}
}

// Learn adds (obs, correct) to the training events.
func (m *MaxEnt) Learn(obs feature.Observation, correct int) error {
	return m.AddToTraining(obs, correct)
}

// Finish runs DeriveModel.
func (m *MaxEnt) Finish() error {
	rep, err := m.DeriveModel(m.Pruning, m.Continuous)
	m.report = rep
	return err
}

// Report returns the summary of the last Finish.
func (m *MaxEnt) Report() maxent.Report {
	return m.report
}

// Save writes the derived log-weights.
func (m *MaxEnt) Save(w io.Writer, h weights.Header) error {
	return m.Write(w, h)
}
