package maxent

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/happyhackingspace/disco/errkind"
	"github.com/happyhackingspace/disco/feature"
)

// Newton's method for the Gaussian prior update.
const (
	newtonStart      = 1.1
	newtonTolerance  = 1e-4
	newtonIterations = 100
)

// Check is one evaluation of the stopping rule.
type Check struct {
	Iteration     int
	LogLikelihood float64
	Scores        Tally
}

// Report summarizes a DeriveModel run.
type Report struct {
	Mode          Mode
	Iterations    int
	Converged     bool
	Features      int
	Contexts      int
	Events        int
	HeldOutEvents int
	// Correction is the GIS constant C, the largest number of features
	// active for one candidate label.
	Correction int
	Checks     []Check
}

// instance is an event with its features resolved to column indices.
type instance struct {
	byLabel [][]int
	counts  []float64
	total   float64
}

type occurrence struct {
	inst, label int
}

type trainer struct {
	nTags    int
	features []feature.Feature
	observed []float64
	logAlpha []float64
	train    []instance
	held     []instance
	workers  int
	isNone   func(int) bool
}

// DeriveModel trains on the collected events and writes the resulting
// log-weights into the weight table. Features observed fewer than pruning
// times are dropped first. With continuous set, training starts from the
// weights already in the table instead of zero.
func (m *Model) DeriveModel(pruning int, continuous bool) (Report, error) {
	if m.training.NumContexts() == 0 {
		return Report{}, fmt.Errorf("maxent: no training events: %w", errkind.ErrPrecondition)
	}
	m.training.Prune(pruning)
	t := m.newTrainer(continuous)

	rep := Report{
		Mode:          m.opts.Mode,
		Features:      len(t.features),
		Contexts:      len(t.train),
		Events:        m.training.NumEvents(),
		HeldOutEvents: m.heldOut.NumEvents(),
	}
	eval, evalEvents := t.held, float64(m.heldOut.NumEvents())
	if len(eval) == 0 {
		eval, evalEvents = t.train, float64(m.training.NumEvents())
	}

	var step func()
	switch m.opts.Mode {
	case GIS:
		rep.Correction = m.training.MaxActiveFeatures()
		step = t.gisStep(rep.Correction)
	default:
		step = t.scgisStep(m.opts.GaussianVariance)
	}

	last := math.Inf(-1)
	for iter := 1; iter <= m.opts.MaxIterations; iter++ {
		step()
		rep.Iterations = iter
		if iter%m.opts.StopCheckFrequency != 0 {
			continue
		}
		c := Check{Iteration: iter, LogLikelihood: t.logLikelihood(eval), Scores: t.tally(eval)}
		rep.Checks = append(rep.Checks, c)
		m.log.Debug("MaxEnt iteration", "mode", m.opts.Mode, "iteration", iter,
			"loglik", c.LogLikelihood, "accuracy", c.Scores.Accuracy(), "f1", c.Scores.F1())
		if math.Abs(c.LogLikelihood-last) < m.opts.MinLikelihoodDelta*evalEvents {
			rep.Converged = true
			break
		}
		last = c.LogLikelihood
	}

	for b, f := range t.features {
		m.weights.GetOrInsert(f).Value = t.logAlpha[b]
	}
	m.log.Info("MaxEnt model derived", "mode", m.opts.Mode, "iterations", rep.Iterations,
		"converged", rep.Converged, "features", rep.Features, "contexts", rep.Contexts)
	return rep, nil
}

func (m *Model) newTrainer(continuous bool) *trainer {
	features := make([]feature.Feature, 0, len(m.training.active))
	for f := range m.training.active {
		features = append(features, f)
	}
	feature.Sort(features)
	ids := make(map[feature.Feature]int, len(features))
	t := &trainer{
		nTags:    m.tags.Count(),
		features: features,
		observed: make([]float64, len(features)),
		logAlpha: make([]float64, len(features)),
		workers:  m.opts.Workers,
		isNone:   m.tags.IsNone,
	}
	for b, f := range features {
		ids[f] = b
		t.observed[b] = float64(m.training.active[f])
		if continuous {
			t.logAlpha[b] = m.weights.Value(f)
		}
	}
	t.train = resolve(m.training, ids)
	t.held = resolve(m.heldOut, ids)
	return t
}

// resolve maps the features of every event to columns, dropping the ones
// without a column.
func resolve(set *EventSet, ids map[feature.Feature]int) []instance {
	out := make([]instance, len(set.events))
	for i, ev := range set.events {
		in := instance{
			byLabel: make([][]int, len(ev.features)),
			counts:  make([]float64, len(ev.counts)),
			total:   float64(ev.total),
		}
		for l, fs := range ev.features {
			for _, f := range fs {
				if b, ok := ids[f]; ok {
					in.byLabel[l] = append(in.byLabel[l], b)
				}
			}
		}
		for l, c := range ev.counts {
			in.counts[l] = float64(c)
		}
		out[i] = in
	}
	return out
}

func (t *trainer) score(in *instance, s []float64) {
	for l, cols := range in.byLabel {
		var v float64
		for _, b := range cols {
			v += t.logAlpha[b]
		}
		s[l] = v
	}
}

// gisStep returns one GIS iteration: every weight moves by
// (log observed - log expected) / C at once.
func (t *trainer) gisStep(c int) func() {
	invC := 0.0
	if c > 0 {
		invC = 1 / float64(c)
	}
	return func() {
		expected := t.expected()
		for b := range t.logAlpha {
			t.logAlpha[b] += invC * (Log(t.observed[b]) - Log(expected[b]))
		}
	}
}

// expected returns the model expectation of every feature over the
// training instances.
func (t *trainer) expected() []float64 {
	w := min(t.workers, len(t.train))
	if w <= 1 {
		dst := make([]float64, len(t.features))
		t.accumulate(dst, t.train)
		return dst
	}

	chunk := (len(t.train) + w - 1) / w
	parts := make([][]float64, w)
	var wg sync.WaitGroup
	for k := range w {
		parts[k] = make([]float64, len(t.features))
		lo, hi := k*chunk, min((k+1)*chunk, len(t.train))
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.accumulate(parts[k], t.train[lo:hi])
		}()
	}
	wg.Wait()
	for _, p := range parts[1:] {
		floats.Add(parts[0], p)
	}
	return parts[0]
}

func (t *trainer) accumulate(dst []float64, part []instance) {
	s := make([]float64, t.nTags)
	for i := range part {
		in := &part[i]
		t.score(in, s)
		z := floats.LogSumExp(s)
		for l, cols := range in.byLabel {
			if len(cols) == 0 {
				continue
			}
			p := in.total * math.Exp(s[l]-z)
			for _, b := range cols {
				dst[b] += p
			}
		}
	}
}

// scgisStep returns one SCGIS iteration: weights are updated one feature at
// a time, keeping per-instance scores and normalizers current. Normalizers
// are held relative to each instance's largest score, shift, so that
// z[i] = sum exp(s[i] - shift[i]) stays at least 1.
func (t *trainer) scgisStep(variance float64) func() {
	occ := make([][]occurrence, len(t.features))
	for i := range t.train {
		for l, cols := range t.train[i].byLabel {
			for _, b := range cols {
				occ[b] = append(occ[b], occurrence{inst: i, label: l})
			}
		}
	}
	s := make([][]float64, len(t.train))
	z := make([]float64, len(t.train))
	shift := make([]float64, len(t.train))
	for i := range t.train {
		s[i] = make([]float64, t.nTags)
		t.score(&t.train[i], s[i])
	}
	normalize := func(i int) {
		shift[i] = floats.Max(s[i])
		z[i] = math.Exp(floats.LogSumExp(s[i]) - shift[i])
	}

	return func() {
		for i := range s {
			normalize(i)
		}
		for b := range t.features {
			var expected float64
			for _, o := range occ[b] {
				expected += t.train[o.inst].total * math.Exp(s[o.inst][o.label]-shift[o.inst]) / z[o.inst]
			}
			var delta float64
			if variance != 0 {
				delta = newton(t.observed[b], expected, t.logAlpha[b], variance)
			} else {
				delta = Log(t.observed[b]) - Log(expected)
			}
			t.logAlpha[b] += delta
			for _, o := range occ[b] {
				i := o.inst
				old := s[i][o.label]
				s[i][o.label] = old + delta
				if old == shift[i] && delta < 0 {
					normalize(i)
					continue
				}
				z[i] -= math.Exp(old - shift[i])
				if v := s[i][o.label]; v > shift[i] {
					z[i] *= math.Exp(shift[i] - v)
					shift[i] = v
				}
				z[i] += math.Exp(s[i][o.label] - shift[i])
			}
		}
	}
}

// newton solves observed = expected*γ + (alpha + log γ)/variance for γ and
// returns log γ.
func newton(observed, expected, alpha, variance float64) float64 {
	gamma := newtonStart
	for range newtonIterations {
		num := expected*gamma + (alpha+Log(gamma))/variance
		den := expected + 1/(variance*gamma)
		next := gamma + (observed-num)/den
		if next <= 0 {
			next = gamma / 2
		}
		done := math.Abs(next-gamma) < newtonTolerance
		gamma = next
		if done {
			break
		}
	}
	return Log(gamma)
}

func (t *trainer) logLikelihood(part []instance) float64 {
	s := make([]float64, t.nTags)
	var ll float64
	for i := range part {
		t.score(&part[i], s)
		ll += logLikelihood(s, part[i].counts)
	}
	return ll
}

func (t *trainer) tally(part []instance) Tally {
	s := make([]float64, t.nTags)
	var out Tally
	for i := range part {
		t.score(&part[i], s)
		out.observeScores(s, part[i].counts, t.isNone)
	}
	return out
}

// logLikelihood returns the sum over outcomes of count times the log of
// the outcome's softmax probability under scores s.
func logLikelihood[C int | float64](s []float64, counts []C) float64 {
	z := floats.LogSumExp(s)
	var ll float64
	for l, c := range counts {
		if c == 0 {
			continue
		}
		ll += float64(c) * Log(math.Exp(s[l]-z))
	}
	return ll
}

// argmax returns the first index of the largest score.
func argmax(s []float64) int {
	best := 0
	for i, v := range s {
		if v > s[best] {
			best = i
		}
	}
	return best
}
