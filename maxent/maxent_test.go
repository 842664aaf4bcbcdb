package maxent

import (
	"bytes"
	"math"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/happyhackingspace/disco/errkind"
	"github.com/happyhackingspace/disco/feature"
	"github.com/happyhackingspace/disco/tagset"
	"github.com/happyhackingspace/disco/weights"
)

type obs struct {
	words []string
	deny  []int
}

func (o obs) IsValidLabel(l int) bool { return !slices.Contains(o.deny, l) }

var hasWordX = feature.Func{ID: "hasWordX", Fn: func(s feature.State, dst []feature.Feature) []feature.Feature {
	if slices.Contains(s.Observation.(obs).words, "x") {
		dst = append(dst, feature.New("hasWordX", s.Label))
	}
	return dst
}}

var words = feature.Func{ID: "word", Fn: func(s feature.State, dst []feature.Feature) []feature.Feature {
	for _, w := range s.Observation.(obs).words {
		dst = append(dst, feature.New("word", s.Label, w))
	}
	return dst
}}

func newModel(t *testing.T, opts Options, ex ...feature.Extractor) *Model {
	t.Helper()
	return newModelOn(t, weights.New(), opts, ex...)
}

func newModelOn(t *testing.T, store *weights.Store, opts Options, ex ...feature.Extractor) *Model {
	t.Helper()
	tags, err := tagset.New([]string{"POS"}, tagset.Options{})
	require.NoError(t, err)
	if len(ex) == 0 {
		ex = []feature.Extractor{feature.Bias{}, hasWordX}
	}
	m, err := New(tags, feature.Shared(feature.NewSet(0, ex...)), store, opts)
	require.NoError(t, err)
	return m
}

// addScenario adds three POS events with x and three NONE events without.
func addScenario(t *testing.T, m *Model) {
	t.Helper()
	pos := m.Labels().Get("POS")
	for range 3 {
		require.NoError(t, m.AddToTraining(obs{words: []string{"x"}}, pos))
	}
	for range 3 {
		require.NoError(t, m.AddToTraining(obs{}, m.Labels().NoneIndex()))
	}
}

func fixed(mode Mode, iterations int) Options {
	o := DefaultOptions()
	o.Mode = mode
	o.MaxIterations = iterations
	o.MinLikelihoodDelta = 0
	return o
}

func storedWeights(m *Model) []float64 {
	return []float64{
		m.Weights().Value(feature.New("bias", "NONE")),
		m.Weights().Value(feature.New("bias", "POS")),
		m.Weights().Value(feature.New("hasWordX", "POS")),
	}
}

func TestLog(t *testing.T) {
	assert.Equal(t, float64(LogOfZero), Log(0))
	assert.Equal(t, float64(LogOfZero), Log(-1))
	assert.Equal(t, 0.0, Log(1))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("gis")
	require.NoError(t, err)
	assert.Equal(t, GIS, m)
	m, err = ParseMode("SCGIS")
	require.NoError(t, err)
	assert.Equal(t, SCGIS, m)
	assert.Equal(t, "GIS", GIS.String())

	_, err = ParseMode("lbfgs")
	assert.ErrorIs(t, err, errkind.ErrConfiguration)
}

func TestNewValidation(t *testing.T) {
	tags, err := tagset.New([]string{"POS"}, tagset.Options{})
	require.NoError(t, err)
	sets := feature.Shared(feature.NewSet(0, feature.Bias{}))

	_, err = New(tags, sets, nil, DefaultOptions())
	assert.ErrorIs(t, err, errkind.ErrPrecondition)
	_, err = New(tags, feature.Sets{}, weights.New(), DefaultOptions())
	assert.ErrorIs(t, err, errkind.ErrConfiguration)

	tests := []struct {
		name   string
		modify func(*Options)
	}{
		{"held out above 50", func(o *Options) { o.PercentHeldOut = 51 }},
		{"negative held out", func(o *Options) { o.PercentHeldOut = -1 }},
		{"zero iterations", func(o *Options) { o.MaxIterations = 0 }},
		{"zero check frequency", func(o *Options) { o.StopCheckFrequency = 0 }},
		{"negative variance", func(o *Options) { o.GaussianVariance = -1 }},
		{"unknown mode", func(o *Options) { o.Mode = Mode(7) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultOptions()
			tt.modify(&o)
			_, err := New(tags, sets, weights.New(), o)
			assert.ErrorIs(t, err, errkind.ErrConfiguration)
		})
	}
}

func TestEventAggregation(t *testing.T) {
	m := newModel(t, DefaultOptions())
	addScenario(t, m)

	assert.Equal(t, 6, m.Training().NumEvents())
	assert.Equal(t, 2, m.Training().NumContexts())
	assert.Equal(t, 3, m.Training().NumFeatures())
	assert.Equal(t, 3, m.Training().Observed(feature.New("bias", "NONE")))
	assert.Equal(t, 3, m.Training().Observed(feature.New("hasWordX", "POS")))
	assert.Equal(t, 0, m.Training().Observed(feature.New("hasWordX", "NONE")))
	assert.Equal(t, 2, m.Training().MaxActiveFeatures())
}

func TestAddPreconditions(t *testing.T) {
	m := newModel(t, DefaultOptions())
	assert.ErrorIs(t, m.AddToTraining(obs{}, -1), errkind.ErrPrecondition)
	assert.ErrorIs(t, m.AddToTraining(obs{}, 2), errkind.ErrPrecondition)
	assert.ErrorIs(t, m.AddEvent(obs{}, 0, 0), errkind.ErrPrecondition)

	_, err := m.DeriveModel(0, false)
	assert.ErrorIs(t, err, errkind.ErrPrecondition)
}

func TestHeldOutRouting(t *testing.T) {
	tests := []struct {
		percent  int
		added    int
		heldOut  int
		training int
	}{
		{0, 10, 0, 10},
		{50, 6, 3, 3},
		{10, 20, 2, 18},
		{30, 9, 3, 6},
	}
	for _, tt := range tests {
		o := DefaultOptions()
		o.PercentHeldOut = tt.percent
		m := newModel(t, o)
		for i := range tt.added {
			require.NoError(t, m.AddToTraining(obs{words: []string{strings.Repeat("w", i)}}, 1))
		}
		assert.Equal(t, tt.heldOut, m.HeldOut().NumEvents(), "percent %d", tt.percent)
		assert.Equal(t, tt.training, m.Training().NumEvents(), "percent %d", tt.percent)
	}
}

func TestAddState(t *testing.T) {
	m := newModel(t, DefaultOptions())
	st := feature.State{Label: "POS", LabelIndex: 1, Observation: obs{words: []string{"x"}}}
	require.NoError(t, m.AddState(st, 4))
	assert.Equal(t, 4, m.Training().NumEvents())
	assert.Equal(t, 1, m.Training().NumContexts())
	assert.Equal(t, 4, m.Training().Observed(feature.New("hasWordX", "POS")))
}

// token emits the word at the state's position.
var token = feature.Func{ID: "tok", Fn: func(s feature.State, dst []feature.Feature) []feature.Feature {
	ws := s.Observation.(obs).words
	if s.Index >= 0 && s.Index < len(ws) {
		dst = append(dst, feature.New("tok", s.Label, ws[s.Index]))
	}
	return dst
}}

func TestAddStateKeepsPosition(t *testing.T) {
	m := newModel(t, DefaultOptions(), token)
	abc := obs{words: []string{"a", "b", "c"}}

	require.NoError(t, m.AddState(feature.State{Label: "POS", Index: 2, Observation: abc}, 1))
	set := m.Training()
	assert.Equal(t, 1, set.Observed(feature.New("tok", "POS", "c")))
	assert.Equal(t, 0, set.Observed(feature.New("tok", "POS", "a")))
	assert.Equal(t, 0, set.Observed(feature.New("tok", "NONE", "c")))

	require.NoError(t, m.AddState(feature.State{Label: "POS", Observation: abc}, 1))
	assert.Equal(t, 1, set.Observed(feature.New("tok", "POS", "a")))
	assert.Equal(t, 0, set.Observed(feature.New("tok", "NONE", "a")))
}

func TestAddStateLabelErrors(t *testing.T) {
	m := newModel(t, DefaultOptions())
	x := obs{words: []string{"x"}}
	assert.ErrorIs(t, m.AddState(feature.State{Label: "LOC", Observation: x}, 1), errkind.ErrPrecondition)
	assert.ErrorIs(t, m.AddState(feature.State{Label: "NONE", LabelIndex: 1, Observation: x}, 1), errkind.ErrPrecondition)
	assert.ErrorIs(t, m.AddState(feature.State{LabelIndex: 5, Observation: x}, 1), errkind.ErrPrecondition)
	assert.Equal(t, 0, m.Training().NumEvents())
}

func TestPruneMergesContexts(t *testing.T) {
	m := newModel(t, DefaultOptions(), words)
	pos := m.Labels().Get("POS")
	require.NoError(t, m.AddToTraining(obs{words: []string{"a", "rare1"}}, pos))
	require.NoError(t, m.AddToTraining(obs{words: []string{"a", "rare2"}}, pos))
	require.NoError(t, m.AddToTraining(obs{words: []string{"b"}}, 0))
	require.NoError(t, m.AddToTraining(obs{words: []string{"b"}}, 0))

	set := m.Training()
	assert.Equal(t, 3, set.NumContexts())
	set.Prune(1)
	assert.Equal(t, 3, set.NumContexts())
	assert.Equal(t, 4, set.NumFeatures())

	set.Prune(2)
	assert.Equal(t, 2, set.NumContexts())
	assert.Equal(t, 2, set.NumFeatures())
	assert.Equal(t, 0, set.Observed(feature.New("word", "POS", "rare1")))
	assert.Equal(t, 2, set.Observed(feature.New("word", "POS", "a")))
	assert.Equal(t, 4, set.NumEvents())
}

func TestSCGISMatchesReference(t *testing.T) {
	m := newModel(t, fixed(SCGIS, 20))
	addScenario(t, m)
	rep, err := m.DeriveModel(0, false)
	require.NoError(t, err)

	assert.Equal(t, 20, rep.Iterations)
	assert.False(t, rep.Converged)
	assert.Equal(t, 3, rep.Features)
	assert.Equal(t, 2, rep.Contexts)
	assert.InDeltaSlice(t, []float64{1.3326518954967939, -0.7798774034781399, 4.5230129613171215}, storedWeights(m), 1e-9)
}

func TestGISMatchesReference(t *testing.T) {
	m := newModel(t, fixed(GIS, 20))
	addScenario(t, m)
	rep, err := m.DeriveModel(0, false)
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Correction)
	assert.InDeltaSlice(t, []float64{0.7291370616439488, -0.6732902461818617, 3.106250831860343}, storedWeights(m), 1e-9)
}

func TestGISWorkersAgree(t *testing.T) {
	serial := newModel(t, fixed(GIS, 15), words)
	o := fixed(GIS, 15)
	o.Workers = 3
	parallel := newModel(t, o, words)
	for _, m := range []*Model{serial, parallel} {
		for i, ws := range [][]string{{"a", "b"}, {"a"}, {"c"}, {"b", "c"}, {"d"}, {"a", "d"}} {
			require.NoError(t, m.AddToTraining(obs{words: ws}, i%2))
		}
		_, err := m.DeriveModel(0, false)
		require.NoError(t, err)
	}
	for f, c := range serial.Weights().All() {
		assert.InDelta(t, c.Value, parallel.Weights().Value(f), 1e-12, f.String())
	}
}

func TestGaussianPriorShrinksWeights(t *testing.T) {
	o := fixed(SCGIS, 30)
	o.GaussianVariance = 1
	m := newModel(t, o)
	addScenario(t, m)
	_, err := m.DeriveModel(0, false)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.1896955025136313, -0.18968819815398968, 1.0291362047060064}, storedWeights(m), 1e-6)

	free := newModel(t, fixed(SCGIS, 30))
	addScenario(t, free)
	_, err = free.DeriveModel(0, false)
	require.NoError(t, err)
	for i, w := range storedWeights(m) {
		assert.Less(t, math.Abs(w), math.Abs(storedWeights(free)[i]))
	}
}

func TestStoppingRule(t *testing.T) {
	o := DefaultOptions()
	o.GaussianVariance = 1
	o.MaxIterations = 200
	m := newModel(t, o)
	addScenario(t, m)
	rep, err := m.DeriveModel(0, false)
	require.NoError(t, err)

	assert.True(t, rep.Converged)
	assert.Less(t, rep.Iterations, 200)
	require.Len(t, rep.Checks, rep.Iterations)
	n := len(rep.Checks)
	last := math.Abs(rep.Checks[n-1].LogLikelihood - rep.Checks[n-2].LogLikelihood)
	assert.Less(t, last, o.MinLikelihoodDelta*6)
}

func TestLikelihoodDeltasShrink(t *testing.T) {
	for _, mode := range []Mode{GIS, SCGIS} {
		t.Run(mode.String(), func(t *testing.T) {
			o := fixed(mode, 20)
			o.StopCheckFrequency = 2
			m := newModel(t, o)
			addScenario(t, m)
			rep, err := m.DeriveModel(0, false)
			require.NoError(t, err)
			require.Len(t, rep.Checks, 10)

			prev := math.Inf(1)
			for i := 1; i < len(rep.Checks); i++ {
				assert.Equal(t, 2*(i+1), rep.Checks[i].Iteration)
				assert.Greater(t, rep.Checks[i].LogLikelihood, rep.Checks[i-1].LogLikelihood)
				d := rep.Checks[i].LogLikelihood - rep.Checks[i-1].LogLikelihood
				assert.LessOrEqual(t, d, prev)
				prev = d
			}
			assert.Equal(t, 100.0, rep.Checks[len(rep.Checks)-1].Scores.Accuracy())
		})
	}
}

func TestHeldOutDrivesStopping(t *testing.T) {
	o := fixed(SCGIS, 5)
	o.PercentHeldOut = 50
	m := newModel(t, o)
	addScenario(t, m)
	addScenario(t, m)
	rep, err := m.DeriveModel(0, false)
	require.NoError(t, err)
	assert.Equal(t, 6, rep.Events)
	assert.Equal(t, 6, rep.HeldOutEvents)
	require.NotEmpty(t, rep.Checks)
	assert.InDelta(t, m.LogLikelihood(m.HeldOut()), rep.Checks[len(rep.Checks)-1].LogLikelihood, 1e-9)
}

func TestScenarioDecoding(t *testing.T) {
	for _, mode := range []Mode{GIS, SCGIS} {
		t.Run(mode.String(), func(t *testing.T) {
			m := newModel(t, fixed(mode, 30))
			addScenario(t, m)
			_, err := m.DeriveModel(0, false)
			require.NoError(t, err)

			sym, _, err := m.DecodeLabel(obs{words: []string{"x"}})
			require.NoError(t, err)
			assert.Equal(t, "POS", sym)
			sym, _, err = m.DecodeLabel(obs{})
			require.NoError(t, err)
			assert.Equal(t, "NONE", sym)
		})
	}
}

func TestDistributionIsValid(t *testing.T) {
	m := newModel(t, fixed(SCGIS, 25), words, feature.Bias{})
	for i, ws := range [][]string{{"a", "b"}, {"a"}, {"c"}, {"b", "c"}, {"d"}} {
		require.NoError(t, m.AddToTraining(obs{words: ws}, i%2))
	}
	_, err := m.DeriveModel(0, false)
	require.NoError(t, err)

	dist := make([]float64, 2)
	for _, ws := range [][]string{{}, {"a"}, {"a", "c"}, {"unseen"}, {"a", "b", "c", "d"}} {
		best, err := m.DecodeToDistribution(obs{words: ws}, dist)
		require.NoError(t, err)
		var sum float64
		for _, p := range dist {
			assert.GreaterOrEqual(t, p, 0.0)
			assert.LessOrEqual(t, p, 1.0)
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
		assert.Equal(t, best, argmax(dist))

		label, prob, err := m.DecodeNormalized(obs{words: ws})
		require.NoError(t, err)
		assert.Equal(t, best, label)
		assert.InDelta(t, dist[best], prob, 1e-12)
	}
}

func TestDistributionBufferTooSmall(t *testing.T) {
	m := newModel(t, DefaultOptions())
	_, err := m.DecodeToDistribution(obs{}, make([]float64, 1))
	assert.ErrorIs(t, err, errkind.ErrIndexOutOfRange)
}

func TestDecodeAdmissibility(t *testing.T) {
	store := weights.New()
	store.GetOrInsert(feature.New("bias", "POS")).Value = 2
	m := newModelOn(t, store, DefaultOptions())

	label, score, err := m.Decode(obs{})
	require.NoError(t, err)
	assert.Equal(t, 1, label)
	assert.Equal(t, 2.0, score)

	label, score, err = m.Decode(obs{deny: []int{1}})
	require.NoError(t, err)
	assert.Equal(t, 0, label)
	assert.Equal(t, 0.0, score)

	label, p, err := m.DecodeNormalized(obs{deny: []int{1}})
	require.NoError(t, err)
	assert.Equal(t, 0, label)
	assert.Equal(t, 1.0, p)

	label, score, err = m.Decode(obs{deny: []int{0, 1}})
	require.NoError(t, err)
	assert.Equal(t, 0, label)
	assert.Equal(t, float64(LogOfZero), score)

	s, err := m.Score(obs{deny: []int{1}}, 1)
	require.NoError(t, err)
	assert.Equal(t, float64(LogOfZero), s)
	_, err = m.Score(obs{}, 5)
	assert.ErrorIs(t, err, errkind.ErrIndexOutOfRange)

	dist := make([]float64, 2)
	best, err := m.DecodeToDistribution(obs{deny: []int{1}}, dist)
	require.NoError(t, err)
	assert.Equal(t, 1, best)
}

func TestContinuousTraining(t *testing.T) {
	once := newModel(t, fixed(GIS, 5))
	addScenario(t, once)
	_, err := once.DeriveModel(0, false)
	require.NoError(t, err)

	store := weights.New()
	first := newModelOn(t, store, fixed(GIS, 3))
	addScenario(t, first)
	_, err = first.DeriveModel(0, false)
	require.NoError(t, err)
	second := newModelOn(t, store, fixed(GIS, 2))
	addScenario(t, second)
	_, err = second.DeriveModel(0, true)
	require.NoError(t, err)

	assert.InDeltaSlice(t, storedWeights(once), storedWeights(second), 1e-12)

	restart := newModelOn(t, store, fixed(GIS, 5))
	addScenario(t, restart)
	_, err = restart.DeriveModel(0, false)
	require.NoError(t, err)
	assert.InDeltaSlice(t, storedWeights(once), storedWeights(restart), 1e-12)
}

func TestContinuousTrainingFromLargeWeight(t *testing.T) {
	for _, variance := range []float64{0, 1} {
		store := weights.New()
		store.GetOrInsert(feature.New("bias", "POS")).Value = 800
		o := fixed(SCGIS, 3)
		o.GaussianVariance = variance
		m := newModelOn(t, store, o)
		addScenario(t, m)
		_, err := m.DeriveModel(0, true)
		require.NoError(t, err)

		for f, c := range store.All() {
			assert.False(t, math.IsNaN(c.Value) || math.IsInf(c.Value, 0), "variance %v: %s = %v", variance, f, c.Value)
		}
		dist := make([]float64, m.Labels().Count())
		for _, ob := range []obs{{words: []string{"x"}}, {}} {
			_, err := m.DecodeToDistribution(ob, dist)
			require.NoError(t, err)
			var sum float64
			for _, p := range dist {
				assert.False(t, math.IsNaN(p), "variance %v: %v", variance, dist)
				sum += p
			}
			assert.InDelta(t, 1.0, sum, 1e-9)
		}
	}
}

func TestEvaluate(t *testing.T) {
	m := newModel(t, fixed(SCGIS, 20))
	addScenario(t, m)
	_, err := m.DeriveModel(0, false)
	require.NoError(t, err)

	tally := m.Evaluate(m.Training())
	assert.Equal(t, 6.0, tally.Events)
	assert.Equal(t, 100.0, tally.Accuracy())
	assert.Equal(t, 3.0, tally.Correct)
	assert.Equal(t, 1.0, tally.F1())
	assert.Less(t, m.LogLikelihood(m.Training()), 0.0)

	pct, err := m.PercentCorrect(
		[]feature.Observation{obs{words: []string{"x"}}, obs{}, obs{}},
		[]int{1, 0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 200.0/3, pct, 1e-9)

	_, err = m.PercentCorrect([]feature.Observation{obs{}}, nil)
	assert.ErrorIs(t, err, errkind.ErrPrecondition)
}

func TestTally(t *testing.T) {
	isNone := func(l int) bool { return l == 0 }
	var tl Tally
	tl.Observe(0, 0, 5, isNone) // both NONE: accuracy only
	tl.Observe(1, 1, 2, isNone)
	tl.Observe(0, 1, 1, isNone)
	tl.Observe(1, 0, 1, isNone)
	tl.Observe(1, 2, 1, isNone)

	assert.Equal(t, 10.0, tl.Events)
	assert.Equal(t, 70.0, tl.Accuracy())
	assert.Equal(t, Tally{Events: 10, Right: 7, Correct: 2, Spurious: 1, Missed: 1, WrongType: 1}, tl)
	assert.InDelta(t, 0.5, tl.Precision(), 1e-12)
	assert.InDelta(t, 0.5, tl.Recall(), 1e-12)
	assert.InDelta(t, 0.5, tl.F1(), 1e-12)

	var other Tally
	other.Merge(tl)
	assert.Equal(t, tl, other)
	assert.Equal(t, 0.0, Tally{}.F1())
}

func TestNewton(t *testing.T) {
	// The solution satisfies observed = expected*γ + (alpha + log γ)/variance.
	delta := newton(3, 1.5, 0, 1)
	g := math.Exp(delta)
	assert.InDelta(t, 3, 1.5*g+delta, 1e-3)
}

func TestDumps(t *testing.T) {
	var train, held bytes.Buffer
	o := DefaultOptions()
	o.PercentHeldOut = 50
	o.TrainingDump = &train
	o.HeldOutDump = &held
	m := newModel(t, o)
	require.NoError(t, m.AddToTraining(obs{words: []string{"x"}}, 1))
	require.NoError(t, m.AddToTraining(obs{}, 0))

	assert.Equal(t, "POS (bias) (hasWordX)\n", held.String())
	assert.Equal(t, "NONE (bias)\n", train.String())
}

func TestWrite(t *testing.T) {
	store := weights.New()
	store.GetOrInsert(feature.New("bias", "POS")).Value = 0.25
	store.GetOrInsert(feature.New("bias", "NONE"))
	m := newModelOn(t, store, DefaultOptions())

	var buf bytes.Buffer
	require.NoError(t, m.Write(&buf, weights.Header{}))
	assert.Equal(t, "((bias POS) 0.25)\n", buf.String())
}
