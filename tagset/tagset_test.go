package tagset

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/happyhackingspace/disco/errkind"
)

func TestIndexRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"plain", Options{}},
		{"suffixes", Options{Suffixes: true}},
		{"start-end", Options{StartEnd: true}},
		{"all", Options{Suffixes: true, StartEnd: true, NestedNames: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New([]string{"PER", "ORG", "LOC"}, tt.opts)
			require.NoError(t, err)
			for i := range r.Count() {
				label, err := r.Label(i)
				require.NoError(t, err)
				id, ok := r.IndexOf(label)
				require.True(t, ok, label)
				assert.Equal(t, i, id)
			}
			_, err = r.Label(-1)
			assert.ErrorIs(t, err, errkind.ErrIndexOutOfRange)
			_, err = r.Label(r.Count())
			assert.ErrorIs(t, err, errkind.ErrIndexOutOfRange)
		})
	}
}

func TestPlainLayout(t *testing.T) {
	r, err := New([]string{"POS", "NEG"}, Options{StartEnd: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"NONE", "POS", "NEG", "START", "END"}, r.Symbols())
	assert.Equal(t, 0, r.NoneIndex())
	assert.True(t, r.IsNone(0))
	assert.False(t, r.IsNone(1))
	assert.False(t, r.IsNone(-1))

	start, ok := r.StartIndex()
	assert.True(t, ok)
	assert.Equal(t, 3, start)
	end, ok := r.EndIndex()
	assert.True(t, ok)
	assert.Equal(t, 4, end)
	assert.Equal(t, 3, r.RegularCount())

	_, ok = r.LinkIndex()
	assert.False(t, ok)
	assert.Equal(t, -1, r.Get("missing"))
}

func TestSuffixLayout(t *testing.T) {
	r, err := New([]string{"PER"}, Options{Suffixes: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"NONE-ST", "NONE-CO", "PER-ST", "PER-CO"}, r.Symbols())
	assert.True(t, r.IsNone(0))
	assert.True(t, r.IsNone(1))

	tag, err := r.Tag(2)
	require.NoError(t, err)
	assert.True(t, tag.IsStart)
	assert.Equal(t, "PER", tag.Reduced)

	co, err := r.Counterpart(2)
	require.NoError(t, err)
	assert.Equal(t, 3, co)
	st, err := r.Counterpart(3)
	require.NoError(t, err)
	assert.Equal(t, 2, st)

	_, ok := r.StartIndex()
	assert.False(t, ok)
}

func TestConstructionErrors(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		opts   Options
	}{
		{"empty", nil, Options{}},
		{"reserved none", []string{"NONE"}, Options{}},
		{"reserved start", []string{"A", "START"}, Options{}},
		{"nested without suffixes", []string{"A"}, Options{NestedNames: true}},
		{"blank", []string{""}, Options{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.labels, tt.opts)
			assert.ErrorIs(t, err, errkind.ErrConfiguration)
		})
	}
}

func TestAdd(t *testing.T) {
	r, err := New([]string{"PER"}, Options{})
	require.NoError(t, err)

	require.NoError(t, r.Add("ORG"))
	require.NoError(t, r.Add("ORG"))
	assert.Equal(t, 3, r.Count())
	assert.Equal(t, []string{"PER", "ORG"}, r.BaseLabels())
	assert.ErrorIs(t, r.Add("END"), errkind.ErrConfiguration)
}

func TestLinkFallback(t *testing.T) {
	r, err := New([]string{"o[link]"}, Options{})
	require.NoError(t, err)
	id, ok := r.LinkIndex()
	require.True(t, ok)
	assert.Equal(t, 1, id)

	r, err = New([]string{"o[link]", "LINK"}, Options{})
	require.NoError(t, err)
	id, ok = r.LinkIndex()
	require.True(t, ok)
	assert.Equal(t, 2, id)
}

func TestSuffixTransitions(t *testing.T) {
	r, err := New([]string{"PER", "ORG"}, Options{Suffixes: true, StartEnd: true})
	require.NoError(t, err)

	per := r.Get("PER-ST")
	perCO := r.Get("PER-CO")
	orgST := r.Get("ORG-ST")
	orgCO := r.Get("ORG-CO")
	start, _ := r.StartIndex()
	end, _ := r.EndIndex()

	succ, err := r.Successors(per)
	require.NoError(t, err)
	assert.Contains(t, succ, perCO)
	assert.Contains(t, succ, orgST)
	assert.Contains(t, succ, per)
	assert.Contains(t, succ, end)
	assert.NotContains(t, succ, orgCO)

	succ, err = r.Successors(perCO)
	require.NoError(t, err)
	assert.Contains(t, succ, perCO)
	assert.Contains(t, succ, orgST)
	assert.NotContains(t, succ, orgCO)

	pred, err := r.Predecessors(orgST)
	require.NoError(t, err)
	assert.Contains(t, pred, start)
	assert.NotContains(t, pred, end)

	succ, err = r.Successors(end)
	require.NoError(t, err)
	assert.Empty(t, succ)

	_, err = r.Successors(r.Count())
	assert.ErrorIs(t, err, errkind.ErrIndexOutOfRange)
	assert.ErrorIs(t, r.AddTransition(0, -1), errkind.ErrIndexOutOfRange)
}

func TestPlainRegistryHasNoTransitions(t *testing.T) {
	r, err := New([]string{"A", "B"}, Options{})
	require.NoError(t, err)
	for i := range r.Count() {
		succ, err := r.Successors(i)
		require.NoError(t, err)
		assert.Empty(t, succ)
	}
	require.NoError(t, r.AddTransition(1, 2))
	pred, err := r.Predecessors(2)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, pred)
}

func TestTransitionsRoundTrip(t *testing.T) {
	r, err := New([]string{"PER", "ORG"}, Options{Suffixes: true, StartEnd: true})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.WriteTransitions(&buf))

	other, err := New([]string{"PER", "ORG"}, Options{Suffixes: true, StartEnd: true})
	require.NoError(t, err)
	other.ClearTransitions()
	require.NoError(t, other.ReadTransitions(&buf))

	for i := range r.Count() {
		want, _ := r.Successors(i)
		got, _ := other.Successors(i)
		assert.Equal(t, want, got, r.Symbols()[i])
	}
}

func TestReadTransitionsErrors(t *testing.T) {
	r, err := New([]string{"A"}, Options{})
	require.NoError(t, err)
	assert.ErrorIs(t, r.ReadTransitions(strings.NewReader("")), errkind.ErrConfiguration)
	assert.ErrorIs(t, r.ReadTransitions(strings.NewReader("1\nA")), errkind.ErrConfiguration)
	assert.ErrorIs(t, r.ReadTransitions(strings.NewReader("1\nA Z")), errkind.ErrConfiguration)
}

func TestNestedNames(t *testing.T) {
	r, err := New([]string{"PER", "ORG"}, Options{Suffixes: true, NestedNames: true})
	require.NoError(t, err)

	id, ok := r.IndexOf("PER=ORG-ST")
	require.True(t, ok)
	tag, _ := r.Tag(id)
	assert.Equal(t, "PER", tag.Reduced)
	assert.Equal(t, "PER=ORG", tag.SemiReduced)
	assert.True(t, tag.IsNested)
	assert.False(t, tag.IsStart)

	stst, ok := r.IndexOf("PER=ORG-STST")
	require.True(t, ok)
	tag, _ = r.Tag(stst)
	assert.True(t, tag.IsStart)

	for _, s := range []string{"PER=PER-ST", "ORG=PER-CO", "ORG=ORG-STST"} {
		_, ok := r.IndexOf(s)
		assert.True(t, ok, s)
	}

	// X=Y-ST continues inside Y
	succ, _ := r.Successors(id)
	assert.Contains(t, succ, r.Get("ORG-CO"))
	assert.Contains(t, succ, r.Get("PER=ORG-CO"))
	pred, _ := r.Predecessors(id)
	assert.Contains(t, pred, r.Get("ORG-ST"))
	succ, _ = r.Successors(stst)
	assert.Contains(t, succ, id)
}

func TestRead(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"counted", "2\nPOS NEG\n", []string{"NONE", "POS", "NEG"}},
		{"lines", "# labels\nPOS\n\nNEG\n", []string{"NONE", "POS", "NEG"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Read(strings.NewReader(tt.input), Options{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.Symbols())
		})
	}

	_, err := Read(strings.NewReader("3\nPOS NEG\n"), Options{})
	assert.ErrorIs(t, err, errkind.ErrConfiguration)
	_, err = Read(strings.NewReader("# nothing\n"), Options{})
	assert.ErrorIs(t, err, errkind.ErrConfiguration)
}

func TestWriteRead(t *testing.T) {
	r, err := New([]string{"A", "B"}, Options{})
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, r.Write(&buf))

	back, err := Read(&buf, Options{})
	require.NoError(t, err)
	assert.Equal(t, r.Symbols(), back.Symbols())
}
