// Package feature defines the contract between the decoders and the
// caller-supplied feature extractors.
//
// A Feature is a plain comparable value: two features with the same type,
// label and arguments are the same feature, so they can be used directly as
// map keys by the weight table. Extractors are grouped into a Set, and Sets
// lets each candidate label draw its features from a different Set.
package feature

import (
	"slices"
	"strings"
)

// Argument tokens are joined with argSep inside Feature.Args. argEsc
// escapes a literal argSep or argEsc, and argEsc followed by emptyArg
// stands for an empty token, so distinct argument lists never share an
// encoding.
const (
	argSep   = '\x1f'
	argEsc   = '\x1e'
	emptyArg = '0'
)

// New builds a feature from its type, candidate label and argument tokens.
func New(typ, label string, args ...string) Feature {
	return Feature{Type: typ, Label: label, Args: joinArgs(args)}
}

func joinArgs(args []string) string {
	var b strings.Builder
	for i, a := range args {
		if i > 0 {
			b.WriteByte(argSep)
		}
		if a == "" {
			b.WriteByte(argEsc)
			b.WriteByte(emptyArg)
			continue
		}
		for j := 0; j < len(a); j++ {
			if a[j] == argSep || a[j] == argEsc {
				b.WriteByte(argEsc)
			}
			b.WriteByte(a[j])
		}
	}
	return b.String()
}

// Arguments returns the argument tokens of f.
func (f Feature) Arguments() []string {
	if f.Args == "" {
		return nil
	}
	if strings.IndexByte(f.Args, argEsc) < 0 {
		return strings.Split(f.Args, string(argSep))
	}
	var out []string
	var b strings.Builder
	for i := 0; i < len(f.Args); i++ {
		switch c := f.Args[i]; {
		case c == argSep:
			out = append(out, b.String())
			b.Reset()
		case c == argEsc && i+1 < len(f.Args):
			i++
			if f.Args[i] != emptyArg {
				b.WriteByte(f.Args[i])
			}
		default:
			b.WriteByte(c)
		}
	}
	return append(out, b.String())
}

// WithLabel returns a copy of f tied to another label.
func (f Feature) WithLabel(label string) Feature {
	f.Label = label
	return f
}

// Tokens returns the serialized token form: type, label, then arguments.
func (f Feature) Tokens() []string {
	return append([]string{f.Type, f.Label}, f.Arguments()...)
}

// FromTokens is the inverse of Tokens.
func FromTokens(toks []string) (Feature, bool) {
	if len(toks) < 2 || toks[0] == "" {
		return Feature{}, false
	}
	return New(toks[0], toks[1], toks[2:]...), true
}

// String renders f as "(type label args...)".
func (f Feature) String() string {
	var b strings.Builder
	WriteList(&b, f.Tokens()...)
	return b.String()
}

// Compare orders features by type, label, then arguments.
func Compare(a, b Feature) int {
	if c := strings.Compare(a.Type, b.Type); c != 0 {
		return c
	}
	if c := strings.Compare(a.Label, b.Label); c != 0 {
		return c
	}
	return strings.Compare(a.Args, b.Args)
}

// Sort sorts features in place with Compare.
func Sort(fs []Feature) {
	slices.SortFunc(fs, Compare)
}

// Observation is the opaque context a decision is made about. The engine
// only asks it which labels it admits; extractors may type-assert it to the
// richer interfaces they understand.
type Observation interface {
	IsValidLabel(label int) bool
}

// Any admits every label. Embed it in observations without label vetoes.
type Any struct{}

// IsValidLabel always returns true.
func (Any) IsValidLabel(int) bool { return true }

// State is the input to an extractor: the candidate label under
// consideration, the observation, and optional sequence context.
type State struct {
	Label       string
	LabelIndex  int
	Observation Observation
	Index       int
	Prev        string
	PrevPrev    string
}

// Extractor generates the features of one state. Implementations append to
// dst and return the extended slice.
type Extractor interface {
	Name() string
	Extract(s State, dst []Feature) []Feature
}

// Bounded is implemented by extractors that declare their own maximum
// number of features per call.
type Bounded interface {
	MaxFeatures() int
}

// Func adapts a plain function into an Extractor.
type Func struct {
	ID  string
	Max int
	Fn  func(s State, dst []Feature) []Feature
}

// Name returns the extractor identifier.
func (f Func) Name() string { return f.ID }

// Extract calls the wrapped function.
func (f Func) Extract(s State, dst []Feature) []Feature { return f.Fn(s, dst) }

// MaxFeatures returns the declared maximum, 0 meaning the set default.
func (f Func) MaxFeatures() int { return f.Max }
