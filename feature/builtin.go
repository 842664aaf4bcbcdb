package feature

import (
	"fmt"

	"github.com/happyhackingspace/disco/errkind"
	"github.com/happyhackingspace/disco/internal/textutil"
)

// VectorSource is an observation carrying pre-extracted facts. The facts
// have no label; the vector extractors tie them to the candidate label.
type VectorSource interface {
	Vector() []Feature
}

// TokenSource is an observation exposing word tokens.
type TokenSource interface {
	Tokens() []string
}

// Bias emits one feature per candidate label.
type Bias struct{}

// Name returns "bias".
func (Bias) Name() string { return "bias" }

// Extract appends the bias feature of s.Label.
func (Bias) Extract(s State, dst []Feature) []Feature {
	return append(dst, Feature{Type: "bias", Label: s.Label})
}

// MaxFeatures returns 1.
func (Bias) MaxFeatures() int { return 1 }

// Vector re-emits the facts of a VectorSource observation, optionally only
// those of one type.
type Vector struct {
	Only string
}

// Name returns the catalog form of v.
func (v Vector) Name() string {
	if v.Only != "" {
		return "vector-type:" + v.Only
	}
	return "vector"
}

// Extract appends the observation's facts tied to s.Label.
func (v Vector) Extract(s State, dst []Feature) []Feature {
	src, ok := s.Observation.(VectorSource)
	if !ok {
		return dst
	}
	for _, f := range src.Vector() {
		if v.Only != "" && f.Type != v.Only {
			continue
		}
		dst = append(dst, f.WithLabel(s.Label))
	}
	return dst
}

// WordList fires when any observation token, or any run of tokens, is an
// entry of its list. Multi-word entries are matched greedily up to maxSpan
// tokens.
type WordList struct {
	ListName string
	List     *List
	Lower    bool
}

const maxSpan = 4

func (w WordList) typeName() string {
	if w.Lower {
		return "lc-wlist"
	}
	return "wlist"
}

// Name returns the catalog type and list name.
func (w WordList) Name() string {
	return w.typeName() + ":" + w.ListName
}

// Extract appends one feature if any token span is in the list.
func (w WordList) Extract(s State, dst []Feature) []Feature {
	src, ok := s.Observation.(TokenSource)
	if !ok || w.List == nil {
		return dst
	}
	toks := src.Tokens()
	for i := range toks {
		for n := 1; n <= maxSpan && i+n <= len(toks); n++ {
			entry := textutil.Span(toks, i, n)
			if w.Lower {
				entry = textutil.Fold(entry)
			}
			if w.List.Contains(entry) {
				return append(dst, New(w.typeName(), s.Label, w.ListName))
			}
		}
	}
	return dst
}

// MaxFeatures returns 1.
func (WordList) MaxFeatures() int { return 1 }

func registerBuiltins(c *Catalog) {
	c.Register("bias", func(args []string, _ *Env) (Extractor, error) {
		if len(args) != 0 {
			return nil, fmt.Errorf("feature: bias takes no arguments: %w", errkind.ErrConfiguration)
		}
		return Bias{}, nil
	})
	c.Register("vector", func(args []string, _ *Env) (Extractor, error) {
		if len(args) != 0 {
			return nil, fmt.Errorf("feature: vector takes no arguments: %w", errkind.ErrConfiguration)
		}
		return Vector{}, nil
	})
	c.Register("vector-type", func(args []string, _ *Env) (Extractor, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("feature: vector-type needs one type name: %w", errkind.ErrConfiguration)
		}
		return Vector{Only: args[0]}, nil
	})
	wordList := func(lower bool) Factory {
		return func(args []string, env *Env) (Extractor, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("feature: word list needs a name and a file: %w", errkind.ErrConfiguration)
			}
			l, err := env.list(args[1], lower)
			if err != nil {
				return nil, err
			}
			return WordList{ListName: args[0], List: l, Lower: lower}, nil
		}
	}
	c.Register("wlist", wordList(false))
	c.Register("lc-wlist", wordList(true))
}
