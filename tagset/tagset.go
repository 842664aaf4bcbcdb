// Package tagset maps classification labels to dense integer indices.
//
// A Registry always reserves index 0 for NONE. It can optionally expand every
// base label X into a start variant X-ST and a continuation variant X-CO,
// append reserved START and END labels, and generate nested labels X=Y for
// every pair of base labels. The transition sets it maintains describe which
// label may follow which in sequence-style use.
package tagset

import (
	"fmt"
	"slices"
	"strings"

	"github.com/happyhackingspace/disco/errkind"
)

// Reserved label names.
const (
	None    = "NONE"
	Start   = "START"
	End     = "END"
	Link    = "LINK"
	AltLink = "o[link]"
)

const (
	startSuffix  = "-ST"
	contSuffix   = "-CO"
	nestedSuffix = "-STST"
	nestSep      = "="
)

// Options selects how a Registry expands its vocabulary.
type Options struct {
	Suffixes    bool // generate X-ST and X-CO for every base label X
	StartEnd    bool // append START and END
	NestedNames bool // generate X=Y for every pair of base labels; needs Suffixes
}

// Tag describes one registered label.
type Tag struct {
	Symbol      string
	Reduced     string // base label, X for X=Y-ST
	SemiReduced string // label without suffix, X=Y for X=Y-ST
	IsStart     bool
	IsCont      bool
	IsNested    bool

	counterpart int
}

// Registry owns the label vocabulary and its index bijection.
type Registry struct {
	opts    Options
	tags    []Tag
	toID    map[string]int
	reduced []string
	succ    []map[int]struct{}
	pred    []map[int]struct{}
	start   int
	end     int
}

// New builds a registry from an ordered base vocabulary.
func New(labels []string, opts Options) (*Registry, error) {
	if opts.NestedNames && !opts.Suffixes {
		return nil, fmt.Errorf("tagset: nested names require suffix variants: %w", errkind.ErrConfiguration)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("tagset: empty vocabulary: %w", errkind.ErrConfiguration)
	}

	r := &Registry{
		opts:  opts,
		toID:  make(map[string]int),
		start: -1,
		end:   -1,
	}
	r.addVariants(None, None, false)
	for _, l := range labels {
		if err := r.addBase(l); err != nil {
			return nil, err
		}
	}
	if opts.StartEnd {
		r.start = r.addPlain(Start, Start, false)
		r.end = r.addPlain(End, End, false)
	}
	r.setupTransitions()
	return r, nil
}

// Add registers a new base label after construction. Adding a label that
// is already present is a no-op.
func (r *Registry) Add(label string) error {
	if err := r.addBase(label); err != nil {
		return err
	}
	r.setupTransitions()
	return nil
}

func (r *Registry) addBase(label string) error {
	if label == "" {
		return fmt.Errorf("tagset: empty label name: %w", errkind.ErrConfiguration)
	}
	if label == None || label == Start || label == End {
		return fmt.Errorf("tagset: cannot add reserved label %q: %w", label, errkind.ErrConfiguration)
	}
	if slices.Contains(r.reduced, label) {
		return nil
	}
	r.reduced = append(r.reduced, label)
	r.addVariants(label, label, false)

	if r.opts.NestedNames {
		for _, other := range r.reduced {
			r.addVariants(label, label+nestSep+other, true)
			if other != label {
				r.addVariants(other, other+nestSep+label, true)
			}
		}
	}
	return nil
}

// addVariants registers the labels derived from one semi-reduced name.
func (r *Registry) addVariants(reduced, semi string, nested bool) {
	if !r.opts.Suffixes {
		r.addPlain(reduced, semi, nested)
		return
	}
	st := r.push(Tag{Symbol: semi + startSuffix, Reduced: reduced, SemiReduced: semi, IsStart: !nested, IsNested: nested})
	co := r.push(Tag{Symbol: semi + contSuffix, Reduced: reduced, SemiReduced: semi, IsCont: true, IsNested: nested})
	r.tags[st].counterpart = co
	r.tags[co].counterpart = st
	if nested {
		stst := r.push(Tag{Symbol: semi + nestedSuffix, Reduced: reduced, SemiReduced: semi, IsStart: true, IsNested: true})
		r.tags[stst].counterpart = co
	}
}

func (r *Registry) addPlain(reduced, semi string, nested bool) int {
	symbol := reduced
	if nested {
		symbol = semi
	}
	i := r.push(Tag{Symbol: symbol, Reduced: reduced, SemiReduced: semi, IsNested: nested})
	r.tags[i].counterpart = -1
	return i
}

func (r *Registry) push(t Tag) int {
	id := len(r.tags)
	r.tags = append(r.tags, t)
	r.toID[t.Symbol] = id
	r.succ = append(r.succ, make(map[int]struct{}))
	r.pred = append(r.pred, make(map[int]struct{}))
	return id
}

// Count returns the number of registered labels.
func (r *Registry) Count() int {
	return len(r.tags)
}

// RegularCount returns the number of labels excluding START and END.
func (r *Registry) RegularCount() int {
	if r.start >= 0 {
		return len(r.tags) - 2
	}
	return len(r.tags)
}

// IndexOf returns the index of a label symbol.
func (r *Registry) IndexOf(symbol string) (int, bool) {
	id, ok := r.toID[symbol]
	return id, ok
}

// Get returns the index of a label symbol, or -1 if not found.
func (r *Registry) Get(symbol string) int {
	if id, ok := r.toID[symbol]; ok {
		return id
	}
	return -1
}

// Label returns the symbol registered at index i.
func (r *Registry) Label(i int) (string, error) {
	t, err := r.Tag(i)
	if err != nil {
		return "", err
	}
	return t.Symbol, nil
}

// Tag returns the full description of the label at index i.
func (r *Registry) Tag(i int) (Tag, error) {
	if err := r.check(i); err != nil {
		return Tag{}, err
	}
	return r.tags[i], nil
}

// Symbols returns every label symbol in index order.
func (r *Registry) Symbols() []string {
	out := make([]string, len(r.tags))
	for i, t := range r.tags {
		out[i] = t.Symbol
	}
	return out
}

// Reduced returns the base label of index i.
func (r *Registry) Reduced(i int) (string, error) {
	if err := r.check(i); err != nil {
		return "", err
	}
	return r.tags[i].Reduced, nil
}

// SemiReduced returns the label of index i without its suffix.
func (r *Registry) SemiReduced(i int) (string, error) {
	if err := r.check(i); err != nil {
		return "", err
	}
	return r.tags[i].SemiReduced, nil
}

// Counterpart returns the continuation of a start label and vice versa,
// or -1 when suffix variants are disabled.
func (r *Registry) Counterpart(i int) (int, error) {
	if err := r.check(i); err != nil {
		return -1, err
	}
	return r.tags[i].counterpart, nil
}

// BaseLabels returns the base vocabulary in registration order.
func (r *Registry) BaseLabels() []string {
	return slices.Clone(r.reduced)
}

// NoneIndex returns the index of NONE. It is always 0.
func (r *Registry) NoneIndex() int {
	return 0
}

// IsNone reports whether index i is NONE or one of its variants.
func (r *Registry) IsNone(i int) bool {
	if i < 0 || i >= len(r.tags) {
		return false
	}
	return r.tags[i].Reduced == None
}

// StartIndex returns the index of START if the registry defines one.
func (r *Registry) StartIndex() (int, bool) {
	return r.start, r.start >= 0
}

// EndIndex returns the index of END if the registry defines one.
func (r *Registry) EndIndex() (int, bool) {
	return r.end, r.end >= 0
}

// LinkIndex returns the index of LINK, falling back to o[link].
func (r *Registry) LinkIndex() (int, bool) {
	if id, ok := r.toID[Link]; ok {
		return id, true
	}
	id, ok := r.toID[AltLink]
	return id, ok
}

func (r *Registry) check(i int) error {
	if i < 0 || i >= len(r.tags) {
		return fmt.Errorf("tagset: index %d outside [0, %d): %w", i, len(r.tags), errkind.ErrIndexOutOfRange)
	}
	return nil
}

// String renders the registry as "0:NONE 1:POS ...".
func (r *Registry) String() string {
	var b strings.Builder
	for i, t := range r.tags {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%d:%s", i, t.Symbol)
	}
	return b.String()
}
