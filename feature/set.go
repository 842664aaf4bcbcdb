package feature

import (
	"fmt"

	"github.com/happyhackingspace/disco/errkind"
)

// DefaultCapacity bounds the features one Set may emit per state.
const DefaultCapacity = 1000

// Set is an ordered group of extractors sharing one capacity bound.
type Set struct {
	extractors []Extractor
	capacity   int
}

// NewSet groups extractors. A non-positive capacity selects DefaultCapacity.
func NewSet(capacity int, extractors ...Extractor) *Set {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Set{extractors: extractors, capacity: capacity}
}

// Add appends an extractor.
func (s *Set) Add(e Extractor) {
	s.extractors = append(s.extractors, e)
}

// Extractors returns the extractors in evaluation order.
func (s *Set) Extractors() []Extractor {
	return s.extractors
}

// Len returns the number of extractors.
func (s *Set) Len() int {
	return len(s.extractors)
}

// Capacity returns the maximum number of features per state.
func (s *Set) Capacity() int {
	return s.capacity
}

// Lookup returns the extractor with the given name.
func (s *Set) Lookup(name string) (Extractor, bool) {
	for _, e := range s.extractors {
		if e.Name() == name {
			return e, true
		}
	}
	return nil, false
}

// Extract runs every extractor on st and appends the results to dst.
// Exceeding an extractor's own bound or the set capacity is an error.
func (s *Set) Extract(st State, dst []Feature) ([]Feature, error) {
	base := len(dst)
	for _, e := range s.extractors {
		before := len(dst)
		dst = e.Extract(st, dst)
		if b, ok := e.(Bounded); ok && b.MaxFeatures() > 0 && len(dst)-before > b.MaxFeatures() {
			return dst[:base], fmt.Errorf("feature: extractor %s emitted %d features, max %d: %w",
				e.Name(), len(dst)-before, b.MaxFeatures(), errkind.ErrCapacityExceeded)
		}
		if len(dst)-base > s.capacity {
			return dst[:base], fmt.Errorf("feature: set emitted more than %d features at extractor %s: %w",
				s.capacity, e.Name(), errkind.ErrCapacityExceeded)
		}
	}
	return dst, nil
}

// Sets maps candidate label indices to extractor sets. Labels without an
// explicit set use the fallback.
type Sets struct {
	fallback *Set
	byLabel  []*Set
}

// Shared maps every label to the same set.
func Shared(s *Set) Sets {
	return Sets{fallback: s}
}

// PerLabel maps label i to sets[i] when it is non-nil, and to fallback
// otherwise.
func PerLabel(sets []*Set, fallback *Set) Sets {
	return Sets{fallback: fallback, byLabel: sets}
}

// For returns the set used for label i.
func (s Sets) For(label int) (*Set, error) {
	if label < 0 {
		return nil, fmt.Errorf("feature: label index %d: %w", label, errkind.ErrIndexOutOfRange)
	}
	if label < len(s.byLabel) && s.byLabel[label] != nil {
		return s.byLabel[label], nil
	}
	if s.fallback == nil {
		return nil, fmt.Errorf("feature: no extractor set for label %d: %w", label, errkind.ErrIndexOutOfRange)
	}
	return s.fallback, nil
}

// Extract runs the set assigned to st.LabelIndex.
func (s Sets) Extract(st State, dst []Feature) ([]Feature, error) {
	set, err := s.For(st.LabelIndex)
	if err != nil {
		return dst, err
	}
	return set.Extract(st, dst)
}

// Empty reports whether no set is configured at all.
func (s Sets) Empty() bool {
	if s.fallback != nil {
		return false
	}
	for _, set := range s.byLabel {
		if set != nil {
			return false
		}
	}
	return true
}
