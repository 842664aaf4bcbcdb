// Package weights holds the sparse feature weights shared by the decoders.
package weights

import (
	"iter"
	"maps"
	"slices"

	"github.com/happyhackingspace/disco/feature"
)

// Cell is the mutable weight of one feature. Sum and LastFlush implement
// exact averaging: the average over a training run is Sum divided by the
// run's life once FlushAverages has been called at its end.
type Cell struct {
	Value     float64
	Sum       float64
	LastFlush int64
}

// Store maps canonical features to their weights. Features are values, so
// the store's keys are the only retained copies.
type Store struct {
	cells   map[feature.Feature]*Cell
	flushed int64
}

// New creates an empty store.
func New() *Store {
	return &Store{cells: make(map[feature.Feature]*Cell)}
}

// Get returns the cell of f if the store holds one.
func (s *Store) Get(f feature.Feature) (*Cell, bool) {
	c, ok := s.cells[f]
	return c, ok
}

// Value returns the live weight of f, 0 if absent.
func (s *Store) Value(f feature.Feature) float64 {
	if c, ok := s.cells[f]; ok {
		return c.Value
	}
	return 0
}

// GetOrInsert returns the cell of f, inserting a zero cell first if needed.
// New cells start their averaging interval at the last flush.
func (s *Store) GetOrInsert(f feature.Feature) *Cell {
	if c, ok := s.cells[f]; ok {
		return c
	}
	c := &Cell{LastFlush: s.flushed}
	s.cells[f] = c
	return c
}

// Len returns the number of stored features.
func (s *Store) Len() int {
	return len(s.cells)
}

// Features returns the stored features in sorted order.
func (s *Store) Features() []feature.Feature {
	return slices.SortedFunc(maps.Keys(s.cells), feature.Compare)
}

// All iterates over the store in sorted feature order.
func (s *Store) All() iter.Seq2[feature.Feature, *Cell] {
	return func(yield func(feature.Feature, *Cell) bool) {
		for _, f := range s.Features() {
			if !yield(f, s.cells[f]) {
				return
			}
		}
	}
}

// FlushAverages folds each cell's current value into its running sum for
// the interval since its last flush.
func (s *Store) FlushAverages(life int64) {
	for _, c := range s.cells {
		c.Sum += c.Value * float64(life-c.LastFlush)
		c.LastFlush = life
	}
	s.flushed = life
}

// Flushed returns the life passed to the most recent FlushAverages.
func (s *Store) Flushed() int64 {
	return s.flushed
}

// Average returns Sum/life for f, 0 if f is absent or life is not positive.
func (s *Store) Average(f feature.Feature, life int64) float64 {
	c, ok := s.cells[f]
	if !ok || life <= 0 {
		return 0
	}
	return c.Sum / float64(life)
}

// UseAverages replaces every live value with its average over life.
func (s *Store) UseAverages(life int64) {
	if life <= 0 {
		return
	}
	for _, c := range s.cells {
		c.Value = c.Sum / float64(life)
	}
}

// Clear removes every feature.
func (s *Store) Clear() {
	clear(s.cells)
	s.flushed = 0
}
