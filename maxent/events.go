package maxent

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/happyhackingspace/disco/errkind"
	"github.com/happyhackingspace/disco/feature"
	"github.com/happyhackingspace/disco/tagset"
)

// event is one distinct context: the features extracted for every
// candidate label, plus how often each label was the outcome.
type event struct {
	features [][]feature.Feature
	counts   []int
	total    int
}

// EventSet aggregates training events. Contexts whose candidate features
// are identical share one event whose outcome counts are incremented.
type EventSet struct {
	tags   *tagset.Registry
	sets   feature.Sets
	build  bool
	active map[feature.Feature]int
	index  map[string]int
	events []*event
	added  int
	dump   io.Writer
	buf    []feature.Feature
	key    strings.Builder
}

// NewEventSet creates an empty set. With build set, the set also counts how
// often each feature fires under the correct label; only such a set can
// train a model.
func NewEventSet(tags *tagset.Registry, sets feature.Sets, build bool) *EventSet {
	return &EventSet{
		tags:   tags,
		sets:   sets,
		build:  build,
		active: make(map[feature.Feature]int),
		index:  make(map[string]int),
	}
}

// SetDump makes Add write one feature vector line per call to w.
func (s *EventSet) SetDump(w io.Writer) {
	s.dump = w
}

// Add records that correct was the outcome of obs count times.
func (s *EventSet) Add(obs feature.Observation, correct, count int) error {
	return s.add(feature.State{Observation: obs}, correct, count)
}

// AddState records count occurrences of st with its label as the outcome.
// The candidate states keep the position and history of st. A non-empty
// st.Label names the outcome; a non-zero LabelIndex must then agree with it.
func (s *EventSet) AddState(st feature.State, count int) error {
	correct := st.LabelIndex
	if st.Label != "" {
		i, ok := s.tags.IndexOf(st.Label)
		if !ok {
			return fmt.Errorf("maxent: unknown training label %q: %w", st.Label, errkind.ErrPrecondition)
		}
		if st.LabelIndex != 0 && st.LabelIndex != i {
			return fmt.Errorf("maxent: state label %q is index %d, not %d: %w",
				st.Label, i, st.LabelIndex, errkind.ErrPrecondition)
		}
		correct = i
	}
	return s.add(st, correct, count)
}

func (s *EventSet) add(base feature.State, correct, count int) error {
	n := s.tags.Count()
	if correct < 0 || correct >= n {
		return fmt.Errorf("maxent: training label %d outside [0, %d): %w", correct, n, errkind.ErrPrecondition)
	}
	if count <= 0 {
		return fmt.Errorf("maxent: event count %d: %w", count, errkind.ErrPrecondition)
	}

	perLabel := make([][]feature.Feature, n)
	for i := range n {
		st := base
		st.Label, _ = s.tags.Label(i)
		st.LabelIndex = i
		var err error
		s.buf, err = s.sets.Extract(st, s.buf[:0])
		if err != nil {
			return fmt.Errorf("maxent: %w", err)
		}
		perLabel[i] = append([]feature.Feature(nil), s.buf...)
	}

	if s.dump != nil {
		if err := s.writeVector(correct, perLabel[correct]); err != nil {
			return err
		}
	}
	if s.build {
		for _, f := range perLabel[correct] {
			s.active[f] += count
		}
	}

	key := s.keyOf(perLabel)
	if id, ok := s.index[key]; ok {
		ev := s.events[id]
		ev.counts[correct] += count
		ev.total += count
	} else {
		ev := &event{features: perLabel, counts: make([]int, n), total: count}
		ev.counts[correct] = count
		s.index[key] = len(s.events)
		s.events = append(s.events, ev)
	}
	s.added += count
	return nil
}

func (s *EventSet) keyOf(perLabel [][]feature.Feature) string {
	s.key.Reset()
	for i, fs := range perLabel {
		s.key.WriteString(strconv.Itoa(i))
		s.key.WriteByte('\x1e')
		for _, f := range fs {
			for _, part := range [...]string{f.Type, f.Label, f.Args} {
				s.key.WriteString(strconv.Itoa(len(part)))
				s.key.WriteByte(':')
				s.key.WriteString(part)
			}
		}
	}
	return s.key.String()
}

func (s *EventSet) writeVector(correct int, fs []feature.Feature) error {
	unlabelled := make([]feature.Feature, len(fs))
	for i, f := range fs {
		unlabelled[i] = f.WithLabel("")
	}
	sym, _ := s.tags.Label(correct)
	if _, err := fmt.Fprintln(s.dump, feature.FormatVector(sym, unlabelled)); err != nil {
		return fmt.Errorf("maxent: dump: %w", err)
	}
	return nil
}

// Prune drops features observed fewer than threshold times and merges the
// contexts that become identical. Thresholds of 1 or less keep everything.
func (s *EventSet) Prune(threshold int) {
	if threshold <= 1 {
		return
	}
	for f, c := range s.active {
		if c < threshold {
			delete(s.active, f)
		}
	}

	old := s.events
	s.events = nil
	clear(s.index)
	for _, ev := range old {
		for i, fs := range ev.features {
			kept := fs[:0]
			for _, f := range fs {
				if s.active[f] >= threshold {
					kept = append(kept, f)
				}
			}
			ev.features[i] = kept
		}
		key := s.keyOf(ev.features)
		if id, ok := s.index[key]; ok {
			merged := s.events[id]
			for i, c := range ev.counts {
				merged.counts[i] += c
			}
			merged.total += ev.total
			continue
		}
		s.index[key] = len(s.events)
		s.events = append(s.events, ev)
	}
}

// MaxActiveFeatures returns the largest number of retained features any
// single candidate label of any context has.
func (s *EventSet) MaxActiveFeatures() int {
	best := 0
	for _, ev := range s.events {
		for _, fs := range ev.features {
			n := 0
			for _, f := range fs {
				if _, ok := s.active[f]; ok {
					n++
				}
			}
			best = max(best, n)
		}
	}
	return best
}

// NumEvents returns the number of events added, counting repeats.
func (s *EventSet) NumEvents() int {
	return s.added
}

// NumContexts returns the number of distinct contexts.
func (s *EventSet) NumContexts() int {
	return len(s.events)
}

// NumFeatures returns the number of features observed under a correct
// label.
func (s *EventSet) NumFeatures() int {
	return len(s.active)
}

// Observed returns how often f fired under the correct label.
func (s *EventSet) Observed(f feature.Feature) int {
	return s.active[f]
}

// Reset discards every event.
func (s *EventSet) Reset() {
	clear(s.active)
	clear(s.index)
	s.events = nil
	s.added = 0
}
