package tagset

import (
	"bufio"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"

	"github.com/happyhackingspace/disco/errkind"
)

// AddTransition records that label next may follow label prev.
func (r *Registry) AddTransition(prev, next int) error {
	if err := r.check(prev); err != nil {
		return err
	}
	if err := r.check(next); err != nil {
		return err
	}
	r.succ[prev][next] = struct{}{}
	r.pred[next][prev] = struct{}{}
	return nil
}

// Successors returns the labels allowed after label i, in index order.
func (r *Registry) Successors(i int) ([]int, error) {
	if err := r.check(i); err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(r.succ[i])), nil
}

// Predecessors returns the labels allowed before label i, in index order.
func (r *Registry) Predecessors(i int) ([]int, error) {
	if err := r.check(i); err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(r.pred[i])), nil
}

// ClearTransitions removes every recorded transition.
func (r *Registry) ClearTransitions() {
	for i := range r.tags {
		clear(r.succ[i])
		clear(r.pred[i])
	}
}

// link is AddTransition for indices already known to be valid; negative
// indices come from missing outer labels and are ignored.
func (r *Registry) link(prev, next int) {
	if prev < 0 || next < 0 {
		return
	}
	r.succ[prev][next] = struct{}{}
	r.pred[next][prev] = struct{}{}
}

// setupTransitions rebuilds the transition sets implied by suffix variants.
func (r *Registry) setupTransitions() {
	if !r.opts.Suffixes {
		return
	}
	r.ClearTransitions()

	n := len(r.tags)
	if r.start >= 0 {
		for i := range n {
			if r.tags[i].IsStart {
				r.link(r.start, i)
			}
		}
	}
	if r.end >= 0 {
		for j := range n {
			if j != r.end {
				r.link(j, r.end)
			}
		}
	}

	for i := range n {
		t := r.tags[i]
		if t.IsStart {
			r.link(i, t.counterpart)
			for j := range n {
				if r.tags[j].IsStart {
					r.link(i, j)
				}
				if i != j && j != r.end {
					r.link(j, i)
				}
			}
		}
		if t.IsCont {
			r.link(i, i)
		}
		if t.IsNested {
			r.setupNested(i)
		}
	}
}

func (r *Registry) setupNested(i int) {
	t := r.tags[i]
	outerCO := r.outer(i, contSuffix)
	outerST := r.outer(i, startSuffix)

	r.link(i, outerCO)
	if t.IsStart {
		// X=Y-STST is followed by X=Y-ST
		r.succ[i][r.tags[t.counterpart].counterpart] = struct{}{}
	}
	if !t.IsStart && !t.IsCont {
		r.link(i, t.counterpart)
		r.link(outerST, i)
		r.link(outerCO, i)
		r.link(i, i)
	}
	for j := range r.tags {
		if !r.tags[j].IsNested || r.outer(j, contSuffix) != outerCO {
			continue
		}
		r.pred[i][j] = struct{}{}
		if !r.tags[j].IsStart && !r.tags[j].IsCont {
			r.succ[i][j] = struct{}{}
		}
	}
}

// outer maps X=Y to Y plus suffix, or X to X plus suffix.
func (r *Registry) outer(i int, suffix string) int {
	semi := r.tags[i].SemiReduced
	for k := 0; k < len(semi); k++ {
		if semi[k] == nestSep[0] {
			semi = semi[k+1:]
			break
		}
	}
	return r.Get(semi + suffix)
}

// WriteTransitions writes the transition count followed by one
// "prev next" pair per line.
func (r *Registry) WriteTransitions(w io.Writer) error {
	total := 0
	for i := range r.tags {
		total += len(r.succ[i])
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, total)
	for i := range r.tags {
		for _, next := range slices.Sorted(maps.Keys(r.succ[i])) {
			fmt.Fprintf(bw, "%s %s\n", r.tags[i].Symbol, r.tags[next].Symbol)
		}
	}
	return bw.Flush()
}

// ReadTransitions replaces the transition sets with the ones in rd.
func (r *Registry) ReadTransitions(rd io.Reader) error {
	sc := bufio.NewScanner(rd)
	sc.Split(bufio.ScanWords)

	if !sc.Scan() {
		return fmt.Errorf("tagset: missing transition count: %w", errkind.ErrConfiguration)
	}
	n, err := strconv.Atoi(sc.Text())
	if err != nil || n < 0 {
		return fmt.Errorf("tagset: bad transition count %q: %w", sc.Text(), errkind.ErrConfiguration)
	}

	r.ClearTransitions()
	for k := range n {
		var pair [2]int
		for p := range pair {
			if !sc.Scan() {
				return fmt.Errorf("tagset: transition %d truncated: %w", k, errkind.ErrConfiguration)
			}
			id, ok := r.IndexOf(sc.Text())
			if !ok {
				return fmt.Errorf("tagset: transition %d names unknown label %q: %w", k, sc.Text(), errkind.ErrConfiguration)
			}
			pair[p] = id
		}
		r.link(pair[0], pair[1])
	}
	return sc.Err()
}
