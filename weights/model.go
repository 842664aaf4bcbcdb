package weights

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/happyhackingspace/disco/errkind"
	"github.com/happyhackingspace/disco/feature"
)

// NotSpecified is written for header parameters without a value.
const NotSpecified = "NOT-SPECIFIED"

// Param is one training parameter recorded in a model header. Checked
// parameters must match between training and decoding.
type Param struct {
	Key     string
	Value   string
	Checked bool
}

// Header describes how a model file was produced.
type Header struct {
	ID      string
	Created time.Time
	Params  []Param
}

// NewHeader stamps a new model id and creation time.
func NewHeader(params ...Param) Header {
	return Header{ID: uuid.NewString(), Created: time.Now().UTC().Truncate(time.Second), Params: params}
}

// Get returns the recorded value of key.
func (h Header) Get(key string) (string, bool) {
	for _, p := range h.Params {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Mismatch is a checked parameter whose current value differs from the
// one recorded in the model.
type Mismatch struct {
	Key     string
	Model   string
	Current string
}

// Check compares the checked parameters of the header with current values.
func (h Header) Check(current []Param) []Mismatch {
	var out []Mismatch
	for _, p := range h.Params {
		if !p.Checked {
			continue
		}
		now := NotSpecified
		for _, c := range current {
			if c.Key == p.Key && c.Value != "" {
				now = c.Value
			}
		}
		if now != p.Value {
			out = append(out, Mismatch{Key: p.Key, Model: p.Value, Current: now})
		}
	}
	return out
}

// ValueKind selects which number of a cell is written.
type ValueKind int

const (
	Live     ValueKind = iota // Cell.Value
	Summed                    // Cell.Sum
	Averaged                  // Cell.Sum / Life
)

// WriteOptions controls Write.
type WriteOptions struct {
	Values   ValueKind
	Life     int64
	SkipZero bool
}

// Write serializes the header followed by one "((type label args...) w)"
// line per feature, in sorted feature order.
func (s *Store) Write(w io.Writer, h Header, opts WriteOptions) error {
	if opts.Values == Averaged && opts.Life <= 0 {
		return fmt.Errorf("weights: averaged output needs a positive life: %w", errkind.ErrPrecondition)
	}

	bw := bufio.NewWriter(w)
	if h.ID != "" {
		fmt.Fprintf(bw, "# model %s\n", h.ID)
	}
	if !h.Created.IsZero() {
		fmt.Fprintf(bw, "# created %s\n", h.Created.Format(time.RFC3339))
	}
	for _, p := range h.Params {
		v := p.Value
		if v == "" {
			v = NotSpecified
		}
		if p.Checked {
			bw.WriteString("* ")
		}
		fmt.Fprintf(bw, "%s %s\n", p.Key, v)
	}

	var line strings.Builder
	for f, c := range s.All() {
		var v float64
		switch opts.Values {
		case Summed:
			v = c.Sum
		case Averaged:
			v = c.Sum / float64(opts.Life)
		default:
			v = c.Value
		}
		if opts.SkipZero && v == 0 {
			continue
		}
		line.Reset()
		line.WriteByte('(')
		feature.WriteList(&line, f.Tokens()...)
		line.WriteByte(' ')
		line.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		line.WriteString(")\n")
		bw.WriteString(line.String())
	}
	return bw.Flush()
}

// ReadStats summarizes a Read.
type ReadStats struct {
	Features   int
	Duplicates int
	Zeros      int
}

// Read loads a model into s, which need not be empty. Header lines come
// first; every line from the first one starting with '(' on must be a
// feature line. Duplicate features keep the first value read.
func (s *Store) Read(r io.Reader) (Header, ReadStats, error) {
	var h Header
	var st ReadStats
	inBody := false

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !inBody && !strings.HasPrefix(line, "(") {
			readHeaderLine(&h, line)
			continue
		}
		inBody = true

		f, v, err := parseWeightLine(line)
		if err != nil {
			return h, st, fmt.Errorf("weights: line %d: %w", lineNo, err)
		}
		if _, dup := s.cells[f]; dup {
			st.Duplicates++
			continue
		}
		if v == 0 {
			st.Zeros++
		}
		s.GetOrInsert(f).Value = v
		st.Features++
	}
	if err := sc.Err(); err != nil {
		return h, st, fmt.Errorf("weights: read model: %w", err)
	}
	return h, st, nil
}

func readHeaderLine(h *Header, line string) {
	if rest, ok := strings.CutPrefix(line, "#"); ok {
		key, val, _ := strings.Cut(strings.TrimSpace(rest), " ")
		switch key {
		case "model":
			h.ID = strings.TrimSpace(val)
		case "created":
			if t, err := time.Parse(time.RFC3339, strings.TrimSpace(val)); err == nil {
				h.Created = t
			}
		}
		return
	}
	checked := false
	if rest, ok := strings.CutPrefix(line, "* "); ok {
		checked = true
		line = strings.TrimSpace(rest)
	}
	key, val, _ := strings.Cut(line, " ")
	h.Params = append(h.Params, Param{Key: key, Value: strings.TrimSpace(val), Checked: checked})
}

func parseWeightLine(line string) (feature.Feature, float64, error) {
	nodes, err := feature.Parse(line)
	if err != nil {
		return feature.Feature{}, 0, fmt.Errorf("%w: %w", errkind.ErrMalformedModel, err)
	}
	if len(nodes) != 1 || !nodes[0].IsList || len(nodes[0].List) != 2 || nodes[0].List[1].IsList {
		return feature.Feature{}, 0, fmt.Errorf("expected ((type label args...) weight): %w", errkind.ErrMalformedModel)
	}
	toks, ok := nodes[0].List[0].Atoms()
	if !ok {
		return feature.Feature{}, 0, fmt.Errorf("nested feature tokens: %w", errkind.ErrMalformedModel)
	}
	f, ok := feature.FromTokens(toks)
	if !ok {
		return feature.Feature{}, 0, fmt.Errorf("feature needs a type and a label: %w", errkind.ErrMalformedModel)
	}
	v, err := strconv.ParseFloat(nodes[0].List[1].Atom, 64)
	if err != nil {
		return feature.Feature{}, 0, fmt.Errorf("bad weight %q: %w", nodes[0].List[1].Atom, errkind.ErrMalformedModel)
	}
	return f, v, nil
}
