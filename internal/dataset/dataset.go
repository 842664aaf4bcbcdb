// Package dataset reads labelled feature-vector files.
//
// Each non-blank line is one sample:
//
//	[@group] LABEL (type args...) (type args...) ...
//
// The optional group names the source the sample was drawn from, and keeps
// samples of one source in the same cross-validation fold. Lines starting
// with '#' are comments.
package dataset

import (
	"bufio"
	"crypto/md5"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/happyhackingspace/disco/errkind"
	"github.com/happyhackingspace/disco/feature"
	"github.com/happyhackingspace/disco/internal/textutil"
)

// Sample is one labelled observation. It admits every label.
type Sample struct {
	feature.Any
	Label  string
	Group  string
	Facts  []feature.Feature
	Line   int
	tokens []string
}

// Vector returns the sample's facts.
func (s *Sample) Vector() []feature.Feature { return s.Facts }

// Tokens returns the word tokens of every fact argument, in order.
func (s *Sample) Tokens() []string {
	if s.tokens == nil {
		s.tokens = []string{}
		for _, f := range s.Facts {
			for _, a := range f.Arguments() {
				s.tokens = append(s.tokens, textutil.Tokenize(a)...)
			}
		}
	}
	return s.tokens
}

// String formats the sample as a vector file line.
func (s *Sample) String() string {
	line := feature.FormatVector(s.Label, s.Facts)
	if s.Group != "" {
		return "@" + s.Group + " " + line
	}
	return line
}

// Options controls Read.
type Options struct {
	// DropDuplicates skips samples identical to an earlier one.
	DropDuplicates bool
}

// DefaultOptions returns the options used by Load.
func DefaultOptions() Options {
	return Options{}
}

// Read parses samples from r.
func Read(r io.Reader, opts Options) ([]*Sample, error) {
	var out []*Sample
	seen := make(map[[md5.Size]byte]bool)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		s, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("dataset: line %d: %w", n, err)
		}
		s.Line = n
		if opts.DropDuplicates {
			h := md5.Sum([]byte(s.String()))
			if seen[h] {
				slog.Debug("Dropping duplicate sample", "line", n)
				continue
			}
			seen[h] = true
		}
		out = append(out, s)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	return out, nil
}

func parseLine(line string) (*Sample, error) {
	s := &Sample{}
	if strings.HasPrefix(line, "@") {
		group, rest, _ := strings.Cut(line[1:], " ")
		if group == "" {
			return nil, fmt.Errorf("empty group: %w", errkind.ErrConfiguration)
		}
		s.Group = group
		line = strings.TrimSpace(rest)
	}
	label, facts, err := feature.ParseVector(line)
	if err != nil {
		return nil, err
	}
	s.Label, s.Facts = label, facts
	return s, nil
}

// Load reads the samples of a vector file.
func Load(path string, opts Options) ([]*Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	defer f.Close()
	samples, err := Read(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	slog.Debug("Loaded samples", "path", path, "count", len(samples))
	return samples, nil
}

// Write writes samples in the format Read accepts.
func Write(w io.Writer, samples []*Sample) error {
	bw := bufio.NewWriter(w)
	for _, s := range samples {
		bw.WriteString(s.String())
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// Labels returns the distinct sample labels in first-seen order, leaving
// out the given reserved names.
func Labels(samples []*Sample, reserved ...string) []string {
	seen := make(map[string]bool)
	for _, r := range reserved {
		seen[r] = true
	}
	var out []string
	for _, s := range samples {
		if !seen[s.Label] {
			seen[s.Label] = true
			out = append(out, s.Label)
		}
	}
	return out
}

// Groups assigns every sample a dense group id in first-seen order.
// Samples sharing a source domain share a group; samples without a group
// are groups of their own.
func Groups(samples []*Sample) []int {
	groups := make([]int, len(samples))
	ids := make(map[string]int)
	next := 0
	for i, s := range samples {
		if s.Group == "" {
			groups[i] = next
			next++
			continue
		}
		key := Domain(s.Group)
		id, ok := ids[key]
		if !ok {
			id = next
			ids[key] = id
			next++
		}
		groups[i] = id
	}
	return groups
}

// Domain reduces a URL or host name to its registrable domain without the
// public suffix, so "https://news.example.co.uk/a" becomes "example".
// Other group names are returned unchanged.
func Domain(group string) string {
	host := group
	if idx := strings.Index(host, "://"); idx >= 0 {
		host = host[idx+3:]
	}
	if idx := strings.Index(host, "/"); idx >= 0 {
		host = host[:idx]
	}
	if idx := strings.Index(host, ":"); idx >= 0 {
		host = host[:idx]
	}
	if !strings.Contains(host, ".") {
		return host
	}

	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	if idx := strings.Index(domain, "."); idx >= 0 {
		return domain[:idx]
	}
	return domain
}
