package tagset

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/happyhackingspace/disco/errkind"
)

// Read parses a vocabulary and builds a registry from it.
//
// The vocabulary is either a count n followed by n whitespace separated
// labels, or one label per line. Blank lines and lines starting with '#'
// are ignored.
func Read(rd io.Reader, opts Options) (*Registry, error) {
	var tokens []string
	sc := bufio.NewScanner(rd)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tokens = append(tokens, strings.Fields(line)...)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("tagset: read vocabulary: %w", err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("tagset: empty vocabulary: %w", errkind.ErrConfiguration)
	}

	if n, err := strconv.Atoi(tokens[0]); err == nil {
		tokens = tokens[1:]
		if n != len(tokens) {
			return nil, fmt.Errorf("tagset: vocabulary declares %d labels but lists %d: %w",
				n, len(tokens), errkind.ErrConfiguration)
		}
	}
	return New(tokens, opts)
}

// Load reads a vocabulary file.
func Load(path string, opts Options) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tagset: %w: %w", errkind.ErrConfiguration, err)
	}
	defer f.Close()
	r, err := Read(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, path)
	}
	return r, nil
}

// Write writes the base vocabulary in the counted form Read accepts.
func (r *Registry) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, len(r.reduced))
	for _, l := range r.reduced {
		fmt.Fprintln(bw, l)
	}
	return bw.Flush()
}
