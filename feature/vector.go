package feature

import (
	"fmt"
	"strings"
)

// FormatVector renders a labelled feature vector as
// "LABEL (type args...) (type args...)". Feature labels are not written.
func FormatVector(label string, fs []Feature) string {
	var b strings.Builder
	WriteToken(&b, label)
	for _, f := range fs {
		b.WriteByte(' ')
		WriteList(&b, append([]string{f.Type}, f.Arguments()...)...)
	}
	return b.String()
}

// ParseVector is the inverse of FormatVector. The returned features have
// an empty Label.
func ParseVector(line string) (string, []Feature, error) {
	nodes, err := Parse(line)
	if err != nil {
		return "", nil, err
	}
	if len(nodes) == 0 || nodes[0].IsList {
		return "", nil, fmt.Errorf("%w: vector line must start with a label", errSyntax)
	}
	fs := make([]Feature, 0, len(nodes)-1)
	for _, n := range nodes[1:] {
		toks, ok := n.Atoms()
		if !ok || len(toks) == 0 {
			return "", nil, fmt.Errorf("%w: bad feature in vector line", errSyntax)
		}
		fs = append(fs, New(toks[0], "", toks[1:]...))
	}
	return nodes[0].Atom, fs, nil
}
