package feature

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var errSyntax = errors.New("feature: syntax error")

func needsQuote(tok string) bool {
	if tok == "" {
		return true
	}
	for _, r := range tok {
		switch r {
		case ' ', '\t', '\n', '\r', '(', ')', '"':
			return true
		}
		if r < 0x20 {
			return true
		}
	}
	return false
}

// WriteToken writes tok, quoting it when it would not read back as one atom.
func WriteToken(b *strings.Builder, tok string) {
	if needsQuote(tok) {
		b.WriteString(strconv.Quote(tok))
		return
	}
	b.WriteString(tok)
}

// WriteList writes "(tok tok ...)".
func WriteList(b *strings.Builder, toks ...string) {
	b.WriteByte('(')
	for i, t := range toks {
		if i > 0 {
			b.WriteByte(' ')
		}
		WriteToken(b, t)
	}
	b.WriteByte(')')
}

// Node is one parsed element: an atom or a parenthesized list.
type Node struct {
	Atom   string
	List   []Node
	IsList bool
}

// Atoms returns the atoms of a flat list node.
func (n Node) Atoms() ([]string, bool) {
	if !n.IsList {
		return nil, false
	}
	out := make([]string, 0, len(n.List))
	for _, c := range n.List {
		if c.IsList {
			return nil, false
		}
		out = append(out, c.Atom)
	}
	return out, true
}

// Parse reads every top-level node in s.
func Parse(s string) ([]Node, error) {
	p := parser{s: s}
	var out []Node
	for {
		p.skip()
		if p.pos >= len(p.s) {
			return out, nil
		}
		n, err := p.node()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
}

type parser struct {
	s   string
	pos int
}

func (p *parser) skip() {
	for p.pos < len(p.s) {
		switch p.s[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) node() (Node, error) {
	switch p.s[p.pos] {
	case '(':
		p.pos++
		list := Node{IsList: true}
		for {
			p.skip()
			if p.pos >= len(p.s) {
				return Node{}, fmt.Errorf("%w: unclosed list", errSyntax)
			}
			if p.s[p.pos] == ')' {
				p.pos++
				return list, nil
			}
			child, err := p.node()
			if err != nil {
				return Node{}, err
			}
			list.List = append(list.List, child)
		}
	case ')':
		return Node{}, fmt.Errorf("%w: unexpected ')' at %d", errSyntax, p.pos)
	case '"':
		q, err := strconv.QuotedPrefix(p.s[p.pos:])
		if err != nil {
			return Node{}, fmt.Errorf("%w: bad quoted token at %d", errSyntax, p.pos)
		}
		p.pos += len(q)
		atom, err := strconv.Unquote(q)
		if err != nil {
			return Node{}, fmt.Errorf("%w: bad quoted token at %d", errSyntax, p.pos)
		}
		return Node{Atom: atom}, nil
	default:
		start := p.pos
		for p.pos < len(p.s) {
			c := p.s[p.pos]
			if c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '(' || c == ')' || c == '"' {
				break
			}
			p.pos++
		}
		return Node{Atom: p.s[start:p.pos]}, nil
	}
}
