// Package textutil normalizes the text entries that word-list features match.
package textutil

import (
	"regexp"
	"strings"
)

var tokenizeRe = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// Tokenize extracts word tokens from text (Unicode-aware).
func Tokenize(text string) []string {
	return tokenizeRe.FindAllString(text, -1)
}

var (
	newlineRe    = regexp.MustCompile(`[\n\r]`)
	multiSpaceRe = regexp.MustCompile(`\s{2,}`)
)

// NormalizeWhitespaces replaces newlines and multiple whitespace with a single space.
func NormalizeWhitespaces(text string) string {
	text = newlineRe.ReplaceAllString(text, " ")
	return multiSpaceRe.ReplaceAllString(text, " ")
}

// Normalize lowercases text and normalizes whitespace.
func Normalize(text string) string {
	return NormalizeWhitespaces(strings.ToLower(text))
}

// Fold is Normalize without leading or trailing space. List entries and the
// token spans compared against them are both folded.
func Fold(text string) string {
	return strings.TrimSpace(Normalize(text))
}

// Span joins tokens[i:i+n] with single spaces, or returns "" when the span
// runs past the end.
func Span(tokens []string, i, n int) string {
	if i < 0 || n <= 0 || i+n > len(tokens) {
		return ""
	}
	return strings.Join(tokens[i:i+n], " ")
}
