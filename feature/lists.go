package feature

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/happyhackingspace/disco/errkind"
	"github.com/happyhackingspace/disco/internal/textutil"
)

// DefaultListCacheSize is the number of list files kept in memory.
const DefaultListCacheSize = 64

// List is a set of entries read from an auxiliary list file.
type List struct {
	Path    string
	entries map[string]struct{}
}

// Contains reports whether s is an entry of the list.
func (l *List) Contains(s string) bool {
	_, ok := l.entries[s]
	return ok
}

// Len returns the number of entries.
func (l *List) Len() int {
	return len(l.entries)
}

// ListCache shares loaded list files between catalogs.
type ListCache struct {
	cache *lru.Cache[string, *List]
}

// NewListCache creates a cache holding at most size lists.
func NewListCache(size int) (*ListCache, error) {
	if size <= 0 {
		size = DefaultListCacheSize
	}
	c, err := lru.New[string, *List](size)
	if err != nil {
		return nil, fmt.Errorf("feature: list cache: %w", err)
	}
	return &ListCache{cache: c}, nil
}

// Load returns the list stored at path, reading it on first use. With
// lower set, entries are normalized the way lowercase matching expects.
func (c *ListCache) Load(path string, lower bool) (*List, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("feature: list %s: %w", path, err)
	}
	key := abs
	if lower {
		key = "lc:" + abs
	}
	if l, ok := c.cache.Get(key); ok {
		return l, nil
	}
	l, err := readList(abs, lower)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, l)
	return l, nil
}

// Len returns the number of cached lists.
func (c *ListCache) Len() int {
	return c.cache.Len()
}

func readList(path string, lower bool) (*List, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("feature: list: %w: %w", errkind.ErrConfiguration, err)
	}
	defer f.Close()

	l := &List{Path: path, entries: make(map[string]struct{})}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if lower {
			line = textutil.Fold(line)
		} else {
			line = textutil.NormalizeWhitespaces(line)
		}
		l.entries[line] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("feature: list %s: %w", path, err)
	}
	return l, nil
}
