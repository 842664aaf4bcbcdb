package feature

import (
	"bufio"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/happyhackingspace/disco/errkind"
)

// Factory builds an extractor from the arguments of a catalog line.
type Factory func(args []string, env *Env) (Extractor, error)

// Env carries what factories need to resolve their arguments.
type Env struct {
	Dir      string     // base directory for relative list paths
	Lists    *ListCache // shared list files; nil loads lists uncached
	Capacity int        // capacity of the resulting set
	Superset *Set       // when set, every extractor must also be in it
}

func (e *Env) list(path string, lower bool) (*List, error) {
	path = os.ExpandEnv(path)
	if !filepath.IsAbs(path) && e.Dir != "" {
		path = filepath.Join(e.Dir, path)
	}
	if e.Lists == nil {
		return readList(path, lower)
	}
	return e.Lists.Load(path, lower)
}

// Catalog maps extractor type names to factories.
type Catalog struct {
	factories map[string]Factory
}

// NewCatalog returns a catalog with the built-in extractor types.
func NewCatalog() *Catalog {
	c := &Catalog{factories: make(map[string]Factory)}
	registerBuiltins(c)
	return c
}

// Register adds or replaces the factory for a type name.
func (c *Catalog) Register(typ string, f Factory) {
	c.factories[typ] = f
}

// Types returns the registered type names in sorted order.
func (c *Catalog) Types() []string {
	return slices.Sorted(maps.Keys(c.factories))
}

// Read builds a Set from catalog text. Each line names an extractor type
// and its arguments. An optional first line holding a count bounds the
// number of entries. Blank lines and '#' comments are skipped.
func (c *Catalog) Read(r io.Reader, env Env) (*Set, error) {
	set := NewSet(env.Capacity)
	limit := -1
	first := true

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if first {
			first = false
			if n, err := strconv.Atoi(fields[0]); err == nil && len(fields) == 1 {
				limit = n
				continue
			}
		}
		if limit >= 0 && set.Len() == limit {
			return nil, fmt.Errorf("feature: catalog line %d: type count %d is too low: %w",
				lineNo, limit, errkind.ErrConfiguration)
		}
		f, ok := c.factories[fields[0]]
		if !ok {
			return nil, fmt.Errorf("feature: catalog line %d: unknown extractor type %q: %w",
				lineNo, fields[0], errkind.ErrConfiguration)
		}
		e, err := f(fields[1:], &env)
		if err != nil {
			return nil, fmt.Errorf("feature: catalog line %d: %w", lineNo, err)
		}
		if env.Superset != nil {
			if _, ok := env.Superset.Lookup(e.Name()); !ok {
				return nil, fmt.Errorf("feature: catalog line %d: %s is not in the superset: %w",
					lineNo, e.Name(), errkind.ErrConfiguration)
			}
		}
		if _, dup := set.Lookup(e.Name()); dup {
			return nil, fmt.Errorf("feature: catalog line %d: duplicate extractor %s: %w",
				lineNo, e.Name(), errkind.ErrConfiguration)
		}
		set.Add(e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("feature: read catalog: %w", err)
	}
	return set, nil
}

// Load reads a catalog file. Relative list paths resolve against the
// catalog's directory unless env.Dir is set.
func (c *Catalog) Load(path string, env Env) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("feature: catalog: %w: %w", errkind.ErrConfiguration, err)
	}
	defer f.Close()
	if env.Dir == "" {
		env.Dir = filepath.Dir(path)
	}
	set, err := c.Read(f, env)
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, path)
	}
	return set, nil
}
