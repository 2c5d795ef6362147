package scope

import (
	"strings"
	"sync"

	"github.com/b2build/b2/path"
)

// Map is the prefix-searchable structure of spec.md §3/§4.3: Find(d)
// returns the deepest existing scope whose out-directory is a prefix of d,
// and Insert creates intermediate empty scopes along the path as needed so
// that every ancestor of an inserted directory has a Scope node to hang
// variables/rules off.
type Map struct {
	mu     sync.RWMutex
	global *Scope
	// byDir indexes every scope ever created (inserted explicitly or as an
	// intermediate node), keyed by the raw (separator-free) directory
	// string.
	byDir map[string]*Scope
}

// NewMap constructs a Map whose sentinel global scope already exists at the
// empty path, satisfying the invariant of spec.md §8: "the global scope
// exists before any other."
func NewMap() *Map {
	g := New(path.NewDir(""), nil)
	return &Map{global: g, byDir: map[string]*Scope{"": g}}
}

// components returns the path segments of d, nil for the root.
func components(d path.Dir) []string {
	raw := d.Raw()
	if raw == "" {
		return nil
	}
	return strings.Split(raw, "/")
}

// insertLocked returns the scope for d, creating it (and any missing
// ancestors) under m.mu held for writing.
func (m *Map) insertLocked(d path.Dir) *Scope {
	if s, ok := m.byDir[d.Raw()]; ok {
		return s
	}
	parent := m.global
	if !d.IsRoot() {
		parent = m.insertLocked(d.Parent())
	}
	s := New(d, parent)
	m.byDir[d.Raw()] = s
	return s
}

// Insert returns the scope for out, creating it (and any missing ancestor
// scopes along the path) if it does not already exist. The created-flag
// mirrors target.Set.Insert's (reference, created) pairing for symmetry.
func (m *Map) Insert(out path.Dir) (s *Scope, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byDir[out.Raw()]; ok {
		return s, false
	}
	return m.insertLocked(out), true
}

// Find returns the deepest existing scope whose out-directory is a prefix
// of d (spec.md §3: "find(d) returns the deepest scope whose out-directory
// is a prefix of d"). It never creates scopes; it walks up from d's exact
// directory towards the root until it finds one that was actually
// inserted.
func (m *Map) Find(d path.Dir) *Scope {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cur := d
	for {
		if s, ok := m.byDir[cur.Raw()]; ok {
			return s
		}
		if cur.IsRoot() {
			return m.global
		}
		cur = cur.Parent()
	}
}

// Global returns the sentinel global scope.
func (m *Map) Global() *Scope { return m.global }
