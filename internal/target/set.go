package target

import (
	"sync"

	"github.com/b2build/b2/internal/scope"
	"github.com/b2build/b2/path"
)

// Key is the interning key of spec.md §4.4: "(type, dir, out, name, ext)".
type Key struct {
	Type string
	Out  string
	Src  string
	Name string
	Ext  string
}

func keyOf(typ string, out, src path.Dir, nm, ext string) Key {
	return Key{Type: typ, Out: out.Raw(), Src: src.Raw(), Name: nm, Ext: ext}
}

// Set is the process-wide interned target set: grow-only during a build,
// safe for concurrent insert, and never invalidates outstanding
// references (spec.md §4.4).
type Set struct {
	mu      sync.RWMutex
	targets map[Key]*Target
}

// NewSet constructs an empty Set.
func NewSet() *Set {
	return &Set{targets: make(map[Key]*Target)}
}

// Insert returns the target for the given key, creating it via newFn if it
// does not already exist. Concurrent inserts of the same key return the
// same *Target instance (spec.md §4.4: "concurrent inserts of the same key
// return the same target").
func (s *Set) Insert(typ *Type, out, src path.Dir, nm, ext string, base *scope.Scope, decl DeclKind) (t *Target, created bool) {
	k := keyOf(typ.Name, out, src, nm, ext)

	s.mu.RLock()
	if t, ok := s.targets[k]; ok {
		s.mu.RUnlock()
		return t, false
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.targets[k]; ok {
		return t, false
	}
	t = New(typ, out, src, nm, ext, base, decl)
	s.targets[k] = t
	return t, true
}

// Lookup returns the target for the given key without creating it.
func (s *Set) Lookup(typ string, out, src path.Dir, nm, ext string) (*Target, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.targets[keyOf(typ, out, src, nm, ext)]
	return t, ok
}

// All returns a snapshot slice of every target currently in the set, used
// by operations (e.g. clean) that need to enumerate without a specific
// buildspec target list.
func (s *Set) All() []*Target {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*Target, 0, len(s.targets))
	for _, t := range s.targets {
		all = append(all, t)
	}
	return all
}

// Len reports how many targets are currently interned.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.targets)
}
