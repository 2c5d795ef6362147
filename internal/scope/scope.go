// Package scope implements the scope and scope map of spec.md §3/§4.3
// (component C): a per-out-directory container of variables, rules, target
// types and load state, indexed by a prefix-searchable tree keyed by
// out-directory.
package scope

import (
	"sync"

	"github.com/b2build/b2/internal/operation"
	"github.com/b2build/b2/internal/rule"
	"github.com/b2build/b2/internal/variable"
	"github.com/b2build/b2/path"
)

// Extra is the root-only structure spec.md §3 describes: "per-project
// operation and meta-operation tables, target-type map, module map,
// buildfile naming variant, and an override cache". Non-root scopes leave
// this nil; callers resolve it via Scope.Root().Extra.
type Extra struct {
	MetaOps  *operation.Table
	Ops      *operation.Table
	// TargetTypes maps a registered target-type name to an opaque
	// descriptor owned by package target; stored as interface{} here to
	// avoid scope depending on target (target depends on scope).
	TargetTypes map[string]interface{}
	Modules     map[string]bool // modules already `using`d in this project
	// BuildfileVariant is "build" normally, "build2" when the alternate
	// buildfile naming convention (spec.md §4.1 "Loading order") is active.
	BuildfileVariant string
	Overrides        *variable.OverrideCache
}

// Scope is one per out-directory (spec.md §3 "Scope").
type Scope struct {
	id int

	OutDir path.Dir
	SrcDir path.Dir // optional; equal to OutDir for in-tree builds

	parent *Scope
	// root caches the nearest ancestor scope bootstrapped as a project
	// root (spec.md §4.3).
	root *Scope
	// strongAmalgamation caches the outermost ancestor root sharing this
	// scope's source subtree (spec.md §4.3 / GLOSSARY "Amalgamation").
	strongAmalgamation *Scope

	Vars        *variable.Map
	TypeVars    *variable.TypePatternMap
	Rules       *rule.Map
	MetaOpCB    map[operation.ID]operation.Callbacks
	OpCB        map[operation.ID]operation.Callbacks

	mu      sync.Mutex
	loaded  map[string]bool // buildfiles already sourced in this scope

	// Extra is non-nil only for root scopes.
	Extra *Extra
}

var idSeq struct {
	mu   sync.Mutex
	next int
}

func nextID() int {
	idSeq.mu.Lock()
	defer idSeq.mu.Unlock()
	idSeq.next++
	return idSeq.next
}

// New constructs a detached Scope for out with the given parent (nil for
// the global scope). Callers normally go through Map.Insert instead of
// calling New directly, so that the new scope is linked into the prefix
// tree.
func New(out path.Dir, parent *Scope) *Scope {
	s := &Scope{
		id:       nextID(),
		OutDir:   out,
		SrcDir:   out,
		parent:   parent,
		Vars:     variable.NewMap(),
		TypeVars: variable.NewTypePatternMap(),
		Rules:    rule.NewMap(),
		MetaOpCB: make(map[operation.ID]operation.Callbacks),
		OpCB:     make(map[operation.ID]operation.Callbacks),
		loaded:   make(map[string]bool),
	}
	if parent != nil {
		s.root = parent.root
		s.strongAmalgamation = parent.strongAmalgamation
	}
	return s
}

// ID returns a process-lifetime-unique identifier for s, used as part of
// the override-cache key (spec.md §4.2).
func (s *Scope) ID() int { return s.id }

// Parent returns s's parent scope, or nil for the global scope.
func (s *Scope) Parent() *Scope { return s.parent }

// Root returns the nearest ancestor scope marked as a project root, or s
// itself if s is a root (or the global scope, which is its own root).
func (s *Scope) Root() *Scope {
	if s.root != nil {
		return s.root
	}
	return s
}

// StrongAmalgamation returns the outermost ancestor root sharing s's source
// subtree.
func (s *Scope) StrongAmalgamation() *Scope {
	if s.strongAmalgamation != nil {
		return s.strongAmalgamation
	}
	return s.Root()
}

// MarkRoot marks s as a project root and gives it an Extra structure, set
// during bootstrap (spec.md §4.1 "bootstrap.build executes with boot flag
// set").
func (s *Scope) MarkRoot(variant string) {
	s.root = s
	s.strongAmalgamation = s
	s.Extra = &Extra{
		MetaOps:          operation.NewTable(),
		Ops:              operation.NewTable(),
		TargetTypes:      make(map[string]interface{}),
		Modules:          make(map[string]bool),
		BuildfileVariant: variant,
		Overrides:        variable.NewOverrideCache(),
	}
}

// MarkSourced records that buildfile path has been loaded into s, and
// reports whether it had already been loaded (spec.md §4.1: "Each file is
// sourced at most once per scope; re-sourcing is a silent no-op").
func (s *Scope) MarkSourced(path string) (alreadyLoaded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded[path] {
		return true
	}
	s.loaded[path] = true
	return false
}

// Walk calls fn for s and every ancestor up to and including the global
// scope, stopping early if fn returns false. This is the scope-chain
// traversal spec.md §4.2 describes for variable lookup.
func (s *Scope) Walk(fn func(*Scope) bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if !fn(cur) {
			return
		}
	}
}
