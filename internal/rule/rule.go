// Package rule implements the rule map and the match/apply protocol of
// spec.md §4.5 (component H). It does not depend on target or scope, so
// that target (which stores an assigned Rule/Recipe
// in its state pad) can import rule without creating an import cycle; rule
// instead names a Target interface wide enough for a *target.Target to
// satisfy it structurally.
package rule

import (
	"context"
	"fmt"
	"sync"

	"github.com/b2build/b2/internal/operation"
	"github.com/b2build/b2/internal/tstate"
	"github.com/b2build/b2/internal/variable"
	"github.com/b2build/b2/name"
	"github.com/b2build/b2/path"
)

// Prerequisite mirrors spec.md §3 "Prerequisite": an unresolved reference
// plus prerequisite-scope-local variables.
type Prerequisite struct {
	Type    string
	Dir     path.Dir
	Name    name.Name
	Ext     string
	Project string
	Vars    *variable.Map
}

// Target is the minimal surface a rule needs from a build target, kept
// independent of package target to avoid an import cycle (target imports
// rule, not the other way around).
type Target interface {
	TypeName() string
	OutDir() path.Dir
	SrcDir() path.Dir
	TargetName() string
	TargetExt() string
	Prerequisites() []Prerequisite
	Vars() *variable.Map
	// Bind sets a dynamically-discovered output path/name for targets whose
	// identity is only known once a rule's match() has inspected variables
	// (spec.md §4.5 "may dynamically bind a path").
	Bind(name string, ext string)
	// Lookup resolves v via the full spec.md §4.2 variable-lookup algorithm
	// (the target's own map, then type/pattern and plain scope maps from
	// its base scope upward, with overrides applied) — used by rules that
	// need an "effective" variable such as install.<name> assigned via a
	// type/pattern rule rather than directly on the target.
	Lookup(v *variable.Variable) variable.Value
}

// Recipe is the function executed once a rule has matched and applied to a
// target for a given action.
type Recipe func(ctx context.Context, a operation.Action, t Target) (tstate.State, error)

// Rule is the match/apply contract of spec.md §4.5.
type Rule interface {
	Name() string
	// Match reports whether this rule can handle the given action on t. It
	// may consult t's prerequisites and metadata and may call t.Bind.
	Match(ctx context.Context, a operation.Action, t Target) (bool, error)
	// Apply resolves t's prerequisite-targets list (via the caller-supplied
	// search function) and returns the Recipe to run at execute.
	Apply(ctx context.Context, a operation.Action, t Target, search Searcher) (Recipe, error)
}

// Searcher resolves a Prerequisite to a concrete Target, i.e. algo.Search,
// threaded in rather than imported to keep rule decoupled from algo/scope.
type Searcher func(ctx context.Context, p Prerequisite) (Target, error)

// Key indexes the rule map, per spec.md §4.5: "(meta-operation, operation,
// target-type, hint)".
type Key struct {
	Meta   operation.ID
	Op     operation.ID
	Type   string
	Hint   string
}

// Map is a scope's rule map. Immutable after load (spec.md §5 "Shared
// resource policy"): every Register call must happen during the load
// phase, and Candidates is safe for concurrent use thereafter
// provided no further Register calls race with it. Map enforces this with
// a frozen flag rather than trusting callers.
type Map struct {
	mu     sync.Mutex
	frozen bool
	rules  map[Key][]Rule
}

// NewMap constructs an empty rule Map.
func NewMap() *Map {
	return &Map{rules: make(map[Key][]Rule)}
}

// Register adds r under key. Later registrations are tried first by
// Candidates, matching typical buildfile override-the-default-rule usage
// (a project's own root.build registering a rule after an imported module
// has already registered a default one for the same key).
func (m *Map) Register(key Key, r Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frozen {
		return fmt.Errorf("rule map frozen: cannot register %q for %+v after load", r.Name(), key)
	}
	m.rules[key] = append([]Rule{r}, m.rules[key]...)
	return nil
}

// Freeze marks the rule map read-only, called at the load/match phase
// transition.
func (m *Map) Freeze() {
	m.mu.Lock()
	m.frozen = true
	m.mu.Unlock()
}

// Candidates returns the registered rules for key, most-recently-registered
// first.
func (m *Map) Candidates(key Key) []Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rules[key]
}
