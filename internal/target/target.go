// Package target implements the target model of spec.md §3/§4.4
// (component D): target types, the interned target set, and the per-action
// state pad.
package target

import (
	"sync"
	"sync/atomic"

	"github.com/b2build/b2/internal/operation"
	"github.com/b2build/b2/internal/rule"
	"github.com/b2build/b2/internal/scope"
	"github.com/b2build/b2/internal/tstate"
	"github.com/b2build/b2/internal/variable"
	"github.com/b2build/b2/name"
	"github.com/b2build/b2/path"
)

// DeclKind is a target's declaration kind (spec.md §3 "Target"): it governs
// whether the absence of a matching rule is an error.
type DeclKind int

const (
	Implied DeclKind = iota
	PrerequisiteDecl
	Real
	AdHoc
)

// Type is an open, extensible target-type descriptor (spec.md §3 "Target
// type"). Types are registered once per project and looked up by name.
type Type struct {
	Name string
	// Base is the parent type in the (shallow) type hierarchy that
	// IsOrDerivesFrom walks. Variable lookup (rawLookup) matches
	// type/pattern entries on the exact type name only and does not
	// consult Base.
	Base *Type
	// DefaultExt is substituted for a prerequisite of this type whose
	// extension was omitted (spec.md §8 "Boundary behaviour").
	DefaultExt string
	// Pattern, if non-nil, is used by the search algorithm to recognize a
	// name as belonging to this type even without an explicit type prefix.
	Pattern func(n name.Name) bool
}

// IsOrDerivesFrom reports whether t is tt or a descendant of tt in the type
// hierarchy.
func (t *Type) IsOrDerivesFrom(tt *Type) bool {
	for cur := t; cur != nil; cur = cur.Base {
		if cur == tt {
			return true
		}
	}
	return false
}

// actionPad is the per-action (inner/outer) state pad of spec.md §3
// "Target": the assigned rule, recipe, prerequisite-targets set, dependents
// counter, state, task count, and a small typed data slot a rule may stash
// match→apply→execute state in.
type actionPad struct {
	mu sync.Mutex

	state      tstate.State
	taskCount  int64 // CAS counter providing the scheduler happens-before edge
	rule       rule.Rule
	recipe     rule.Recipe
	prereqs    []*Target // resolved prerequisite targets, stable once Applied
	dependents int32
	data       interface{} // rule-private match→apply→execute scratch space
}

// Target is a node in the build graph (spec.md §3 "Target"), keyed by
// (type, out_dir, [src_dir], name, [extension]).
type Target struct {
	Type *Type
	Out  path.Dir
	Src  path.Dir // optional, defaults to Out for in-tree builds
	Nm   string
	Ext  string

	BaseScope *scope.Scope
	Decl      DeclKind

	vars *variable.Map

	// prereqDecls is the structural (non-variable) list of unresolved
	// prerequisites declared for t; installed by the parser.
	prereqDecls []rule.Prerequisite

	// inner/outer action pads, per spec.md §3 "two entries".
	inner actionPad
	outer actionPad

	// members is the linked list of secondary targets of an ad hoc group
	// (spec.md §3 "Target"); groupPrimary is set on a secondary member to
	// point back at its primary. explicitMembers holds an explicit group's
	// members, discovered during match rather than declared ad hoc.
	mu              sync.Mutex
	members         []*Target
	groupPrimary    *Target
	explicitMembers []*Target
}

// New constructs a Target. Callers normally go through Set.Insert instead,
// so the target is interned.
func New(typ *Type, out, src path.Dir, nm, ext string, base *scope.Scope, decl DeclKind) *Target {
	if src.Raw() == "" {
		src = out
	}
	return &Target{
		Type:      typ,
		Out:       out,
		Src:       src,
		Nm:        nm,
		Ext:       ext,
		BaseScope: base,
		Decl:      decl,
		vars:      variable.NewMap(),
	}
}

// TypeName, OutDir, SrcDir, TargetName, TargetExt, Vars implement
// rule.Target.
func (t *Target) TypeName() string    { return t.Type.Name }
func (t *Target) OutDir() path.Dir    { return t.Out }
func (t *Target) SrcDir() path.Dir    { return t.Src }
func (t *Target) TargetName() string  { return t.Nm }
func (t *Target) TargetExt() string   { return t.Ext }
func (t *Target) Vars() *variable.Map { return t.vars }

// Bind implements rule.Target: it lets a rule's match() dynamically bind
// this target's name/extension once it has inspected variables (spec.md
// §4.5: "may dynamically bind a path").
func (t *Target) Bind(nm string, ext string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if nm != "" {
		t.Nm = nm
	}
	if ext != "" {
		t.Ext = ext
	}
}

// Prerequisites implements rule.Target.
func (t *Target) Prerequisites() []rule.Prerequisite { return t.prereqDecls }

// Lookup implements rule.Target by delegating to the package-level Lookup
// algorithm.
func (t *Target) Lookup(v *variable.Variable) variable.Value { return Lookup(t, v) }

// SetPrerequisites installs t's declared prerequisite list (called by the
// parser while building the dependency graph).
func (t *Target) SetPrerequisites(p []rule.Prerequisite) { t.prereqDecls = p }

// AddMember appends m as a secondary member of t's ad hoc group.
func (t *Target) AddMember(m *Target) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.members = append(t.members, m)
	m.groupPrimary = t
}

// Members returns t's ad hoc group secondary members, if any.
func (t *Target) Members() []*Target {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Target(nil), t.members...)
}

// GroupPrimary returns the primary target of t's ad hoc group, or nil if t
// is not a secondary member.
func (t *Target) GroupPrimary() *Target { return t.groupPrimary }

// SetExplicitMembers records the members an explicit group rule discovered
// during match (spec.md §3 "explicit groups").
func (t *Target) SetExplicitMembers(m []*Target) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.explicitMembers = m
}

// ExplicitMembers returns the members set by SetExplicitMembers.
func (t *Target) ExplicitMembers() []*Target {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Target(nil), t.explicitMembers...)
}

// pad returns the action pad (inner or outer) for the given action.
func (t *Target) pad(a operation.Action) *actionPad {
	if a.InnerOnly() {
		return &t.inner
	}
	return &t.outer
}

// State returns the current state of t's pad for action a.
func (t *Target) State(a operation.Action) tstate.State {
	p := t.pad(a)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// TryAdvance attempts a compare-and-swap of t's pad for a from "from" to
// "to", returning whether it succeeded. This is the CAS described in
// spec.md §4.5 ("Each step is guarded by a compare-and-swap on the task
// count so that concurrent requesters cooperate").
func (t *Target) TryAdvance(a operation.Action, from, to tstate.State) bool {
	p := t.pad(a)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != from {
		return false
	}
	p.state = to
	atomic.AddInt64(&p.taskCount, 1)
	return true
}

// SetTerminal sets t's pad state for a to a terminal state
// (unchanged/changed/failed/postponed), publishing it with the same
// happens-before edge TryAdvance provides.
func (t *Target) SetTerminal(a operation.Action, s tstate.State) {
	p := t.pad(a)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
	atomic.AddInt64(&p.taskCount, 1)
}

// TaskCount returns the pad's monotonically increasing task counter, the
// happens-before edge of spec.md §5.
func (t *Target) TaskCount(a operation.Action) int64 {
	p := t.pad(a)
	return atomic.LoadInt64(&p.taskCount)
}

func (t *Target) SetRule(a operation.Action, r rule.Rule) {
	p := t.pad(a)
	p.mu.Lock()
	p.rule = r
	p.mu.Unlock()
}

func (t *Target) Rule(a operation.Action) rule.Rule {
	p := t.pad(a)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rule
}

func (t *Target) SetRecipe(a operation.Action, r rule.Recipe) {
	p := t.pad(a)
	p.mu.Lock()
	p.recipe = r
	p.mu.Unlock()
}

func (t *Target) Recipe(a operation.Action) rule.Recipe {
	p := t.pad(a)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recipe
}

func (t *Target) SetResolvedPrereqs(a operation.Action, ts []*Target) {
	p := t.pad(a)
	p.mu.Lock()
	p.prereqs = ts
	p.mu.Unlock()
}

func (t *Target) ResolvedPrereqs(a operation.Action) []*Target {
	p := t.pad(a)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prereqs
}

func (t *Target) SetData(a operation.Action, d interface{}) {
	p := t.pad(a)
	p.mu.Lock()
	p.data = d
	p.mu.Unlock()
}

func (t *Target) Data(a operation.Action) interface{} {
	p := t.pad(a)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data
}

// AddDependent increments t's dependents counter for a.
func (t *Target) AddDependent(a operation.Action) int32 {
	p := t.pad(a)
	return atomic.AddInt32(&p.dependents, 1)
}

// Dependents returns t's current dependents counter for a.
func (t *Target) Dependents(a operation.Action) int32 {
	p := t.pad(a)
	return atomic.LoadInt32(&p.dependents)
}
