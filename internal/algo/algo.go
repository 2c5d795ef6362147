package algo

import (
	"context"
	"fmt"

	"github.com/b2build/b2/internal/diag"
	"github.com/b2build/b2/internal/operation"
	"github.com/b2build/b2/internal/rule"
	"github.com/b2build/b2/internal/scope"
	"github.com/b2build/b2/internal/sched"
	"github.com/b2build/b2/internal/target"
	"github.com/b2build/b2/internal/tstate"
	"github.com/b2build/b2/name"
	"github.com/b2build/b2/path"
)

func nameFor(t *target.Target) name.Name {
	return name.Name{Dir: t.OutDir(), Value: t.TargetName(), Ext: t.TargetExt()}
}

// Engine bundles the process-wide context the algorithm layer needs:
// scopes, the interned target set, the registered target types, and the
// per-run scheduler. It is the "single context object threaded through
// every API" the design notes in spec.md §9 call for, replacing mutable
// globals.
type Engine struct {
	Scopes  *scope.Map
	Targets *target.Set
	Types   map[string]*target.Type
	Sched   *sched.Scheduler
}

// NewEngine constructs an Engine over freshly created Scopes/Targets maps
// and the given scheduler.
func NewEngine(sc *sched.Scheduler) *Engine {
	return &Engine{
		Scopes:  scope.NewMap(),
		Targets: target.NewSet(),
		Types:   make(map[string]*target.Type),
		Sched:   sc,
	}
}

// InsertScope returns (creating if necessary) the scope for out, satisfying
// lang.Engine so the parser can open nested directory-scope blocks without
// importing package algo.
func (e *Engine) InsertScope(out path.Dir) *scope.Scope {
	s, _ := e.Scopes.Insert(out)
	return s
}

// FindScope returns the deepest existing scope whose out-directory is a
// prefix of d, satisfying lang.Engine.
func (e *Engine) FindScope(d path.Dir) *scope.Scope {
	return e.Scopes.Find(d)
}

// ResolveType resolves the target type for a parsed name: its explicit type
// tag if it has one, else the first registered type whose Pattern function
// recognizes it (spec.md §3 "Target type" pattern-based recognition),
// satisfying lang.Engine.
func (e *Engine) ResolveType(n name.Name) (*target.Type, bool) {
	if n.Type != "" {
		t, ok := e.Types[n.Type]
		return t, ok
	}
	for _, t := range e.Types {
		if t.Pattern != nil && t.Pattern(n) {
			return t, true
		}
	}
	return nil, false
}

// InsertTarget interns a target, satisfying lang.Engine.
func (e *Engine) InsertTarget(typ *target.Type, out, src path.Dir, nm, ext string, base *scope.Scope, decl target.DeclKind) (*target.Target, bool) {
	return e.Targets.Insert(typ, out, src, nm, ext, base, decl)
}

// Search resolves a prerequisite to a concrete target, applying the
// target-type's search policy (spec.md §4.6 "search"): default extension
// substitution, and falling back to the prerequisite's own directory when
// no more specific scope claims it.
func (e *Engine) Search(ctx context.Context, p rule.Prerequisite) (rule.Target, error) {
	typ, ok := e.Types[p.Type]
	if !ok {
		return nil, diag.Errorf(diag.Lookup, diag.Location{}, "unknown target type %q", p.Type)
	}

	ext := p.Ext
	if ext == "" && typ.DefaultExt != "" {
		ext = typ.DefaultExt
	}

	dir := p.Dir
	s := e.Scopes.Find(dir)

	nm := p.Name.Value
	if t, ok := e.Targets.Lookup(typ.Name, dir, dir, nm, ext); ok {
		return t, nil
	}
	// Not found as a `real`/previously-declared target: implicitly create
	// one, matching spec.md §3 "Target"'s `implied` declaration kind (a
	// prerequisite with no matching explicit declaration is implied into
	// existence rather than being an error, unless its recipe search later
	// fails to find a rule).
	t, _ := e.Targets.Insert(typ, dir, dir, nm, ext, s, target.Implied)
	return t, nil
}

// ruleKeyFor builds the rule-map key for t under action a. Hint is left
// empty for the common case; rules registered with a specific hint (e.g. a
// pattern target-type variant) are consulted by Match via HintsFor.
func ruleKeyFor(a operation.Action, t rule.Target, hint string) rule.Key {
	return rule.Key{Meta: a.Meta, Op: a.Inner, Type: t.TypeName(), Hint: hint}
}

// HintsFor returns the hints to try, most specific first, for a target. The
// empty hint is always tried last as the default.
func HintsFor(t rule.Target) []string {
	return []string{t.TargetName(), ""}
}

// Match walks the rule map for t's type (searched from t's base scope
// upward, innermost/most-recently-loaded first) with the given action,
// invoking each candidate rule's Match until one returns true, then calls
// its Apply (spec.md §4.6 "match").
func (e *Engine) Match(ctx context.Context, a operation.Action, t *target.Target) (rule.Recipe, error) {
	for cur := t.BaseScope; cur != nil; cur = cur.Parent() {
		for _, hint := range HintsFor(t) {
			for _, r := range cur.Rules.Candidates(ruleKeyFor(a, t, hint)) {
				ok, err := r.Match(ctx, a, t)
				if err != nil {
					return nil, diag.Errorf(diag.Rule, diag.Location{}, "rule %s: match: %w", r.Name(), err)
				}
				if !ok {
					continue
				}
				t.SetRule(a, r)
				recipe, err := r.Apply(ctx, a, t, e.Search)
				if err != nil {
					return nil, diag.Errorf(diag.Rule, diag.Location{}, "rule %s: apply: %w", r.Name(), err)
				}
				t.SetRecipe(a, recipe)
				return recipe, nil
			}
		}
	}
	if t.Decl == target.Implied {
		// An implied target with no matching rule simply has nothing to
		// do; per spec.md §3, only `real`/`ad hoc` targets require a
		// recipe.
		return nil, nil
	}
	return nil, diag.Errorf(diag.Rule, diag.Location{}, "no rule to make target %s{%s}%s", t.TypeName(), t.OutDir(), t.TargetName())
}

// MatchApply runs Match and transitions t's pad
// untouched->touched->matched->applied on success, or ->failed on error.
func (e *Engine) MatchApply(ctx context.Context, a operation.Action, t *target.Target) error {
	if !t.TryAdvance(a, tstate.Untouched, tstate.Touched) {
		// Another task already advanced this pad (or it's already past
		// Touched); either way, there is nothing more for us to do here.
		return nil
	}
	recipe, err := e.Match(ctx, a, t)
	if err != nil {
		t.SetTerminal(a, tstate.Failed)
		return err
	}
	t.SetRecipe(a, recipe)
	t.TryAdvance(a, tstate.Touched, tstate.Matched)
	t.TryAdvance(a, tstate.Matched, tstate.Applied)
	return nil
}

// Execute transitions t through applied->busy->terminal for action a,
// observing the operation's execution mode: "first" operations run
// prerequisites before the dependent, "last" operations (e.g. clean) run
// the dependent before its prerequisites (spec.md §4.5 "Execution mode").
func (e *Engine) Execute(ctx context.Context, a operation.Action, t *target.Target, mode operation.Mode) (tstate.State, error) {
	if s := t.State(a); s.Terminal() {
		return s, nil
	}
	if err := e.MatchApply(ctx, a, t); err != nil {
		return tstate.Failed, err
	}
	if t.State(a) == tstate.Failed {
		return tstate.Failed, fmt.Errorf("target %s{%s}%s: match failed", t.TypeName(), t.OutDir(), t.TargetName())
	}

	prereqs, err := e.resolvePrereqs(ctx, t)
	if err != nil {
		t.SetTerminal(a, tstate.Failed)
		return tstate.Failed, err
	}
	t.SetResolvedPrereqs(a, prereqs)

	runPrereqs := func() error { return e.executeAll(ctx, a, prereqs, mode) }

	if mode == operation.First {
		if err := runPrereqs(); err != nil {
			t.SetTerminal(a, tstate.Failed)
			return tstate.Failed, err
		}
	}

	if !t.TryAdvance(a, tstate.Applied, tstate.Busy) {
		return t.State(a), nil
	}

	recipe := t.Recipe(a)
	var st tstate.State
	if recipe == nil {
		st = tstate.Unchanged
	} else {
		st, err = recipe(ctx, a, t)
		if err != nil {
			st = tstate.Failed
		}
	}
	t.SetTerminal(a, st)

	if mode == operation.Last {
		if perr := runPrereqs(); perr != nil && err == nil {
			err = perr
			t.SetTerminal(a, tstate.Failed)
			st = tstate.Failed
		}
	}
	return st, err
}

func (e *Engine) resolvePrereqs(ctx context.Context, t *target.Target) ([]*target.Target, error) {
	decls := t.Prerequisites()
	out := make([]*target.Target, 0, len(decls))
	for _, d := range decls {
		rt, err := e.Search(ctx, d)
		if err != nil {
			return nil, err
		}
		pt, ok := rt.(*target.Target)
		if !ok {
			return nil, fmt.Errorf("search returned non-*target.Target for %v", d)
		}
		pt.AddDependent(operation.Action{})
		out = append(out, pt)
	}
	return out, nil
}

// executeAll executes every prerequisite target concurrently through the
// scheduler, returning the first error any of them returned (nil if all
// succeeded).
func (e *Engine) executeAll(ctx context.Context, a operation.Action, ts []*target.Target, mode operation.Mode) error {
	g := e.Sched.NewGroup(ctx)
	for _, pt := range ts {
		pt := pt
		g.Go(func(ctx context.Context) error {
			_, err := e.Execute(ctx, a, pt, mode)
			return err
		})
	}
	return g.Wait()
}

// ExecutePrerequisites implements spec.md §4.6 "execute_prerequisites":
// execute every prerequisite of t, then report whether anything produced
// is newer than mt, and a representative member-prerequisite of the
// dependent's own type (used by e.g. a group rule to pick a stand-in for
// mtime comparison).
func (e *Engine) ExecutePrerequisites(ctx context.Context, a operation.Action, t *target.Target, mt path.Timestamp, mode operation.Mode) (unchanged bool, member *target.Target, err error) {
	prereqs, err := e.resolvePrereqs(ctx, t)
	if err != nil {
		return false, nil, err
	}
	t.SetResolvedPrereqs(a, prereqs)
	if err := e.executeAll(ctx, a, prereqs, mode); err != nil {
		return false, nil, err
	}
	unchanged = true
	for _, p := range prereqs {
		if p.State(a) == tstate.Changed {
			unchanged = false
		} else if ts := path.Stat(path.NewFileIn(p.OutDir(), p.TargetName()+extSuffix(p.TargetExt()))); path.Newer(ts, mt) {
			unchanged = false
		}
		if member == nil && p.TypeName() == t.TypeName() {
			member = p
		}
	}
	return unchanged, member, nil
}

// InjectFsdir injects an implicit fsdir{} prerequisite for t's output
// directory (spec.md §4.6 "inject_fsdir"), so the directory is created (for
// update) or removed when empty (for clean) as a side effect of building or
// cleaning t.
func (e *Engine) InjectFsdir(t *target.Target) {
	fsdirType, ok := e.Types["fsdir"]
	if !ok {
		return
	}
	dir := t.OutDir()
	ft, _ := e.Targets.Insert(fsdirType, dir, dir, dir.Raw(), "", t.BaseScope, target.Implied)
	decls := append(append([]rule.Prerequisite(nil), t.Prerequisites()...), rule.Prerequisite{
		Type: "fsdir",
		Dir:  dir,
		Name: nameFor(ft),
	})
	t.SetPrerequisites(decls)
}
