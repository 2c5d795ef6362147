package target

import (
	"github.com/b2build/b2/internal/scope"
	"github.com/b2build/b2/internal/variable"
)

// Lookup implements the variable lookup algorithm of spec.md §4.2: walk the
// target's own map, then each scope's target-type/pattern-specific map and
// plain variable map from t's base scope up to the global scope, then
// apply overrides whose visibility encompasses the lookup scope.
func Lookup(t *Target, v *variable.Variable) variable.Value {
	base, vis, found := rawLookup(t, v)
	if !found {
		base = variable.Nil
	}
	key := variable.OverrideCacheKey{ScopeID: t.BaseScope.Root().ID(), Variable: v, Visibility: vis}
	oc := t.BaseScope.Root().Extra.Overrides
	if oc == nil {
		return v.Apply(base, vis)
	}
	return oc.Apply(key, v, base)
}

// rawLookup performs steps 1-3 of spec.md §4.2 without applying overrides,
// returning the most-specific visibility level the value was found at (used
// only to bound which override shadows apply).
func rawLookup(t *Target, v *variable.Variable) (val variable.Value, vis variable.Visibility, found bool) {
	// 1. target's own map.
	if val, ok := t.vars.Get(v); ok {
		return val, variable.VisTarget, true
	}

	// 2 & 3. each scope from base upward: type/pattern map, then plain map.
	var result variable.Value
	var ok bool
	t.BaseScope.Walk(func(s *scope.Scope) bool {
		if val, hit := s.TypeVars.Lookup(v, t.Type.Name, t.Nm); hit {
			result, ok = val, true
			return false
		}
		if val, hit := s.Vars.Get(v); hit {
			result, ok = val, true
			return false
		}
		return true
	})
	if ok {
		return result, variable.VisScope, true
	}
	return variable.Nil, variable.VisGlobal, false
}

// LookupScope resolves v starting from a scope (rather than a target),
// walking the scope chain to the global scope (spec.md §4.2 steps 3-4). Used
// for buildfile-level (non-target) variable expansion.
func LookupScope(s *scope.Scope, v *variable.Variable) variable.Value {
	var result variable.Value
	found := false
	s.Walk(func(cur *scope.Scope) bool {
		if val, ok := cur.Vars.Get(v); ok {
			result, found = val, true
			return false
		}
		return true
	})
	if !found {
		result = variable.Nil
	}
	root := s.Root()
	if root.Extra == nil || root.Extra.Overrides == nil {
		return v.Apply(result, variable.VisScope)
	}
	key := variable.OverrideCacheKey{ScopeID: root.ID(), Variable: v, Visibility: variable.VisScope}
	return root.Extra.Overrides.Apply(key, v, result)
}
