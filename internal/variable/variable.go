package variable

import "sync"

// Visibility bounds how far an override of a variable is allowed to reach,
// per spec.md §3 "Variable".
type Visibility int

const (
	VisGlobal Visibility = iota
	VisProject
	VisScope
	VisTarget
	VisPrerequisite
)

// Variable is the immutable metadata record for a named variable: its type
// tag (if any, for type-checked assignment), its declared override
// visibility, and the chain of override shadows layered on top of it.
type Variable struct {
	Name       string
	TypeTag    Kind
	Visibility Visibility

	mu      sync.RWMutex
	shadows []*Override
}

// Override is one override shadow: "x = v" / "x += v" / "x =+ v" applied at
// a given visibility.
type Override struct {
	Visibility Visibility
	Op         OverrideOp
	Value      Value
}

// OverrideOp is the override composition operator.
type OverrideOp int

const (
	OpReplace OverrideOp = iota
	OpAppend
	OpPrepend
)

// AddOverride appends an override shadow to v. Overrides are applied in
// registration order by Apply.
func (v *Variable) AddOverride(o *Override) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.shadows = append(v.shadows, o)
}

// Apply folds in every override shadow whose visibility encompasses scope,
// producing the effective value. Applying the same set of overrides twice
// to the same base value yields the same result (spec.md §8 idempotence
// invariant), since Apply never mutates base or any Override in place.
func (v *Variable) Apply(base Value, scopeVis Visibility) Value {
	v.mu.RLock()
	defer v.mu.RUnlock()
	eff := base
	for _, o := range v.shadows {
		if o.Visibility > scopeVis {
			continue // override does not reach this deep a scope
		}
		switch o.Op {
		case OpReplace:
			eff = o.Value
		case OpAppend:
			eff = Append(eff, o.Value)
		case OpPrepend:
			eff = Prepend(eff, o.Value)
		}
	}
	return eff
}

// Pool is the process-wide variable pool keyed by name: every Variable with
// a given name is the same *Variable instance, so identity comparison works
// and override registration is visible to every lookup.
type Pool struct {
	mu   sync.Mutex
	vars map[string]*Variable
}

// NewPool constructs an empty Pool.
func NewPool() *Pool {
	return &Pool{vars: make(map[string]*Variable)}
}

// Intern returns the Variable named n, creating it (untyped, scope
// visibility) on first reference.
func (p *Pool) Intern(n string) *Variable {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.vars[n]; ok {
		return v
	}
	v := &Variable{Name: n, Visibility: VisScope}
	p.vars[n] = v
	return v
}

// Lookup returns the Variable named n if it has been interned, without
// creating it.
func (p *Pool) Lookup(n string) (*Variable, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.vars[n]
	return v, ok
}
