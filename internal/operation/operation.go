// Package operation implements the meta-operation/operation tables and the
// packed action encoding of spec.md §4.5/§6 (component G).
package operation

import "fmt"

// ID identifies a meta-operation or operation by its registration index
// within a project scope. 0 is reserved ("none"/unspecified).
type ID uint8

// Mode is an operation's declared execution order (spec.md §4.5 "Execution
// mode"): first runs prerequisites before the dependent target (e.g.
// update); last runs dependents before the prerequisite (e.g. clean, so a
// directory empties before it is removed).
type Mode int

const (
	First Mode = iota
	Last
)

// Action is the packed (meta, outer, inner) triple of spec.md §3 "Action".
// Outer == 0 marks an inner-only action (an operation with no surrounding
// meta-operation-specific variant, e.g. plain perform(update)).
type Action struct {
	Meta  ID
	Outer ID
	Inner ID
}

// Encode packs meta/outer/inner, mirroring the "inner half usable as an
// index into per-operation rule tables" requirement of spec.md §3.
func Encode(meta, outer, inner ID) Action { return Action{Meta: meta, Outer: outer, Inner: inner} }

// InnerOnly reports whether a has no outer variant.
func (a Action) InnerOnly() bool { return a.Outer == 0 }

func (a Action) String() string {
	if a.InnerOnly() {
		return fmt.Sprintf("meta(%d)/op(%d)", a.Meta, a.Inner)
	}
	return fmt.Sprintf("meta(%d)/op(%d for %d)", a.Meta, a.Inner, a.Outer)
}

// Callbacks are the per-definition settings a meta-operation or operation
// registers: its execution Mode and optional batch hooks. There is no hook
// that transforms an inner action for an outer operation.
type Callbacks struct {
	Mode Mode

	// PreOperation/PostOperation are optional before/after-batch hooks. No
	// definition registered in this tree sets them and the driver does not
	// call them; configure writes config.build from the driver's matchAll.
	PreOperation  func() error
	PostOperation func() error
}

// Def is a registered meta-operation or operation definition.
type Def struct {
	ID        ID
	Name      string
	Callbacks Callbacks
}

// Table is a scope's per-project meta-operation or operation table (part of
// spec.md §3 "Scope" root-only extra structure), keyed by name with a
// stable ID assignment so Action.Meta/Outer/Inner can index back into it.
type Table struct {
	byName map[string]*Def
	byID   []*Def
}

// NewTable constructs an empty Table. ID 0 is reserved, so the first
// Register call returns ID 1.
func NewTable() *Table {
	return &Table{byID: []*Def{nil}}
}

// Register adds name to the table (idempotent: re-registering the same
// name returns the existing Def) and returns its assigned Def.
func (t *Table) Register(name string, cb Callbacks) *Def {
	if t.byName == nil {
		t.byName = make(map[string]*Def)
	}
	if d, ok := t.byName[name]; ok {
		return d
	}
	d := &Def{ID: ID(len(t.byID)), Name: name, Callbacks: cb}
	t.byID = append(t.byID, d)
	t.byName[name] = d
	return d
}

// Lookup resolves a registered name to its Def.
func (t *Table) Lookup(name string) (*Def, bool) {
	d, ok := t.byName[name]
	return d, ok
}

// ByID resolves an ID back to its Def.
func (t *Table) ByID(id ID) (*Def, bool) {
	if int(id) <= 0 || int(id) >= len(t.byID) {
		return nil, false
	}
	return t.byID[id], true
}

// Well-known operation names, registered by default in every root scope
// (spec.md GLOSSARY).
const (
	MetaPerform   = "perform"
	MetaConfigure = "configure"
	MetaDisfigure = "disfigure"
	MetaNoop      = "noop"
	MetaInfo      = "info"
	MetaDist      = "dist"

	OpUpdate    = "update"
	OpClean     = "clean"
	OpTest      = "test"
	OpInstall   = "install"
	OpUninstall = "uninstall"
)

// DefaultModes maps the well-known operation names to their built-in
// execution mode.
var DefaultModes = map[string]Mode{
	OpUpdate:    First,
	OpTest:      First,
	OpInstall:   First,
	OpClean:     Last,
	OpUninstall: Last,
}
