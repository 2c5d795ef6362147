package main

import (
	"fmt"
	"strings"

	"github.com/b2build/b2/internal/variable"
)

// override is one parsed `<name>=<value>` command-line argument (spec.md
// §6: "zero or more <name>=<value> (and += / =+) command-line variable
// assignments (optionally prefixed ! for global override, % for
// project-wide, / for scope-wide)").
type override struct {
	visibility variable.Visibility
	name       string
	op         variable.OverrideOp
	value      string
}

// parseOverride recognizes arg as a command-line variable override, or
// reports ok == false if it is not one (so the caller can fall through to
// treating arg as a buildspec operand instead).
func parseOverride(arg string) (o override, ok bool) {
	vis := variable.VisScope
	s := arg
	if s != "" {
		switch s[0] {
		case '!':
			vis, s = variable.VisGlobal, s[1:]
		case '%':
			vis, s = variable.VisProject, s[1:]
		case '/':
			vis, s = variable.VisScope, s[1:]
		}
	}

	op := variable.OpReplace
	idx, opLen := -1, 1
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '=' && i+1 < len(s) && s[i+1] == '+':
			idx, opLen, op = i, 2, variable.OpPrepend
		case s[i] == '+' && i+1 < len(s) && s[i+1] == '=':
			idx, opLen, op = i, 2, variable.OpAppend
		case s[i] == '=' && idx < 0:
			idx, opLen = i, 1
		}
		if idx >= 0 {
			break
		}
	}
	if idx < 0 {
		return override{}, false
	}
	name := s[:idx]
	if name == "" || strings.ContainsAny(name, " \t()") {
		return override{}, false
	}
	return override{
		visibility: vis,
		name:       name,
		op:         op,
		value:      s[idx+opLen:],
	}, true
}

// apply registers o as a shadow on its pool-interned variable, so every
// subsequent lookup at a visibility o.visibility reaches folds it in
// (variable.Variable.Apply). Overrides are registered once, before any
// buildfile loads, per spec.md §6's "command-line variable assignments"
// being driver-level input rather than buildfile-level state.
func (o override) apply(pool *variable.Pool) {
	v := pool.Intern(o.name)
	v.AddOverride(&variable.Override{
		Visibility: o.visibility,
		Op:         o.op,
		Value:      variable.Value{Kind: variable.String, S: o.value},
	})
}

func parseOverrides(args []string) (overrides []override, rest []string) {
	for _, a := range args {
		if o, ok := parseOverride(a); ok {
			overrides = append(overrides, o)
			continue
		}
		rest = append(rest, a)
	}
	return overrides, rest
}

func (o override) String() string {
	pfx := map[variable.Visibility]string{
		variable.VisGlobal:  "!",
		variable.VisProject: "%",
		variable.VisScope:   "",
	}[o.visibility]
	opStr := map[variable.OverrideOp]string{
		variable.OpReplace: "=",
		variable.OpAppend:  "+=",
		variable.OpPrepend: "=+",
	}[o.op]
	return fmt.Sprintf("%s%s%s%s", pfx, o.name, opStr, o.value)
}
