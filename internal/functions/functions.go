// Package functions implements the built-in function library of spec.md §4
// component F: string, path, process, and regex families, callable from
// buildfile $(...) evaluation contexts. It is kept independent of package
// lang so the parser's eval-mode tokens can be handed here without lang
// depending on every function family's own dependencies (os/exec, regexp).
package functions

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/b2build/b2/internal/diag"
	"github.com/b2build/b2/internal/variable"
)

// Func is one built-in function: it receives already-evaluated argument
// Values and returns a result Value.
type Func func(ctx context.Context, args []variable.Value) (variable.Value, error)

// Table is the process-wide function table, namespaced as "family.name"
// (spec.md §4 "Built-in functions callable from buildfiles").
type Table struct {
	fns map[string]Func
}

// NewTable constructs a Table pre-registered with the string, path,
// process, and regex families.
func NewTable() *Table {
	t := &Table{fns: make(map[string]Func)}
	registerString(t)
	registerPath(t)
	registerProcess(t)
	registerRegex(t)
	return t
}

// Register adds fn under the given qualified name, overwriting any
// previous registration (so a project can shadow a built-in).
func (t *Table) Register(name string, fn Func) { t.fns[name] = fn }

// Call invokes the named function.
func (t *Table) Call(ctx context.Context, name string, args []variable.Value) (variable.Value, error) {
	fn, ok := t.fns[name]
	if !ok {
		return variable.Nil, diag.Errorf(diag.Lookup, diag.Location{}, "unknown function %q", name)
	}
	return fn(ctx, args)
}

func arg(args []variable.Value, i int) string {
	if i >= len(args) {
		return ""
	}
	return args[i].String()
}

func strVal(s string) variable.Value { return variable.Value{Kind: variable.String, S: s} }

func boolVal(b bool) variable.Value { return variable.Value{Kind: variable.Bool, B: b} }

func strListVal(ss []string) variable.Value { return variable.Value{Kind: variable.StringList, Strs: ss} }

// registerString installs the string.* family (spec.md §4 "string"),
// grounded on libbuild2/functions-string.cxx's operation set: length, case
// conversion, trimming, substring containment and replacement.
func registerString(t *Table) {
	t.Register("string.length", func(ctx context.Context, args []variable.Value) (variable.Value, error) {
		return variable.Value{Kind: variable.UInt64, U: uint64(len(arg(args, 0)))}, nil
	})
	t.Register("string.upper", func(ctx context.Context, args []variable.Value) (variable.Value, error) {
		return strVal(strings.ToUpper(arg(args, 0))), nil
	})
	t.Register("string.lower", func(ctx context.Context, args []variable.Value) (variable.Value, error) {
		return strVal(strings.ToLower(arg(args, 0))), nil
	})
	t.Register("string.trim", func(ctx context.Context, args []variable.Value) (variable.Value, error) {
		return strVal(strings.TrimSpace(arg(args, 0))), nil
	})
	t.Register("string.contains", func(ctx context.Context, args []variable.Value) (variable.Value, error) {
		return boolVal(strings.Contains(arg(args, 0), arg(args, 1))), nil
	})
	t.Register("string.replace", func(ctx context.Context, args []variable.Value) (variable.Value, error) {
		return strVal(strings.ReplaceAll(arg(args, 0), arg(args, 1), arg(args, 2))), nil
	})
}

// registerPath installs the path.* family, grounded on
// libbuild2/functions-path.cxx: directory/leaf/extension decomposition and
// join, operating on our own path.File/path.Dir string forms via
// path/filepath (the only sensible stdlib fit here: there is no pack
// dependency for POSIX-style path manipulation beyond what filepath gives).
func registerPath(t *Table) {
	t.Register("path.directory", func(ctx context.Context, args []variable.Value) (variable.Value, error) {
		return strVal(filepath.Dir(arg(args, 0))), nil
	})
	t.Register("path.leaf", func(ctx context.Context, args []variable.Value) (variable.Value, error) {
		return strVal(filepath.Base(arg(args, 0))), nil
	})
	t.Register("path.extension", func(ctx context.Context, args []variable.Value) (variable.Value, error) {
		return strVal(strings.TrimPrefix(filepath.Ext(arg(args, 0)), ".")), nil
	})
	t.Register("path.join", func(ctx context.Context, args []variable.Value) (variable.Value, error) {
		parts := make([]string, len(args))
		for i := range args {
			parts[i] = arg(args, i)
		}
		return strVal(filepath.Join(parts...)), nil
	})
}

// registerProcess installs the process.* family (SPEC_FULL.md supplement
// grounded on libbuild2/functions-process.cxx): process.run executes a
// command and returns its trimmed stdout; process.run_regex additionally
// filters/transforms each output line through a regular expression,
// mirroring build2's combination of process invocation with its regex
// library in one function family.
func registerProcess(t *Table) {
	t.Register("process.run", func(ctx context.Context, args []variable.Value) (variable.Value, error) {
		if len(args) == 0 {
			return variable.Nil, diag.Errorf(diag.Execute, diag.Location{}, "process.run: no command given")
		}
		argv := make([]string, len(args))
		for i := range args {
			argv[i] = arg(args, i)
		}
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		out, err := cmd.Output()
		if err != nil {
			return variable.Nil, diag.Errorf(diag.Execute, diag.Location{}, "process.run %s: %w", argv[0], err)
		}
		return strVal(strings.TrimRight(string(out), "\n")), nil
	})
	t.Register("process.run_regex", func(ctx context.Context, args []variable.Value) (variable.Value, error) {
		if len(args) < 3 {
			return variable.Nil, diag.Errorf(diag.Execute, diag.Location{}, "process.run_regex: need command, pattern, replacement")
		}
		pattern, repl := arg(args, len(args)-2), arg(args, len(args)-1)
		cmdArgs := args[:len(args)-2]
		argv := make([]string, len(cmdArgs))
		for i := range cmdArgs {
			argv[i] = arg(cmdArgs, i)
		}
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		out, err := cmd.Output()
		if err != nil {
			return variable.Nil, diag.Errorf(diag.Execute, diag.Location{}, "process.run_regex %s: %w", argv[0], err)
		}
		lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
		transformed := make([]string, 0, len(lines))
		for _, line := range lines {
			r, err := regexReplace(line, pattern, repl)
			if err != nil {
				return variable.Nil, err
			}
			if r != "" {
				transformed = append(transformed, r)
			}
		}
		return strListVal(transformed), nil
	})
}
