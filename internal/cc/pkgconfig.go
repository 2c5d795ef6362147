package cc

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"strings"
	"unicode"

	"github.com/b2build/b2/internal/diag"
)

// Package is the subset of a .pc file's fields a compile/link rule needs:
// its own flags plus the names of further modules it Requires, so a
// pkg-config dependency closure can be walked without re-invoking the
// pkg-config binary once per transitive module.
type Package struct {
	Name     string
	Cflags   []string
	Libs     []string
	Requires []string
}

// modulesFromRequires splits a Requires or Requires.private field value
// (e.g. "atk >= 2.15.1, glib-2.0") into bare module names, discarding the
// version-comparison operator and operand that may follow each one.
// Adapted from the teacher's cmd/distri/pkgconfig.go
// pkgConfigFilesFromRequires, generalized to return module names rather
// than "<name>.pc" file names (the resolver below turns a name into a file
// itself).
func modulesFromRequires(requires string) []string {
	const operators = "<>!="

	fields := strings.FieldsFunc(requires, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})

	var modules []string
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		if strings.IndexAny(f, operators) == 0 {
			i++ // skip the version operand following the operator
			continue
		}
		if strings.TrimSpace(f) == "" {
			continue
		}
		modules = append(modules, f)
	}
	return modules
}

// ParsePC parses the .pc file at path far enough to extract Cflags, Libs and
// Requires — it does not evaluate a .pc file's own "Name: Value" variable
// substitutions beyond ${prefix}-style expansion against variables defined
// earlier in the same file, which covers the overwhelming majority of
// real-world .pc files.
func ParsePC(path string) (*Package, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, diag.Errorf(diag.Filesystem, diag.Location{}, "cc: open %s: %w", path, err)
	}
	defer f.Close()

	vars := map[string]string{}
	pkg := &Package{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, ':'); i >= 0 && !strings.Contains(line[:i], "=") {
			key := strings.TrimSpace(line[:i])
			val := expandPCVars(strings.TrimSpace(line[i+1:]), vars)
			switch key {
			case "Name":
				pkg.Name = val
			case "Cflags":
				pkg.Cflags = append(pkg.Cflags, splitFields(val)...)
			case "Libs":
				pkg.Libs = append(pkg.Libs, splitFields(val)...)
			case "Requires", "Requires.private":
				pkg.Requires = append(pkg.Requires, modulesFromRequires(val)...)
			}
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			name := strings.TrimSpace(line[:i])
			vars[name] = expandPCVars(strings.TrimSpace(line[i+1:]), vars)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, diag.Errorf(diag.Filesystem, diag.Location{}, "cc: read %s: %w", path, err)
	}
	return pkg, nil
}

func expandPCVars(s string, vars map[string]string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '$' && i+1 < len(s) && s[i+1] == '{' {
			end := strings.IndexByte(s[i+2:], '}')
			if end >= 0 {
				name := s[i+2 : i+2+end]
				b.WriteString(vars[name])
				i += 2 + end
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// Resolver finds .pc files by module name and shells out to the pkg-config
// binary as a fallback for modules not found as plain files under its
// search path, mirroring the teacher's PKG_CONFIG_PATH environment wiring
// for package-scoped tool invocations.
type Resolver struct {
	// SearchPath lists directories searched for "<module>.pc", in order,
	// before falling back to the pkg-config binary on PATH.
	SearchPath []string
	// Binary is the pkg-config executable; defaults to "pkg-config" when
	// empty.
	Binary string
}

// Resolve returns the transitive closure of module's own flags plus every
// module named (directly or transitively) in its Requires/Requires.private
// fields, each resolved exactly once.
func (r *Resolver) Resolve(ctx context.Context, module string) (cflags, libs []string, err error) {
	seen := map[string]bool{}
	var walk func(string) error
	walk = func(m string) error {
		if seen[m] {
			return nil
		}
		seen[m] = true
		pkg, err := r.find(ctx, m)
		if err != nil {
			return err
		}
		cflags = append(cflags, pkg.Cflags...)
		libs = append(libs, pkg.Libs...)
		for _, dep := range pkg.Requires {
			if err := walk(dep); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(module); err != nil {
		return nil, nil, err
	}
	return cflags, libs, nil
}

func (r *Resolver) find(ctx context.Context, module string) (*Package, error) {
	for _, dir := range r.SearchPath {
		path := dir + "/" + module + ".pc"
		if _, err := os.Stat(path); err == nil {
			return ParsePC(path)
		}
	}
	return r.queryBinary(ctx, module)
}

// queryBinary falls back to the system pkg-config binary, for modules
// whose .pc file lives outside r.SearchPath (e.g. a system-installed
// library pkg-config already knows about).
func (r *Resolver) queryBinary(ctx context.Context, module string) (*Package, error) {
	bin := r.Binary
	if bin == "" {
		bin = "pkg-config"
	}
	env := os.Environ()
	if len(r.SearchPath) > 0 {
		env = append(env, "PKG_CONFIG_PATH="+strings.Join(r.SearchPath, ":"))
	}

	cflags, err := r.run(ctx, bin, env, "--cflags", module)
	if err != nil {
		return nil, diag.Errorf(diag.Driver, diag.Location{}, "cc: pkg-config --cflags %s: %w", module, err)
	}
	libs, err := r.run(ctx, bin, env, "--libs", module)
	if err != nil {
		return nil, diag.Errorf(diag.Driver, diag.Location{}, "cc: pkg-config --libs %s: %w", module, err)
	}
	return &Package{Name: module, Cflags: splitFields(cflags), Libs: splitFields(libs)}, nil
}

func (r *Resolver) run(ctx context.Context, bin string, env []string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Env = env
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
