// Package install implements the install module of spec.md §4.10
// (component N): it sets the install.* path variables with substitution of
// the <project>/<version>/<private> sentinels, and registers install and
// uninstall rules over the base file type. Installing copies a target's
// produced file into its computed destination atomically, the same
// discipline the teacher uses for writing package contents into the live
// filesystem (internal/install/install.go's hookinstall closure), via
// renameio rather than a temp-file-plus-rename written by hand.
package install

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"

	"github.com/b2build/b2/internal/diag"
	"github.com/b2build/b2/internal/operation"
	"github.com/b2build/b2/internal/rule"
	"github.com/b2build/b2/internal/scope"
	"github.com/b2build/b2/internal/tstate"
	"github.com/b2build/b2/internal/variable"
)

// Sentinels substituted into install.* path variable values (spec.md
// §4.10).
const (
	sentinelProject = "<project>"
	sentinelVersion = "<version>"
	sentinelPrivate = "<private>"
)

// Subst expands the <project>/<version>/<private> sentinels that may
// appear inside an install.* path. <private> expands to the project name
// when private is set (a private install tree gets its own subdirectory)
// and to nothing otherwise.
func Subst(raw, project, version string, private bool) string {
	out := strings.ReplaceAll(raw, sentinelProject, project)
	out = strings.ReplaceAll(out, sentinelVersion, version)
	priv := ""
	if private {
		priv = project
	}
	return strings.ReplaceAll(out, sentinelPrivate, priv)
}

// defaultPaths are the built-in install.<name> locations, relative to
// install.root unless already rooted, mirroring build2's own
// install.bin/install.sbin/... defaults from libbuild2/install/init.cxx.
var defaultPaths = map[string]string{
	"root":    "/usr/local/",
	"bin":     "bin/",
	"sbin":    "sbin/",
	"lib":     "lib/",
	"include": "include/<project>/",
	"data":    "share/<project>/",
	"doc":     "share/doc/<project>/",
	"man":     "share/man/",
}

// Vars holds the pool-interned install.* Variables, so a rule's Match and
// Apply never have to re-intern them.
type Vars struct {
	byName  map[string]*variable.Variable
	Install *variable.Variable // the per-target/per-pattern "install" variable
}

// NewVars interns the install.* family (including the per-target "install"
// destination variable itself) in pool.
func NewVars(pool *variable.Pool) *Vars {
	v := &Vars{byName: make(map[string]*variable.Variable)}
	for name := range defaultPaths {
		v.byName[name] = pool.Intern("install." + name)
	}
	v.Install = pool.Intern("install")
	return v
}

// Init sets install.<name> on root to its substituted default, unless the
// project's own root.build already assigned it (install.* are ordinary
// overridable path variables; Init only supplies defaults). Called once
// per project during load, before anything can match the install rule.
func (v *Vars) Init(root *scope.Scope, project, version string, private bool) {
	for name, def := range defaultPaths {
		vr := v.byName[name]
		if _, ok := root.Vars.Get(vr); ok {
			continue
		}
		root.Vars.Set(vr, variable.Value{Kind: variable.String, S: Subst(def, project, version, private)})
	}
}

// ForInstall reports whether a is the "install" variant of an outer
// operation (e.g. update(install) rather than plain update) — the flag
// spec.md §4.10 says propagates into the link rule so rpath and pkg-config
// generation can differ for installed artifacts.
func ForInstall(ops *operation.Table, a operation.Action) bool {
	d, ok := ops.Lookup(operation.OpInstall)
	return ok && a.Outer == d.ID
}

// Rule is the install/uninstall rule registered over the base file type
// (spec.md §4.10). One instance is shared by every target type: Match only
// requires that the target (directly, or via its type/pattern variable
// entry) has a non-null, non-"false" "install" variable. Apply then fails
// unless that value names an install.<name> family member or is an
// absolute path.
type Rule struct {
	Vars    *Vars
	Project string
	Version string
	Private bool

	installOp   operation.ID
	uninstallOp operation.ID
}

// NewRule constructs a Rule bound to ops' registered install/uninstall
// operation IDs (operation IDs are assigned per project, so they cannot be
// hardcoded constants).
func NewRule(ops *operation.Table, v *Vars, project, version string, private bool) *Rule {
	r := &Rule{Vars: v, Project: project, Version: version, Private: private}
	if d, ok := ops.Lookup(operation.OpInstall); ok {
		r.installOp = d.ID
	}
	if d, ok := ops.Lookup(operation.OpUninstall); ok {
		r.uninstallOp = d.ID
	}
	return r
}

func (r *Rule) Name() string { return "install" }

func extSuffix(ext string) string {
	if ext == "" {
		return ""
	}
	return "." + ext
}

// Match reports whether t declares a non-false "install" path.
func (r *Rule) Match(ctx context.Context, a operation.Action, t rule.Target) (bool, error) {
	val := t.Lookup(r.Vars.Install)
	if val.IsNull() {
		return false, nil
	}
	return val.String() != "false", nil
}

// resolveDest computes the absolute destination path for t: either the
// literal "install" value, if it is already an absolute path, or that
// value read as the name of an install.<name> family member, joined with
// t's file name.
func (r *Rule) resolveDest(t rule.Target) (string, error) {
	raw := t.Lookup(r.Vars.Install).String()
	fileName := t.TargetName() + extSuffix(t.TargetExt())

	if filepath.IsAbs(raw) {
		if strings.HasSuffix(raw, "/") {
			return filepath.Join(raw, fileName), nil
		}
		return raw, nil
	}

	vr, ok := r.Vars.byName[raw]
	if !ok {
		return "", diag.Errorf(diag.Rule, diag.Location{}, "install: %q is neither an absolute path nor a known install.* family name", raw)
	}
	dir := Subst(t.Lookup(vr).String(), r.Project, r.Version, r.Private)
	if !filepath.IsAbs(dir) && raw != "root" {
		root := Subst(t.Lookup(r.Vars.byName["root"]).String(), r.Project, r.Version, r.Private)
		dir = filepath.Join(root, dir)
	}
	return filepath.Join(dir, fileName), nil
}

// Apply resolves t's destination path and returns the install or
// uninstall recipe according to a's inner operation.
func (r *Rule) Apply(ctx context.Context, a operation.Action, t rule.Target, search rule.Searcher) (rule.Recipe, error) {
	dest, err := r.resolveDest(t)
	if err != nil {
		return nil, err
	}
	if a.Inner == r.uninstallOp {
		return r.uninstallRecipe(dest), nil
	}
	return r.installRecipe(dest), nil
}

// installRecipe copies t's produced file into dest, creating parent
// directories as needed and preserving the source's permission bits
// (generalized from the teacher's hookinstall, which special-cases
// chmod 0755 for one known destination; here the source's own mode is
// simply carried over).
func (r *Rule) installRecipe(dest string) rule.Recipe {
	return func(ctx context.Context, a operation.Action, t rule.Target) (tstate.State, error) {
		src := filepath.Join(t.OutDir().Raw(), t.TargetName()+extSuffix(t.TargetExt()))
		info, err := os.Stat(src)
		if err != nil {
			return tstate.Failed, diag.Errorf(diag.Filesystem, diag.Location{}, "install: stat %s: %w", src, err)
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return tstate.Failed, diag.Errorf(diag.Filesystem, diag.Location{}, "install: mkdir %s: %w", filepath.Dir(dest), err)
		}
		data, err := os.ReadFile(src)
		if err != nil {
			return tstate.Failed, diag.Errorf(diag.Filesystem, diag.Location{}, "install: read %s: %w", src, err)
		}
		if err := renameio.WriteFile(dest, data, info.Mode().Perm()); err != nil {
			return tstate.Failed, diag.Errorf(diag.Filesystem, diag.Location{}, "install: write %s: %w", dest, err)
		}
		return tstate.Changed, nil
	}
}

// uninstallRecipe removes dest, treating "already gone" as success (the
// install tree may have been cleaned by other means between runs).
func (r *Rule) uninstallRecipe(dest string) rule.Recipe {
	return func(ctx context.Context, a operation.Action, t rule.Target) (tstate.State, error) {
		if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
			return tstate.Failed, diag.Errorf(diag.Filesystem, diag.Location{}, "uninstall: remove %s: %w", dest, err)
		}
		return tstate.Changed, nil
	}
}

// RegisterAll registers r for both the install and uninstall operations
// under meta, for every target type name in types (spec.md §4.10's "base
// file type": in practice every concrete file-based type a project wants
// installable — exe{}, lib{}, and any plain data file type).
func RegisterAll(m *rule.Map, meta operation.ID, r *Rule, types []string) error {
	for _, tn := range types {
		if err := m.Register(rule.Key{Meta: meta, Op: r.installOp, Type: tn}, r); err != nil {
			return err
		}
		if err := m.Register(rule.Key{Meta: meta, Op: r.uninstallOp, Type: tn}, r); err != nil {
			return err
		}
	}
	return nil
}
