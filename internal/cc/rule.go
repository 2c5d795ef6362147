package cc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/b2build/b2/internal/depdb"
	"github.com/b2build/b2/internal/diag"
	"github.com/b2build/b2/internal/install"
	"github.com/b2build/b2/internal/operation"
	"github.com/b2build/b2/internal/rule"
	"github.com/b2build/b2/internal/tstate"
	"github.com/b2build/b2/path"
)

// Module bundles everything a project needs to register the cc rules: the
// guessed toolchain, the interned cc.* variables and a pkg-config resolver.
// One Module is constructed per project, during load, after Guess has run
// (spec.md §9 "expensive one-time discovery belongs at load, not at
// match/apply").
type Module struct {
	Toolchain *Toolchain
	Vars      *Vars
	PC        *Resolver
	Types     *Types
	// Ops is consulted by the link recipe to tell a plain update from an
	// update(install) (spec.md §4.10's ForInstall flag "propagates into
	// the link rule so rpath and pkg-config generation can differ for
	// installed artifacts"). May be left nil, in which case the link
	// recipe never treats a build as install-bound.
	Ops *operation.Table
	// LDD is the ldd executable used to discover an installed artifact's
	// shared-library closure; defaults to "ldd" when empty.
	LDD string
}

// options collects a target's effective cc.* flags, folding in whatever
// pkg-config modules it names.
func (m *Module) options(ctx context.Context, t rule.Target) (poptions, coptions, loptions, libs []string, err error) {
	poptions = stringList(t.Lookup(m.Vars.POptions))
	coptions = stringList(t.Lookup(m.Vars.COptions))
	loptions = stringList(t.Lookup(m.Vars.LOptions))
	libs = stringList(t.Lookup(m.Vars.Libs))

	modules := stringList(t.Lookup(m.Vars.PkgConfig))
	for _, mod := range modules {
		cflags, ldlibs, err := m.PC.Resolve(ctx, mod)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		poptions = append(poptions, cflags...)
		libs = append(libs, ldlibs...)
	}
	return poptions, coptions, loptions, libs, nil
}

func hashLines(lines []string) string {
	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func hashFile(p string) (string, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16], nil
}

// CompileRule implements the "compile" operation over the obj{} target
// type (spec.md §4.5): it matches an obj target with at least one src
// prerequisite and compiles the first one, consulting a depdb keyed on the compile
// options and the discovered header list so an unchanged translation unit
// is never recompiled (spec.md §4.7).
type CompileRule struct {
	Module *Module
}

func (r *CompileRule) Name() string { return "cc.compile" }

func (r *CompileRule) Match(ctx context.Context, a operation.Action, t rule.Target) (bool, error) {
	if t.TypeName() != r.Module.Types.Obj.Name {
		return false, nil
	}
	for _, p := range t.Prerequisites() {
		if p.Type == r.Module.Types.Src.Name || srcExts[p.Ext] {
			return true, nil
		}
	}
	return false, nil
}

func (r *CompileRule) Apply(ctx context.Context, a operation.Action, t rule.Target, search rule.Searcher) (rule.Recipe, error) {
	prereqs := t.Prerequisites()
	var srcPrereq *rule.Prerequisite
	for i, p := range prereqs {
		if p.Type == r.Module.Types.Src.Name || srcExts[p.Ext] {
			srcPrereq = &prereqs[i]
			break
		}
	}
	if srcPrereq == nil {
		return nil, diag.Errorf(diag.Rule, diag.Location{}, "cc: obj target %s has no source prerequisite", t.TargetName())
	}
	srcTarget, err := search(ctx, *srcPrereq)
	if err != nil {
		return nil, err
	}
	srcPath := filepath.Join(srcTarget.SrcDir().Raw(), srcTarget.TargetName()+extSuffix(srcTarget.TargetExt()))

	return func(ctx context.Context, a operation.Action, t rule.Target) (tstate.State, error) {
		output := filepath.Join(t.OutDir().Raw(), t.TargetName()+extSuffix(t.TargetExt()))
		poptions, coptions, _, _, err := r.Module.options(ctx, t)
		if err != nil {
			return tstate.Failed, err
		}

		db, err := depdb.Open(depdb.PathFor(output))
		if err != nil {
			return tstate.Failed, diag.Errorf(diag.Filesystem, diag.Location{}, "cc: open depdb for %s: %w", output, err)
		}
		defer db.Close()

		db.Expect("cc.compile 1")
		db.Expect(hashLines(append(append([]string{srcPath}, poptions...), coptions...)))

		deps, err := r.preprocessDeps(ctx, srcPath, poptions)
		if err != nil {
			return tstate.Failed, err
		}
		for _, dep := range deps {
			sum, err := hashFile(dep)
			if err != nil {
				// A header the preprocessor named but that no longer
				// exists is itself a staleness signal, not an error:
				// fall through to a real compile.
				db.Write("stale " + dep)
				continue
			}
			db.Expect(dep + " " + sum)
		}

		if _, statErr := os.Stat(output); statErr == nil && db.Fresh() {
			return tstate.Unchanged, nil
		}

		if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
			return tstate.Failed, diag.Errorf(diag.Filesystem, diag.Location{}, "cc: mkdir %s: %w", filepath.Dir(output), err)
		}

		depfile := output + ".mmd"
		args := append(append([]string{}, poptions...), coptions...)
		args = append(args, "-c", srcPath, "-o", output, "-MMD", "-MF", depfile)
		cmd := exec.CommandContext(ctx, r.Module.Toolchain.Path, args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			return tstate.Failed, diag.Errorf(diag.Execute, diag.Location{}, "cc: compile %s: %w", srcPath, err)
		}
		defer os.Remove(depfile)

		data, err := os.ReadFile(depfile)
		if err != nil {
			return tstate.Failed, diag.Errorf(diag.Filesystem, diag.Location{}, "cc: read depfile %s: %w", depfile, err)
		}
		actual, err := ParseDepfile(data)
		if err != nil {
			return tstate.Failed, err
		}
		db2, err := depdb.Open(depdb.PathFor(output))
		if err != nil {
			return tstate.Failed, diag.Errorf(diag.Filesystem, diag.Location{}, "cc: reopen depdb for %s: %w", output, err)
		}
		db2.Write("cc.compile 1")
		db2.Write(hashLines(append(append([]string{srcPath}, poptions...), coptions...)))
		for _, dep := range actual {
			sum, err := hashFile(dep)
			if err != nil {
				continue
			}
			db2.Write(dep + " " + sum)
		}
		if err := db2.Flush(); err != nil {
			db2.Close()
			return tstate.Failed, diag.Errorf(diag.Filesystem, diag.Location{}, "cc: flush depdb for %s: %w", output, err)
		}
		db2.Close()
		if err := depdb.TouchNewerThan(path.NewFile(output), depdb.PathFor(output)); err != nil {
			return tstate.Failed, diag.Errorf(diag.Filesystem, diag.Location{}, "cc: touch %s: %w", output, err)
		}
		return tstate.Changed, nil
	}, nil
}

// preprocessDeps runs the compiler in preprocess-only dependency mode
// (-MM) to cheaply discover a translation unit's current header list
// without a full compile, the way build2's cc module reruns just the
// preprocessor to validate a depdb before deciding whether the expensive
// compile step can be skipped.
func (r *CompileRule) preprocessDeps(ctx context.Context, srcPath string, poptions []string) ([]string, error) {
	args := append(append([]string{}, poptions...), "-MM", srcPath)
	cmd := exec.CommandContext(ctx, r.Module.Toolchain.Path, args...)
	out, err := cmd.Output()
	if err != nil {
		return nil, diag.Errorf(diag.Execute, diag.Location{}, "cc: preprocess %s: %w", srcPath, err)
	}
	return ParseDepfile(out)
}

// LinkRule implements the "link" operation over exe{} and lib{} (spec.md
// §4.5): it links every obj{} prerequisite (transitively resolved the same
// way as compile's source) into an executable or shared library, folding
// in cc.loptions/cc.libs and any pkg-config modules named on the target.
type LinkRule struct {
	Module *Module
}

func (r *LinkRule) Name() string { return "cc.link" }

func (r *LinkRule) Match(ctx context.Context, a operation.Action, t rule.Target) (bool, error) {
	tn := t.TypeName()
	return tn == r.Module.Types.Exe.Name || tn == r.Module.Types.Lib.Name, nil
}

func (r *LinkRule) Apply(ctx context.Context, a operation.Action, t rule.Target, search rule.Searcher) (rule.Recipe, error) {
	var objs []rule.Target
	for _, p := range t.Prerequisites() {
		if p.Type != r.Module.Types.Obj.Name {
			continue
		}
		ot, err := search(ctx, p)
		if err != nil {
			return nil, err
		}
		objs = append(objs, ot)
	}
	if len(objs) == 0 {
		return nil, diag.Errorf(diag.Rule, diag.Location{}, "cc: link target %s has no obj{} prerequisites", t.TargetName())
	}

	return func(ctx context.Context, a operation.Action, t rule.Target) (tstate.State, error) {
		output := filepath.Join(t.OutDir().Raw(), t.TargetName()+extSuffix(t.TargetExt()))
		_, _, loptions, libs, err := r.Module.options(ctx, t)
		if err != nil {
			return tstate.Failed, err
		}

		var objPaths []string
		for _, ot := range objs {
			objPaths = append(objPaths, filepath.Join(ot.OutDir().Raw(), ot.TargetName()+extSuffix(ot.TargetExt())))
		}

		db, err := depdb.Open(depdb.PathFor(output))
		if err != nil {
			return tstate.Failed, diag.Errorf(diag.Filesystem, diag.Location{}, "cc: open depdb for %s: %w", output, err)
		}
		db.Expect("cc.link 1")
		db.Expect(hashLines(append(append(append([]string{}, objPaths...), loptions...), libs...)))
		for _, op := range objPaths {
			sum, err := hashFile(op)
			if err != nil {
				db.Close()
				return tstate.Failed, diag.Errorf(diag.Filesystem, diag.Location{}, "cc: stat prerequisite %s: %w", op, err)
			}
			db.Expect(op + " " + sum)
		}
		fresh := db.Fresh()
		db.Close()

		if _, statErr := os.Stat(output); statErr == nil && fresh {
			return tstate.Unchanged, nil
		}

		if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
			return tstate.Failed, diag.Errorf(diag.Filesystem, diag.Location{}, "cc: mkdir %s: %w", filepath.Dir(output), err)
		}
		args := append(append([]string{}, objPaths...), loptions...)
		if t.TypeName() == r.Module.Types.Lib.Name {
			args = append(args, "-shared")
		}
		args = append(args, "-o", output)
		args = append(args, libs...)
		cmd := exec.CommandContext(ctx, r.Module.Toolchain.Path, args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			return tstate.Failed, diag.Errorf(diag.Execute, diag.Location{}, "cc: link %s: %w", output, err)
		}

		if r.Module.Ops != nil && install.ForInstall(r.Module.Ops, a) {
			// Record the shared-library closure alongside the linked
			// artifact, at link time while its final path is known. The
			// install module only copies the single file a target's
			// "install" variable names (internal/install/install.go) and
			// does not read this list.
			if deps, err := SharedLibDeps(ctx, r.Module.LDD, output); err == nil {
				os.WriteFile(output+".shlibdeps", []byte(strings.Join(deps, "\n")+"\n"), 0644)
			}
		}

		db2, err := depdb.Open(depdb.PathFor(output))
		if err != nil {
			return tstate.Failed, diag.Errorf(diag.Filesystem, diag.Location{}, "cc: reopen depdb for %s: %w", output, err)
		}
		db2.Write("cc.link 1")
		db2.Write(hashLines(append(append(append([]string{}, objPaths...), loptions...), libs...)))
		for _, op := range objPaths {
			sum, err := hashFile(op)
			if err != nil {
				continue
			}
			db2.Write(op + " " + sum)
		}
		if err := db2.Flush(); err != nil {
			db2.Close()
			return tstate.Failed, diag.Errorf(diag.Filesystem, diag.Location{}, "cc: flush depdb for %s: %w", output, err)
		}
		db2.Close()
		if err := depdb.TouchNewerThan(path.NewFile(output), depdb.PathFor(output)); err != nil {
			return tstate.Failed, diag.Errorf(diag.Filesystem, diag.Location{}, "cc: touch %s: %w", output, err)
		}
		return tstate.Changed, nil
	}, nil
}

func extSuffix(ext string) string {
	if ext == "" {
		return ""
	}
	return "." + ext
}

// RegisterAll registers CompileRule and LinkRule in m for the given
// meta-operation, over the cc module's own target types.
func RegisterAll(m *rule.Map, meta operation.ID, updateOp operation.ID, mod *Module) error {
	compile := &CompileRule{Module: mod}
	link := &LinkRule{Module: mod}
	if err := m.Register(rule.Key{Meta: meta, Op: updateOp, Type: mod.Types.Obj.Name}, compile); err != nil {
		return err
	}
	if err := m.Register(rule.Key{Meta: meta, Op: updateOp, Type: mod.Types.Exe.Name}, link); err != nil {
		return err
	}
	return m.Register(rule.Key{Meta: meta, Op: updateOp, Type: mod.Types.Lib.Name}, link)
}
