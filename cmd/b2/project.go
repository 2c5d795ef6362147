package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/b2build/b2/internal/algo"
	"github.com/b2build/b2/internal/cc"
	"github.com/b2build/b2/internal/config"
	"github.com/b2build/b2/internal/diag"
	"github.com/b2build/b2/internal/install"
	"github.com/b2build/b2/internal/lang"
	"github.com/b2build/b2/internal/operation"
	"github.com/b2build/b2/internal/scope"
	"github.com/b2build/b2/internal/sched"
	"github.com/b2build/b2/internal/target"
	"github.com/b2build/b2/internal/variable"
	"github.com/b2build/b2/path"
)

// project bundles everything the driver needs to run operations against
// one project root, the per-process objects spec.md §9 says belong on a
// "single context object threaded through every API" rather than behind
// package-level globals.
type project struct {
	outRoot string
	root    *scope.Scope
	engine  *algo.Engine
	pool    *variable.Pool
	ops     *operation.Table
	metaOps *operation.Table
	install *install.Rule
	config  *config.Registrar
}

// builtin target-type names registered on every project root, independent
// of any module (spec.md §3 "Target type"; GLOSSARY "file", "fsdir").
var (
	fileType  = &target.Type{Name: "file"}
	fsdirType = &target.Type{Name: "fsdir"}
)

// bootstrapProject loads outRoot as a project: registers the built-in and
// cc/install module target types and operations, loads config.build (if
// the project has been configured), and sources bootstrap.build, root.build
// and the top-level buildfile in that order (spec.md §4.1 "Loading
// order").
//
// Known simplification: only the out-root's own buildfile is sourced
// eagerly; spec.md's per-out-base-directory lazy sourcing (triggered by a
// target search reaching an unvisited directory) is not implemented, so a
// multi-directory project's nested buildfiles must be pulled in with an
// explicit `source` directive from the root buildfile.
func bootstrapProject(outRoot string, sc *sched.Scheduler, variant string, overrides []override) (*project, error) {
	pool := variable.NewPool()
	for _, o := range overrides {
		o.apply(pool)
	}

	scopes := scope.NewMap()
	root, _ := scopes.Insert(path.NewDir(outRoot))
	root.MarkRoot(variant)
	registerOperations(root.Extra.MetaOps, root.Extra.Ops)

	eng := &algo.Engine{
		Scopes:  scopes,
		Targets: target.NewSet(),
		Types:   map[string]*target.Type{"file": fileType, "fsdir": fsdirType},
		Sched:   sc,
	}

	ccTypes := cc.NewTypes()
	eng.Types["src"] = ccTypes.Src
	eng.Types["obj"] = ccTypes.Obj
	eng.Types["exe"] = ccTypes.Exe
	eng.Types["lib"] = ccTypes.Lib

	performMeta, _ := root.Extra.MetaOps.Lookup(operation.MetaPerform)
	updateOp, _ := root.Extra.Ops.Lookup(operation.OpUpdate)

	toolchain, err := cc.Guess(context.Background(), ccCompiler())
	if err != nil {
		// A project that declares no C/C++ targets should not fail to
		// bootstrap just because no compiler is installed; the cc rules
		// simply never match anything in that case.
		toolchain = nil
	}
	ccMod := &cc.Module{
		Toolchain: toolchain,
		Vars:      cc.NewVars(pool),
		PC:        &cc.Resolver{},
		Types:     ccTypes,
		Ops:       root.Extra.Ops,
	}
	if toolchain != nil {
		if err := cc.RegisterAll(root.Rules, performMeta.ID, updateOp.ID, ccMod); err != nil {
			return nil, err
		}
	}

	name := projectName(outRoot)
	installVars := install.NewVars(pool)
	installVars.Init(root, name, "", false)
	installRule := install.NewRule(root.Extra.Ops, installVars, name, "", false)
	if err := install.RegisterAll(root.Rules, performMeta.ID, installRule, []string{"exe", "lib", "file"}); err != nil {
		return nil, err
	}

	p := &project{
		outRoot: outRoot,
		root:    root,
		engine:  eng,
		pool:    pool,
		ops:     root.Extra.Ops,
		metaOps: root.Extra.MetaOps,
		install: installRule,
		config:  config.NewRegistrar(),
	}

	if cfg, err := config.Load(outRoot, pool); err == nil {
		for _, e := range cfg.Entries() {
			root.Vars.Set(e.Var, e.Value)
		}
	}

	buildDir := "build"
	if variant == "build2" {
		buildDir = "build2"
	}
	for _, f := range []string{
		filepath.Join(outRoot, buildDir, "bootstrap.build"),
		filepath.Join(outRoot, buildDir, "root.build"),
		filepath.Join(outRoot, "buildfile"),
	} {
		if err := p.sourceFile(f, eng); err != nil {
			return nil, err
		}
	}

	root.Rules.Freeze()
	return p, nil
}

// sourceFile loads path into the project root scope if it exists and has
// not already been sourced there, silently doing nothing for a missing
// file: bootstrap.build, root.build and the top-level buildfile are all
// optional for a project that only needs the built-in cc/install rules.
func (p *project) sourceFile(path string, eng *algo.Engine) error {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil
	}
	if p.root.MarkSourced(path) {
		return nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return diag.Errorf(diag.Filesystem, diag.Location{}, "reading %s: %w", path, err)
	}
	parser := lang.NewParser(path, string(src), eng, p.pool, p.root)
	return parser.Parse()
}

// registerOperations registers the well-known meta-operations and
// operations spec.md's GLOSSARY names into every fresh project root, the
// way build2's root scope always has perform/configure/disfigure and
// update/clean/test/install/uninstall available without any buildfile
// `using` directive.
func registerOperations(metaOps, ops *operation.Table) {
	for _, m := range []string{operation.MetaPerform, operation.MetaConfigure, operation.MetaDisfigure, operation.MetaNoop, operation.MetaInfo, operation.MetaDist} {
		metaOps.Register(m, operation.Callbacks{Mode: operation.First})
	}
	for _, o := range []string{operation.OpUpdate, operation.OpClean, operation.OpTest, operation.OpInstall, operation.OpUninstall} {
		ops.Register(o, operation.Callbacks{Mode: operation.DefaultModes[o]})
	}
}

// projectName derives a project name from its out-root directory, used to
// substitute the <project> sentinel in install.* paths until a project
// declares its own name via a buildfile `project = name` assignment.
func projectName(outRoot string) string {
	return filepath.Base(outRoot)
}

// ccCompiler returns the compiler to guess, honoring the CC environment
// variable the way spec.md §9's toolchain-guess design expects, falling
// back to the generic "cc" found on PATH.
func ccCompiler() string {
	if v := os.Getenv("CC"); v != "" {
		return v
	}
	return "cc"
}
