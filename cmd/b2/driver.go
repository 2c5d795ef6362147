package main

import (
	"context"
	"fmt"

	"github.com/b2build/b2/internal/config"
	"github.com/b2build/b2/internal/diag"
	"github.com/b2build/b2/internal/operation"
	"github.com/b2build/b2/internal/target"
	"github.com/b2build/b2/internal/tstate"
	"github.com/b2build/b2/name"
)

// resolveTargets turns a buildspec target operand into concrete real
// targets in p's project, creating any not yet declared (spec.md §3
// "Target": a buildspec operand names a `real` target whether or not a
// buildfile already declared it).
func (p *project) resolveTargets(spec targetSpec) ([]*target.Target, error) {
	var out []*target.Target
	for _, n := range spec.names {
		if n.Dir.IsRoot() && n.Value == "." && n.Type == "" {
			// The bare "." sugar (spec.md §6) means "every real target this
			// project's buildfiles declared", the closest analogue
			// available without a declared default-target list per
			// out-base directory.
			for _, t := range p.engine.Targets.All() {
				if t.Decl == target.Real {
					out = append(out, t)
				}
			}
			continue
		}
		typ, ok := p.resolveType(n)
		if !ok {
			return nil, diag.Errorf(diag.Lookup, diag.Location{}, "unknown target type for %v", n)
		}
		dir := n.Dir
		if dir.IsRoot() {
			dir = p.root.OutDir
		}
		ext := n.Ext
		if ext == "" && typ.DefaultExt != "" {
			ext = typ.DefaultExt
		}
		t, _ := p.engine.Targets.Insert(typ, dir, dir, n.Value, ext, p.root, target.Real)
		out = append(out, t)
	}
	return out, nil
}

func (p *project) resolveType(n name.Name) (*target.Type, bool) {
	if n.Type != "" {
		t, ok := p.engine.Types[n.Type]
		return t, ok
	}
	for _, t := range p.engine.Types {
		if t.Pattern != nil && t.Pattern(n) {
			return t, true
		}
	}
	return p.engine.Types["file"], true
}

// result is one target's outcome, reported back to the CLI's printer.
type result struct {
	target *target.Target
	state  tstate.State
	err    error
}

// run executes req against p, returning one result per resolved target.
// configure/disfigure are handled specially per spec.md §4.10: configure
// matches (but does not execute) rules, then persists config.build;
// disfigure only ever removes it.
func (p *project) run(ctx context.Context, req request) ([]result, error) {
	metaDef, ok := p.metaOps.Lookup(req.meta)
	if !ok {
		return nil, diag.Errorf(diag.Driver, diag.Location{}, "unknown meta-operation %q", req.meta)
	}

	if req.meta == operation.MetaDisfigure {
		return nil, config.Disfigure(p.outRoot)
	}

	opDef, ok := p.ops.Lookup(req.op)
	if !ok {
		return nil, diag.Errorf(diag.Driver, diag.Location{}, "unknown operation %q", req.op)
	}

	var targets []*target.Target
	for _, spec := range req.targets {
		ts, err := p.resolveTargets(spec)
		if err != nil {
			return nil, err
		}
		targets = append(targets, ts...)
	}

	action := operation.Action{Meta: metaDef.ID, Inner: opDef.ID}
	// "install"/"uninstall" as the top-level operation compose update/clean
	// with the install-outer flag (spec.md §4.10's ForInstall), the way
	// build2's install meta-operation updates for install before copying;
	// simplified here to two sequential passes rather than one integrated
	// nested-operation callback.
	installish := req.op == operation.OpInstall || req.op == operation.OpUninstall
	if installish {
		inner := operation.OpUpdate
		if req.op == operation.OpUninstall {
			inner = operation.OpClean
		}
		innerDef, _ := p.ops.Lookup(inner)
		updateAction := operation.Action{Meta: metaDef.ID, Outer: opDef.ID, Inner: innerDef.ID}
		if _, err := p.executeAll(ctx, updateAction, targets, opDef.Callbacks.Mode); err != nil {
			return nil, err
		}
	}

	if req.meta == operation.MetaConfigure {
		return p.matchAll(ctx, action, targets)
	}

	return p.executeAll(ctx, action, targets, opDef.Callbacks.Mode)
}

func (p *project) executeAll(ctx context.Context, a operation.Action, targets []*target.Target, mode operation.Mode) ([]result, error) {
	results := make([]result, len(targets))
	g := p.engine.Sched.NewGroup(ctx)
	for i, t := range targets {
		i, t := i, t
		g.Go(func(ctx context.Context) error {
			st, err := p.engine.Execute(ctx, a, t, mode)
			results[i] = result{target: t, state: st, err: err}
			return err
		})
	}
	err := g.Wait()
	return results, err
}

func (p *project) matchAll(ctx context.Context, a operation.Action, targets []*target.Target) ([]result, error) {
	results := make([]result, len(targets))
	var firstErr error
	for i, t := range targets {
		err := p.engine.MatchApply(ctx, a, t)
		results[i] = result{target: t, err: err}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return results, firstErr
	}
	if err := config.Write(p.outRoot, p.config); err != nil {
		return results, err
	}
	return results, nil
}

func targetString(t *target.Target) string {
	return fmt.Sprintf("%s{%s%s}", t.TypeName(), t.OutDir(), t.TargetName())
}
