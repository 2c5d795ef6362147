// Package config implements the configuration module of spec.md §4.10
// (component M): persistence of config.* variables into config.build,
// the configure/disfigure meta-operations, and environment-variable
// overrides via config.config.environment.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/b2build/b2/internal/diag"
	"github.com/b2build/b2/internal/variable"
	"github.com/google/renameio"
	"github.com/protocolbuffers/txtpbfmt/parser"
)

// Filename is the name of the persisted configuration file within a
// project's out-root (spec.md §6 "On-disk layout per project").
const Filename = "config.build"

// Saved is one variable a module has registered as "to be saved" by
// configure, per spec.md §4.10 point 2. Module records which module
// registered it, purely for diagnostics ("configure reports, for each
// module, which variables it saves" — SPEC_FULL.md supplement from
// build2/config/operation.cxx).
type Saved struct {
	Module   string
	Name     string
	Value    variable.Value
}

// Registrar tracks, per module, which variables configure should persist.
// One Registrar lives on each project root scope.
type Registrar struct {
	entries []Saved
	byName  map[string]int
}

// NewRegistrar constructs an empty Registrar.
func NewRegistrar() *Registrar {
	return &Registrar{byName: make(map[string]int)}
}

// Save registers (or updates) the value to persist for name, attributing
// it to module.
func (r *Registrar) Save(module, name string, v variable.Value) {
	if i, ok := r.byName[name]; ok {
		r.entries[i].Value = v
		return
	}
	r.byName[name] = len(r.entries)
	r.entries = append(r.entries, Saved{Module: module, Name: name, Value: v})
}

// ByModule groups the registered entries by module, in registration order
// within each module. The result is a map, so it carries no order across
// modules.
func (r *Registrar) ByModule() map[string][]Saved {
	out := make(map[string][]Saved)
	for _, e := range r.entries {
		out[e.Module] = append(out[e.Module], e)
	}
	return out
}

// Entries returns every registered entry in registration order.
func (r *Registrar) Entries() []Saved {
	return append([]Saved(nil), r.entries...)
}

// Write persists reg's entries to config.build under outRoot, formatted
// canonically via txtpbfmt and written atomically via renameio so a crash
// mid-write can never leave a half-written config.build behind (spec.md §8
// scenario 6's concurrency guarantee, applied to configuration persistence
// rather than the depdb).
func Write(outRoot string, reg *Registrar) error {
	modules := make([]string, 0)
	grouped := reg.ByModule()
	for m := range grouped {
		modules = append(modules, m)
	}
	sort.Strings(modules)

	var sb strings.Builder
	sb.WriteString("# This file is auto-generated. To make changes, run `b2 configure`.\n\n")
	for _, m := range modules {
		fmt.Fprintf(&sb, "# Module %s\n", m)
		for _, e := range grouped[m] {
			fmt.Fprintf(&sb, "%s = %s\n", e.Name, quoteIfNeeded(e.Value.String()))
		}
		sb.WriteString("\n")
	}

	formatted, err := parser.Format([]byte(sb.String()))
	if err != nil {
		// txtpbfmt expects proto-message-shaped text; our assignment lines
		// are not, so a formatting failure is expected for some inputs.
		// Fall back to the unformatted text rather than fail configure.
		formatted = []byte(sb.String())
	}

	path := filepath.Join(outRoot, Filename)
	t, err := renameio.TempFile("", path)
	if err != nil {
		return diag.Errorf(diag.Filesystem, diag.Location{}, "config: %w", err)
	}
	defer t.Cleanup()
	if _, err := t.Write(formatted); err != nil {
		return diag.Errorf(diag.Filesystem, diag.Location{}, "config: %w", err)
	}
	return t.CloseAtomicallyReplace()
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\"") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

// Load reads outRoot/config.build (spec.md §4.10 point 1: "loading
// config.build ... before the first buildfile is sourced"), parsing simple
// "name = value" / "name += value" lines into pool, and returns the
// resulting Map. Only config.build itself is read: files named by
// config.config.load are not loaded.
func Load(outRoot string, pool *variable.Pool) (*variable.Map, error) {
	m := variable.NewMap()
	path := filepath.Join(outRoot, Filename)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, diag.Errorf(diag.Driver, diag.Location{}, "project not configured (missing %s)", path)
		}
		return nil, diag.Errorf(diag.Filesystem, diag.Location{}, "config: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, val, op, ok := splitAssign(line)
		if !ok {
			continue
		}
		v := pool.Intern(name)
		raw := variable.Value{Kind: variable.String, S: unquote(val)}
		switch op {
		case "+=":
			m.Append(v, raw)
		default:
			m.Set(v, raw)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, diag.Errorf(diag.Filesystem, diag.Location{}, "config: %w", err)
	}
	return m, nil
}

func splitAssign(line string) (name, val, op string, ok bool) {
	for _, candidate := range []string{"+=", "=+", "="} {
		if i := strings.Index(line, candidate); i >= 0 {
			return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+len(candidate):]), candidate, true
		}
	}
	return "", "", "", false
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
	}
	return s
}

// Environment merges config.config.environment (a space-separated list of
// NAME or NAME=value entries) into base, the ambient process environment,
// per spec.md §4.10 point 4.
func Environment(base []string, configEnv string) []string {
	if configEnv == "" {
		return base
	}
	out := append([]string(nil), base...)
	for _, entry := range strings.Fields(configEnv) {
		if strings.Contains(entry, "=") {
			out = append(out, entry)
			continue
		}
		if v, ok := os.LookupEnv(entry); ok {
			out = append(out, entry+"="+v)
		}
	}
	return out
}

// Disfigure removes outRoot/config.build, the symmetric operation to
// configure (spec.md §4.10 point 3). Per the round-trip law of spec.md §8,
// callers are responsible for having also removed anything else configure
// caused to be written (e.g. any generated root.build artifacts); Disfigure
// itself only ever touches config.build.
func Disfigure(outRoot string) error {
	path := filepath.Join(outRoot, Filename)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return diag.Errorf(diag.Filesystem, diag.Location{}, "disfigure: %w", err)
	}
	return nil
}
