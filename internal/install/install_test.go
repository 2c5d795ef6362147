package install_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/b2build/b2/internal/install"
	"github.com/b2build/b2/internal/operation"
	"github.com/b2build/b2/internal/scope"
	"github.com/b2build/b2/internal/target"
	"github.com/b2build/b2/internal/variable"
	"github.com/b2build/b2/path"
)

func TestSubst(t *testing.T) {
	cases := []struct {
		raw     string
		private bool
		want    string
	}{
		{"share/<project>/", false, "share/myapp/"},
		{"lib/<project>-<version>/", false, "lib/myapp-1.2/"},
		{"opt/<private>/bin/", true, "opt/myapp/bin/"},
		{"opt/<private>/bin/", false, "opt//bin/"},
	}
	for _, c := range cases {
		got := install.Subst(c.raw, "myapp", "1.2", c.private)
		if got != c.want {
			t.Errorf("Subst(%q, private=%v) = %q, want %q", c.raw, c.private, got, c.want)
		}
	}
}

func TestVarsInitDoesNotOverrideExisting(t *testing.T) {
	pool := variable.NewPool()
	v := install.NewVars(pool)
	root := scope.New(path.NewDir("/out"), nil)

	custom := variable.Value{Kind: variable.String, S: "custom-bin/"}
	root.Vars.Set(pool.Intern("install.bin"), custom)

	v.Init(root, "myapp", "1.0", false)

	got, _ := root.Vars.Get(pool.Intern("install.bin"))
	if diff := cmp.Diff(custom.String(), got.String()); diff != "" {
		t.Errorf("install.bin overridden by Init (-want +got):\n%s", diff)
	}

	def, _ := root.Vars.Get(pool.Intern("install.lib"))
	if def.String() != "lib/" {
		t.Errorf("install.lib default = %q, want %q", def.String(), "lib/")
	}
}

func newFileType() *target.Type {
	return &target.Type{Name: "file"}
}

func TestRuleMatch(t *testing.T) {
	pool := variable.NewPool()
	v := install.NewVars(pool)
	root := scope.New(path.NewDir("/out"), nil)
	root.MarkRoot("build")
	v.Init(root, "myapp", "1.0", false)

	ft := newFileType()
	ops := operation.NewTable()
	ops.Register(operation.OpInstall, operation.Callbacks{Mode: operation.First})
	ops.Register(operation.OpUninstall, operation.Callbacks{Mode: operation.Last})
	r := install.NewRule(ops, v, "myapp", "1.0", false)

	cases := []struct {
		name string
		val  variable.Value
		want bool
	}{
		{"unset", variable.Nil, false},
		{"false", variable.Value{Kind: variable.String, S: "false"}, false},
		{"bin", variable.Value{Kind: variable.String, S: "bin"}, true},
	}
	for _, c := range cases {
		tgt := target.New(ft, path.NewDir("/out"), path.NewDir("/src"), "prog", "", root, target.Real)
		if !c.val.IsNull() {
			tgt.Vars().Set(v.Install, c.val)
		}
		got, err := r.Match(context.Background(), operation.Action{}, tgt)
		if err != nil {
			t.Fatalf("%s: Match: %v", c.name, err)
		}
		if got != c.want {
			t.Errorf("%s: Match() = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestRuleApplyInstallsAndUninstalls(t *testing.T) {
	tmp := t.TempDir()
	outDir := filepath.Join(tmp, "out")
	if err := os.MkdirAll(outDir, 0755); err != nil {
		t.Fatal(err)
	}
	srcFile := filepath.Join(outDir, "prog")
	if err := os.WriteFile(srcFile, []byte("binary contents"), 0755); err != nil {
		t.Fatal(err)
	}

	pool := variable.NewPool()
	v := install.NewVars(pool)
	root := scope.New(path.NewDir(tmp), nil)
	root.MarkRoot("build")
	instRoot := filepath.Join(tmp, "prefix") + "/"
	root.Vars.Set(pool.Intern("install.bin"), variable.Value{Kind: variable.String, S: instRoot})

	ops := operation.NewTable()
	installDef := ops.Register(operation.OpInstall, operation.Callbacks{Mode: operation.First})
	uninstallDef := ops.Register(operation.OpUninstall, operation.Callbacks{Mode: operation.Last})
	r := install.NewRule(ops, v, "myapp", "1.0", false)

	ft := newFileType()
	tgt := target.New(ft, path.NewDir(outDir), path.NewDir(outDir), "prog", "", root, target.Real)
	tgt.Vars().Set(v.Install, variable.Value{Kind: variable.String, S: "bin"})

	installAction := operation.Action{Inner: installDef.ID}
	recipe, err := r.Apply(context.Background(), installAction, tgt, nil)
	if err != nil {
		t.Fatalf("Apply(install): %v", err)
	}
	if _, err := recipe(context.Background(), installAction, tgt); err != nil {
		t.Fatalf("install recipe: %v", err)
	}

	dest := filepath.Join(instRoot, "prog")
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading installed file: %v", err)
	}
	if diff := cmp.Diff("binary contents", string(got)); diff != "" {
		t.Errorf("installed contents (-want +got):\n%s", diff)
	}
	if fi, err := os.Stat(dest); err != nil || fi.Mode().Perm() != 0755 {
		t.Errorf("installed mode = %v, want 0755 (err %v)", fi.Mode().Perm(), err)
	}

	uninstallAction := operation.Action{Inner: uninstallDef.ID}
	recipe, err = r.Apply(context.Background(), uninstallAction, tgt, nil)
	if err != nil {
		t.Fatalf("Apply(uninstall): %v", err)
	}
	if _, err := recipe(context.Background(), uninstallAction, tgt); err != nil {
		t.Fatalf("uninstall recipe: %v", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Errorf("uninstall: dest still exists (stat err %v)", err)
	}

	// Uninstalling an already-missing file is not an error.
	if _, err := recipe(context.Background(), uninstallAction, tgt); err != nil {
		t.Errorf("uninstall of already-removed file: %v", err)
	}
}
