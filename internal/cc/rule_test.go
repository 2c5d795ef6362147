package cc_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/b2build/b2/internal/cc"
	"github.com/b2build/b2/internal/operation"
	"github.com/b2build/b2/internal/rule"
	"github.com/b2build/b2/internal/scope"
	"github.com/b2build/b2/internal/target"
	"github.com/b2build/b2/internal/variable"
	"github.com/b2build/b2/name"
	"github.com/b2build/b2/path"
)

func newTestModule(t *testing.T) *cc.Module {
	t.Helper()
	ccPath, err := exec.LookPath("cc")
	if err != nil {
		t.Skip("no cc on PATH")
	}
	tc, err := cc.Guess(context.Background(), ccPath)
	if err != nil {
		t.Skipf("cc.Guess: %v", err)
	}
	pool := variable.NewPool()
	return &cc.Module{
		Toolchain: tc,
		Vars:      cc.NewVars(pool),
		PC:        &cc.Resolver{},
		Types:     cc.NewTypes(),
	}
}

func newTarget(root *scope.Scope, typ *target.Type, dir, name, ext string) *target.Target {
	return target.New(typ, path.NewDir(dir), path.NewDir(dir), name, ext, root, target.Real)
}

func TestCompileRuleMatch(t *testing.T) {
	mod := newTestModule(t)
	root := scope.New(path.NewDir("/out"), nil)
	root.MarkRoot("build")

	r := &cc.CompileRule{Module: mod}
	obj := newTarget(root, mod.Types.Obj, "/out", "foo", "o")
	obj.SetPrerequisites([]rule.Prerequisite{{Type: "src", Ext: "c", Dir: path.NewDir("/src"), Name: mustName("foo")}})

	got, err := r.Match(context.Background(), operation.Action{}, obj)
	if err != nil {
		t.Fatal(err)
	}
	if !got {
		t.Errorf("Match = false, want true for obj target with a src prerequisite")
	}

	exe := newTarget(root, mod.Types.Exe, "/out", "foo", "")
	got, err = r.Match(context.Background(), operation.Action{}, exe)
	if err != nil {
		t.Fatal(err)
	}
	if got {
		t.Errorf("Match = true for an exe target, want false")
	}
}

func TestCompileAndLinkEndToEnd(t *testing.T) {
	mod := newTestModule(t)
	tmp := t.TempDir()
	srcDir := filepath.Join(tmp, "src")
	outDir := filepath.Join(tmp, "out")
	if err := os.MkdirAll(srcDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		t.Fatal(err)
	}
	srcFile := filepath.Join(srcDir, "main.c")
	if err := os.WriteFile(srcFile, []byte("int main(void) { return 0; }\n"), 0644); err != nil {
		t.Fatal(err)
	}

	root := scope.New(path.NewDir(outDir), nil)
	root.MarkRoot("build")

	srcType := mod.Types.Src
	srcTarget := newTarget(root, srcType, srcDir, "main", "c")

	objTarget := newTarget(root, mod.Types.Obj, outDir, "main", "o")
	objTarget.SetPrerequisites([]rule.Prerequisite{{Type: "src", Ext: "c", Dir: path.NewDir(srcDir), Name: mustName("main")}})

	exeTarget := newTarget(root, mod.Types.Exe, outDir, "app", "")
	exeTarget.SetPrerequisites([]rule.Prerequisite{{Type: "obj", Dir: path.NewDir(outDir), Name: mustName("main")}})

	search := func(ctx context.Context, p rule.Prerequisite) (rule.Target, error) {
		switch p.Type {
		case "src":
			return srcTarget, nil
		case "obj":
			return objTarget, nil
		}
		t.Fatalf("unexpected prerequisite type %q", p.Type)
		return nil, nil
	}

	compile := &cc.CompileRule{Module: mod}
	recipe, err := compile.Apply(context.Background(), operation.Action{}, objTarget, search)
	if err != nil {
		t.Fatalf("CompileRule.Apply: %v", err)
	}
	if _, err := recipe(context.Background(), operation.Action{}, objTarget); err != nil {
		t.Fatalf("compile recipe: %v", err)
	}
	objPath := filepath.Join(outDir, "main.o")
	if _, err := os.Stat(objPath); err != nil {
		t.Fatalf("object not produced: %v", err)
	}

	link := &cc.LinkRule{Module: mod}
	linkRecipe, err := link.Apply(context.Background(), operation.Action{}, exeTarget, search)
	if err != nil {
		t.Fatalf("LinkRule.Apply: %v", err)
	}
	if _, err := linkRecipe(context.Background(), operation.Action{}, exeTarget); err != nil {
		t.Fatalf("link recipe: %v", err)
	}
	exePath := filepath.Join(outDir, "app")
	if info, err := os.Stat(exePath); err != nil || info.Mode()&0111 == 0 {
		t.Fatalf("executable not produced at %s: %v", exePath, err)
	}

	// Recompiling without touching the source must be a no-op (depdb hit).
	state, err := recipe(context.Background(), operation.Action{}, objTarget)
	if err != nil {
		t.Fatalf("second compile recipe: %v", err)
	}
	if state.String() != "unchanged" {
		t.Errorf("second compile state = %s, want unchanged", state)
	}
}

func mustName(v string) name.Name {
	return name.Name{Value: v}
}

func TestSharedLibDepsOnSelfBuiltExe(t *testing.T) {
	mod := newTestModule(t)
	if _, err := exec.LookPath("ldd"); err != nil {
		t.Skip("no ldd on PATH")
	}
	tmp := t.TempDir()
	srcFile := filepath.Join(tmp, "main.c")
	if err := os.WriteFile(srcFile, []byte("int main(void) { return 0; }\n"), 0644); err != nil {
		t.Fatal(err)
	}
	exePath := filepath.Join(tmp, "app")
	cmd := exec.Command(mod.Toolchain.Path, srcFile, "-o", exePath)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("building test fixture: %v\n%s", err, out)
	}

	deps, err := cc.SharedLibDeps(context.Background(), "", exePath)
	if err != nil {
		t.Fatalf("SharedLibDeps: %v", err)
	}
	for _, d := range deps {
		if _, err := os.Stat(d); err != nil {
			t.Errorf("reported dependency %s does not exist: %v", d, err)
		}
	}
}
