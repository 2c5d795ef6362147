package script_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/b2build/b2/internal/script"
)

func run(t *testing.T, wd, src string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("assumes a POSIX shell toolchain")
	}
	lines, err := script.Parse(t.Name(), src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	sc := script.NewRootScope(wd)
	ex := script.NewExecutor()
	if err := ex.Run(context.Background(), sc, lines); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestExecAssignAndFileRedirect(t *testing.T) {
	wd := t.TempDir()
	run(t, wd, "msg=hello\necho $msg >out.txt\n")

	got, err := os.ReadFile(filepath.Join(wd, "out.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello\n" {
		t.Errorf("out.txt = %q, want %q", got, "hello\n")
	}
}

func TestExecAppendRedirect(t *testing.T) {
	wd := t.TempDir()
	run(t, wd, "echo one >out.txt\necho two >>out.txt\n")

	got, err := os.ReadFile(filepath.Join(wd, "out.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "one\ntwo\n" {
		t.Errorf("out.txt = %q, want %q", got, "one\ntwo\n")
	}
}

func TestExecIfTrueFalse(t *testing.T) {
	wd := t.TempDir()
	run(t, wd, "if true\n  echo yes >out.txt\nelse\n  echo no >out.txt\nend\n")

	got, err := os.ReadFile(filepath.Join(wd, "out.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "yes\n" {
		t.Errorf("out.txt = %q, want %q", got, "yes\n")
	}
}

func TestExecForLoop(t *testing.T) {
	wd := t.TempDir()
	run(t, wd, "for x: a b c\n  echo $x >>out.txt\nend\n")

	got, err := os.ReadFile(filepath.Join(wd, "out.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "a\nb\nc\n" {
		t.Errorf("out.txt = %q, want %q", got, "a\nb\nc\n")
	}
}

func TestExecHereDoc(t *testing.T) {
	wd := t.TempDir()
	run(t, wd, "cat <<EOF >out.txt\nline1\nline2\nEOF\n")

	got, err := os.ReadFile(filepath.Join(wd, "out.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "line1\nline2\n" {
		t.Errorf("out.txt = %q, want %q", got, "line1\nline2\n")
	}
}

func TestExecCommandFailureStopsRun(t *testing.T) {
	wd := t.TempDir()
	if runtime.GOOS == "windows" {
		t.Skip("assumes a POSIX shell toolchain")
	}
	lines, err := script.Parse(t.Name(), "false\necho unreached >out.txt\n")
	if err != nil {
		t.Fatal(err)
	}
	sc := script.NewRootScope(wd)
	ex := script.NewExecutor()
	if err := ex.Run(context.Background(), sc, lines); err == nil {
		t.Fatal("expected an error from the failing command")
	}
	if _, err := os.Stat(filepath.Join(wd, "out.txt")); !os.IsNotExist(err) {
		t.Errorf("out.txt should not have been created")
	}
}

func TestScopeEffectiveDeadline(t *testing.T) {
	root := script.NewRootScope("/tmp")
	child := root.Child(script.ScopeGroup, "/tmp")
	if !child.EffectiveDeadline().IsZero() {
		t.Fatalf("expected no deadline by default")
	}
}

func TestCleanup(t *testing.T) {
	wd := t.TempDir()
	f := filepath.Join(wd, "scratch")
	if err := os.WriteFile(f, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	sc := script.NewRootScope(wd)
	sc.AddCleanup(script.Cleanup{Path: f, Kind: script.CleanupAlways})
	if err := script.RunCleanups(sc); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(f); !os.IsNotExist(err) {
		t.Errorf("scratch file should have been removed")
	}
}
