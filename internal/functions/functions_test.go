package functions_test

import (
	"context"
	"runtime"
	"testing"

	"github.com/b2build/b2/internal/functions"
	"github.com/b2build/b2/internal/variable"
)

func str(s string) variable.Value { return variable.Value{Kind: variable.String, S: s} }

func TestStringFamily(t *testing.T) {
	tbl := functions.NewTable()
	ctx := context.Background()

	cases := []struct {
		fn   string
		args []variable.Value
		want string
	}{
		{"string.upper", []variable.Value{str("abc")}, "ABC"},
		{"string.lower", []variable.Value{str("ABC")}, "abc"},
		{"string.trim", []variable.Value{str("  abc  ")}, "abc"},
		{"string.replace", []variable.Value{str("a.b.c"), str("."), str("_")}, "a_b_c"},
	}
	for _, c := range cases {
		got, err := tbl.Call(ctx, c.fn, c.args)
		if err != nil {
			t.Fatalf("%s: %v", c.fn, err)
		}
		if got.String() != c.want {
			t.Errorf("%s = %q, want %q", c.fn, got.String(), c.want)
		}
	}

	n, err := tbl.Call(ctx, "string.length", []variable.Value{str("abcd")})
	if err != nil {
		t.Fatal(err)
	}
	if n.U != 4 {
		t.Errorf("string.length = %d, want 4", n.U)
	}

	b, err := tbl.Call(ctx, "string.contains", []variable.Value{str("abcdef"), str("cd")})
	if err != nil {
		t.Fatal(err)
	}
	if !b.B {
		t.Errorf("string.contains = %v, want true", b.B)
	}
}

func TestPathFamily(t *testing.T) {
	tbl := functions.NewTable()
	ctx := context.Background()

	cases := []struct {
		fn   string
		args []variable.Value
		want string
	}{
		{"path.leaf", []variable.Value{str("/a/b/c.txt")}, "c.txt"},
		{"path.directory", []variable.Value{str("/a/b/c.txt")}, "/a/b"},
		{"path.extension", []variable.Value{str("/a/b/c.txt")}, "txt"},
	}
	for _, c := range cases {
		got, err := tbl.Call(ctx, c.fn, c.args)
		if err != nil {
			t.Fatalf("%s: %v", c.fn, err)
		}
		if got.String() != c.want {
			t.Errorf("%s = %q, want %q", c.fn, got.String(), c.want)
		}
	}
}

func TestUnknownFunction(t *testing.T) {
	tbl := functions.NewTable()
	if _, err := tbl.Call(context.Background(), "nope.nope", nil); err == nil {
		t.Fatal("expected an error for an unregistered function")
	}
}

func TestProcessRun(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("echo is not a standalone executable on windows")
	}
	tbl := functions.NewTable()
	got, err := tbl.Call(context.Background(), "process.run", []variable.Value{str("echo"), str("hello")})
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "hello" {
		t.Errorf("process.run echo hello = %q, want %q", got.String(), "hello")
	}
}
