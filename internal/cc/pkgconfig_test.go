package cc_test

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/b2build/b2/internal/cc"
)

func TestParsePC(t *testing.T) {
	dir := t.TempDir()
	pc := filepath.Join(dir, "foo.pc")
	content := "prefix=/usr\n" +
		"includedir=${prefix}/include\n" +
		"\n" +
		"Name: foo\n" +
		"Cflags: -I${includedir} -DFOO=1\n" +
		"Libs: -L${prefix}/lib -lfoo\n" +
		"Requires: bar >= 1.0, baz\n"
	if err := os.WriteFile(pc, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	pkg, err := cc.ParsePC(pc)
	if err != nil {
		t.Fatal(err)
	}
	if pkg.Name != "foo" {
		t.Errorf("Name = %q, want foo", pkg.Name)
	}
	wantCflags := []string{"-I/usr/include", "-DFOO=1"}
	if !reflect.DeepEqual(pkg.Cflags, wantCflags) {
		t.Errorf("Cflags = %v, want %v", pkg.Cflags, wantCflags)
	}
	wantLibs := []string{"-L/usr/lib", "-lfoo"}
	if !reflect.DeepEqual(pkg.Libs, wantLibs) {
		t.Errorf("Libs = %v, want %v", pkg.Libs, wantLibs)
	}
	wantReq := []string{"bar", "baz"}
	if !reflect.DeepEqual(pkg.Requires, wantReq) {
		t.Errorf("Requires = %v, want %v", pkg.Requires, wantReq)
	}
}

func TestResolverResolveFromSearchPath(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.pc")
	if err := os.WriteFile(base, []byte("Name: base\nCflags: -DBASE\nLibs: -lbase\n"), 0644); err != nil {
		t.Fatal(err)
	}
	top := filepath.Join(dir, "top.pc")
	if err := os.WriteFile(top, []byte("Name: top\nCflags: -DTOP\nLibs: -ltop\nRequires: base\n"), 0644); err != nil {
		t.Fatal(err)
	}

	r := &cc.Resolver{SearchPath: []string{dir}}
	cflags, libs, err := r.Resolve(context.Background(), "top")
	if err != nil {
		t.Fatal(err)
	}
	wantCflags := []string{"-DTOP", "-DBASE"}
	if !reflect.DeepEqual(cflags, wantCflags) {
		t.Errorf("cflags = %v, want %v", cflags, wantCflags)
	}
	wantLibs := []string{"-ltop", "-lbase"}
	if !reflect.DeepEqual(libs, wantLibs) {
		t.Errorf("libs = %v, want %v", libs, wantLibs)
	}
}
