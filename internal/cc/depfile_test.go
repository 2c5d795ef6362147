package cc_test

import (
	"reflect"
	"testing"

	"github.com/b2build/b2/internal/cc"
)

func TestParseDepfile(t *testing.T) {
	data := []byte("foo.o: foo.c foo.h \\\n  bar.h \\\n  baz/qux.h\n")
	deps, err := cc.ParseDepfile(data)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"foo.c", "foo.h", "bar.h", "baz/qux.h"}
	if !reflect.DeepEqual(deps, want) {
		t.Errorf("ParseDepfile = %v, want %v", deps, want)
	}
}

func TestParseDepfileMultipleRules(t *testing.T) {
	data := []byte("a.o: a.c a.h\nb.o: b.c a.h\n")
	deps, err := cc.ParseDepfile(data)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a.c", "a.h", "b.c", "a.h"}
	if !reflect.DeepEqual(deps, want) {
		t.Errorf("ParseDepfile = %v, want %v", deps, want)
	}
}
