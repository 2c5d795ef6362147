package functions_test

import (
	"context"
	"testing"

	"github.com/b2build/b2/internal/functions"
	"github.com/b2build/b2/internal/variable"
)

func TestRegexFamily(t *testing.T) {
	tbl := functions.NewTable()
	ctx := context.Background()

	match, err := tbl.Call(ctx, "regex.match", []variable.Value{str("foo123"), str(`^foo\d+$`)})
	if err != nil {
		t.Fatal(err)
	}
	if !match.B {
		t.Errorf("regex.match foo123 = %v, want true", match.B)
	}

	replaced, err := tbl.Call(ctx, "regex.replace", []variable.Value{str("foo123"), str(`(\d+)`), str("[$1]")})
	if err != nil {
		t.Fatal(err)
	}
	if replaced.String() != "foo[123]" {
		t.Errorf("regex.replace = %q, want %q", replaced.String(), "foo[123]")
	}

	split, err := tbl.Call(ctx, "regex.split", []variable.Value{str("a,b,,c"), str(",")})
	if err != nil {
		t.Fatal(err)
	}
	wantSplit := []string{"a", "b", "", "c"}
	if len(split.Strs) != len(wantSplit) {
		t.Fatalf("regex.split = %v, want %v", split.Strs, wantSplit)
	}
	for i := range wantSplit {
		if split.Strs[i] != wantSplit[i] {
			t.Errorf("regex.split[%d] = %q, want %q", i, split.Strs[i], wantSplit[i])
		}
	}
}

func TestAlphabetCanonicalizeIsStable(t *testing.T) {
	a := functions.NewAlphabet()

	c1s, offsets1 := a.Canonicalize([]string{"foo", "bar", "foo"})
	c1 := []rune(c1s)
	if len(c1) != 3 {
		t.Fatalf("canonical length = %d runes, want 3", len(c1))
	}
	if c1[0] != c1[2] {
		t.Errorf("repeated symbol %q canonicalized inconsistently: %q != %q", "foo", string(c1[0]), string(c1[2]))
	}
	if c1[0] == c1[1] {
		t.Errorf("distinct symbols %q and %q canonicalized to the same rune", offsets1[0], offsets1[1])
	}

	// Re-canonicalizing the same alphabet instance must reuse prior runes
	// rather than reassigning them.
	c2s, _ := a.Canonicalize([]string{"foo"})
	c2 := []rune(c2s)
	if c2[0] != c1[0] {
		t.Errorf("Canonicalize not stable across calls: %q != %q", string(c2[0]), string(c1[0]))
	}
}

func TestAlphabetMatch(t *testing.T) {
	a := functions.NewAlphabet()
	symbols := []string{"START", "read", "read", "STOP"}
	pattern, _ := a.Canonicalize([]string{"START", "read", "read", "STOP"})

	ok, err := a.Match(pattern, symbols)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Errorf("Match = false, want true")
	}

	ok, err = a.Match(pattern, []string{"START", "STOP"})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Errorf("Match = true for a differently-shaped symbol sequence, want false")
	}
}
