package script_test

import (
	"testing"

	"github.com/b2build/b2/internal/script"
)

func kinds(lines []*script.Line) []script.LineKind {
	out := make([]script.LineKind, len(lines))
	for i, l := range lines {
		out[i] = l.Kind
	}
	return out
}

func TestParseCommandsAndAssign(t *testing.T) {
	lines, err := script.Parse("test", "x=foo\necho $x\n")
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[0].Kind != script.LineAssign {
		t.Errorf("line 0 kind = %s, want assign", lines[0].Kind)
	}
	if lines[1].Kind != script.LineCommand {
		t.Errorf("line 1 kind = %s, want command", lines[1].Kind)
	}
}

func TestParseIfElseChain(t *testing.T) {
	src := `if true
  echo yes
elif false
  echo maybe
else
  echo no
end
`
	lines, err := script.Parse("test", src)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 || lines[0].Kind != script.LineIf {
		t.Fatalf("got %v, want a single if line", kinds(lines))
	}
	elif := lines[0].Else
	if len(elif) != 1 || elif[0].Kind != script.LineIf {
		t.Fatalf("elif arm kind = %v, want LineIf (elif and if share a kind)", elif)
	}
	els := elif[0].Else
	if len(els) != 1 || els[0].Kind != script.LineElse {
		t.Fatalf("final arm kind = %v, want LineElse", els)
	}
}

func TestParseWhileAndFor(t *testing.T) {
	lines, err := script.Parse("test", "while test -f x\n  echo tick\nend\nfor f: a b c\n  echo $f\nend\n")
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[0].Kind != script.LineWhile {
		t.Errorf("line 0 kind = %s, want while", lines[0].Kind)
	}
	if lines[1].Kind != script.LineFor {
		t.Errorf("line 1 kind = %s, want for", lines[1].Kind)
	}
	if len(lines[1].Block) != 1 {
		t.Errorf("for body has %d lines, want 1", len(lines[1].Block))
	}
}

func TestParseHereDoc(t *testing.T) {
	src := "cat <<EOF >out\nhello\nworld\nEOF\n"
	lines, err := script.Parse("test", src)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	body, ok := lines[0].HereDocs["EOF"]
	if !ok {
		t.Fatalf("no here-doc captured for marker EOF")
	}
	if body != "hello\nworld\n" {
		t.Errorf("here-doc body = %q, want %q", body, "hello\nworld\n")
	}
}

func TestParseUnterminatedIfIsError(t *testing.T) {
	if _, err := script.Parse("test", "if true\n  echo x\n"); err == nil {
		t.Fatal("expected an error for a missing end")
	}
}
