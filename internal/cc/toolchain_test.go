package cc_test

import (
	"context"
	"os/exec"
	"testing"

	"github.com/b2build/b2/internal/cc"
)

func TestGuess(t *testing.T) {
	ccPath, err := exec.LookPath("cc")
	if err != nil {
		t.Skip("no cc on PATH")
	}
	tc, err := cc.Guess(context.Background(), ccPath)
	if err != nil {
		t.Fatalf("Guess: %v", err)
	}
	if tc.Path == "" {
		t.Error("Path is empty")
	}
	if tc.Target == "" {
		t.Error("Target triplet is empty")
	}
	if tc.ID == cc.Unknown {
		t.Error("ID = Unknown, want GCC or Clang")
	}
}
