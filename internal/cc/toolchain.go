package cc

import (
	"context"
	"os/exec"
	"regexp"
	"strings"

	"github.com/b2build/b2/internal/diag"
)

// ID names a recognized compiler family, mirroring build2's compiler-id
// enumeration (libbuild2/bin/guess.cxx, recovered from original_source/).
type ID int

const (
	Unknown ID = iota
	GCC
	Clang
)

func (id ID) String() string {
	switch id {
	case GCC:
		return "gcc"
	case Clang:
		return "clang"
	default:
		return "unknown"
	}
}

// Toolchain is the result of the compiler-guess step: everything a compile
// or link rule needs to know about the compiler before it can run, found
// once per project and held by that project's Module rather than re-probed
// per target (spec.md §9 design note: expensive one-time discovery belongs
// at load, not at match/apply).
type Toolchain struct {
	Path    string // the resolved compiler executable, e.g. "/usr/bin/cc"
	ID      ID
	Version string
	Target  string // GNU target triplet, e.g. "x86_64-pc-linux-gnu"

	// AR is the archiver, resolved alongside the compiler (build2 guesses
	// it from the same toolchain family rather than asking separately). No
	// rule in this package invokes it.
	AR string
}

var versionRe = regexp.MustCompile(`(?:gcc|clang) version ([0-9][0-9.]*)`)

// Guess runs cc (the compiler name or absolute path, e.g. from the CC
// environment variable or a project default of "cc") to determine its
// identity, version and target triplet, the way build2's guess.cxx probes
// -v/-dumpmachine output once per toolchain rather than trusting a
// hardcoded table. Network- and filesystem-free beyond exec.LookPath and
// running the compiler itself.
func Guess(ctx context.Context, cc string) (*Toolchain, error) {
	resolved, err := exec.LookPath(cc)
	if err != nil {
		return nil, diag.Errorf(diag.Driver, diag.Location{}, "cc: resolve compiler %q: %w", cc, err)
	}

	machine, err := runTrim(ctx, resolved, "-dumpmachine")
	if err != nil {
		return nil, diag.Errorf(diag.Driver, diag.Location{}, "cc: %s -dumpmachine: %w", resolved, err)
	}

	// "cc -v" prints its identifying banner to stderr for both gcc and
	// clang; "--version"'s first line is easier to parse but some
	// cross-wrappers only honor -v.
	verbose, err := runCombined(ctx, resolved, "-v")
	if err != nil {
		return nil, diag.Errorf(diag.Driver, diag.Location{}, "cc: %s -v: %w", resolved, err)
	}

	tc := &Toolchain{Path: resolved, Target: machine}
	lower := strings.ToLower(verbose)
	switch {
	case strings.Contains(lower, "clang"):
		tc.ID = Clang
	case strings.Contains(lower, "gcc") || strings.Contains(lower, "gnu"):
		tc.ID = GCC
	default:
		tc.ID = Unknown
	}
	if m := versionRe.FindStringSubmatch(lower); m != nil {
		tc.Version = m[1]
	}

	tc.AR = guessAR(resolved)
	return tc, nil
}

// guessAR derives the archiver path from the compiler path the way a
// cross-toolchain's prefix (e.g. "aarch64-linux-gnu-gcc") implies
// "aarch64-linux-gnu-ar"; falls back to the bare "ar" found on PATH.
func guessAR(ccPath string) string {
	base := ccPath
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndex(base, "gcc"); i > 0 {
		if ar, err := exec.LookPath(base[:i] + "ar"); err == nil {
			return ar
		}
	}
	if i := strings.LastIndex(base, "clang"); i > 0 {
		if ar, err := exec.LookPath(base[:i] + "ar"); err == nil {
			return ar
		}
	}
	if ar, err := exec.LookPath("ar"); err == nil {
		return ar
	}
	return "ar"
}

func runTrim(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func runCombined(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	// Leave Stdin unset (os/exec then reads from the null device): "-v"
	// with no input files must never block waiting on a terminal.
	out, err := cmd.CombinedOutput()
	if err != nil {
		// gcc/clang exit 1 for "-v" with no input file on some versions;
		// the banner is still on stderr/stdout either way, so only treat
		// a genuinely empty result as failure.
		if len(out) == 0 {
			return "", err
		}
	}
	return string(out), nil
}
