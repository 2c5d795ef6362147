package cc

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/b2build/b2/internal/diag"
)

// lddRe matches one "name => resolved-path" line of ldd's output. Adapted
// from the teacher's internal/build/shlibdeps.go lddRe, generalized from a
// distri-specific "/ro/<package>/..." path shape to any absolute path: this
// module has no package store to anchor against, it only needs the
// resolved file.
var lddRe = regexp.MustCompile(`^\t\S+ => (\S+)`)

// SharedLibDeps runs ldd against fn (a linked executable or shared library)
// and returns the resolved, symlink-free paths of its dynamic library
// dependencies. The link recipe calls it when linking for install
// (install.ForInstall) and writes the list to "<output>.shlibdeps"; the
// install rule does not read that file or copy the libraries it names.
func SharedLibDeps(ctx context.Context, ldd, fn string) ([]string, error) {
	if ldd == "" {
		ldd = "ldd"
	}
	cmd := exec.CommandContext(ctx, ldd, fn)
	cmd.Stderr = os.Stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, diag.Errorf(diag.Driver, diag.Location{}, "cc: %s %s: %w", ldd, fn, err)
	}

	var deps []string
	seen := map[string]bool{}
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		m := lddRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		resolved, err := filepath.EvalSymlinks(m[1])
		if err != nil {
			// A dependency ldd reports but cannot resolve (e.g. a
			// vdso-style pseudo-entry) is not a real file to copy.
			continue
		}
		if seen[resolved] {
			continue
		}
		seen[resolved] = true
		deps = append(deps, resolved)
	}
	return deps, nil
}
