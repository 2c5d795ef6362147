package algo

import (
	"os"

	"github.com/b2build/b2/internal/depdb"
	"github.com/b2build/b2/internal/rule"
	"github.com/b2build/b2/internal/target"
	"github.com/b2build/b2/internal/tstate"
	"github.com/b2build/b2/path"
)

// PerformCleanDepdb implements spec.md §4.6's standard clean recipe for
// path-based targets: remove the output, the depdb, any ad-hoc members,
// and try to remove the injected fsdir{}. No rule in the cc or install
// modules registers it as a clean recipe.
func PerformCleanDepdb(output path.File, t *target.Target) (tstate.State, error) {
	removedAny := false

	remove := func(p string) error {
		err := os.Remove(p)
		if err == nil {
			removedAny = true
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if err := remove(output.String()); err != nil {
		return tstate.Failed, err
	}
	if err := remove(depdb.PathFor(output.String())); err != nil {
		return tstate.Failed, err
	}

	for _, m := range t.Members() {
		mo := path.NewFileIn(m.OutDir(), m.TargetName()+extSuffix(m.TargetExt()))
		if err := remove(mo.String()); err != nil {
			return tstate.Failed, err
		}
		if err := remove(depdb.PathFor(mo.String())); err != nil {
			return tstate.Failed, err
		}
	}

	// Try to remove the fsdir{} this target's output directory was created
	// under, ignoring failure: it is shared with siblings and will only
	// actually disappear once they are all gone (spec.md §4.6
	// "perform_clean_depdb ... try to remove the injected fsdir{}").
	_ = os.Remove(output.Dir().Raw())

	if !removedAny {
		return tstate.Unchanged, nil
	}
	return tstate.Changed, nil
}

func extSuffix(ext string) string {
	if ext == "" {
		return ""
	}
	return "." + ext
}

var _ rule.Recipe // documents that PerformCleanDepdb is meant to back one
