// Package cc implements the C/C++ module (component O): compiler/toolchain
// guessing as a first-class step, the src/obj/exe/lib target types, and the
// compile and link rules that drive them. No repository in the pack ships a
// C/C++ build module, so the rules themselves are grounded on spec.md §4.5
// directly; the toolchain-guess step is grounded on build2's own
// libbuild2/bin/guess.cxx (recovered from original_source/ and promoted to a
// first-class operation per SPEC_FULL.md's O entry), and the supporting
// dependency-discovery helpers are adapted from the teacher's
// internal/build package (shlibdeps.go, dwarf.go) and cmd/distri's
// pkgconfig.go.
package cc

import (
	"github.com/b2build/b2/internal/target"
	"github.com/b2build/b2/internal/variable"
	"github.com/b2build/b2/name"
)

// srcExts is the set of source file extensions the src{} type recognizes.
// C and C++ sources share the one type; no language is selected per
// extension.
var srcExts = map[string]bool{
	"c": true, "cc": true, "cpp": true, "cxx": true, "C": true,
}

func extOf(n name.Name) string {
	if n.Ext != "" {
		return n.Ext
	}
	if i := lastDot(n.Value); i >= 0 {
		return n.Value[i+1:]
	}
	return ""
}

func lastDot(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}

// Types holds the target.Type values the cc module registers: src (any
// recognized C/C++ source file), obj (a compiled translation unit), exe (a
// linked executable) and lib (a linked shared library).
type Types struct {
	Src *target.Type
	Obj *target.Type
	Exe *target.Type
	Lib *target.Type
}

// NewTypes constructs the cc module's target types, wiring Src's Pattern
// function to recognize any of srcExts by extension (spec.md §3 "Target
// type": "Pattern, if non-nil, is used... to recognize a name as belonging
// to this type even without an explicit type prefix").
func NewTypes() *Types {
	t := &Types{
		Src: &target.Type{Name: "src"},
		Obj: &target.Type{Name: "obj", DefaultExt: "o"},
		Exe: &target.Type{Name: "exe"},
		Lib: &target.Type{Name: "lib", DefaultExt: "so"},
	}
	t.Src.Pattern = func(n name.Name) bool { return srcExts[extOf(n)] }
	return t
}

// Register adds t's four types to the engine's type table, keyed by name.
func (t *Types) Register(into map[string]*target.Type) {
	into[t.Src.Name] = t.Src
	into[t.Obj.Name] = t.Obj
	into[t.Exe.Name] = t.Exe
	into[t.Lib.Name] = t.Lib
}

// Vars holds the pool-interned cc.* family: poptions (preprocessor, i.e.
// -I/-D), coptions (compiler), loptions (linker), libs (extra link
// arguments) and pkgconfig (space-separated pkg-config module names to
// resolve; their Cflags are folded into poptions and their Libs into libs
// before compiling or linking), named after build2's x.poptions/x.coptions/x.loptions/x.libs
// (recovered from original_source/, since spec.md only gestures at
// "compiler/linker options" without naming the variable family).
type Vars struct {
	POptions  *variable.Variable
	COptions  *variable.Variable
	LOptions  *variable.Variable
	Libs      *variable.Variable
	PkgConfig *variable.Variable
}

// NewVars interns the cc.* family in pool.
func NewVars(pool *variable.Pool) *Vars {
	return &Vars{
		POptions:  pool.Intern("cc.poptions"),
		COptions:  pool.Intern("cc.coptions"),
		LOptions:  pool.Intern("cc.loptions"),
		Libs:      pool.Intern("cc.libs"),
		PkgConfig: pool.Intern("cc.pkgconfig"),
	}
}

// stringList reads v as a space-separated option list, tolerating both a
// plain string and a proper string-list value (a buildfile author may write
// either "cc.poptions = -I/usr/include" or a list literal).
func stringList(v variable.Value) []string {
	switch v.Kind {
	case variable.StringList:
		return append([]string{}, v.Strs...)
	case variable.String:
		return splitFields(v.S)
	default:
		return nil
	}
}

func splitFields(s string) []string {
	var out []string
	start := -1
	for i := 0; i <= len(s); i++ {
		if i < len(s) && s[i] != ' ' && s[i] != '\t' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			out = append(out, s[start:i])
			start = -1
		}
	}
	return out
}
