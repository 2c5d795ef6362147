// Package name implements Name, the qualified-identifier currency of the
// buildfile language (spec.md §3 "Name").
package name

import (
	"strings"

	"github.com/b2build/b2/path"
)

// Name is a qualified identifier of the form
//
//	[proj%] [dir/] [type{] value [.ext] [}]
//
// used throughout the buildfile language: as a target name, as a
// prerequisite reference, and as the argument to import(). Proj is empty
// for an unqualified (same-project) name. Pair is set when the name was
// written with the pair-separator flag (e.g. "hdr{foo.hxx foo.ixx}" has two
// paired names sharing a type and directory).
type Name struct {
	Proj string    // e.g. "libhello" in "libhello%foo"
	Dir  path.Dir  // e.g. "src/" in "src/hxx{foo}"
	Type string    // e.g. "hxx" in "hxx{foo}"; empty if untyped
	Value string   // e.g. "foo"
	Ext   string    // e.g. "hxx" in "foo.hxx"; empty if unspecified
	// ExplicitNoExt is set when the name's extension was written as the
	// explicit empty-extension form "{}", selecting the extensionless
	// target rather than leaving the extension to be defaulted.
	ExplicitNoExt bool
	Pair          bool
}

// String renders n in its canonical surface syntax.
func (n Name) String() string {
	var b strings.Builder
	if n.Proj != "" {
		b.WriteString(n.Proj)
		b.WriteByte('%')
	}
	if !n.Dir.IsRoot() {
		b.WriteString(n.Dir.String())
	}
	if n.Type != "" {
		b.WriteString(n.Type)
		b.WriteByte('{')
	}
	b.WriteString(n.Value)
	if n.Ext != "" {
		b.WriteByte('.')
		b.WriteString(n.Ext)
	}
	if n.Type != "" {
		b.WriteByte('}')
	}
	return b.String()
}

// Qualified reports whether n names a target in another project.
func (n Name) Qualified() bool { return n.Proj != "" }

// Untyped reports whether n carries no explicit target type.
func (n Name) Untyped() bool { return n.Type == "" }

// WithDefaultExt returns a copy of n with ext substituted whenever n.Ext is
// unset. An explicitly empty extension (the "{}" syntax, represented by
// ExplicitNoExt) is left alone: it selects the extensionless target on
// purpose, and must not be defaulted.
func (n Name) WithDefaultExt(ext string) Name {
	if n.Ext != "" || n.ExplicitNoExt {
		return n
	}
	n.Ext = ext
	return n
}
