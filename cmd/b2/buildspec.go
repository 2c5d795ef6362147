package main

import (
	"fmt"
	"strings"

	"github.com/b2build/b2/internal/lang"
	"github.com/b2build/b2/name"
	"github.com/b2build/b2/path"
)

// targetSpec is one buildspec operand: a (possibly paired) target name
// plus an optional "@src-base" override of the scope it is resolved in
// (spec.md §6 "target@src-base").
type targetSpec struct {
	names   []name.Name
	srcBase path.Dir
	hasSrc  bool
}

// request is one parsed buildspec clause: "meta-op(op(targets, ...))" with
// Meta defaulted to "perform" by the op(...) and bare-target-list sugar
// forms spec.md §6 describes.
type request struct {
	meta    string
	op      string
	targets []targetSpec
}

// parseBuildspecs parses every CLI operand (after option/override removal)
// as one buildspec clause each.
func parseBuildspecs(args []string) ([]request, error) {
	if len(args) == 0 {
		return []request{{meta: "perform", op: "update", targets: []targetSpec{{names: []name.Name{{Value: "."}}}}}}, nil
	}
	reqs := make([]request, 0, len(args))
	for _, a := range args {
		r, err := parseBuildspec(a)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, nil
}

// parseBuildspec implements spec.md §6's grammar:
//
//	buildspec-arg := meta-op '(' op '(' targets ')' ')'
//	               | op '(' targets ')'
//	               | targets
func parseBuildspec(s string) (request, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return request{}, fmt.Errorf("buildspec: empty operand")
	}

	ident, body, hasParen := splitIdentParen(s)
	if !hasParen {
		targets, err := parseTargets(s)
		if err != nil {
			return request{}, err
		}
		return request{meta: "perform", op: "update", targets: targets}, nil
	}

	if ident2, body2, hasParen2 := splitIdentParen(body); hasParen2 && ident2 != "" {
		targets, err := parseTargets(body2)
		if err != nil {
			return request{}, err
		}
		return request{meta: ident, op: ident2, targets: targets}, nil
	}

	targets, err := parseTargets(body)
	if err != nil {
		return request{}, err
	}
	return request{meta: "perform", op: ident, targets: targets}, nil
}

// splitIdentParen splits "ident(body)" into ("ident", "body", true), or
// reports hasParen == false if s is not of that shape (a bare target
// list).
func splitIdentParen(s string) (ident, body string, hasParen bool) {
	i := 0
	for i < len(s) && isIdentByte(s[i]) {
		i++
	}
	if i == 0 {
		return "", s, false
	}
	rest := strings.TrimSpace(s[i:])
	if !strings.HasPrefix(rest, "(") || !strings.HasSuffix(rest, ")") {
		return "", s, false
	}
	return s[:i], strings.TrimSpace(rest[1 : len(rest)-1]), true
}

func isIdentByte(b byte) bool {
	return b == '-' || b == '_' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// parseTargets splits a comma-separated target list, honoring braces (so
// "hdr{foo,bar}" is not split on the comma it contains) and the optional
// "@src-base" suffix on each field.
func parseTargets(s string) ([]targetSpec, error) {
	var out []targetSpec
	for _, field := range splitTopLevel(s, ',') {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		spec := targetSpec{}
		if i := strings.LastIndexByte(field, '@'); i >= 0 {
			spec.srcBase = path.NewDir(strings.TrimSpace(field[i+1:]))
			spec.hasSrc = true
			field = field[:i]
		}
		spec.names = lang.ParseName(field)
		if len(spec.names) == 0 {
			return nil, fmt.Errorf("buildspec: invalid target %q", field)
		}
		out = append(out, spec)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("buildspec: empty target list")
	}
	return out, nil
}

// splitTopLevel splits s on sep, skipping occurrences nested inside {...}.
func splitTopLevel(s string, sep byte) []string {
	var out []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
		case sep:
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}
