package functions

import (
	"context"
	"regexp"
	"strings"

	"github.com/b2build/b2/internal/diag"
	"github.com/b2build/b2/internal/variable"
)

// regexReplace applies Perl's $1-style backreferences in repl, matching
// Go's regexp.ReplaceAll syntax ("$1"), which is what build2's own
// regex.replace documents its replacement syntax against.
func regexReplace(s, pattern, repl string) (string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", diag.Errorf(diag.Execute, diag.Location{}, "invalid regex %q: %w", pattern, err)
	}
	return re.ReplaceAllString(s, repl), nil
}

// registerRegex installs the regex.* family (SPEC_FULL.md supplement
// grounded on build2/functions-regex.cxx): match, search, replace, split
// and filter. Each takes its subject as the String() form of its first
// argument; only regex.filter works line by line, splitting that subject on
// newlines and keeping the lines that match.
func registerRegex(t *Table) {
	t.Register("regex.match", func(ctx context.Context, args []variable.Value) (variable.Value, error) {
		re, err := regexp.Compile(arg(args, 1))
		if err != nil {
			return variable.Nil, diag.Errorf(diag.Execute, diag.Location{}, "invalid regex: %w", err)
		}
		return boolVal(re.MatchString(arg(args, 0))), nil
	})
	t.Register("regex.search", func(ctx context.Context, args []variable.Value) (variable.Value, error) {
		re, err := regexp.Compile(arg(args, 1))
		if err != nil {
			return variable.Nil, diag.Errorf(diag.Execute, diag.Location{}, "invalid regex: %w", err)
		}
		m := re.FindString(arg(args, 0))
		return strVal(m), nil
	})
	t.Register("regex.replace", func(ctx context.Context, args []variable.Value) (variable.Value, error) {
		r, err := regexReplace(arg(args, 0), arg(args, 1), arg(args, 2))
		if err != nil {
			return variable.Nil, err
		}
		return strVal(r), nil
	})
	t.Register("regex.split", func(ctx context.Context, args []variable.Value) (variable.Value, error) {
		re, err := regexp.Compile(arg(args, 1))
		if err != nil {
			return variable.Nil, diag.Errorf(diag.Execute, diag.Location{}, "invalid regex: %w", err)
		}
		return strListVal(re.Split(arg(args, 0), -1)), nil
	})
	t.Register("regex.filter", func(ctx context.Context, args []variable.Value) (variable.Value, error) {
		re, err := regexp.Compile(arg(args, 1))
		if err != nil {
			return variable.Nil, diag.Errorf(diag.Execute, diag.Location{}, "invalid regex: %w", err)
		}
		lines := strings.Split(arg(args, 0), "\n")
		out := make([]string, 0, len(lines))
		for _, l := range lines {
			if re.MatchString(l) {
				out = append(out, l)
			}
		}
		return strListVal(out), nil
	})
}

// Alphabet is a custom-alphabet symbol set for the script engine's
// pattern matching (spec.md §4.11 "custom-alphabet regex matching"),
// grounded on libbuild2/script/regex.hxx. Go's regexp cannot be
// parameterized over an arbitrary alphabet the way std::regex can be
// (spec.md §9's alternative), so matching is done by canonicalizing each
// input symbol to one rune from a private-use range and running the
// canonical string through the standard regexp engine; Offsets lets a
// caller map a match position in the canonical string back to the
// original symbol index.
type Alphabet struct {
	bySymbol map[string]rune
	symbols  []string
	next     rune
}

// NewAlphabet constructs an empty Alphabet. Symbols are interned starting
// at U+E000 (the start of the Unicode Private Use Area), so canonicalized
// strings never collide with literal regex metacharacters a pattern might
// contain.
func NewAlphabet() *Alphabet {
	return &Alphabet{bySymbol: make(map[string]rune), next: 0xE000}
}

// Canonicalize maps a sequence of arbitrary string symbols to one rune per
// symbol, interning new symbols as they're first seen, and returns the
// resulting canonical string plus an Offsets table mapping each rune index
// back to the original symbol.
func (a *Alphabet) Canonicalize(symbols []string) (canonical string, offsets []string) {
	var sb strings.Builder
	offsets = make([]string, 0, len(symbols))
	for _, s := range symbols {
		r, ok := a.bySymbol[s]
		if !ok {
			r = a.next
			a.bySymbol[s] = r
			a.symbols = append(a.symbols, s)
			a.next++
		}
		sb.WriteRune(r)
		offsets = append(offsets, s)
	}
	return sb.String(), offsets
}

// Match reports whether the canonical form of symbols matches pattern
// (itself expressed over the same canonicalized alphabet, i.e. already
// produced by Canonicalize-ing the pattern's literal symbol list).
func (a *Alphabet) Match(pattern string, symbols []string) (bool, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, diag.Errorf(diag.Execute, diag.Location{}, "invalid custom-alphabet regex: %w", err)
	}
	canonical, _ := a.Canonicalize(symbols)
	return re.MatchString(canonical), nil
}
