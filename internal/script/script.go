// Package script implements the testscript/shellscript engine of spec.md
// §4.9/§4.11 (component P): a line-oriented pre-parser that produces an
// ordered list of line objects with saved token streams, and an executor
// that expands and runs them against a tree of execution scopes.
//
// No repository in the example pack ships a script-test engine (the
// teacher builds Linux distribution packages, not tests), so this package
// is grounded on spec.md §4.9/§4.11 directly and written in the teacher's
// general idiom: small per-concern files, errors wrapped through
// internal/diag, and the same token-replay discipline internal/lang
// established for buildfile if/for bodies, reused here for while/for loop
// bodies.
package script

import (
	"time"

	"github.com/b2build/b2/internal/lang"
)

// LineKind is a pre-parsed script line's syntactic kind (spec.md §4.9).
type LineKind int

const (
	LineCommand LineKind = iota
	LineAssign
	LineIf
	LineIfn
	LineElif
	LineElifn
	LineElse
	LineWhile
	LineFor
	LineForStream
	LineEnd
)

func (k LineKind) String() string {
	switch k {
	case LineCommand:
		return "command"
	case LineAssign:
		return "assign"
	case LineIf:
		return "if"
	case LineIfn:
		return "ifn"
	case LineElif:
		return "elif"
	case LineElifn:
		return "elifn"
	case LineElse:
		return "else"
	case LineWhile:
		return "while"
	case LineFor:
		return "for"
	case LineForStream:
		return "for-stream"
	case LineEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Line is one pre-parsed script line: its kind and the saved token stream
// needed to (re-)expand and execute it. The Executor reads these tokens
// directly each time the line runs; they are not fed back through a Lexer.
type Line struct {
	Kind   LineKind
	Tokens []lang.Token // condition/assignment/command tokens, kind-dependent
	Block  []*Line      // nested body, for if/while/for/for-stream
	Else   []*Line      // chained else/elif/elifn branch, for if/ifn only
	Loc    lang.Token   // first token, for diagnostics

	// HereDocs holds the raw, unexpanded body text of each here-doc
	// attached to this line's command, keyed by end marker. Expansion
	// happens at execute time, per redirect kind.
	HereDocs map[string]string
}

// RedirectKind is the kind of a process's in/out/err redirect (spec.md
// §4.9 "Redirect kinds").
type RedirectKind int

const (
	RedirectNone RedirectKind = iota
	RedirectPass
	RedirectNull
	RedirectTrace
	RedirectMerge
	RedirectHereStringLiteral
	RedirectHereStringRegex
	RedirectHereDocLiteral
	RedirectHereDocRegex
	RedirectHereDocRef
	RedirectFile
)

// FileMode is a file redirect's open discipline.
type FileMode int

const (
	FileCompare FileMode = iota
	FileOverwrite
	FileAppend
)

// Redirect describes one of a process's three redirects (in/out/err).
type Redirect struct {
	Kind RedirectKind

	// Merge: the fd this redirect duplicates onto (spec.md "merge(fd)").
	MergeFD int

	// Literal/regex content for here-string and here-doc kinds.
	Text string

	// Here-doc framing, set when Kind is one of the here-doc variants.
	EndMarker string
	Modifiers string // e.g. ":" trailing-newline suppression
	// RegexIntro/RegexFlags apply to the *-regex variants: the character
	// introducing each per-line regex and the global flags applied to all
	// of them (spec.md §4.9 "intro char and global flags").
	RegexIntro rune
	RegexFlags string

	// HereDocRef names a previously defined here-doc this redirect reuses
	// (RedirectHereDocRef).
	HereDocRef string

	// File redirect target path and mode.
	Path string
	Mode FileMode
}

// CleanupKind is how strictly a cleanup path is enforced (spec.md §4.9).
type CleanupKind int

const (
	CleanupAlways CleanupKind = iota
	CleanupMaybe
	CleanupNever
)

// Cleanup is one filesystem path a test fragment registered for removal.
type Cleanup struct {
	Path string
	Kind CleanupKind
}

// Process is one element of a Pipeline: a program (path or builtin name),
// its arguments, optional cwd/environment overrides, the three redirects,
// an optional timeout, and an expected exit status.
type Process struct {
	Program string
	Args    []string
	Cwd     string
	Env     []string // "NAME=VALUE" overrides layered on the scope's environment

	Stdin  Redirect
	Stdout Redirect
	Stderr Redirect

	Timeout          time.Duration // 0 means "no fragment-local timeout"
	SuccessOnTimeout bool

	ExpectExit    int
	ExpectExitSet bool
}

// PipeOp is how two pipeline elements in a Command combine.
type PipeOp int

const (
	OpAnd PipeOp = iota // &&
	OpOr                // ||
)

// Pipeline is an ordered list of Processes connected by pipes ("|").
type Pipeline struct {
	Processes []Process
}

// Term is one pipeline plus the operator joining it to the next Term in a
// Command (the last Term's Op is unused).
type Term struct {
	Pipeline Pipeline
	Op       PipeOp
}

// Command is a full command line: expression terms combined by && / ||
// (spec.md §4.9 "A command is a pipeline of expression terms").
type Command struct {
	Terms []Term
}
