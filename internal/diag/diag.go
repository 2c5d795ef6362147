// Package diag implements the error-category and diagnostic-frame design of
// spec.md §7: every error raised by the engine is tagged with a Category,
// carries a source Location when one is available, and diagnostics for a
// single underlying failure are only ever printed once.
package diag

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Category classifies where an error originated, mirroring spec.md §7.
type Category int

const (
	Driver Category = iota
	Parse
	Lookup
	Rule
	Execute
	Filesystem
)

func (c Category) String() string {
	switch c {
	case Driver:
		return "driver"
	case Parse:
		return "parse"
	case Lookup:
		return "lookup"
	case Rule:
		return "rule"
	case Execute:
		return "execute"
	case Filesystem:
		return "filesystem"
	default:
		return "unknown"
	}
}

// Location is a buildfile source position.
type Location struct {
	File   string
	Line   int
	Column int
}

func (l Location) String() string {
	if l.File == "" {
		return ""
	}
	if l.Line == 0 {
		return l.File
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// Error is a located, categorized diagnostic. Printed is set once the
// diagnostic has been surfaced to the user, so that the propagation policy
// of spec.md §7 ("diagnostics for the same error are emitted at most once")
// can be enforced by whichever layer first observes Printed == false.
type Error struct {
	Category Category
	Loc      Location
	Err      error
	Printed  bool
}

func (e *Error) Error() string {
	loc := e.Loc.String()
	if loc == "" {
		return fmt.Sprintf("%s: %v", e.Category, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", loc, e.Category, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a located Error wrapping err with the given category.
func New(cat Category, loc Location, err error) *Error {
	return &Error{Category: cat, Loc: loc, Err: err}
}

// Errorf is the located analogue of xerrors.Errorf: it wraps the formatted
// error and attaches loc/cat so the caller doesn't have to re-wrap at every
// call site.
func Errorf(cat Category, loc Location, format string, args ...interface{}) *Error {
	return &Error{Category: cat, Loc: loc, Err: xerrors.Errorf(format, args...)}
}

// Frame is one entry in the diagnostic-frame stack: a human-readable
// description of the evaluation context an error occurred in (e.g. "while
// expanding $(...)  in buildfile x at line y"), used to build a
// "caused by"-chain independent of the Go call stack.
type Frame struct {
	Desc string
	Loc  Location
}

// Stack accumulates Frames innermost-first as an error propagates outward
// through nested evaluations (variable expansion inside a function call
// inside a dependency declaration, etc).
type Stack struct {
	frames []Frame
}

// Push records a frame. Intended to be deferred:
//
//	defer stack.Push(Frame{...})()
//
// but can also be called directly when no unwinding is involved.
func (s *Stack) Push(f Frame) func() {
	s.frames = append(s.frames, f)
	n := len(s.frames)
	return func() {
		if len(s.frames) >= n {
			s.frames = s.frames[:n-1]
		}
	}
}

// Wrap attaches the current frame stack to err as context, innermost frame
// first, without discarding err's own chain (xerrors.Is/As keep working).
func (s *Stack) Wrap(err error) error {
	if err == nil || len(s.frames) == 0 {
		return err
	}
	for i := len(s.frames) - 1; i >= 0; i-- {
		f := s.frames[i]
		if f.Loc.File != "" {
			err = xerrors.Errorf("%s (%s): %w", f.Desc, f.Loc, err)
		} else {
			err = xerrors.Errorf("%s: %w", f.Desc, err)
		}
	}
	return err
}

// MarkPrinted marks err as already surfaced to the user, if it (or
// something it wraps) is a *Error, so a later layer's generic error handler
// does not print it a second time.
func MarkPrinted(err error) {
	var de *Error
	if xerrors.As(err, &de) {
		de.Printed = true
	}
}

// AlreadyPrinted reports whether err (or something it wraps) has already
// been surfaced.
func AlreadyPrinted(err error) bool {
	var de *Error
	if xerrors.As(err, &de) {
		return de.Printed
	}
	return false
}
