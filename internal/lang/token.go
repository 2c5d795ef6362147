// Package lang implements the lexer and parser of spec.md §4.1 (component
// E): a mode-driven tokenizer and a recursive-descent parser that applies
// its side effects directly to the scope/target graph as it goes.
package lang

import "github.com/b2build/b2/internal/diag"

// Kind is a lexical token kind (spec.md §4.1).
type Kind int

const (
	EOS Kind = iota
	Word
	Punct
	Assign   // '='
	AssignAppend // '+='
	AssignPrepend // '=+'
	Colon
	Comma
	Dot
	Dollar
	LParen
	RParen
	LCBrace
	RCBrace
	LSBrace
	RSBrace
	LogAnd
	LogOr
	LogNot
	Pipe
	Semicolon
	Newline
	Eq
	Ne
	Lt
	Gt
)

// Quoting is the quoting type a token's lexeme was written with.
type Quoting int

const (
	Unquoted Quoting = iota
	SingleQuoted
	DoubleQuoted
)

// Token is one lexical token, carrying enough metadata for the parser to
// reconstruct spacing-sensitive constructs (name generation, concatenation)
// precisely.
type Token struct {
	Kind    Kind
	Lexeme  string
	Quoting Quoting
	// Complete is spec.md's "complete quoting" flag: true if the entire
	// lexeme was produced under one quoting style (so e.g. "foo"bar is not
	// Complete, since only the first part is quoted).
	Complete bool
	// Separated records whether this token was separated from the
	// previous one by whitespace (false means direct concatenation, as in
	// value generation "$x$y").
	Separated bool
	Loc       diag.Location
}

func (t Token) String() string { return t.Lexeme }
