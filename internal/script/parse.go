package script

import (
	"strings"

	"github.com/b2build/b2/internal/diag"
	"github.com/b2build/b2/internal/lang"
)

// Parse pre-parses src (a whole testscript/shellscript file or a recipe
// body already extracted from a buildfile) into its top-level Lines.
// Structure only is validated here — if/while/for nesting must balance and
// here-doc markers must be matched — expansion of variables and pipelines
// happens later, at execute time, against the saved token streams (spec.md
// §4.9: "The pre-parse validates structure only; actual expansion happens
// at execute time").
func Parse(file, src string) ([]*Line, error) {
	lx := lang.New(file, src)
	lx.PushMode(lang.ModeCommandLine)
	p := &parser{lx: lx}
	if err := p.advance(); err != nil {
		return nil, err
	}
	lines, err := p.block(nil)
	if err != nil {
		return nil, err
	}
	if p.tok.Kind != lang.EOS {
		return nil, diag.Errorf(diag.Parse, p.tok.Loc, "unexpected %q outside any block", p.tok.Lexeme)
	}
	return lines, nil
}

type parser struct {
	lx  *lang.Lexer
	tok lang.Token
	la  *lang.Token // one-token lookahead buffer, for the assignment/command decision

	// pendingHereDocs is filled by the most recent collectUntilLineEnd
	// call and consumed immediately afterward by parseCommand.
	pendingHereDocs map[string]string
}

func (p *parser) advance() error {
	if p.la != nil {
		p.tok = *p.la
		p.la = nil
		return nil
	}
	t, err := p.lx.Next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

// peekNext returns the token after p.tok without consuming it.
func (p *parser) peekNext() (lang.Token, error) {
	if p.la == nil {
		t, err := p.lx.Next()
		if err != nil {
			return lang.Token{}, err
		}
		p.la = &t
	}
	return *p.la, nil
}

// block parses lines until EOS or, when terminators is non-nil, until the
// leading keyword of a line is one of terminators (used for if/elif/else
// chains and for the "end" that closes while/for/if).
func (p *parser) block(terminators map[string]bool) ([]*Line, error) {
	var lines []*Line
	for {
		for p.tok.Kind == lang.Newline || p.tok.Kind == lang.Semicolon {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		if p.tok.Kind == lang.EOS {
			return lines, nil
		}
		if p.tok.Kind == lang.Word && terminators[p.tok.Lexeme] {
			return lines, nil
		}
		ln, err := p.line()
		if err != nil {
			return nil, err
		}
		if ln != nil {
			lines = append(lines, ln)
		}
	}
}

var blockEnders = map[string]bool{"end": true}
var ifChain = map[string]bool{"elif": true, "elifn": true, "else": true, "end": true}

// line parses one logical line: a keyword-led construct (if/ifn/while/
// for/for.stream), a NAME=value assignment, or a plain command line.
func (p *parser) line() (*Line, error) {
	loc := p.tok

	if p.tok.Kind == lang.Word {
		switch p.tok.Lexeme {
		case "if", "ifn":
			return p.parseIf(loc)
		case "while":
			return p.parseLoop(loc, LineWhile)
		case "for":
			return p.parseFor(loc)
		}

		// The command-line lexer does not split at '=', so "NAME=value"
		// arrives as one word.
		if i := strings.IndexByte(p.tok.Lexeme, '='); i > 0 && strings.IndexFunc(p.tok.Lexeme[:i], func(r rune) bool { return r > 127 || !isNameByte(byte(r)) }) < 0 {
			name, value := p.tok, p.tok
			name.Lexeme, value.Lexeme = p.tok.Lexeme[:i], p.tok.Lexeme[i+1:]
			if err := p.advance(); err != nil {
				return nil, err
			}
			rest, err := p.collectUntilLineEnd()
			if err != nil {
				return nil, err
			}
			toks := []lang.Token{name, value}
			return &Line{Kind: LineAssign, Tokens: append(toks, rest...), Loc: loc}, nil
		}

		la, err := p.peekNext()
		if err != nil {
			return nil, err
		}
		if la.Kind == lang.Assign && !la.Separated {
			name := p.tok
			if err := p.advance(); err != nil { // consume name, p.tok is now '='
				return nil, err
			}
			if err := p.advance(); err != nil { // consume '=', p.tok is now the value's first token
				return nil, err
			}
			rest, err := p.collectUntilLineEnd()
			if err != nil {
				return nil, err
			}
			toks := append([]lang.Token{name}, rest...)
			return &Line{Kind: LineAssign, Tokens: toks, Loc: loc}, nil
		}
	}

	return p.parseCommand(loc)
}

// collectUntilLineEnd gathers raw tokens up to (but not including) the
// line's terminating Newline/Semicolon/EOS, recognizing here-doc openers
// ("<<" plus marker) — a command can carry further tokens after an opener
// (e.g. "cmd <<EOF >out"), so bodies aren't slurped until the line's own
// terminator is reached and the lexer's cursor sits at the start of the
// next physical line. Any here-docs found are left in p.pendingHereDocs
// for the caller to claim.
func (p *parser) collectUntilLineEnd() ([]lang.Token, error) {
	p.pendingHereDocs = nil
	var toks []lang.Token
	var markers []string
	for {
		switch p.tok.Kind {
		case lang.Newline, lang.Semicolon, lang.EOS:
			if len(markers) > 0 {
				bodies, err := p.slurpHereDocs(markers)
				if err != nil {
					return nil, err
				}
				p.pendingHereDocs = bodies
			}
			return toks, nil
		case lang.Lt:
			ltTok := p.tok
			ltLoc := p.tok.Loc
			la, err := p.peekNext()
			if err != nil {
				return nil, err
			}
			if la.Kind != lang.Lt || la.Separated {
				toks = append(toks, ltTok)
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			// "<<marker" or "<<~marker": a here-doc opener.
			if err := p.advance(); err != nil { // consume first '<'
				return nil, err
			}
			if err := p.advance(); err != nil { // consume second '<'
				return nil, err
			}
			modifiers := ""
			if p.tok.Kind == lang.Punct && p.tok.Lexeme == "~" {
				modifiers = "~"
				if err := p.advance(); err != nil {
					return nil, err
				}
			}
			if p.tok.Kind != lang.Word {
				return nil, diag.Errorf(diag.Parse, ltLoc, "expected here-doc end marker after <<")
			}
			marker := p.tok
			markers = append(markers, marker.Lexeme)
			toks = append(toks, lang.Token{Kind: lang.Lt, Lexeme: "<<" + modifiers, Loc: ltLoc}, marker)
			if err := p.advance(); err != nil {
				return nil, err
			}
		default:
			toks = append(toks, p.tok)
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
}

// slurpHereDocs consumes raw source lines (bypassing tokenization), in
// order, one here-doc body per marker in markers, each up to and including
// the line consisting solely of that marker. Called once the line's
// terminating newline has already been scanned (so the lexer's byte
// cursor sits at the very start of the first body).
func (p *parser) slurpHereDocs(markers []string) (map[string]string, error) {
	if p.la != nil {
		// A buffered lookahead token would have been scanned from past
		// the first here-doc body, which the grammar never produces:
		// nothing can follow a here-doc opener but more of the same
		// command line, ending at the newline that triggers this call.
		return nil, diag.Errorf(diag.Parse, p.tok.Loc, "here-doc opener followed by buffered lookahead")
	}
	bodies := make(map[string]string, len(markers))
	for _, marker := range markers {
		var sb strings.Builder
		for {
			raw, ok := p.lx.RawLine()
			if !ok {
				return nil, diag.Errorf(diag.Parse, p.tok.Loc, "unterminated here-doc %q", marker)
			}
			if strings.TrimRight(raw, "\r") == marker {
				break
			}
			sb.WriteString(raw)
			sb.WriteByte('\n')
		}
		bodies[marker] = sb.String()
	}
	return bodies, nil
}

func (p *parser) parseCommand(loc lang.Token) (*Line, error) {
	toks, err := p.collectUntilLineEnd()
	if err != nil {
		return nil, err
	}
	return &Line{Kind: LineCommand, Tokens: toks, Loc: loc, HereDocs: p.pendingHereDocs}, nil
}

// parseIf parses an if/ifn arm and its entire elif/elifn/else chain,
// consuming the terminating "end" that closes the deepest arm.
func (p *parser) parseIf(loc lang.Token) (*Line, error) {
	return p.ifArm(loc)
}

// ifArm parses one if/ifn/elif/elifn arm, beginning at that keyword in
// p.tok, recursing into the next arm of the chain (if any) and returning
// it as ln.Else.
func (p *parser) ifArm(loc lang.Token) (*Line, error) {
	kind := LineIf
	if p.tok.Lexeme == "ifn" || p.tok.Lexeme == "elifn" {
		kind = LineIfn
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	cond, err := p.collectUntilLineEnd()
	if err != nil {
		return nil, err
	}
	body, err := p.block(ifChain)
	if err != nil {
		return nil, err
	}
	ln := &Line{Kind: kind, Tokens: cond, Block: body, Loc: loc}

	switch {
	case p.tok.Kind == lang.Word && (p.tok.Lexeme == "elif" || p.tok.Lexeme == "elifn"):
		armLoc := p.tok
		arm, err := p.ifArm(armLoc)
		if err != nil {
			return nil, err
		}
		ln.Else = []*Line{arm}
		return ln, nil
	case p.tok.Kind == lang.Word && p.tok.Lexeme == "else":
		elseLoc := p.tok
		if err := p.advance(); err != nil {
			return nil, err
		}
		elseBody, err := p.block(blockEnders)
		if err != nil {
			return nil, err
		}
		if p.tok.Kind != lang.Word || p.tok.Lexeme != "end" {
			return nil, diag.Errorf(diag.Parse, p.tok.Loc, "expected end")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		ln.Else = []*Line{{Kind: LineElse, Block: elseBody, Loc: elseLoc}}
		return ln, nil
	default:
		if p.tok.Kind != lang.Word || p.tok.Lexeme != "end" {
			return nil, diag.Errorf(diag.Parse, p.tok.Loc, "expected end, elif, elifn, or else")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return ln, nil
	}
}

func (p *parser) parseLoop(loc lang.Token, kind LineKind) (*Line, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	cond, err := p.collectUntilLineEnd()
	if err != nil {
		return nil, err
	}
	body, err := p.block(blockEnders)
	if err != nil {
		return nil, err
	}
	if p.tok.Kind != lang.Word || p.tok.Lexeme != "end" {
		return nil, diag.Errorf(diag.Parse, p.tok.Loc, "expected end")
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return &Line{Kind: kind, Tokens: cond, Block: body, Loc: loc}, nil
}

func (p *parser) parseFor(loc lang.Token) (*Line, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	kind := LineFor
	if p.tok.Kind == lang.Lt {
		// "for <<<var value..." stream form shares the general condition
		// scan; only its Kind distinguishes it for the executor.
		kind = LineForStream
	}
	cond, err := p.collectUntilLineEnd()
	if err != nil {
		return nil, err
	}
	body, err := p.block(blockEnders)
	if err != nil {
		return nil, err
	}
	if p.tok.Kind != lang.Word || p.tok.Lexeme != "end" {
		return nil, diag.Errorf(diag.Parse, p.tok.Loc, "expected end")
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return &Line{Kind: kind, Tokens: cond, Block: body, Loc: loc}, nil
}
