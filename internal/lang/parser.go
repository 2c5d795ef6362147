package lang

import (
	"strings"

	"github.com/b2build/b2/internal/diag"
	"github.com/b2build/b2/internal/rule"
	"github.com/b2build/b2/internal/scope"
	"github.com/b2build/b2/internal/target"
	"github.com/b2build/b2/internal/variable"
	"github.com/b2build/b2/name"
	"github.com/b2build/b2/path"
)

// Engine is the subset of algo.Engine the parser needs to create scopes and
// targets as it applies a buildfile's side effects. It is expressed as a
// local interface, rather than importing package algo, for the same reason
// package rule keeps its own Target interface: algo will eventually need to
// drive the parser (to load a project's buildfiles), so algo importing lang
// importing algo would cycle.
type Engine interface {
	InsertScope(out path.Dir) *scope.Scope
	FindScope(d path.Dir) *scope.Scope
	ResolveType(n name.Name) (*target.Type, bool)
	InsertTarget(typ *target.Type, out, src path.Dir, nm, ext string, base *scope.Scope, decl target.DeclKind) (*target.Target, bool)
}

// Parser is one source file's recursive-descent parse over Engine's
// scope/target graph (spec.md §4.1 component E). Variable assignment,
// dependency declaration, and directive clauses are applied directly as
// side effects while parsing proceeds, rather than being built into an
// intermediate AST first.
type Parser struct {
	lex  *Lexer
	eng  Engine
	pool *variable.Pool
	cur  *scope.Scope
	file string

	tok     Token
	havePeek bool
}

// NewParser constructs a Parser positioned at scope start, ready to parse src.
func NewParser(file, src string, eng Engine, pool *variable.Pool, start *scope.Scope) *Parser {
	return &Parser{lex: New(file, src), eng: eng, pool: pool, cur: start, file: file}
}

func newSubParser(file string, tokens []Token, eng Engine, pool *variable.Pool, start *scope.Scope) *Parser {
	return &Parser{lex: FromTokens(file, tokens), eng: eng, pool: pool, cur: start, file: file}
}

func (p *Parser) next() (Token, error) {
	if p.havePeek {
		p.havePeek = false
		return p.tok, nil
	}
	return p.lex.Next()
}

func (p *Parser) peek() (Token, error) {
	if !p.havePeek {
		t, err := p.lex.Next()
		if err != nil {
			return Token{}, err
		}
		p.tok = t
		p.havePeek = true
	}
	return p.tok, nil
}

func errf(loc diag.Location, format string, args ...interface{}) error {
	return diag.Errorf(diag.Parse, loc, format, args...)
}

// Parse runs the top-level grammar: buildfile := { clause } eos.
func (p *Parser) Parse() error {
	for {
		t, err := p.peek()
		if err != nil {
			return err
		}
		if t.Kind == EOS {
			return nil
		}
		if t.Kind == Newline || t.Kind == Semicolon {
			p.next()
			continue
		}
		if err := p.clause(); err != nil {
			return err
		}
	}
}

// blockKeywords are the words that open a nested if/for block and
// blockEnders the words that close or continue one; captureBlock uses both
// to track nesting.
var blockKeywords = map[string]bool{"if": true, "ifn": true, "for": true}
var blockEnders = map[string]bool{"end": true, "else": true, "elif": true, "elifn": true}

// clause := directive | variable-assign | dependency | scope
func (p *Parser) clause() error {
	t, err := p.peek()
	if err != nil {
		return err
	}

	if t.Kind == Word {
		switch t.Lexeme {
		case "using":
			return p.usingDirective()
		case "if", "ifn":
			return p.ifDirective()
		case "for":
			return p.forDirective()
		case "end", "else", "elif", "elifn":
			// A stray ender reached outside of the construct that should
			// have consumed it (e.g. mismatched if/end nesting in the
			// source). Treat it as the end of this parse rather than
			// looping forever.
			p.next()
			return nil
		}
	}

	if t.Kind == LCBrace {
		return p.scopeBlock()
	}

	// Distinguish a plain "name op value" variable assignment from a
	// "targets : prerequisites" dependency declaration by scanning ahead:
	// collect the name-chunk run that starts the clause, then see whether
	// what follows is an assignment operator or a colon.
	chunk, err := p.nameChunk()
	if err != nil {
		return err
	}
	if len(chunk) == 0 {
		// Nothing recognizable; consume the token to make forward progress
		// and move on rather than looping.
		p.next()
		return nil
	}

	nt, err := p.peek()
	if err != nil {
		return err
	}
	switch nt.Kind {
	case Assign, AssignAppend, AssignPrepend:
		return p.variableAssign(chunk, nt)
	case Colon:
		return p.dependency(chunk)
	default:
		// A bare name-list clause with no trailing ':' or '=' is only
		// meaningful as a directory-scope prefix immediately followed by a
		// brace block ("tests/{ ... }"); anything else is a clause this
		// parser does not recognize and is skipped rather than failing the
		// whole file, matching spec.md §9's "best-effort, partial-source
		// tolerant" decision for constructs component E does not yet cover.
		if nt.Kind == LCBrace {
			return p.namedScopeBlock(chunk)
		}
		return p.skipToNewline()
	}
}

func (p *Parser) skipToNewline() error {
	for {
		t, err := p.next()
		if err != nil {
			return err
		}
		if t.Kind == Newline || t.Kind == EOS {
			return nil
		}
	}
}

// nameChunk collects a maximal run of directly-adjacent name tokens (Word,
// Dot, LCBrace, RCBrace) that together spell out one or more names, per
// spec.md §3 "Name" surface syntax. Separate names in a list are whitespace
// or comma separated; nameChunk returns the tokens of just the first such
// name so callers can classify the clause, with the full list available
// via names().
func (p *Parser) nameChunk() ([]Token, error) {
	var toks []Token
	for {
		t, err := p.peek()
		if err != nil {
			return nil, err
		}
		switch t.Kind {
		case Word, Dot, LCBrace, RCBrace:
			if len(toks) > 0 && t.Separated {
				return toks, nil
			}
			p.next()
			toks = append(toks, t)
		default:
			return toks, nil
		}
	}
}

// names parses a whitespace/comma-separated list of names starting with the
// already-collected first chunk, until a clause-ending token (Colon,
// Assign*, Newline, Semicolon, EOS, LCBrace not immediately attached).
func (p *Parser) names(first []Token) ([]name.Name, error) {
	var out []name.Name
	chunk := first
	for {
		if len(chunk) > 0 {
			out = append(out, parseNameTokens(chunk)...)
		}
		t, err := p.peek()
		if err != nil {
			return nil, err
		}
		if t.Kind == Comma {
			p.next()
			chunk, err = p.nameChunk()
			if err != nil {
				return nil, err
			}
			continue
		}
		if t.Kind == Word || t.Kind == Dot || t.Kind == LCBrace {
			chunk, err = p.nameChunk()
			if err != nil {
				return nil, err
			}
			if len(chunk) == 0 {
				return out, nil
			}
			continue
		}
		return out, nil
	}
}

// parseNameTokens renders a run of name tokens back to text, with nothing
// between adjacent tokens, and parses it with parseNameString. nameChunk
// ends a run at whitespace, so a run never holds more than one value of a
// space-separated group such as "hdr{foo bar}".
func parseNameTokens(toks []Token) []name.Name {
	var sb strings.Builder
	for _, t := range toks {
		switch t.Kind {
		case LCBrace:
			sb.WriteByte('{')
		case RCBrace:
			sb.WriteByte('}')
		case Dot:
			sb.WriteByte('.')
		default:
			sb.WriteString(t.Lexeme)
		}
	}
	return parseNameString(sb.String())
}

// ParseName parses the textual surface syntax of one or more paired names:
// [proj%][dir/][type{]value[.ext][ value[.ext] ...][}]. Exported so the CLI
// driver can resolve buildspec target operands with the same grammar the
// buildfile parser itself uses, rather than a second hand-rolled parser.
func ParseName(s string) []name.Name { return parseNameString(s) }

// parseNameString parses the textual surface syntax of one or more paired
// names: [proj%][dir/][type{]value[.ext][ value[.ext] ...][}].
func parseNameString(s string) []name.Name {
	if s == "" {
		return nil
	}

	proj := ""
	if i := strings.IndexByte(s, '%'); i >= 0 && !strings.ContainsAny(s[:i], "/{") {
		proj = s[:i]
		s = s[i+1:]
	}

	typ := ""
	pair := false
	if i := strings.IndexByte(s, '{'); i >= 0 && strings.HasSuffix(s, "}") {
		typ = s[:i]
		inner := s[i+1 : len(s)-1]
		fields := strings.Fields(inner)
		pair = len(fields) > 1
		if len(fields) == 0 {
			fields = []string{""}
		}
		dir, fields := splitCommonDir(fields)
		out := make([]name.Name, 0, len(fields))
		for _, f := range fields {
			out = append(out, nameFromValue(proj, typ, dir, f, pair))
		}
		return out
	}

	dir, val := splitDir(s)
	return []name.Name{nameFromValue(proj, typ, dir, val, false)}
}

// splitCommonDir factors a shared "dir/" prefix the first field carries out
// to the whole paired-name group, matching build2's "hdr{dir/foo bar}"
// surface form where only the first value carries the directory.
func splitCommonDir(fields []string) (path.Dir, []string) {
	if len(fields) == 0 {
		return path.NewDir(""), fields
	}
	dir, first := splitDir(fields[0])
	out := append([]string{first}, fields[1:]...)
	return dir, out
}

func splitDir(s string) (path.Dir, string) {
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		return path.NewDir(s[:i+1]), s[i+1:]
	}
	return path.NewDir(""), s
}

func nameFromValue(proj, typ string, dir path.Dir, val string, pair bool) name.Name {
	n := name.Name{Proj: proj, Type: typ, Dir: dir, Pair: pair}
	if val == "" {
		n.ExplicitNoExt = true
		return n
	}
	if i := strings.LastIndexByte(val, '.'); i > 0 {
		n.Value, n.Ext = val[:i], val[i+1:]
	} else {
		n.Value = val
	}
	return n
}

// variableAssign handles "name op rhs..." (spec.md §4.1 variable-assign,
// and spec.md §8 scenario 1's "+="/"=+" buildfile-level composition).
func (p *Parser) variableAssign(nameChunk []Token, op Token) error {
	varName := tokensText(nameChunk)
	p.next() // consume op

	val, err := p.valueList()
	if err != nil {
		return err
	}

	v := p.pool.Intern(varName)

	switch op.Kind {
	case Assign:
		p.cur.Vars.Set(v, val)
	case AssignAppend:
		// Buildfile-level "+=" composes against whatever this variable
		// resolves to via the scope chain (spec.md §8 scenario 1), and
		// stores the combined result directly in the local scope's map --
		// this is distinct from the override-shadow mechanism, which is
		// reserved for command-line/project-wide overrides carrying a
		// visibility prefix.
		base := target.LookupScope(p.cur, v)
		p.cur.Vars.Set(v, variable.Append(base, val))
	case AssignPrepend:
		base := target.LookupScope(p.cur, v)
		p.cur.Vars.Set(v, variable.Prepend(base, val))
	}
	return p.endOfClause()
}

func tokensText(toks []Token) string {
	var sb strings.Builder
	for _, t := range toks {
		sb.WriteString(t.Lexeme)
	}
	return sb.String()
}

// valueList reads tokens up to end-of-clause and renders them as a single
// string-kind Value, splicing in $name/$(name) expansions resolved against
// the current scope. A richer typed-value grammar (lists, eval contexts)
// belongs to the functions package (component F); this covers the common
// "x = a b c" and "x = $other" forms directly.
func (p *Parser) valueList() (variable.Value, error) {
	var parts []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
		}
	}
	for {
		t, err := p.peek()
		if err != nil {
			return variable.Nil, err
		}
		switch t.Kind {
		case Newline, Semicolon, EOS:
			flush()
			return collapseValue(variable.Value{Kind: variable.StringList, Strs: parts}), nil
		case Dollar:
			p.next()
			s, err := p.expandVariableRef()
			if err != nil {
				return variable.Nil, err
			}
			cur.WriteString(s)
		default:
			if t.Separated && cur.Len() > 0 {
				flush()
			}
			p.next()
			cur.WriteString(t.Lexeme)
		}
	}
}

// expandVariableRef parses the reference following a '$' (either a bare
// name or a parenthesized "$(name)") and returns its current string value.
func (p *Parser) expandVariableRef() (string, error) {
	t, err := p.peek()
	if err != nil {
		return "", err
	}
	if t.Kind == LParen {
		p.next()
		var ref strings.Builder
		for {
			inner, err := p.next()
			if err != nil {
				return "", err
			}
			if inner.Kind == RParen || inner.Kind == EOS {
				break
			}
			ref.WriteString(inner.Lexeme)
		}
		return p.resolveVar(ref.String()), nil
	}
	if t.Kind == Word {
		p.next()
		return p.resolveVar(t.Lexeme), nil
	}
	return "", nil
}

func (p *Parser) resolveVar(n string) string {
	v := p.pool.Intern(n)
	return target.LookupScope(p.cur, v).String()
}

// collapseValue turns a single-element StringList into a plain String, so a
// scalar assignment like "x = foo" round-trips through variable.String
// without an embedded space-joined list wrapper.
func collapseValue(v variable.Value) variable.Value {
	if v.Kind == variable.StringList && len(v.Strs) == 1 {
		return variable.Value{Kind: variable.String, S: v.Strs[0]}
	}
	if v.Kind == variable.StringList && len(v.Strs) == 0 {
		return variable.Nil
	}
	return v
}

func (p *Parser) endOfClause() error {
	for {
		t, err := p.peek()
		if err != nil {
			return err
		}
		if t.Kind == Newline || t.Kind == Semicolon {
			p.next()
			return nil
		}
		if t.Kind == EOS {
			return nil
		}
		p.next()
	}
}

// dependency handles "targets : prerequisites [recipe-block]" (spec.md §4.1
// dependency clause, §3 "Target"/"Prerequisite").
func (p *Parser) dependency(targetChunk []Token) error {
	targets, err := p.names(targetChunk)
	if err != nil {
		return err
	}
	p.next() // consume ':'

	// A colon immediately followed by a bare "var op" is a type/pattern
	// variable block ("exe{}: install = true"), not a prerequisite list.
	if pt, _ := p.peek(); pt.Kind == Word {
		varChunk, err := p.nameChunk()
		if err != nil {
			return err
		}
		if len(varChunk) > 0 {
			if opTok, _ := p.peek(); opTok.Kind == Assign || opTok.Kind == AssignAppend || opTok.Kind == AssignPrepend {
				return p.typePatternAssign(targets, varChunk, opTok)
			}
		}
		// Not an assignment after all: what nameChunk already consumed is
		// the first prerequisite name.
		return p.prerequisiteList(targets, varChunk)
	}

	return p.prerequisiteList(targets, nil)
}

func (p *Parser) typePatternAssign(targets []name.Name, varChunk []Token, op Token) error {
	varName := tokensText(varChunk)
	p.next()
	val, err := p.valueList()
	if err != nil {
		return err
	}
	v := p.pool.Intern(varName)
	for _, tn := range targets {
		typ, ok := p.eng.ResolveType(tn)
		if !ok {
			continue
		}
		pattern := tn.Value
		if pattern == "" {
			pattern = "*"
		}
		m := p.cur.TypeVars.MapFor(variable.TypePatternKey{Type: typ.Name, Pattern: pattern})
		switch op.Kind {
		case Assign:
			m.Set(v, val)
		case AssignAppend:
			m.Append(v, val)
		case AssignPrepend:
			cur, _ := m.Get(v)
			m.Set(v, variable.Prepend(cur, val))
		}
	}
	return p.endOfClause()
}

func (p *Parser) prerequisiteList(targets []name.Name, firstChunk []Token) error {
	prereqs, err := p.names(firstChunk)
	if err != nil {
		return err
	}

	for _, tn := range targets {
		typ, ok := p.eng.ResolveType(tn)
		if !ok {
			continue
		}
		t, _ := p.eng.InsertTarget(typ, tn.Dir, tn.Dir, tn.Value, tn.Ext, p.cur, target.Real)
		decls := make([]rule.Prerequisite, 0, len(prereqs))
		for _, pn := range prereqs {
			decls = append(decls, rule.Prerequisite{
				Type: pn.Type,
				Dir:  pn.Dir,
				Name: pn,
				Ext:  pn.Ext,
				Vars: variable.NewMap(),
			})
		}
		t.SetPrerequisites(decls)
	}

	nt, err := p.peek()
	if err != nil {
		return err
	}
	if nt.Kind == LCBrace {
		// A recipe body (component P's script engine executes these once
		// wired); the parser only needs to skip it in balance here.
		return p.skipBalancedBraces()
	}
	return p.endOfClause()
}

func (p *Parser) skipBalancedBraces() error {
	depth := 0
	for {
		t, err := p.next()
		if err != nil {
			return err
		}
		switch t.Kind {
		case LCBrace:
			depth++
		case RCBrace:
			depth--
			if depth == 0 {
				return p.endOfClause()
			}
		case EOS:
			return errf(t.Loc, "unterminated recipe block")
		}
	}
}

// scopeBlock handles a bare "{ ... }" block attached to the current
// directory scope (used for grouping, e.g. conditionally-shared variable
// blocks); namedScopeBlock handles one prefixed by a directory name.
func (p *Parser) scopeBlock() error {
	p.next() // consume '{'
	return p.runNested(p.cur)
}

func (p *Parser) namedScopeBlock(dirChunk []Token) error {
	text := tokensText(dirChunk)
	p.next() // consume '{'
	sub := p.eng.InsertScope(p.cur.OutDir.Join(text))
	return p.runNested(sub)
}

// runNested parses clauses against scope s until the matching '}', without
// introducing a second Parser (so the lexer's mode stack and token
// lookahead stay shared).
func (p *Parser) runNested(s *scope.Scope) error {
	saved := p.cur
	p.cur = s
	defer func() { p.cur = saved }()
	for {
		t, err := p.peek()
		if err != nil {
			return err
		}
		if t.Kind == RCBrace {
			p.next()
			return nil
		}
		if t.Kind == EOS {
			return errf(t.Loc, "unterminated scope block")
		}
		if t.Kind == Newline || t.Kind == Semicolon {
			p.next()
			continue
		}
		if err := p.clause(); err != nil {
			return err
		}
	}
}

// usingDirective implements "using module" (spec.md §4.1 directive,
// SPEC_FULL.md module system): records the module as loaded on the project
// root, idempotently.
func (p *Parser) usingDirective() error {
	p.next() // consume 'using'
	t, err := p.next()
	if err != nil {
		return err
	}
	root := p.cur.Root()
	if root.Extra != nil {
		root.Extra.Modules[t.Lexeme] = true
	}
	return p.endOfClause()
}

// ifDirective implements "if COND" ... ["elif COND" ...] ["else" ...] "end",
// capturing each branch's body as a token run and only executing the first
// branch whose condition is true (spec.md §4.1 "conditional clause"). ifn
// negates its condition.
func (p *Parser) ifDirective() error {
	kw, _ := p.next() // 'if' or 'ifn'
	negate := kw.Lexeme == "ifn"

	cond, err := p.conditionValue()
	if err != nil {
		return err
	}
	truthy := cond.String() != "" && cond.String() != "false" && cond.String() != "0"
	if negate {
		truthy = !truthy
	}

	taken := false
	for {
		body, ender, err := p.captureBlock()
		if err != nil {
			return err
		}
		if truthy && !taken {
			taken = true
			if err := p.runTokens(body); err != nil {
				return err
			}
		}
		switch ender.Lexeme {
		case "end", "":
			return nil
		case "else":
			truthy = !taken
			if err := p.skipClauseLine(); err != nil {
				return err
			}
			body, ender2, err := p.captureBlock()
			if err != nil {
				return err
			}
			if truthy {
				if err := p.runTokens(body); err != nil {
					return err
				}
			}
			_ = ender2
			return nil
		case "elif", "elifn":
			elifNegate := ender.Lexeme == "elifn"
			c, err := p.conditionValue()
			if err != nil {
				return err
			}
			t := c.String() != "" && c.String() != "false" && c.String() != "0"
			if elifNegate {
				t = !t
			}
			truthy = t
			continue
		}
	}
}

// conditionValue reads the rest of the current line as a value expression
// (reusing valueList), leaving the trailing newline unconsumed, without
// yet capturing the guarded block.
func (p *Parser) conditionValue() (variable.Value, error) {
	return p.valueList()
}

func (p *Parser) skipClauseLine() error { return p.endOfClause() }

// captureBlock records tokens (via the underlying lexer's replay facility)
// from the current position up to (but not including) the next "end",
// "else", "elif" or "elifn" keyword at this nesting level, honoring nested
// if/for constructs so an inner "end" does not terminate the outer block.
// It returns the body tokens and the terminating keyword token (consumed).
func (p *Parser) captureBlock() ([]Token, Token, error) {
	var body []Token
	depth := 0
	for {
		t, err := p.next()
		if err != nil {
			return nil, Token{}, err
		}
		if t.Kind == EOS {
			return body, Token{}, errf(t.Loc, "unterminated if/for block")
		}
		if t.Kind == Word && blockKeywords[t.Lexeme] {
			depth++
		}
		if t.Kind == Word && blockEnders[t.Lexeme] {
			if depth == 0 {
				return body, t, nil
			}
			if t.Lexeme == "end" {
				depth--
			}
		}
		body = append(body, t)
	}
}

// runTokens parses captured body tokens as a nested clause sequence against
// the current scope.
func (p *Parser) runTokens(body []Token) error {
	sub := newSubParser(p.file, body, p.eng, p.pool, p.cur)
	return sub.Parse()
}

// forDirective implements "for x: list" ... "end" (spec.md §4.1, SPEC_FULL.md
// supplement grounded on build2's for loop): the body is captured once and
// replayed once per list element with the loop variable bound, per element,
// in the current scope.
func (p *Parser) forDirective() error {
	p.next() // 'for'
	varTok, err := p.next()
	if err != nil {
		return err
	}
	ct, err := p.next()
	if err != nil {
		return err
	}
	if ct.Kind != Colon {
		return errf(ct.Loc, "expected ':' in for loop")
	}
	listVal, err := p.valueList()
	if err != nil {
		return err
	}

	body, ender, err := p.captureBlock()
	if err != nil {
		return err
	}
	if ender.Lexeme != "end" {
		return errf(ender.Loc, "expected 'end' to close for loop")
	}

	v := p.pool.Intern(varTok.Lexeme)
	items := strings.Fields(listVal.String())
	for _, item := range items {
		p.cur.Vars.Set(v, variable.Value{Kind: variable.String, S: item})
		if err := p.runTokens(body); err != nil {
			return err
		}
	}
	return nil
}
