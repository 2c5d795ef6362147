package script

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/b2build/b2/internal/diag"
	"github.com/b2build/b2/internal/functions"
	"github.com/b2build/b2/internal/lang"
	"github.com/b2build/b2/internal/oninterrupt"
)

// Executor runs pre-parsed Lines against a Scope tree: it expands each
// token stream and drives real os/exec.Cmd pipelines, honoring redirects,
// timeouts, and cleanups (spec.md §4.9).
type Executor struct {
	Funcs     *functions.Table
	Alphabet  *functions.Alphabet
	Interrupt *oninterrupt.Registry // nil means no interrupt-driven cleanup
}

// NewExecutor constructs an Executor with a fresh function table and
// custom-alphabet instance (spec.md §4.11).
func NewExecutor() *Executor {
	return &Executor{Funcs: functions.NewTable(), Alphabet: functions.NewAlphabet()}
}

// Run executes lines in sequence against sc.
func (e *Executor) Run(ctx context.Context, sc *Scope, lines []*Line) error {
	for _, ln := range lines {
		if err := e.runLine(ctx, sc, ln); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) runLine(ctx context.Context, sc *Scope, ln *Line) error {
	switch ln.Kind {
	case LineAssign:
		return e.runAssign(sc, ln)
	case LineCommand:
		return e.runCommandLine(ctx, sc, ln)
	case LineIf, LineIfn:
		ok, err := e.evalCondition(ctx, sc, ln)
		if err != nil {
			return err
		}
		if ln.Kind == LineIfn {
			ok = !ok
		}
		if ok {
			return e.Run(ctx, sc, ln.Block)
		}
		if len(ln.Else) == 1 {
			return e.runLine(ctx, sc, ln.Else[0])
		}
		return nil
	case LineElse:
		return e.Run(ctx, sc, ln.Block)
	case LineWhile:
		for {
			ok, err := e.evalCondition(ctx, sc, ln)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if err := e.Run(ctx, sc, ln.Block); err != nil {
				return err
			}
		}
	case LineFor, LineForStream:
		return e.runFor(ctx, sc, ln)
	default:
		return diag.Errorf(diag.Execute, ln.Loc.Loc, "unsupported line kind %s", ln.Kind)
	}
}

// runAssign expands the right-hand side and binds ln.Tokens[0]'s lexeme in
// sc. ln.Tokens[0] is the NAME word; everything after it is the value.
func (e *Executor) runAssign(sc *Scope, ln *Line) error {
	name := ln.Tokens[0].Lexeme
	value := e.expandWords(sc, ln.Tokens[1:])
	sc.Set(name, strings.Join(value, " "))
	return nil
}

// evalCondition runs an if/ifn/while condition's own command line and
// reports whether it succeeded (spec.md §4.9: the condition is itself a
// command; success is a zero exit status).
func (e *Executor) evalCondition(ctx context.Context, sc *Scope, ln *Line) (bool, error) {
	cmd, err := e.buildCommand(sc, ln.Tokens, nil)
	if err != nil {
		return false, err
	}
	status, err := e.runCommand(ctx, sc, cmd)
	if err != nil {
		return false, err
	}
	return status == 0, nil
}

// runFor binds the loop variable (ln.Tokens[0]) to each word of the
// expanded value list in turn, running ln.Block once per binding. The
// LineForStream variant (for <<<var value) is not materially different at
// this level of detail: the stream's lines are expanded the same way a
// plain word list would be.
func (e *Executor) runFor(ctx context.Context, sc *Scope, ln *Line) error {
	if len(ln.Tokens) == 0 {
		return diag.Errorf(diag.Execute, ln.Loc.Loc, "for: missing loop variable")
	}
	// "for x: ..." lexes the loop variable together with its colon.
	name := strings.TrimSuffix(ln.Tokens[0].Lexeme, ":")
	items := e.expandWords(sc, ln.Tokens[1:])
	for _, item := range items {
		child := sc.Child(ScopeGroup, sc.WD)
		child.Set(name, item)
		if err := e.Run(ctx, child, ln.Block); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) runCommandLine(ctx context.Context, sc *Scope, ln *Line) error {
	cmd, err := e.buildCommand(sc, ln.Tokens, ln.HereDocs)
	if err != nil {
		return err
	}
	status, err := e.runCommand(ctx, sc, cmd)
	if err != nil {
		return err
	}
	if status != 0 {
		return diag.Errorf(diag.Execute, ln.Loc.Loc, "command exited with status %d", status)
	}
	return nil
}

// expandWord substitutes $name and ${name} references in tok against sc's
// variable chain (spec.md §4.9: "actual expansion happens at execute
// time"). Unset variables expand to the empty string, mirroring the
// buildfile evaluator's treatment of an unset variable in concatenation.
func (e *Executor) expandWord(sc *Scope, tok string) string {
	var sb strings.Builder
	for i := 0; i < len(tok); i++ {
		c := tok[i]
		if c != '$' || i == len(tok)-1 {
			sb.WriteByte(c)
			continue
		}
		i++
		if tok[i] == '{' {
			end := strings.IndexByte(tok[i:], '}')
			if end < 0 {
				sb.WriteByte('$')
				sb.WriteByte('{')
				continue
			}
			name := tok[i+1 : i+end]
			if v, ok := sc.Lookup(name); ok {
				sb.WriteString(v)
			}
			i += end
			continue
		}
		start := i
		for i < len(tok) && (isNameByte(tok[i])) {
			i++
		}
		name := tok[start:i]
		i--
		if v, ok := sc.Lookup(name); ok {
			sb.WriteString(v)
		}
	}
	return sb.String()
}

func isNameByte(c byte) bool {
	return c == '_' || c == '~' || c == '@' || c == '*' ||
		(c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func (e *Executor) expandWords(sc *Scope, toks []lang.Token) []string {
	out := make([]string, 0, len(toks))
	for _, t := range toks {
		if t.Kind != lang.Word {
			continue
		}
		out = append(out, e.expandWord(sc, t.Lexeme))
	}
	return out
}

// buildCommand turns a raw token run into a Command: terms joined by &&/||,
// each a pipeline of processes joined by |, each process a program, its
// args, and up to three redirects.
func (e *Executor) buildCommand(sc *Scope, toks []lang.Token, hereDocs map[string]string) (*Command, error) {
	var cmd Command
	var term Term
	var proc Process
	flushProc := func() { term.Pipeline.Processes = append(term.Pipeline.Processes, proc); proc = Process{} }
	flushTerm := func(op PipeOp) {
		flushProc()
		term.Op = op
		cmd.Terms = append(cmd.Terms, term)
		term = Term{}
	}

	i := 0
	for i < len(toks) {
		t := toks[i]
		switch t.Kind {
		case lang.LogAnd:
			flushTerm(OpAnd)
			i++
		case lang.LogOr:
			flushTerm(OpOr)
			i++
		case lang.Pipe:
			flushProc()
			i++
		case lang.Lt:
			r, n, err := e.parseRedirect(sc, toks[i:], true, hereDocs)
			if err != nil {
				return nil, err
			}
			proc.Stdin = r
			i += n
		case lang.Gt:
			r, n, err := e.parseRedirect(sc, toks[i:], false, hereDocs)
			if err != nil {
				return nil, err
			}
			proc.Stdout = r
			i += n
		case lang.Word:
			w := e.expandWord(sc, t.Lexeme)
			// "2>" (merge fd 2): a bare digit word immediately followed by
			// a '>' with no intervening separation.
			if n, ok := fdMergePrefix(t.Lexeme); ok && i+1 < len(toks) && toks[i+1].Kind == lang.Gt && !toks[i+1].Separated {
				r, m, err := e.parseRedirect(sc, toks[i+1:], false, hereDocs)
				if err != nil {
					return nil, err
				}
				r.Kind = RedirectMerge
				r.MergeFD = n
				if n == 2 {
					proc.Stderr = r
				} else {
					proc.Stdout = r
				}
				i += 1 + m
				continue
			}
			if proc.Program == "" {
				proc.Program = w
			} else {
				proc.Args = append(proc.Args, w)
			}
			i++
		default:
			i++
		}
	}
	flushTerm(OpAnd) // Op of the final term is never consulted
	return &cmd, nil
}

func fdMergePrefix(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// parseRedirect interprets the redirect operator at toks[0] (a Lt or Gt)
// and whatever follows it, returning the Redirect and how many tokens it
// consumed.
func (e *Executor) parseRedirect(sc *Scope, toks []lang.Token, isInput bool, hereDocs map[string]string) (Redirect, int, error) {
	op := toks[0]
	switch op.Lexeme {
	case "<<", "<<~":
		if len(toks) < 2 || toks[1].Kind != lang.Word {
			return Redirect{}, 0, diag.Errorf(diag.Execute, op.Loc, "malformed here-doc redirect")
		}
		marker := toks[1].Lexeme
		return Redirect{Kind: RedirectHereDocLiteral, EndMarker: marker, Text: hereDocs[marker], Modifiers: strings.TrimPrefix(op.Lexeme, "<<")}, 2, nil
	}

	// ">>path" (append): a second Gt immediately after the first, with no
	// intervening separation.
	mode := FileOverwrite
	idx := 1
	if !isInput && len(toks) > 1 && toks[1].Kind == lang.Gt && !toks[1].Separated {
		mode = FileAppend
		idx = 2
	}
	if len(toks) <= idx || toks[idx].Kind != lang.Word {
		return Redirect{Kind: RedirectPass}, idx, nil
	}
	path := e.expandWord(sc, toks[idx].Lexeme)
	switch path {
	case "-":
		return Redirect{Kind: RedirectNull}, idx + 1, nil
	case "&1", "&2":
		return Redirect{Kind: RedirectTrace}, idx + 1, nil
	}
	if !filepath.IsAbs(path) && sc.WD != "" {
		path = filepath.Join(sc.WD, path)
	}
	return Redirect{Kind: RedirectFile, Path: path, Mode: mode}, idx + 1, nil
}

// runCommand executes cmd's terms in order, short-circuiting on &&/|| the
// way a shell would, and returns the exit status of the last process run.
func (e *Executor) runCommand(ctx context.Context, sc *Scope, cmd *Command) (int, error) {
	status := 0
	for _, term := range cmd.Terms {
		if status == 0 && term.Op == OpOr {
			continue // a prior term already succeeded; skip the || alternative
		}
		if status != 0 && term.Op == OpAnd {
			continue // a prior term already failed; skip the && continuation
		}
		s, err := e.runPipeline(ctx, sc, term.Pipeline)
		if err != nil {
			return 0, err
		}
		status = s
	}
	return status, nil
}

func (e *Executor) runPipeline(ctx context.Context, sc *Scope, pl Pipeline) (int, error) {
	if len(pl.Processes) == 0 {
		return 0, nil
	}
	cmds := make([]*exec.Cmd, len(pl.Processes))
	for i, p := range pl.Processes {
		pctx := ctx
		if d := processDeadline(sc, p); !d.IsZero() {
			var cancel context.CancelFunc
			pctx, cancel = context.WithDeadline(ctx, d)
			defer cancel()
		}
		c, err := e.newCmd(pctx, sc, p)
		if err != nil {
			return 0, err
		}
		cmds[i] = c
		if i > 0 {
			r, w := newPipe()
			cmds[i-1].Stdout = w
			c.Stdin = r
		}
	}
	for _, c := range cmds {
		if err := c.Start(); err != nil {
			return 0, diag.Errorf(diag.Execute, diag.Location{}, "%s: %w", c.Path, err)
		}
	}
	var firstErr error
	var lastStatus int
	for _, c := range cmds {
		err := c.Wait()
		lastStatus = exitStatus(err)
		if err != nil && firstErr == nil {
			if _, ok := err.(*exec.ExitError); !ok {
				firstErr = err
			}
		}
	}
	return lastStatus, firstErr
}

// processDeadline composes p's own timeout with sc's effective deadline,
// the earliest of the two winning (spec.md §4.9 "Timeouts compose by
// earliest deadline").
func processDeadline(sc *Scope, p Process) time.Time {
	deadline := sc.EffectiveDeadline()
	if p.Timeout > 0 {
		pd := time.Now().Add(p.Timeout)
		if deadline.IsZero() || pd.Before(deadline) {
			deadline = pd
		}
	}
	return deadline
}

func (e *Executor) newCmd(ctx context.Context, sc *Scope, p Process) (*exec.Cmd, error) {
	cwd := p.Cwd
	if cwd == "" {
		cwd = sc.WD
	}
	c := exec.CommandContext(ctx, p.Program, p.Args...)
	if cwd != "" {
		c.Dir = cwd
	}
	c.Env = append(os.Environ(), p.Env...)

	if err := applyStdin(c, p.Stdin); err != nil {
		return nil, err
	}
	if err := applyStdout(c, p.Stdout); err != nil {
		return nil, err
	}
	if err := applyStderr(c, p.Stderr); err != nil {
		return nil, err
	}
	return c, nil
}

func applyStdin(c *exec.Cmd, r Redirect) error {
	switch r.Kind {
	case RedirectNone, RedirectPass:
		c.Stdin = os.Stdin
	case RedirectNull:
		c.Stdin = nil
	case RedirectHereStringLiteral, RedirectHereDocLiteral:
		c.Stdin = strings.NewReader(r.Text)
	case RedirectFile:
		f, err := os.Open(r.Path)
		if err != nil {
			return diag.Errorf(diag.Execute, diag.Location{}, "%s: %w", r.Path, err)
		}
		c.Stdin = f
	default:
		c.Stdin = nil
	}
	return nil
}

func applyStdout(c *exec.Cmd, r Redirect) error {
	switch r.Kind {
	case RedirectNone, RedirectPass, RedirectTrace:
		c.Stdout = os.Stdout
	case RedirectNull:
		c.Stdout = nil
	case RedirectFile:
		f, err := openForMode(r.Path, r.Mode)
		if err != nil {
			return err
		}
		c.Stdout = f
	default:
		c.Stdout = os.Stdout
	}
	return nil
}

func applyStderr(c *exec.Cmd, r Redirect) error {
	switch r.Kind {
	case RedirectNone, RedirectPass, RedirectTrace:
		c.Stderr = os.Stderr
	case RedirectMerge:
		if r.MergeFD == 1 {
			c.Stderr = c.Stdout
		} else {
			c.Stdout = c.Stderr
		}
	case RedirectNull:
		c.Stderr = nil
	case RedirectFile:
		f, err := openForMode(r.Path, r.Mode)
		if err != nil {
			return err
		}
		c.Stderr = f
	default:
		c.Stderr = os.Stderr
	}
	return nil
}

func openForMode(path string, mode FileMode) (*os.File, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if mode == FileAppend {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, diag.Errorf(diag.Execute, diag.Location{}, "%s: %w", path, err)
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, diag.Errorf(diag.Execute, diag.Location{}, "%s: %w", path, err)
	}
	return f, nil
}

func newPipe() (*os.File, *os.File) {
	r, w, err := os.Pipe()
	if err != nil {
		panic(fmt.Sprintf("script: os.Pipe: %v", err))
	}
	return r, w
}

func exitStatus(err error) int {
	if err == nil {
		return 0
	}
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return -1
}

// RunCleanups runs every cleanup registered on sc (but not its
// descendants'), removing each path with os.RemoveAll whatever its Kind. A
// path that is already gone is not an error for any Kind; other removal
// failures are reported only for CleanupAlways entries.
func RunCleanups(sc *Scope) error {
	var firstErr error
	for _, c := range sc.Cleanups() {
		err := os.RemoveAll(c.Path)
		if err != nil && c.Kind == CleanupAlways && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
