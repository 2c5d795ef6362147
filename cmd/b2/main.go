// Command b2 is the driver of spec.md §6 "External interfaces": it parses
// global options, command-line variable overrides and buildspec operands,
// bootstraps the project rooted at the current (or -C) directory, and runs
// the requested meta-operation/operation pairs over the named targets.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"golang.org/x/xerrors"

	"github.com/b2build/b2"
	"github.com/b2build/b2/internal/diag"
	"github.com/b2build/b2/internal/sched"
)

var (
	chdir     = flag.String("C", "", "change to directory before doing anything else")
	jobs      = flag.Int("jobs", 0, "maximum number of concurrent recipes (0: one per CPU)")
	serial    = flag.Bool("j1", false, "disable concurrency; run every recipe on the calling goroutine")
	keepGoing = flag.Bool("keep-going", false, "continue past a failed target instead of stopping the batch")
	buildfile = flag.String("buildfile", "build", "buildfile naming variant (\"build\" or \"build2\")")
	debugFlag = flag.Bool("debug", false, "format diagnostics with additional detail (causal frame chain)")
	quiet     = flag.Bool("quiet", false, "suppress the per-target progress line")
)

// color reports whether diagnostics should be ANSI-colored: only when
// stdout is a real terminal, mirroring every other driver in the corpus
// that gates escape codes on isatty rather than always emitting them.
var color = false

func funcmain() error {
	flag.Parse()
	color = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

	if *chdir != "" {
		if err := os.Chdir(*chdir); err != nil {
			return diag.Errorf(diag.Driver, diag.Location{}, "-C %s: %w", *chdir, err)
		}
	}
	if *buildfile != "build" && *buildfile != "build2" {
		return diag.Errorf(diag.Driver, diag.Location{}, "-buildfile: unknown variant %q", *buildfile)
	}

	args := flag.Args()
	i := 0
	for ; i < len(args); i++ {
		if args[i] == "--" {
			i++
			break
		}
	}
	operands := args[i:]
	if i == len(args) {
		operands = args
	}

	overrides, rest := parseOverrides(operands)
	reqs, err := parseBuildspecs(rest)
	if err != nil {
		return exitMisuse{err}
	}

	outRoot, err := os.Getwd()
	if err != nil {
		return diag.Errorf(diag.Driver, diag.Location{}, "getwd: %w", err)
	}
	outRoot, err = filepath.Abs(outRoot)
	if err != nil {
		return diag.Errorf(diag.Driver, diag.Location{}, "abs: %w", err)
	}

	concurrency := *jobs
	var scheduler *sched.Scheduler
	if *serial {
		scheduler = sched.Serial(*keepGoing)
	} else {
		scheduler = sched.New(concurrency, *keepGoing)
	}

	proj, err := bootstrapProject(outRoot, scheduler, *buildfile, overrides)
	if err != nil {
		return err
	}

	ctx, cancel := b2.InterruptibleContext()
	defer cancel()

	var failed bool
	for _, req := range reqs {
		results, err := proj.run(ctx, req)
		reported := false
		for _, r := range results {
			printResult(r)
			if r.err != nil {
				failed = true
				reported = reported || r.err == err
			}
		}
		if err != nil {
			if !reported && !diag.AlreadyPrinted(err) {
				printError(err)
			}
			failed = true
		}
	}

	if err := b2.RunAtExit(); err != nil {
		return err
	}
	if failed {
		return exitFailure{}
	}
	return nil
}

// exitMisuse marks an error as CLI/driver misuse (spec.md §6 "Exit status:
// ... 2 on driver/cli misuse"), printed without the "error: " prefix
// ordinary execution failures get.
type exitMisuse struct{ err error }

func (e exitMisuse) Error() string { return e.err.Error() }

// exitFailure marks a batch that ran to completion but had at least one
// failed target; diagnostics for each failure were already printed by
// funcmain (printResult, or printError for a run error no result carried),
// so main must not print anything more for it.
type exitFailure struct{}

func (exitFailure) Error() string { return "" }

func printResult(r result) {
	if r.err != nil {
		printError(r.err)
		return
	}
	if *quiet {
		return
	}
	if r.state.String() == "unchanged" {
		return
	}
	fmt.Fprintf(os.Stderr, "%s %s\n", r.state, targetString(r.target))
}

func printError(err error) {
	msg := err.Error()
	if *debugFlag {
		// xerrors.Errorf-wrapped errors carry a frame chain that %+v
		// renders in full, unlike *diag.Error's own Error() which shows
		// the message chain without call-site frames.
		var de *diag.Error
		if xerrors.As(err, &de) {
			msg = fmt.Sprintf("%s: %s: %+v", de.Loc, de.Category, de.Err)
		} else {
			msg = fmt.Sprintf("%+v", err)
		}
	}
	if color {
		fmt.Fprintf(os.Stderr, "\x1b[31merror\x1b[0m: %s\n", msg)
	} else {
		fmt.Fprintf(os.Stderr, "error: %s\n", msg)
	}
	diag.MarkPrinted(err)
}

func main() {
	err := funcmain()
	switch err.(type) {
	case nil:
		os.Exit(0)
	case exitFailure:
		os.Exit(1)
	case exitMisuse:
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	default:
		printError(err)
		// A *diag.Error tagged Driver is CLI/driver misuse (spec.md §6:
		// "2 on driver/cli misuse"); every other category is an ordinary
		// run failure that already got its diagnostic printed.
		var de *diag.Error
		if xerrors.As(err, &de) && de.Category == diag.Driver {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
