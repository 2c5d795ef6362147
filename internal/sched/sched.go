// Package sched implements the scheduler of spec.md §4.8/§5 (component I):
// a bounded pool of worker tasks, nested waits through per-fan-out Groups,
// and keep-going-aware cancellation.
package sched

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Scheduler runs work items ("tasks") across a bounded pool of workers. A
// concurrency of 0 runs everything serially on the calling goroutine
// (spec.md §5: "unless the current operation declares concurrency 0 (run
// serially)").
type Scheduler struct {
	concurrency int
	keepGoing   bool

	sem chan struct{} // nil when concurrency == 0

	mu     sync.Mutex
	failed int32 // atomic flag: a task has failed and keepGoing is false
	firstErr error
}

// New constructs a Scheduler. concurrency <= 0 means "use
// runtime.NumCPU()"; pass 1 explicitly to force single-worker (but still
// task-queued) execution, and use Serial for true synchronous execution.
func New(concurrency int, keepGoing bool) *Scheduler {
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	return &Scheduler{
		concurrency: concurrency,
		keepGoing:   keepGoing,
		sem:         make(chan struct{}, concurrency),
	}
}

// Serial constructs a Scheduler that runs every task synchronously on the
// calling goroutine, for operations that declare concurrency 0.
func Serial(keepGoing bool) *Scheduler {
	return &Scheduler{concurrency: 0, keepGoing: keepGoing}
}

// Concurrency returns the configured worker count (0 for serial).
func (s *Scheduler) Concurrency() int { return s.concurrency }

// Failed reports whether a task has already failed and, since keepGoing is
// false, no further tasks should be started.
func (s *Scheduler) Failed() bool { return atomic.LoadInt32(&s.failed) != 0 }

// FirstError returns the first error reported by Fail, if any.
func (s *Scheduler) FirstError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

// Fail records err as a task failure. Unless keepGoing is set, it also
// flips Failed() so Group.Go stops admitting new tasks and Wait propagates
// the failure to every outstanding waiter (spec.md §5 "Cancellation").
func (s *Scheduler) Fail(err error) {
	s.mu.Lock()
	if s.firstErr == nil {
		s.firstErr = err
	}
	s.mu.Unlock()
	if !s.keepGoing {
		atomic.StoreInt32(&s.failed, 1)
	}
}

// Group is a cooperating batch of tasks sharing a Scheduler's worker pool
// and failure state; each nested fan-out (e.g. a rule's Apply spawning one
// task per prerequisite) creates its own Group so a Group's Wait only
// blocks on its own children ("nested waits" per spec.md §4.8).
type Group struct {
	s   *Scheduler
	ctx context.Context
	eg  *errgroup.Group
}

// NewGroup starts a Group bound to ctx. ctx is canceled for the whole group
// the first time a task returns an error (errgroup semantics), which is
// exactly the keep-going-aware cancellation spec.md §5 specifies provided
// the caller checks Scheduler.Failed()/ctx.Err() at wait points.
func (s *Scheduler) NewGroup(ctx context.Context) *Group {
	eg, gctx := errgroup.WithContext(ctx)
	return &Group{s: s, ctx: gctx, eg: eg}
}

// Context returns the group's (possibly already-canceled) context.
func (g *Group) Context() context.Context { return g.ctx }

// Go schedules fn as a task. If the scheduler runs serially (concurrency
// 0), fn runs immediately on the calling goroutine; otherwise it runs on a
// worker once a pool slot is free. Go never admits a new task once a
// sibling has failed and keep-going is disabled.
func (g *Group) Go(fn func(ctx context.Context) error) {
	if g.s.Failed() {
		return
	}
	if g.s.sem == nil { // serial
		if err := fn(g.ctx); err != nil {
			g.s.Fail(err)
			// Hand the error to the errgroup so Wait reports it and the
			// group's context is canceled, as in the concurrent path.
			g.eg.Go(func() error { return err })
		}
		return
	}
	g.eg.Go(func() error {
		select {
		case g.s.sem <- struct{}{}:
		case <-g.ctx.Done():
			return g.ctx.Err()
		}
		defer func() { <-g.s.sem }()
		if g.s.Failed() {
			return nil
		}
		if err := fn(g.ctx); err != nil {
			g.s.Fail(err)
			return err
		}
		return nil
	})
}

// Wait blocks until every task scheduled via Go has returned, then returns
// the first error encountered (nil if all succeeded). A Group may be
// waited on while nested inside a task running in an outer Group: the wait
// only concerns this Group's own children, satisfying spec.md §4.8's
// "nested waits".
func (g *Group) Wait() error {
	return g.eg.Wait()
}

// Monitor runs fn on a single dedicated goroutine outside the worker pool,
// for the "single-thread monitor tasks" spec.md §4.8 names (e.g. a
// long-lived task draining a child process's stdout while workers keep
// matching/executing other targets). It does not count against the
// scheduler's concurrency limit, and its completion is awaited exactly
// like any other task via the returned wait function.
func (g *Group) Monitor(fn func(ctx context.Context) error) func() error {
	done := make(chan error, 1)
	go func() { done <- fn(g.ctx) }()
	return func() error { return <-done }
}
