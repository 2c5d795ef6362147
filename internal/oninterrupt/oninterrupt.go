// Package oninterrupt lets recipes and the script engine register cleanup
// callbacks (reverting a sandbox mutation, killing a child process group)
// that must run if the build is interrupted mid-execute. It resolves the
// teacher's own TODO ("replace by cancelling a context") by driving
// cleanups from ctx.Done() instead of a package-level signal.Notify
// goroutine with no cancellation story.
package oninterrupt

import (
	"context"
	"sync"
)

// Registry collects cleanup callbacks and runs them once, in registration
// order, the first time its context is done. No code in this tree
// constructs one; script.Executor.Interrupt is nil unless a caller sets it.
type Registry struct {
	mu      sync.Mutex
	cbs     []func()
	fired   bool
	done    chan struct{}
	doneSet sync.Once
}

// New constructs a Registry watching ctx: when ctx is done (SIGINT/SIGTERM
// cancellation, or any other cause), every callback registered so far (and
// any registered afterward) runs exactly once.
func New(ctx context.Context) *Registry {
	r := &Registry{done: make(chan struct{})}
	go func() {
		<-ctx.Done()
		r.fire()
	}()
	return r
}

// Register adds cb to run on interrupt. If the registry has already fired,
// cb runs immediately instead, since there is no later moment it could
// usefully run at.
func (r *Registry) Register(cb func()) {
	r.mu.Lock()
	if r.fired {
		r.mu.Unlock()
		cb()
		return
	}
	r.cbs = append(r.cbs, cb)
	r.mu.Unlock()
}

func (r *Registry) fire() {
	r.mu.Lock()
	if r.fired {
		r.mu.Unlock()
		return
	}
	r.fired = true
	cbs := r.cbs
	r.cbs = nil
	r.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
	r.doneSet.Do(func() { close(r.done) })
}

// Done returns a channel closed once every registered callback has run.
func (r *Registry) Done() <-chan struct{} { return r.done }
