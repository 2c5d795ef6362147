// Package trace emits Chrome trace-event JSON for the engine's match,
// apply, and execute phases (spec.md §4.5), so a run can be loaded into
// chrome://tracing to see what the scheduler actually overlapped. Adapted
// from the teacher's internal/trace/trace.go: the event sink and
// PendingEvent/Event shape are kept as-is, but the distri-host /proc-based
// CPU/memory sampling (cpuEvents, memEvents, CPUEvents, MemEvents) is
// dropped — there is no per-host resource counter analogous to those in a
// build engine's own event stream — and file sinks are gzip-compressed via
// klauspost/compress/gzip rather than written raw, so a verbose trace of a
// large project doesn't balloon disk usage.
package trace

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

// https://docs.google.com/document/d/1CvAClvFfyA5R-PhYUmn5OOQtYMH4h6I0nSsKchNAySU/edit

var start = time.Now()

var (
	sinkMu sync.Mutex
	sink   io.Writer = io.Discard
	closer io.Closer
)

// Sink writes all following Event()s as a Chrome trace event file into w.
func Sink(w io.Writer) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	sink = w
	// Start the JSON Array Format; the closing ']' is optional in Chrome's
	// trace-event format, so Close (and a crash) can both skip it.
	w.Write([]byte{'['})
}

// Enable creates $TMPDIR/b2.traces/<prefix>.<pid>.json.gz and directs
// events there, gzip-compressed. The filename assumes pids are not reused
// within the same build run.
func Enable(prefix string) error {
	fn := filepath.Join(os.TempDir(), "b2.traces", fmt.Sprintf("%s.%d.json.gz", prefix, os.Getpid()))
	if err := os.MkdirAll(filepath.Dir(fn), 0755); err != nil {
		return err
	}
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(f)

	sinkMu.Lock()
	closer = multiCloser{gw, f}
	sinkMu.Unlock()
	Sink(gw)
	return nil
}

// Close flushes and closes the sink opened by Enable, if any.
func Close() error {
	sinkMu.Lock()
	c := closer
	closer = nil
	sinkMu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	for _, c := range m {
		if err := c.Close(); err != nil {
			return err
		}
	}
	return nil
}

// PendingEvent is one in-flight Chrome trace-event-format "complete" event
// (phase "X": start timestamp plus duration).
type PendingEvent struct {
	Name           string      `json:"name"` // name of the event, as displayed in Trace Viewer
	Categories     string      `json:"cat"`  // event categories (comma-separated)
	Type           string      `json:"ph"`   // event type (single character)
	ClockTimestamp uint64      `json:"ts"`   // tracing clock timestamp (microsecond granularity)
	Duration       uint64      `json:"dur"`
	Pid            uint64      `json:"pid"` // process ID for the process that output this event
	Tid            uint64      `json:"tid"` // thread ID (here: scheduler worker slot) for this event
	Args           interface{} `json:"args"`

	start time.Time
}

// Done finalizes and writes pe to the active sink, computing its duration
// from the time Event was called.
func (pe *PendingEvent) Done() {
	pe.Duration = uint64(time.Since(pe.start) / time.Microsecond)
	b, err := json.Marshal(pe)
	if err != nil {
		panic(err)
	}
	sinkMu.Lock()
	defer sinkMu.Unlock()
	if _, err := sink.Write(append(b, ',')); err != nil {
		log.Printf("[trace] %v", err)
	}
}

// Event starts a new pending trace event named name on worker slot tid
// (spec.md §5 "Scheduling model": tid is the scheduler's worker index, not
// an OS thread ID). Typical names are "match:<type>", "apply:<type>",
// "execute:<type>" so a trace viewer groups a target's three phases
// visually.
func Event(name string, tid int) *PendingEvent {
	return &PendingEvent{
		Name:           name,
		Type:           "X",
		ClockTimestamp: uint64(time.Since(start) / time.Microsecond),
		Tid:            uint64(tid),
		start:          time.Now(),
	}
}
