package repeater

import (
	"context"
	"sync"
	"time"
)

// Tick describes one run. A new Tick is passed to every invocation.
type Tick struct {
	count    int
	delta    time.Duration
	hasDelta bool
	started  time.Time

	r   *Repeater
	run *run
}

// Count is this run's 1-based sequence number.
func (t *Tick) Count() int { return t.count }

// Delta is the time since the previous run started. ok is false on the first run.
func (t *Tick) Delta() (d time.Duration, ok bool) { return t.delta, t.hasDelta }

// Started is when this run began.
func (t *Tick) Started() time.Time { return t.started }

// Signal reports whether abort has been requested.
func (t *Tick) Signal() *Signal { return t.r.signal }

// Context is cancelled as soon as abort is requested.
func (t *Tick) Context() context.Context { return t.r.ctx }

// Repeater returns the repeater running this tick.
func (t *Tick) Repeater() *Repeater { return t.r }

// Abort aborts the repeater and marks this run as finished straight away, so
// the aborted event does not wait for the callback to return.
func (t *Tick) Abort() <-chan struct{} {
	done := t.r.Abort()
	t.run.finish()
	return done
}

// Signal is a read-only view of a repeater's abort state.
type Signal struct {
	r *Repeater
}

// Aborted reports whether abort has been requested.
func (s *Signal) Aborted() bool { return s.r.Aborted() }

// Done is closed when abort is requested.
func (s *Signal) Done() <-chan struct{} { return s.r.ctx.Done() }

// run is the completion signal of one in-flight invocation.
type run struct {
	done chan struct{}
	once sync.Once
}

func newRun() *run {
	return &run{done: make(chan struct{})}
}

func (r *run) finish() {
	r.once.Do(func() { close(r.done) })
}
