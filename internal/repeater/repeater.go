package repeater

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mescon/repeatd/internal/clock"
	"github.com/mescon/repeatd/internal/logger"
)

// Func is the work a repeater runs on every tick.
type Func func(t *Tick) error

// Repeater runs a Func on a schedule until aborted. See the package docs.
type Repeater struct {
	name     string
	callback Func
	clock    clock.Clock
	delay    time.Duration
	signal   *Signal
	events   emitter

	// ctx is cancelled when abort is requested; done closes when it completes.
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu            sync.Mutex
	interval      time.Duration
	aborted       bool
	count         int
	lastRun       time.Time
	timer         clock.Timer
	timerInterval time.Duration
	current       *run
}

// New creates a repeater and arms its first run, Delay from now.
func New(callback Func, cfg Config) (*Repeater, error) {
	r, err := newRepeater(callback, cfg)
	if err != nil {
		return nil, err
	}
	r.start()
	return r, nil
}

func newRepeater(callback Func, cfg Config) (*Repeater, error) {
	if callback == nil {
		return nil, fmt.Errorf("%w: callback must be provided", ErrInvalidArgument)
	}
	opts, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Repeater{
		name:     opts.Name,
		callback: callback,
		clock:    opts.Clock,
		delay:    opts.Delay,
		interval: opts.Interval,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	r.signal = &Signal{r: r}
	if opts.Observer != nil {
		for _, kind := range []EventKind{EventRun, EventError, EventAbort, EventAborted} {
			r.On(kind, opts.Observer)
		}
	}
	return r, nil
}

func (r *Repeater) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.armLocked(r.delay)
}

// armLocked schedules the next run after d. The existing timer is reused when
// d matches the duration it was last armed with.
func (r *Repeater) armLocked(d time.Duration) {
	if r.timer != nil && r.timerInterval == d {
		r.timer.Reset(d)
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = r.clock.AfterFunc(d, r.fire)
	r.timerInterval = d
}

func (r *Repeater) fire() {
	r.mu.Lock()
	if r.aborted {
		r.mu.Unlock()
		return
	}

	now := r.clock.Now()
	tick := &Tick{
		started: now,
		r:       r,
		run:     newRun(),
	}
	if r.count > 0 {
		tick.delta = now.Sub(r.lastRun)
		tick.hasDelta = true
	}
	r.lastRun = now
	r.count++
	tick.count = r.count
	r.current = tick.run
	r.mu.Unlock()

	logger.Debugf("Repeater %s: tick %d started", r.name, tick.count)

	if err := r.invoke(tick); err != nil {
		r.reportError(tick, err)
	}
	tick.run.finish()
	r.settle(tick.run)
}

// invoke emits the run event and calls the callback, converting a panic in
// either into a CallbackError.
func (r *Repeater) invoke(tick *Tick) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &CallbackError{
				Name:  r.name,
				Count: tick.count,
				Err:   fmt.Errorf("panic: %v", p),
				Panic: p,
			}
		}
	}()

	r.events.emit(Event{Kind: EventRun, Repeater: r, Tick: tick})
	if err := r.callback(tick); err != nil {
		return &CallbackError{Name: r.name, Count: tick.count, Err: err}
	}
	return nil
}

func (r *Repeater) reportError(tick *Tick, err error) {
	if r.events.emit(Event{Kind: EventError, Repeater: r, Tick: tick, Err: err}) == 0 {
		logger.Warnf("Repeater %s: unhandled error: %v", r.name, err)
	}
}

// settle re-arms the timer after a run unless abort has been requested.
func (r *Repeater) settle(finished *run) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == finished {
		r.current = nil
	}
	if r.aborted {
		return
	}
	r.armLocked(r.interval)
}

// Abort stops all future runs. The returned channel closes once the run in
// progress, if any, has finished and the aborted event has been emitted.
// Every call returns the same channel.
func (r *Repeater) Abort() <-chan struct{} {
	r.mu.Lock()
	if r.aborted {
		r.mu.Unlock()
		return r.done
	}
	r.aborted = true
	r.cancel()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	inFlight := r.current
	r.mu.Unlock()

	logger.Debugf("Repeater %s: abort requested", r.name)
	r.events.emit(Event{Kind: EventAbort, Repeater: r})

	if inFlight == nil {
		r.finishAbort()
		return r.done
	}
	go func() {
		<-inFlight.done
		r.finishAbort()
	}()
	return r.done
}

func (r *Repeater) finishAbort() {
	r.events.emit(Event{Kind: EventAborted, Repeater: r})
	close(r.done)
	logger.Debugf("Repeater %s: aborted after %d ticks", r.name, r.Count())
}

// AbortAndWait aborts and waits for completion, returning early with ctx.Err()
// if the context is cancelled first.
func (r *Repeater) AbortAndWait(ctx context.Context) error {
	done := r.Abort()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetInterval changes the interval used from the next re-arm onwards.
func (r *Repeater) SetInterval(d time.Duration) {
	if d < 0 {
		d = 0
	}
	r.mu.Lock()
	r.interval = d
	r.mu.Unlock()
}

// On registers fn for events of the given kind. Call the returned func to unsubscribe.
func (r *Repeater) On(kind EventKind, fn Listener) (off func()) {
	return r.events.on(kind, fn, false)
}

// Once registers fn for the next event of the given kind only.
func (r *Repeater) Once(kind EventKind, fn Listener) (off func()) {
	return r.events.on(kind, fn, true)
}

// ListenerCount returns the number of listeners registered for kind.
func (r *Repeater) ListenerCount(kind EventKind) int {
	return r.events.count(kind)
}

func (r *Repeater) Name() string { return r.name }

func (r *Repeater) Delay() time.Duration { return r.delay }

func (r *Repeater) Signal() *Signal { return r.signal }

// Done is closed once abort has completed.
func (r *Repeater) Done() <-chan struct{} { return r.done }

func (r *Repeater) Interval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

// Count returns the number of runs started so far.
func (r *Repeater) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// LastRun returns when the most recent run started; ok is false before the first run.
func (r *Repeater) LastRun() (t time.Time, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRun, r.count > 0
}

// Aborted reports whether abort has been requested.
func (r *Repeater) Aborted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted
}

// Running reports whether a run is in progress.
func (r *Repeater) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current != nil
}
