// Package testutil provides test doubles for the clock, event bus and probers.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mescon/repeatd/internal/clock"
	"github.com/mescon/repeatd/internal/domain"
	"github.com/mescon/repeatd/internal/eventbus"
)

// =============================================================================
// MockClock - Testable time abstraction
// =============================================================================

// MockClock implements clock.Clock with time that only moves when the test says so.
// Due functions run synchronously on the goroutine calling Advance, in order of
// their scheduled time, so a callback that re-arms its own timer is picked up
// within the same Advance call if the new deadline is still inside the window.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	pending []*pendingFunc
	created int
}

type pendingFunc struct {
	seq       int
	executeAt time.Time
	fn        func()
	done      bool
}

// MockTimer implements clock.Timer for testing.
type MockTimer struct {
	clock *MockClock
	pf    *pendingFunc
}

// Compile-time assertion that MockClock implements clock.Clock
var _ clock.Clock = (*MockClock)(nil)

// NewMockClock creates a new MockClock with the current time as initial value.
func NewMockClock() *MockClock {
	return &MockClock{now: time.Now()}
}

// NewMockClockAt creates a new MockClock with a specific initial time.
func NewMockClockAt(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now returns the mock's current time.
func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// SetNow sets the mock's current time without running pending functions.
// A callback can use it to simulate taking time.
func (m *MockClock) SetNow(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// AfterFunc schedules f to be called once the mock time reaches now+d.
func (m *MockClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.created++
	m.seq++
	pf := &pendingFunc{seq: m.seq, executeAt: m.now.Add(d), fn: f}
	m.pending = append(m.pending, pf)
	return &MockTimer{clock: m, pf: pf}
}

// Advance moves time forward by d, running every function that becomes due on
// the way. Returns the number of functions executed.
func (m *MockClock) Advance(d time.Duration) int {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	executed := 0
	for {
		m.mu.Lock()
		next := m.nextDueLocked(target)
		if next == nil {
			if target.After(m.now) {
				m.now = target
			}
			m.mu.Unlock()
			return executed
		}
		next.done = true
		if next.executeAt.After(m.now) {
			m.now = next.executeAt
		}
		fn := next.fn
		m.mu.Unlock()

		// Execute outside the lock so fn may schedule or stop timers
		fn()
		executed++
	}
}

// FireAll runs every pending function regardless of its scheduled time, without
// moving the clock. Functions scheduled while firing are left pending.
func (m *MockClock) FireAll() int {
	m.mu.Lock()
	var toExecute []func()
	for _, pf := range m.sortedLocked() {
		if !pf.done {
			pf.done = true
			toExecute = append(toExecute, pf.fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range toExecute {
		fn()
	}
	return len(toExecute)
}

// PendingCount returns the number of scheduled functions that haven't been
// executed or stopped.
func (m *MockClock) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, pf := range m.pending {
		if !pf.done {
			count++
		}
	}
	return count
}

// NextDeadline returns the time the earliest pending function is due.
func (m *MockClock) NextDeadline() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pf := range m.sortedLocked() {
		if !pf.done {
			return pf.executeAt, true
		}
	}
	return time.Time{}, false
}

// TimersCreated returns how many times AfterFunc has been called.
func (m *MockClock) TimersCreated() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created
}

func (m *MockClock) nextDueLocked(target time.Time) *pendingFunc {
	for _, pf := range m.sortedLocked() {
		if !pf.done && !pf.executeAt.After(target) {
			return pf
		}
	}
	return nil
}

func (m *MockClock) sortedLocked() []*pendingFunc {
	// drop finished entries so long-running tests don't accumulate them
	live := m.pending[:0]
	for _, pf := range m.pending {
		if !pf.done {
			live = append(live, pf)
		}
	}
	m.pending = live

	sorted := make([]*pendingFunc, len(live))
	copy(sorted, live)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].executeAt.Equal(sorted[j].executeAt) {
			return sorted[i].seq < sorted[j].seq
		}
		return sorted[i].executeAt.Before(sorted[j].executeAt)
	})
	return sorted
}

// Stop prevents the timer from firing. Returns true if the timer was stopped,
// false if it had already fired or been stopped.
func (t *MockTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.pf.done {
		return false
	}
	t.pf.done = true
	return true
}

// Reset re-arms the timer for now+d. Returns true if it was still pending.
func (t *MockTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	wasPending := !t.pf.done
	t.clock.seq++
	t.pf.seq = t.clock.seq
	t.pf.executeAt = t.clock.now.Add(d)
	if t.pf.done {
		t.pf.done = false
		for _, pf := range t.clock.pending {
			if pf == t.pf {
				return wasPending
			}
		}
		t.clock.pending = append(t.clock.pending, t.pf)
	}
	return wasPending
}

// =============================================================================
// MockEventBus - Mock for eventbus.Publisher
// =============================================================================

// MockEventBus records published events and delivers them synchronously.
type MockEventBus struct {
	mu              sync.Mutex
	PublishedEvents []domain.Event
	Subscribers     map[domain.EventType][]func(domain.Event)
}

var _ eventbus.Publisher = (*MockEventBus)(nil)

// NewMockEventBus creates a new mock event bus.
func NewMockEventBus() *MockEventBus {
	return &MockEventBus{
		Subscribers: make(map[domain.EventType][]func(domain.Event)),
	}
}

// Publish stores the event and notifies subscribers synchronously.
func (m *MockEventBus) Publish(event domain.Event) error {
	m.mu.Lock()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	m.PublishedEvents = append(m.PublishedEvents, event)
	subscribers := append([]func(domain.Event){}, m.Subscribers[event.EventType]...)
	m.mu.Unlock()

	for _, handler := range subscribers {
		handler(event)
	}
	return nil
}

// Subscribe registers a handler for the given event type.
func (m *MockEventBus) Subscribe(eventType domain.EventType, handler func(domain.Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Subscribers[eventType] = append(m.Subscribers[eventType], handler)
}

// GetEvents returns all published events of a given type.
func (m *MockEventBus) GetEvents(eventType domain.EventType) []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []domain.Event
	for _, e := range m.PublishedEvents {
		if e.EventType == eventType {
			result = append(result, e)
		}
	}
	return result
}

// EventCount returns the number of events of a given type.
func (m *MockEventBus) EventCount(eventType domain.EventType) int {
	return len(m.GetEvents(eventType))
}

// LastEvent returns the most recently published event, or nil if none.
func (m *MockEventBus) LastEvent() *domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.PublishedEvents) == 0 {
		return nil
	}
	e := m.PublishedEvents[len(m.PublishedEvents)-1]
	return &e
}

// =============================================================================
// MockProber - Mock for probe.Prober
// =============================================================================

// MockProber records probe calls and returns ProbeFunc's result (nil if unset).
type MockProber struct {
	ProbeFunc func(ctx context.Context, target string) error

	mu      sync.Mutex
	targets []string
}

// Probe implements probe.Prober.
func (m *MockProber) Probe(ctx context.Context, target string) error {
	m.mu.Lock()
	m.targets = append(m.targets, target)
	fn := m.ProbeFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, target)
	}
	return nil
}

// CallCount returns how many times Probe has been called.
func (m *MockProber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.targets)
}

// Targets returns the targets passed to Probe, in call order.
func (m *MockProber) Targets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.targets...)
}
