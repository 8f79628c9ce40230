package eventbus

import (
	"fmt"
	"sync"
	"time"

	"github.com/mescon/repeatd/internal/domain"
	"github.com/mescon/repeatd/internal/logger"
)

// DefaultHistorySize is how many recent events NewEventBus keeps for Recent.
const DefaultHistorySize = 500

// Publisher defines the interface for publishing events.
// This interface enables testing with mock implementations.
type Publisher interface {
	Publish(event domain.Event) error
	Subscribe(eventType domain.EventType, handler func(domain.Event))
}

// Ensure EventBus implements Publisher
var _ Publisher = (*EventBus)(nil)

// Store persists events before they are delivered to subscribers.
type Store interface {
	AppendEvent(event domain.Event) error
}

type EventBus struct {
	subscribers map[domain.EventType][]chan domain.Event
	store       Store
	mu          sync.RWMutex
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	histMu  sync.Mutex
	history []domain.Event
	next    int
	full    bool
	dropped uint64
}

func NewEventBus(historySize int) *EventBus {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &EventBus{
		subscribers: make(map[domain.EventType][]chan domain.Event),
		stopChan:    make(chan struct{}),
		history:     make([]domain.Event, historySize),
	}
}

// SetStore attaches a journal that every published event is written to.
// Passing nil detaches it.
func (eb *EventBus) SetStore(store Store) {
	eb.mu.Lock()
	eb.store = store
	eb.mu.Unlock()
}

// Publish records the event and hands it to every subscriber of its type.
// If the store rejects the event it is still delivered, and the store's
// error is returned.
func (eb *EventBus) Publish(event domain.Event) error {
	if event.EventType == "" {
		return fmt.Errorf("event type must be set")
	}
	logger.Debugf("EventBus: Publishing event %s (Job: %s)", event.EventType, event.JobID)

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	eb.mu.RLock()
	store := eb.store
	eb.mu.RUnlock()

	// 1. Persist to the journal, if one is attached
	var persistErr error
	if store != nil {
		if err := store.AppendEvent(event); err != nil {
			persistErr = fmt.Errorf("failed to persist event: %w", err)
		}
	}

	// 2. Record in the in-memory history
	eb.histMu.Lock()
	eb.history[eb.next] = event
	eb.next = (eb.next + 1) % len(eb.history)
	if eb.next == 0 {
		eb.full = true
	}
	eb.histMu.Unlock()

	// 3. Publish to subscribers
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, ch := range eb.subscribers[event.EventType] {
		select {
		case ch <- event:
		default:
			// Non-blocking, drop if buffer full to prevent blocking the publisher
			eb.histMu.Lock()
			eb.dropped++
			eb.histMu.Unlock()
		}
	}

	return persistErr
}

func (eb *EventBus) Subscribe(eventType domain.EventType, handler func(domain.Event)) {
	ch := make(chan domain.Event, 100)

	eb.mu.Lock()
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	eb.mu.Unlock()

	eb.wg.Add(1)
	go func() {
		defer eb.wg.Done()
		for {
			select {
			case event := <-ch:
				handler(event)
			case <-eb.stopChan:
				return // Shutdown signal received
			}
		}
	}()
}

// Recent returns up to n of the most recently published events, oldest first.
// n <= 0 returns the whole history.
func (eb *EventBus) Recent(n int) []domain.Event {
	eb.histMu.Lock()
	defer eb.histMu.Unlock()

	size := eb.next
	if eb.full {
		size = len(eb.history)
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]domain.Event, 0, n)
	start := eb.next - n
	if start < 0 {
		start += len(eb.history)
	}
	for i := 0; i < n; i++ {
		out = append(out, eb.history[(start+i)%len(eb.history)])
	}
	return out
}

// Dropped returns how many deliveries were skipped because a subscriber's buffer was full.
func (eb *EventBus) Dropped() uint64 {
	eb.histMu.Lock()
	defer eb.histMu.Unlock()
	return eb.dropped
}

// Shutdown stops all subscriber goroutines and waits for them to finish
func (eb *EventBus) Shutdown() {
	eb.stopOnce.Do(func() { close(eb.stopChan) })
	eb.wg.Wait()
	logger.Infof("EventBus shutdown complete")
}
