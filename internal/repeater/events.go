package repeater

import "sync"

// EventKind names a repeater notification.
type EventKind string

const (
	EventRun     EventKind = "run"
	EventError   EventKind = "error"
	EventAbort   EventKind = "abort"
	EventAborted EventKind = "aborted"
)

// Event is delivered to listeners. Tick is set for run events, Err for error events.
type Event struct {
	Kind     EventKind
	Repeater *Repeater
	Tick     *Tick
	Err      error
}

// Listener receives events.
type Listener func(Event)

type listener struct {
	id   uint64
	fn   Listener
	once bool
}

type emitter struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[EventKind][]listener
}

func (e *emitter) on(kind EventKind, fn Listener, once bool) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.listeners == nil {
		e.listeners = make(map[EventKind][]listener)
	}
	e.nextID++
	id := e.nextID
	e.listeners[kind] = append(e.listeners[kind], listener{id: id, fn: fn, once: once})

	return func() { e.off(kind, id) }
}

func (e *emitter) off(kind EventKind, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ls := e.listeners[kind]
	for i, l := range ls {
		if l.id == id {
			e.listeners[kind] = append(ls[:i:i], ls[i+1:]...)
			return
		}
	}
}

// emit calls the listeners registered for ev.Kind in registration order and
// returns how many were called. Once-listeners are removed before any is called.
func (e *emitter) emit(ev Event) int {
	e.mu.Lock()
	ls := e.listeners[ev.Kind]
	if len(ls) == 0 {
		e.mu.Unlock()
		return 0
	}
	snapshot := make([]listener, len(ls))
	copy(snapshot, ls)

	kept := ls[:0:0]
	for _, l := range ls {
		if !l.once {
			kept = append(kept, l)
		}
	}
	e.listeners[ev.Kind] = kept
	e.mu.Unlock()

	for _, l := range snapshot {
		l.fn(ev)
	}
	return len(snapshot)
}

func (e *emitter) count(kind EventKind) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[kind])
}
