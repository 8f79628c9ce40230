package testutil

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mescon/repeatd/internal/domain"
)

// EventOption is a functional option for configuring test events.
type EventOption func(*domain.Event)

// WithJobID sets a specific job ID.
func WithJobID(id string) EventOption {
	return func(e *domain.Event) {
		e.JobID = id
	}
}

// WithJobName sets the job name.
func WithJobName(name string) EventOption {
	return func(e *domain.Event) {
		e.JobName = name
	}
}

// WithCreatedAt sets the event creation time.
func WithCreatedAt(t time.Time) EventOption {
	return func(e *domain.Event) {
		e.CreatedAt = t
	}
}

// WithEventData merges additional data into EventData.
func WithEventData(data map[string]interface{}) EventOption {
	return func(e *domain.Event) {
		if e.EventData == nil {
			e.EventData = make(map[string]interface{})
		}
		for k, v := range data {
			e.EventData[k] = v
		}
	}
}

func newEvent(eventType domain.EventType, data map[string]interface{}, opts []EventOption) domain.Event {
	id := uuid.New().String()
	event := domain.Event{
		JobID:     id,
		JobName:   "job-" + id[:8],
		EventType: eventType,
		EventData: data,
		CreatedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&event)
	}
	return event
}

// NewJobAddedEvent creates a JobAdded event for testing.
func NewJobAddedEvent(kind string, interval time.Duration, opts ...EventOption) domain.Event {
	return newEvent(domain.JobAdded, map[string]interface{}{
		"kind":        kind,
		"interval_ms": interval.Milliseconds(),
		"delay_ms":    int64(0),
	}, opts)
}

// NewTickStartedEvent creates a TickStarted event. delta is omitted when zero.
func NewTickStartedEvent(count int, delta time.Duration, opts ...EventOption) domain.Event {
	return newEvent(domain.TickStarted, domain.NewTickEventData(count, delta, delta > 0, nil), opts)
}

// NewTickFailedEvent creates a TickFailed event carrying msg as the error.
func NewTickFailedEvent(count int, msg string, opts ...EventOption) domain.Event {
	return newEvent(domain.TickFailed, domain.NewTickEventData(count, 0, false, errors.New(msg)), opts)
}

// NewJobAbortedEvent creates a JobAborted event after count ticks.
func NewJobAbortedEvent(count int, opts ...EventOption) domain.Event {
	return newEvent(domain.JobAborted, map[string]interface{}{"count": int64(count)}, opts)
}

// JobLifecycle returns the events of one job that is added, ticks the given
// number of times every interval, and is then aborted. Timestamps start at base.
func JobLifecycle(jobID string, ticks int, interval time.Duration, base time.Time) []domain.Event {
	opts := func(at time.Time) []EventOption {
		return []EventOption{WithJobID(jobID), WithJobName("lifecycle"), WithCreatedAt(at)}
	}

	events := []domain.Event{NewJobAddedEvent("heartbeat", interval, opts(base)...)}
	at := base
	for i := 1; i <= ticks; i++ {
		at = at.Add(interval)
		var delta time.Duration
		if i > 1 {
			delta = interval
		}
		events = append(events, NewTickStartedEvent(i, delta, opts(at)...))
	}
	events = append(events,
		newEvent(domain.AbortRequested, nil, opts(at)),
		NewJobAbortedEvent(ticks, opts(at)...),
	)
	return events
}
