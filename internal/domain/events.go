package domain

import (
	"time"
)

type EventType string

const (
	JobAdded       EventType = "JobAdded"
	TickStarted    EventType = "TickStarted"
	TickFailed     EventType = "TickFailed"
	AbortRequested EventType = "AbortRequested"
	JobAborted     EventType = "JobAborted"
)

// AllEventTypes lists every event type, in lifecycle order.
var AllEventTypes = []EventType{JobAdded, TickStarted, TickFailed, AbortRequested, JobAborted}

type Event struct {
	JobID     string                 `json:"job_id"`
	JobName   string                 `json:"job_name"`
	EventType EventType              `json:"event_type"`
	EventData map[string]interface{} `json:"event_data"`
	CreatedAt time.Time              `json:"created_at"`
}

// =============================================================================
// Type-safe event data accessors
// =============================================================================

// GetString safely extracts a string field from EventData.
func (e *Event) GetString(key string) (string, bool) {
	if e.EventData == nil {
		return "", false
	}
	v, ok := e.EventData[key].(string)
	return v, ok
}

// GetStringOr extracts a string field or returns the default value.
func (e *Event) GetStringOr(key, defaultVal string) string {
	if v, ok := e.GetString(key); ok {
		return v
	}
	return defaultVal
}

// GetInt64 safely extracts an int64 field from EventData.
// Handles int, int64 and float64 (JSON unmarshaling produces float64).
func (e *Event) GetInt64(key string) (int64, bool) {
	if e.EventData == nil {
		return 0, false
	}
	switch v := e.EventData[key].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

// GetInt64Or extracts an int64 field or returns the default value.
func (e *Event) GetInt64Or(key string, defaultVal int64) int64 {
	if v, ok := e.GetInt64(key); ok {
		return v
	}
	return defaultVal
}

// GetFloat64 safely extracts a float64 field from EventData.
func (e *Event) GetFloat64(key string) (float64, bool) {
	if e.EventData == nil {
		return 0, false
	}
	switch v := e.EventData[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// =============================================================================
// Typed event data
// =============================================================================

// TickEventData describes a single tick of a job. DeltaMs is absent on the
// first tick of a job.
type TickEventData struct {
	Count   int64
	DeltaMs *float64
	Error   string
}

// NewTickEventData builds EventData for TickStarted and TickFailed events.
func NewTickEventData(count int, delta time.Duration, hasDelta bool, err error) map[string]interface{} {
	data := map[string]interface{}{
		"count": int64(count),
	}
	if hasDelta {
		data["delta_ms"] = float64(delta) / float64(time.Millisecond)
	}
	if err != nil {
		data["error"] = err.Error()
	}
	return data
}

// ParseTickEventData extracts typed tick data from an event.
func (e *Event) ParseTickEventData() (TickEventData, bool) {
	count, ok := e.GetInt64("count")
	if !ok {
		return TickEventData{}, false
	}
	data := TickEventData{
		Count: count,
		Error: e.GetStringOr("error", ""),
	}
	if d, ok := e.GetFloat64("delta_ms"); ok {
		data.DeltaMs = &d
	}
	return data, true
}
