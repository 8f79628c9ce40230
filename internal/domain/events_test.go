package domain

import (
	"errors"
	"testing"
	"time"
)

// TestEvent_GetString tests the GetString accessor method.
func TestEvent_GetString(t *testing.T) {
	tests := []struct {
		name      string
		eventData map[string]interface{}
		key       string
		wantValue string
		wantOk    bool
	}{
		{
			name:      "existing string key",
			eventData: map[string]interface{}{"error": "connection refused"},
			key:       "error",
			wantValue: "connection refused",
			wantOk:    true,
		},
		{
			name:      "missing key",
			eventData: map[string]interface{}{"other": "value"},
			key:       "error",
			wantValue: "",
			wantOk:    false,
		},
		{
			name:      "nil event data",
			eventData: nil,
			key:       "error",
			wantValue: "",
			wantOk:    false,
		},
		{
			name:      "wrong type",
			eventData: map[string]interface{}{"count": 123},
			key:       "count",
			wantValue: "",
			wantOk:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Event{EventData: tt.eventData}
			got, ok := e.GetString(tt.key)
			if got != tt.wantValue || ok != tt.wantOk {
				t.Errorf("GetString(%q) = (%q, %v), want (%q, %v)", tt.key, got, ok, tt.wantValue, tt.wantOk)
			}
		})
	}
}

// TestEvent_GetInt64 tests numeric coercion from the types JSON and Go code produce.
func TestEvent_GetInt64(t *testing.T) {
	tests := []struct {
		name   string
		value  interface{}
		want   int64
		wantOk bool
	}{
		{"int", 7, 7, true},
		{"int64", int64(8), 8, true},
		{"float64 from JSON", float64(9), 9, true},
		{"string", "10", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Event{EventData: map[string]interface{}{"count": tt.value}}
			got, ok := e.GetInt64("count")
			if got != tt.want || ok != tt.wantOk {
				t.Errorf("GetInt64() = (%d, %v), want (%d, %v)", got, ok, tt.want, tt.wantOk)
			}
		})
	}

	e := &Event{}
	if got := e.GetInt64Or("count", 42); got != 42 {
		t.Errorf("GetInt64Or() on nil data = %d, want 42", got)
	}
}

func TestEvent_GetFloat64(t *testing.T) {
	e := &Event{EventData: map[string]interface{}{"a": 1.5, "b": int64(2), "c": 3, "d": "x"}}

	if v, ok := e.GetFloat64("a"); !ok || v != 1.5 {
		t.Errorf("GetFloat64(a) = (%v, %v)", v, ok)
	}
	if v, ok := e.GetFloat64("b"); !ok || v != 2 {
		t.Errorf("GetFloat64(b) = (%v, %v)", v, ok)
	}
	if v, ok := e.GetFloat64("c"); !ok || v != 3 {
		t.Errorf("GetFloat64(c) = (%v, %v)", v, ok)
	}
	if _, ok := e.GetFloat64("d"); ok {
		t.Error("GetFloat64(d) should fail for a string")
	}
}

// =============================================================================
// Tick event data
// =============================================================================

func TestTickEventData_FirstTickHasNoDelta(t *testing.T) {
	e := &Event{EventType: TickStarted, EventData: NewTickEventData(1, 0, false, nil)}

	data, ok := e.ParseTickEventData()
	if !ok {
		t.Fatal("ParseTickEventData() failed")
	}
	if data.Count != 1 {
		t.Errorf("Count = %d, want 1", data.Count)
	}
	if data.DeltaMs != nil {
		t.Errorf("DeltaMs = %v, want nil on first tick", *data.DeltaMs)
	}
	if data.Error != "" {
		t.Errorf("Error = %q, want empty", data.Error)
	}
}

func TestTickEventData_WithDeltaAndError(t *testing.T) {
	e := &Event{
		EventType: TickFailed,
		EventData: NewTickEventData(3, 1500*time.Millisecond, true, errors.New("boom")),
	}

	data, ok := e.ParseTickEventData()
	if !ok {
		t.Fatal("ParseTickEventData() failed")
	}
	if data.Count != 3 {
		t.Errorf("Count = %d, want 3", data.Count)
	}
	if data.DeltaMs == nil || *data.DeltaMs != 1500 {
		t.Errorf("DeltaMs = %v, want 1500", data.DeltaMs)
	}
	if data.Error != "boom" {
		t.Errorf("Error = %q, want boom", data.Error)
	}
}

func TestTickEventData_MissingCount(t *testing.T) {
	e := &Event{EventData: map[string]interface{}{}}
	if _, ok := e.ParseTickEventData(); ok {
		t.Error("ParseTickEventData() should fail without a count")
	}
}
