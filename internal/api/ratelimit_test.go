package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mescon/repeatd/internal/testutil"
)

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(5, time.Minute, 10, nil)

	if rl == nil {
		t.Fatal("NewRateLimiter should not return nil")
	}
	if rl.rate != 5 {
		t.Errorf("rate = %d, want 5", rl.rate)
	}
	if rl.interval != time.Minute {
		t.Errorf("interval = %v, want 1m", rl.interval)
	}
	if rl.burst != 10 {
		t.Errorf("burst = %d, want 10", rl.burst)
	}
	if rl.clock == nil {
		t.Error("nil clock should default to the real clock")
	}
}

func TestRateLimiter_Allow_NewClient(t *testing.T) {
	rl := NewRateLimiter(5, time.Minute, 3, testutil.NewMockClock())

	// New client should be allowed (starts with full bucket)
	if !rl.Allow("192.168.1.1") {
		t.Error("First request from new client should be allowed")
	}

	rl.mu.Lock()
	bucket, exists := rl.clients["192.168.1.1"]
	rl.mu.Unlock()

	if !exists {
		t.Fatal("Client should be tracked after first request")
	}
	if bucket.tokens != 2 { // burst(3) - 1 = 2
		t.Errorf("tokens = %d, want 2 (burst - 1)", bucket.tokens)
	}
}

func TestRateLimiter_Allow_ExhaustBucket(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour, 3, testutil.NewMockClock())

	for i := 0; i < 3; i++ {
		if !rl.Allow("192.168.1.1") {
			t.Errorf("Request %d should be allowed (within burst)", i+1)
		}
	}
	if rl.Allow("192.168.1.1") {
		t.Error("Request after burst exhausted should be denied")
	}
	if rl.Allow("192.168.1.1") {
		t.Error("Subsequent requests should also be denied")
	}
}

func TestRateLimiter_Allow_MultipleClients(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour, 2, testutil.NewMockClock())

	rl.Allow("client-a")
	rl.Allow("client-a")
	if rl.Allow("client-a") {
		t.Error("Client A should be rate limited")
	}
	if !rl.Allow("client-b") {
		t.Error("Client B should not be affected by Client A's rate limiting")
	}
}

func TestRateLimiter_Allow_TokenRefill(t *testing.T) {
	mc := testutil.NewMockClock()
	rl := NewRateLimiter(1, time.Second, 2, mc)

	rl.Allow("192.168.1.1")
	rl.Allow("192.168.1.1")
	if rl.Allow("192.168.1.1") {
		t.Error("Should be denied immediately after exhausting bucket")
	}

	mc.Advance(999 * time.Millisecond)
	if rl.Allow("192.168.1.1") {
		t.Error("Should still be denied before a full interval")
	}

	mc.Advance(time.Millisecond)
	if !rl.Allow("192.168.1.1") {
		t.Error("Should be allowed after tokens refill")
	}
}

func TestRateLimiter_Allow_PartialIntervalsAccumulate(t *testing.T) {
	mc := testutil.NewMockClock()
	rl := NewRateLimiter(1, time.Second, 1, mc)

	rl.Allow("ip")
	// Two checks 600ms apart add up to one full interval
	mc.Advance(600 * time.Millisecond)
	if rl.Allow("ip") {
		t.Error("600ms is less than one interval")
	}
	mc.Advance(600 * time.Millisecond)
	if !rl.Allow("ip") {
		t.Error("1.2s since the last refill should have added a token")
	}
}

func TestRateLimiter_Allow_TokenCapAtBurst(t *testing.T) {
	mc := testutil.NewMockClock()
	rl := NewRateLimiter(10, time.Millisecond, 3, mc)

	rl.Allow("192.168.1.1")
	mc.Advance(time.Second)
	rl.Allow("192.168.1.1")

	rl.mu.Lock()
	tokens := rl.clients["192.168.1.1"].tokens
	rl.mu.Unlock()

	if tokens != rl.burst-1 {
		t.Errorf("tokens = %d, want %d (capped at burst, minus this request)", tokens, rl.burst-1)
	}
}

func TestRateLimiter_Sweep(t *testing.T) {
	mc := testutil.NewMockClock()
	rl := NewRateLimiter(1, time.Minute, 5, mc)

	rl.Allow("old")
	mc.Advance(8 * time.Minute)
	rl.Allow("recent")
	mc.Advance(3 * time.Minute)

	if n := rl.Sweep(); n != 1 {
		t.Errorf("Sweep() removed %d, want 1", n)
	}
	rl.mu.Lock()
	_, oldExists := rl.clients["old"]
	_, recentExists := rl.clients["recent"]
	rl.mu.Unlock()
	if oldExists {
		t.Error("idle client should have been swept")
	}
	if !recentExists {
		t.Error("recent client should be kept")
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(1, time.Minute, 2, testutil.NewMockClock())

	router := gin.New()
	router.Use(rl.Middleware())
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		last = httptest.NewRecorder()
		router.ServeHTTP(last, req)
		codes = append(codes, last.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("first two requests = %v, want 200", codes[:2])
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", codes[2])
	}

	var body map[string]interface{}
	if err := json.Unmarshal(last.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if body["error"] != "Too many requests" {
		t.Errorf("error = %v", body["error"])
	}
	if body["retry_after"] != float64(60) {
		t.Errorf("retry_after = %v, want 60", body["retry_after"])
	}
}

func TestRESTServer_SweepRunsOnSchedule(t *testing.T) {
	e := setupTestServer(t, nil)
	e.server.limiter.Allow("10.0.0.1")

	// The sweep fires every 5 minutes; the bucket becomes stale after 10
	e.clock.Advance(15 * time.Minute)

	e.server.limiter.mu.Lock()
	remaining := len(e.server.limiter.clients)
	e.server.limiter.mu.Unlock()
	if remaining != 0 {
		t.Errorf("clients = %d, want 0 after scheduled sweep", remaining)
	}
	if e.server.sweeper.Count() != 3 {
		t.Errorf("sweeps = %d, want 3", e.server.sweeper.Count())
	}
}
