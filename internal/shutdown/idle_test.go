package shutdown

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestMonitor(cfg IdleConfig) (*IdleMonitor, *fakeClock) {
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := NewIdleMonitor(cfg)
	m.now = clock.Now
	m.touch()
	return m, clock
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// ========================================
// IdleMonitor Tests
// ========================================

func TestIdleMonitor_Disabled(t *testing.T) {
	m, _ := newTestMonitor(IdleConfig{})
	if m.Enabled() {
		t.Error("Enabled() = true with zero timeout")
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	if got := m.Middleware(next); got == nil {
		t.Fatal("Middleware returned nil")
	}
}

func TestIdleMonitor_FiresAfterTimeout(t *testing.T) {
	m, clock := newTestMonitor(IdleConfig{Timeout: time.Minute})

	clock.Advance(30 * time.Second)
	if m.check() {
		t.Fatal("check() fired before timeout")
	}

	clock.Advance(31 * time.Second)
	if !m.check() {
		t.Fatal("check() did not fire after timeout")
	}
	if !isClosed(m.Idle()) {
		t.Error("Idle() not closed")
	}
	// Firing twice must not panic on a closed channel.
	m.check()
}

func TestIdleMonitor_RequestsResetTimer(t *testing.T) {
	m, clock := newTestMonitor(IdleConfig{Timeout: time.Minute, IgnorePaths: []string{"/healthz"}})
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	clock.Advance(50 * time.Second)
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/credits", nil))

	clock.Advance(50 * time.Second)
	if m.check() {
		t.Error("check() fired although a request arrived within the timeout")
	}
}

func TestIdleMonitor_IgnoredPathsAreNotActivity(t *testing.T) {
	m, clock := newTestMonitor(IdleConfig{Timeout: time.Minute, IgnorePaths: []string{"/healthz", "/readyz"}})
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	clock.Advance(50 * time.Second)
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	clock.Advance(20 * time.Second)
	if !m.check() {
		t.Error("health probe kept the server awake")
	}
}

func TestIdleMonitor_ActiveRequestBlocksShutdown(t *testing.T) {
	m, clock := newTestMonitor(IdleConfig{Timeout: time.Minute})

	m.active.Add(1)
	clock.Advance(2 * time.Minute)
	if m.check() {
		t.Error("check() fired with a request in flight")
	}
}

func TestIdleMonitor_BusyBackgroundWork(t *testing.T) {
	busy := true
	m, clock := newTestMonitor(IdleConfig{Timeout: time.Minute, Busy: func() bool { return busy }})

	clock.Advance(2 * time.Minute)
	if m.check() {
		t.Fatal("check() fired while background work was busy")
	}

	// The grace period restarts once the work finishes.
	busy = false
	clock.Advance(30 * time.Second)
	if m.check() {
		t.Fatal("check() fired before a full grace period after work finished")
	}
	clock.Advance(31 * time.Second)
	if !m.check() {
		t.Error("check() did not fire after the grace period")
	}
}

func TestIdleMonitor_CheckInterval(t *testing.T) {
	tests := []struct {
		timeout time.Duration
		want    time.Duration
	}{
		{time.Second, 5 * time.Second},
		{time.Minute, 10 * time.Second},
		{time.Hour, 30 * time.Second},
	}
	for _, tt := range tests {
		m, _ := newTestMonitor(IdleConfig{Timeout: tt.timeout})
		if got := m.checkInterval(); got != tt.want {
			t.Errorf("checkInterval(%v) = %v, want %v", tt.timeout, got, tt.want)
		}
	}
}
