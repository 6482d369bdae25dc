// Package shutdown provides idle monitoring for scale-to-zero deployments.
package shutdown

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// BusyFunc reports background work that must keep the server up, such as
// generations still being polled.
type BusyFunc func() bool

// IdleConfig configures an IdleMonitor.
type IdleConfig struct {
	// Timeout is how long the server must be quiet before Idle fires. 0 disables monitoring.
	Timeout time.Duration
	// IgnorePaths are path prefixes that do not count as activity (health probes).
	IgnorePaths []string
	Busy        BusyFunc
	Logger      *slog.Logger
}

// IdleMonitor signals when no requests have arrived and no background work
// has run for the configured timeout, so platforms like Fly.io can stop the
// machine. A later request wakes a fresh one.
type IdleMonitor struct {
	cfg    IdleConfig
	now    func() time.Time
	logger *slog.Logger

	active       atomic.Int64
	lastActivity atomic.Int64 // unix nanos

	idle     chan struct{}
	idleOnce sync.Once
	wg       sync.WaitGroup
}

// NewIdleMonitor creates a new idle monitor.
func NewIdleMonitor(cfg IdleConfig) *IdleMonitor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &IdleMonitor{
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With("component", "idle_monitor"),
		idle:   make(chan struct{}),
	}
	m.touch()
	return m
}

// Enabled reports whether the monitor has a timeout.
func (m *IdleMonitor) Enabled() bool {
	return m.cfg.Timeout > 0
}

// Idle returns a channel that is closed once the idle timeout is reached.
// It never closes when monitoring is disabled.
func (m *IdleMonitor) Idle() <-chan struct{} {
	return m.idle
}

// Middleware counts requests as activity, except for ignored paths.
func (m *IdleMonitor) Middleware(next http.Handler) http.Handler {
	if !m.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.ignored(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		m.active.Add(1)
		m.touch()
		defer func() {
			m.active.Add(-1)
			m.touch()
		}()
		next.ServeHTTP(w, r)
	})
}

// Start checks for idleness until ctx is done or the timeout is reached.
func (m *IdleMonitor) Start(ctx context.Context) {
	if !m.Enabled() {
		m.logger.Debug("idle monitoring disabled")
		return
	}
	m.logger.Info("idle monitoring started", "timeout", m.cfg.Timeout.String())

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.checkInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if m.check() {
					return
				}
			}
		}
	}()
}

// Wait blocks until the monitoring goroutine has exited.
func (m *IdleMonitor) Wait() {
	m.wg.Wait()
}

// check runs one idleness test and fires Idle when the timeout is reached.
func (m *IdleMonitor) check() bool {
	active := m.active.Load()
	busy := m.cfg.Busy != nil && m.cfg.Busy()
	if active > 0 || busy {
		// Background work restarts the grace period so pollers get a full window.
		m.touch()
		return false
	}

	idleFor := m.now().Sub(time.Unix(0, m.lastActivity.Load()))
	if idleFor < m.cfg.Timeout {
		return false
	}

	m.logger.Info("idle timeout reached, signaling graceful shutdown", "idle_for", idleFor.String())
	m.idleOnce.Do(func() { close(m.idle) })
	return true
}

func (m *IdleMonitor) checkInterval() time.Duration {
	return min(max(m.cfg.Timeout/6, 5*time.Second), 30*time.Second)
}

func (m *IdleMonitor) touch() {
	m.lastActivity.Store(m.now().UnixNano())
}

func (m *IdleMonitor) ignored(path string) bool {
	for _, prefix := range m.cfg.IgnorePaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
