package driver

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Managed wraps a Backend with a health check and a reconnect path,
// replacing the live Backend in place so callers holding a *Managed
// never need to re-resolve it after a reconnect.
type Managed struct {
	mu                  sync.RWMutex
	backend             Backend
	driverName          string
	opts                Options
	stmts               *StmtCache
	consecutiveFailures int
}

// consecutiveFailureThreshold is how many pings in a row must fail
// before Managed attempts to reconnect, rather than reconnecting on the
// very first transient ping failure.
const consecutiveFailureThreshold = 3

// NewManaged opens driverName/opts and wraps the resulting Backend.
func NewManaged(driverName string, opts Options) (*Managed, error) {
	opts = opts.withDefaults()
	b, err := Open(driverName, opts)
	if err != nil {
		return nil, err
	}
	m := &Managed{backend: b, driverName: driverName, opts: opts}
	m.stmts = NewStmtCache(b.DB(), DefaultStmtCacheCapacity)
	return m, nil
}

// DB returns the current live *sql.DB.
func (m *Managed) DB() *sql.DB {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.backend.DB()
}

// Backend returns the currently live Backend.
func (m *Managed) Backend() Backend {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.backend
}

// Stmts returns the prepared-statement cache bound to the current
// connection.
func (m *Managed) Stmts() *StmtCache {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stmts
}

// Capabilities proxies to the live Backend.
func (m *Managed) Capabilities() Capabilities {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.backend.Capabilities()
}

// Ping checks whether the current connection is healthy.
func (m *Managed) Ping(ctx context.Context) error {
	m.mu.RLock()
	b := m.backend
	m.mu.RUnlock()
	return b.DB().PingContext(ctx)
}

// Reconnect closes the current Backend (best-effort) and opens a fresh
// one with the same driver and options, replacing the statement cache
// since prepared statements don't survive a new connection.
func (m *Managed) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_ = m.stmts.Close()
	_ = m.backend.Close()

	nb, err := Open(m.driverName, m.opts)
	if err != nil {
		return fmt.Errorf("driver: reconnect: %w", err)
	}
	m.backend = nb
	m.stmts = NewStmtCache(nb.DB(), DefaultStmtCacheCapacity)
	return nil
}

// EnsureHealthy pings the connection. A single failed ping is tolerated
// silently (SQLite under WAL contention can blip); only once
// consecutiveFailureThreshold pings in a row have failed does it attempt
// to reconnect, retrying up to opts.ReconnectMaxAttempts times with
// linear backoff (attempt*opts.ReconnectDelay between tries) before
// giving up and returning the last reconnect error.
func (m *Managed) EnsureHealthy(ctx context.Context) error {
	if err := m.Ping(ctx); err == nil {
		m.mu.Lock()
		m.consecutiveFailures = 0
		m.mu.Unlock()
		return nil
	}

	m.mu.Lock()
	m.consecutiveFailures++
	failures := m.consecutiveFailures
	maxAttempts := m.opts.ReconnectMaxAttempts
	delay := m.opts.ReconnectDelay
	m.mu.Unlock()

	if failures < consecutiveFailureThreshold {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := m.Reconnect(ctx); err == nil {
			m.mu.Lock()
			m.consecutiveFailures = 0
			m.mu.Unlock()
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * delay):
		}
	}

	// Exhausted every attempt; reset the streak so the next health tick
	// requires a fresh run of consecutive failures before retrying,
	// rather than reconnecting on every single tick from here on.
	m.mu.Lock()
	m.consecutiveFailures = 0
	m.mu.Unlock()
	return fmt.Errorf("driver: reconnect failed after %d attempts: %w", maxAttempts, lastErr)
}

// Close closes the statement cache and the live Backend.
func (m *Managed) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_ = m.stmts.Close()
	return m.backend.Close()
}
