// Package pool manages the set of live connections to one database
// file: a single dedicated writer connection that every transaction and
// mutation goes through (SQLite allows exactly one writer at a time
// regardless of journal mode), and a round-robin set of shared reader
// connections for concurrent lookups that don't need a transaction.
package pool

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/doclite/doclite/internal/driver"
)

// Reader is the narrow, read-only surface handed out for shared
// connections. It deliberately has no ExecContext: a caller that needs
// to write must go through Pool.WriterDB (or a Tx built on it), making
// "accidentally wrote through a shared connection" a compile error
// rather than a runtime one.
type Reader interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Pool owns one writer and zero or more reader connections to the same
// database file.
type Pool struct {
	writer  *driver.Managed
	readers []*driver.Managed
	nextIdx uint64

	healthInterval time.Duration
	stop           chan struct{}
}

// Config controls how a Pool is constructed.
type Config struct {
	DriverName  string
	DBOptions   driver.Options
	ReaderCount int           // 0 routes reads through the writer connection too
	HealthEvery time.Duration // 0 disables the background health loop
}

// Open opens the writer connection and cfg.ReaderCount reader
// connections, all against the same database file.
func Open(cfg Config) (*Pool, error) {
	writer, err := driver.NewManaged(cfg.DriverName, cfg.DBOptions)
	if err != nil {
		return nil, fmt.Errorf("pool: open writer: %w", err)
	}

	readers := make([]*driver.Managed, 0, cfg.ReaderCount)
	for i := 0; i < cfg.ReaderCount; i++ {
		r, err := driver.NewManaged(cfg.DriverName, cfg.DBOptions)
		if err != nil {
			writer.Close()
			for _, opened := range readers {
				opened.Close()
			}
			return nil, fmt.Errorf("pool: open reader %d: %w", i, err)
		}
		readers = append(readers, r)
	}

	p := &Pool{writer: writer, readers: readers, healthInterval: cfg.HealthEvery, stop: make(chan struct{})}
	if cfg.HealthEvery > 0 {
		go p.healthLoop()
	}
	return p, nil
}

// WriterDB returns the raw *sql.DB for the dedicated writer connection,
// the only connection transactions (package txn) are built on.
func (p *Pool) WriterDB() *sql.DB { return p.writer.DB() }

// WriterManaged returns the writer's Managed wrapper, for callers that
// need its statement cache or capabilities.
func (p *Pool) WriterManaged() *driver.Managed { return p.writer }

// Reader returns one reader connection, round-robined across the
// configured pool, or the writer connection if no dedicated readers
// were configured.
func (p *Pool) Reader() Reader {
	if len(p.readers) == 0 {
		return p.writer.DB()
	}
	idx := atomic.AddUint64(&p.nextIdx, 1)
	return p.readers[idx%uint64(len(p.readers))].DB()
}

// Capabilities reports the backend driver's capabilities (shared by
// every connection in the pool, since they all open the same driver).
func (p *Pool) Capabilities() driver.Capabilities { return p.writer.Capabilities() }

func (p *Pool) healthLoop() {
	ticker := time.NewTicker(p.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = p.writer.EnsureHealthy(ctx)
			for _, r := range p.readers {
				_ = r.EnsureHealthy(ctx)
			}
			cancel()
		}
	}
}

// linearBackOff implements backoff.BackOff with a delay that grows by a
// fixed step on every call instead of compounding geometrically: attempt
// N waits N*step. SQLITE_BUSY contention is expected to clear in roughly
// the time the current writer needs to finish, not to need the
// runaway spacing exponential backoff gives after a few retries. Follows
// the same self-contained shape as backoff.ExponentialBackOff: it tracks
// its own start time and returns backoff.Stop once maxElapsed has
// passed, rather than relying on a generic elapsed-time wrapper.
type linearBackOff struct {
	step       time.Duration
	maxElapsed time.Duration
	start      time.Time
	attempt    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	if b.start.IsZero() {
		b.start = time.Now()
	}
	if b.maxElapsed > 0 && time.Since(b.start) > b.maxElapsed {
		return backoff.Stop
	}
	b.attempt++
	return time.Duration(b.attempt) * b.step
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
	b.start = time.Time{}
}

// Retry runs op with linear backoff, used around writer operations that
// can fail transiently under SQLITE_BUSY contention even with
// busy_timeout configured (e.g. when a competing process, not just a
// competing goroutine, holds the write lock). shouldRetry decides which
// errors are worth retrying; op's own error is returned unwrapped once
// maxElapsed is exceeded.
func Retry(ctx context.Context, step, maxElapsed time.Duration, shouldRetry func(error) bool, op func() error) error {
	lb := &linearBackOff{step: step, maxElapsed: maxElapsed}
	bctx := backoff.WithContext(lb, ctx)

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bctx)
}

// Close stops the health loop and closes every connection in the pool.
func (p *Pool) Close() error {
	close(p.stop)
	var firstErr error
	if err := p.writer.Close(); err != nil {
		firstErr = err
	}
	for _, r := range p.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
