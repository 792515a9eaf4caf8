// Package driver adapts the two SQLite Go drivers reachable from this
// module — the cgo mattn/go-sqlite3 build with sqlite-vec support, and
// the pure-Go modernc.org/sqlite build without it — behind one Backend
// interface, so the rest of the engine never imports either driver
// directly.
package driver

import (
	"database/sql"
	"fmt"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

func init() {
	sqlite_vec.Auto()
}

// Capabilities describes what a Backend's underlying driver supports.
type Capabilities struct {
	// Vectors is true when vec0 virtual tables are usable — only the
	// cgo mattn/go-sqlite3 build links sqlite-vec.
	Vectors bool
}

// Options configures how a Backend opens its database file.
type Options struct {
	Path        string
	BusyTimeout time.Duration
	JournalMode string // default "WAL"
	Synchronous string // default "NORMAL"
	ForeignKeys bool

	// ReconnectMaxAttempts bounds how many times Managed.EnsureHealthy
	// retries Reconnect after three consecutive failed pings, each
	// attempt waiting attempt*ReconnectDelay (linear backoff) before the
	// next. Zero means "use the package default" (see withDefaults).
	ReconnectMaxAttempts int
	ReconnectDelay       time.Duration
}

func (o Options) withDefaults() Options {
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = 5 * time.Second
	}
	if o.JournalMode == "" {
		o.JournalMode = "WAL"
	}
	if o.Synchronous == "" {
		o.Synchronous = "NORMAL"
	}
	if o.ReconnectMaxAttempts <= 0 {
		o.ReconnectMaxAttempts = 5
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 500 * time.Millisecond
	}
	return o
}

// Backend is a live connection to a single SQLite database file, opened
// through one of the two supported drivers.
type Backend interface {
	DB() *sql.DB
	Capabilities() Capabilities
	DriverName() string
	Close() error
}

// Open dispatches to the backend named by driverName: "sqlite3" (or ""
// or "native") for the cgo build with vector support, "sqlite" (or
// "runtime" or "modernc") for the pure-Go build. This mirrors the
// DATABASE_DRIVER environment switch documented for Options.
func Open(driverName string, opts Options) (Backend, error) {
	switch driverName {
	case "", "sqlite3", "native":
		return openNative(opts.withDefaults())
	case "sqlite", "runtime", "modernc":
		return openRuntime(opts.withDefaults())
	default:
		return nil, fmt.Errorf("driver: unknown driver %q", driverName)
	}
}

type nativeBackend struct {
	db *sql.DB
}

func openNative(opts Options) (Backend, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("driver: open sqlite3: %w", err)
	}
	// The cgo driver's connections aren't safe for concurrent writers;
	// internal/pool is responsible for serializing writes above this,
	// so a single physical connection per Backend keeps that contract
	// simple instead of fighting database/sql's own pooling.
	db.SetMaxOpenConns(1)
	if err := applyPragmas(db, opts); err != nil {
		db.Close()
		return nil, err
	}
	var vecVersion string
	if err := db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("driver: sqlite-vec not available: %w", err)
	}
	return &nativeBackend{db: db}, nil
}

func (b *nativeBackend) DB() *sql.DB                 { return b.db }
func (b *nativeBackend) Capabilities() Capabilities  { return Capabilities{Vectors: true} }
func (b *nativeBackend) DriverName() string          { return "sqlite3" }
func (b *nativeBackend) Close() error                { return b.db.Close() }

type runtimeBackend struct {
	db *sql.DB
}

func openRuntime(opts Options) (Backend, error) {
	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("driver: open sqlite (modernc): %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := applyPragmas(db, opts); err != nil {
		db.Close()
		return nil, err
	}
	return &runtimeBackend{db: db}, nil
}

func (b *runtimeBackend) DB() *sql.DB                { return b.db }
func (b *runtimeBackend) Capabilities() Capabilities { return Capabilities{Vectors: false} }
func (b *runtimeBackend) DriverName() string         { return "sqlite" }
func (b *runtimeBackend) Close() error               { return b.db.Close() }

func applyPragmas(db *sql.DB, opts Options) error {
	stmts := []string{
		fmt.Sprintf("PRAGMA journal_mode=%s", opts.JournalMode),
		fmt.Sprintf("PRAGMA synchronous=%s", opts.Synchronous),
		fmt.Sprintf("PRAGMA busy_timeout=%d", opts.BusyTimeout.Milliseconds()),
	}
	if opts.ForeignKeys {
		stmts = append(stmts, "PRAGMA foreign_keys=ON")
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("driver: %s: %w", s, err)
		}
	}
	return nil
}
