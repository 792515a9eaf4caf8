package doclite

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/doclite/doclite/internal/driver"
	"github.com/doclite/doclite/internal/pool"
)

// ConnectionPoolOptions tunes the reader pool and transient-failure
// retry policy sitting above the single dedicated writer connection.
type ConnectionPoolOptions struct {
	MaxConnections      int           `toml:"max_connections"` // reader count; 0 routes reads through the writer
	MaxIdleTime         time.Duration `toml:"max_idle_time"`   // unused by the single-physical-connection model; accepted for config compatibility
	HealthCheckInterval time.Duration `toml:"health_check_interval"`
	RetryAttempts       int           `toml:"retry_attempts"`
	RetryDelay          time.Duration `toml:"retry_delay"`
}

// SQLiteOptions maps the PRAGMAs this engine opens a connection with.
// CacheSize, TempStore, LockingMode, AutoVacuum, and WalCheckpoint are
// accepted for configuration-surface compatibility but are not currently
// plumbed into internal/driver.Options — see DESIGN.md's Component N
// entry for why (no component applies them, and adding unexercised
// PRAGMA plumbing ahead of a concrete need would just be dead config).
type SQLiteOptions struct {
	JournalMode   string        `toml:"journal_mode"`
	Synchronous   string        `toml:"synchronous"`
	BusyTimeout   time.Duration `toml:"busy_timeout"`
	CacheSize     int           `toml:"cache_size"`
	TempStore     string        `toml:"temp_store"`
	LockingMode   string        `toml:"locking_mode"`
	AutoVacuum    string        `toml:"auto_vacuum"`
	WalCheckpoint string        `toml:"wal_checkpoint"`
	ForeignKeys   bool          `toml:"foreign_keys"`
}

// Options configures a Database. The zero value opens a file named
// "doclite.db" (or an in-memory database if Memory is set) with the
// native sqlite-vec-capable driver and sensible pool/PRAGMA defaults.
type Options struct {
	Path   string `toml:"path"`
	Memory bool   `toml:"memory"`

	// DriverName selects the backend: "auto" (default, the native
	// sqlite-vec build; there is no fallback to the pure-Go build),
	// "sqlite-native", "sqlite-runtime" / "sqlite-runtime-b" (pure Go, no
	// vector support), or an explicit internal/driver name. Overridden by
	// the DATABASE_DRIVER environment variable if set.
	DriverName string `toml:"driver"`

	SharedConnection     bool          `toml:"shared_connection"`
	AutoReconnect        bool          `toml:"auto_reconnect"`
	MaxReconnectAttempts int           `toml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `toml:"reconnect_delay"`

	ConnectionPool ConnectionPoolOptions `toml:"connection_pool"`
	SQLite         SQLiteOptions         `toml:"sqlite"`

	// HookMode selects hook-failure handling: "safe" (default, log and
	// continue) or "strict" (abort the triggering operation).
	HookMode string `toml:"hook_mode"`

	// Logger receives Database's own diagnostics and hook-failure
	// warnings in safe mode. Not TOML-serializable; set after loading a
	// file, if at all. Defaults to NopLogger.
	Logger Logger `toml:"-"`
}

// driverEnvVar overrides Options.DriverName when set, per the
// configuration surface's documented environment switch.
const driverEnvVar = "DATABASE_DRIVER"

// driverNames maps this package's public driver names onto
// internal/driver's dispatch strings.
var driverNames = map[string]string{
	"":                 "",
	"auto":             "",
	"sqlite-native":    "native",
	"sqlite-runtime":   "runtime",
	"sqlite-runtime-b": "runtime",
}

func resolveDriverName(name string) string {
	if v := os.Getenv(driverEnvVar); v != "" {
		name = v
	}
	if mapped, ok := driverNames[name]; ok {
		return mapped
	}
	// Already an internal/driver name (native/runtime/sqlite3/sqlite/modernc).
	return name
}

func (o Options) withDefaults() Options {
	if o.Path == "" && !o.Memory {
		o.Path = "doclite.db"
	}
	if o.ConnectionPool.HealthCheckInterval == 0 {
		o.ConnectionPool.HealthCheckInterval = 30 * time.Second
	}
	if o.ConnectionPool.RetryAttempts == 0 {
		o.ConnectionPool.RetryAttempts = 3
	}
	if o.ConnectionPool.RetryDelay == 0 {
		o.ConnectionPool.RetryDelay = 100 * time.Millisecond
	}
	if o.MaxReconnectAttempts == 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.ReconnectDelay == 0 {
		o.ReconnectDelay = 500 * time.Millisecond
	}
	return o
}

func (o Options) driverOptions() driver.Options {
	path := o.Path
	if o.Memory {
		path = ":memory:"
	}
	return driver.Options{
		Path:                 path,
		BusyTimeout:          o.SQLite.BusyTimeout,
		JournalMode:          o.SQLite.JournalMode,
		Synchronous:          o.SQLite.Synchronous,
		ForeignKeys:          o.SQLite.ForeignKeys,
		ReconnectMaxAttempts: o.MaxReconnectAttempts,
		ReconnectDelay:       o.ReconnectDelay,
	}
}

func (o Options) poolConfig() pool.Config {
	readers := o.ConnectionPool.MaxConnections
	if o.SharedConnection {
		// Multiplex every read through the one dedicated writer
		// connection instead of opening a separate reader pool.
		readers = 0
	}
	return pool.Config{
		DriverName:  resolveDriverName(o.DriverName),
		DBOptions:   o.driverOptions(),
		ReaderCount: readers,
		HealthEvery: o.ConnectionPool.HealthCheckInterval,
	}
}

// LoadOptionsFile reads Options from a TOML file, following the
// teacher's own config-loading shape (defaults, then file contents
// layered on top via toml.DecodeFile) but narrowed to this package's own
// configuration surface instead of a merged CLI/env/file/default chain.
func LoadOptionsFile(path string) (Options, error) {
	var opts Options
	if _, err := toml.DecodeFile(path, &opts); err != nil {
		return Options{}, fmt.Errorf("doclite: load options %s: %w", path, err)
	}
	return opts, nil
}
