package doclite

import (
	"fmt"
	"log"
	"os"
)

// Logger is the surface Database uses for its own diagnostics (a safe-
// mode hook failure, a reconnect) and structurally satisfies
// internal/hooks.Logger, so a Database can be handed straight to
// hooks.New without an adapter. Grounded in the observation that none of
// the repos this module draws on import a structured logging library
// directly (only transitively, as someone else's dependency) — the
// teacher's own internal/store and internal/hooks packages format
// warnings with plain fmt/log, so this package does the same rather than
// adding a logging dependency none of the corpus actually exercises.
type Logger interface {
	Warn(msg string, args ...any)
}

// NopLogger discards every warning. The zero value is ready to use.
type NopLogger struct{}

// Warn implements Logger.
func (NopLogger) Warn(string, ...any) {}

// StderrLogger writes warnings to an *log.Logger (stderr by default).
type StderrLogger struct {
	*log.Logger
}

// NewStderrLogger returns a StderrLogger writing to os.Stderr with a
// "doclite: " prefix.
func NewStderrLogger() *StderrLogger {
	return &StderrLogger{Logger: log.New(os.Stderr, "doclite: ", log.LstdFlags)}
}

// Warn implements Logger, formatting args as alternating key/value pairs
// the way internal/hooks.Dispatcher calls it.
func (l *StderrLogger) Warn(msg string, args ...any) {
	if l == nil || l.Logger == nil {
		return
	}
	l.Print(formatWarn(msg, args...))
}

func formatWarn(msg string, args ...any) string {
	out := msg
	for i := 0; i+1 < len(args); i += 2 {
		out += fmt.Sprintf(" %v=%v", args[i], args[i+1])
	}
	return out
}
