// Package hooks implements the in-process plugin/hook dispatcher: a
// plugin registers by exposing methods named after the events it wants
// to observe, each is invoked under a per-hook timeout, and failures are
// either logged (safe mode) or propagated (strict mode). Grounded on the
// teacher's internal/hooks/plugins.go select/time.After race, generalized
// from "spawn an external process and read its stdout" to "call a
// registered Go method with a deadline".
package hooks

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/doclite/doclite/internal/dberr"
)

// Event names the dispatch points a plugin may observe. A plugin exposes
// interest in an event by implementing a method of this exact name with
// signature func(context.Context, any) error.
type Event string

const (
	EventBeforeInsert      Event = "OnBeforeInsert"
	EventAfterInsert       Event = "OnAfterInsert"
	EventBeforeUpdate      Event = "OnBeforeUpdate"
	EventAfterUpdate       Event = "OnAfterUpdate"
	EventBeforeDelete      Event = "OnBeforeDelete"
	EventAfterDelete       Event = "OnAfterDelete"
	EventBeforeQuery       Event = "OnBeforeQuery"
	EventAfterQuery        Event = "OnAfterQuery"
	EventBeforeTransaction Event = "OnBeforeTransaction"
	EventAfterTransaction  Event = "OnAfterTransaction"
	EventTransactionError  Event = "OnTransactionError"
	EventDatabaseInit      Event = "OnDatabaseInit"
	EventDatabaseClose     Event = "OnDatabaseClose"
	EventCollectionCreate  Event = "OnCollectionCreate"
	EventCollectionDrop    Event = "OnCollectionDrop"
	EventError             Event = "OnError"
)

// allEvents is the full set scanned for on every registered plugin.
var allEvents = []Event{
	EventBeforeInsert, EventAfterInsert,
	EventBeforeUpdate, EventAfterUpdate,
	EventBeforeDelete, EventAfterDelete,
	EventBeforeQuery, EventAfterQuery,
	EventBeforeTransaction, EventAfterTransaction, EventTransactionError,
	EventDatabaseInit, EventDatabaseClose,
	EventCollectionCreate, EventCollectionDrop,
	EventError,
}

// HookFunc is the signature every hook method must satisfy.
type HookFunc func(ctx context.Context, payload any) error

// DefaultTimeout is used when a plugin doesn't specify a per-plugin
// override.
const DefaultTimeout = 5 * time.Second

type registration struct {
	pluginName string
	timeout    time.Duration
	handlers   map[Event]HookFunc
}

// TimeoutOverrider lets a plugin specify a non-default per-plugin hook
// timeout by implementing HookTimeout() time.Duration.
type TimeoutOverrider interface {
	HookTimeout() time.Duration
}

// Mode selects how a dispatch failure is treated.
type Mode int

const (
	// ModeSafe logs hook failures (via the supplied Logger) and lets the
	// triggering operation proceed.
	ModeSafe Mode = iota
	// ModeStrict propagates hook failures to the caller, aborting the
	// triggering operation.
	ModeStrict
)

// Logger is the minimal logging surface the dispatcher needs; satisfied
// by the root façade's Logger interface without importing it (avoids an
// import cycle between this package and the root package).
type Logger interface {
	Warn(msg string, args ...any)
}

// nopLogger discards everything; used when no Logger is supplied.
type nopLogger struct{}

func (nopLogger) Warn(string, ...any) {}

// Dispatcher holds every registered plugin and runs hooks for a given
// event in registration order.
type Dispatcher struct {
	mode          Mode
	logger        Logger
	plugins       []*registration
	inErrorHandler bool // suppresses reentrant OnError dispatch
}

// New creates a Dispatcher. A nil logger discards warnings.
func New(mode Mode, logger Logger) *Dispatcher {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Dispatcher{mode: mode, logger: logger}
}

// Use registers plugin, discovering its hook methods by name via
// reflection. Returns the plugin's discovered event set, which is empty
// (not an error) if the plugin implements none of the known hook names.
func (d *Dispatcher) Use(name string, plugin any) []Event {
	timeout := DefaultTimeout
	if to, ok := plugin.(TimeoutOverrider); ok {
		if custom := to.HookTimeout(); custom > 0 {
			timeout = custom
		}
	}

	reg := &registration{pluginName: name, timeout: timeout, handlers: map[Event]HookFunc{}}
	v := reflect.ValueOf(plugin)
	var found []Event
	for _, ev := range allEvents {
		m := v.MethodByName(string(ev))
		if !m.IsValid() {
			continue
		}
		fn, ok := m.Interface().(func(context.Context, any) error)
		if !ok {
			continue
		}
		reg.handlers[ev] = fn
		found = append(found, ev)
	}
	if len(found) > 0 {
		d.plugins = append(d.plugins, reg)
	}
	return found
}

// Unuse removes a previously registered plugin by name.
func (d *Dispatcher) Unuse(name string) {
	out := d.plugins[:0]
	for _, r := range d.plugins {
		if r.pluginName != name {
			out = append(out, r)
		}
	}
	d.plugins = out
}

// Dispatch runs every registered handler for event, in registration
// order, each under its own timeout. In ModeStrict the first failure
// aborts and is returned; in ModeSafe every handler runs regardless of
// earlier failures, each failure is logged, and Dispatch always returns
// nil. OnError dispatch failures never recurse into OnError again.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event, payload any) error {
	for _, reg := range d.plugins {
		fn, ok := reg.handlers[event]
		if !ok {
			continue
		}
		if err := d.runOne(ctx, reg, event, fn, payload); err != nil {
			if d.mode == ModeStrict {
				return err
			}
			d.logger.Warn("hook failed", "plugin", reg.pluginName, "event", string(event), "error", err)
		}
	}
	return nil
}

// DispatchError runs OnError handlers, suppressing any nested OnError
// triggered by a failure within an OnError handler itself.
func (d *Dispatcher) DispatchError(ctx context.Context, cause error) {
	if d.inErrorHandler {
		return
	}
	d.inErrorHandler = true
	defer func() { d.inErrorHandler = false }()
	_ = d.Dispatch(ctx, EventError, cause)
}

func (d *Dispatcher) runOne(ctx context.Context, reg *registration, event Event, fn HookFunc, payload any) error {
	runCtx, cancel := context.WithTimeout(ctx, reg.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in hook: %v", r)
			}
		}()
		done <- fn(runCtx, payload)
	}()

	select {
	case err := <-done:
		if err != nil {
			return &dberr.PluginError{Plugin: reg.pluginName, Hook: string(event), Cause: err}
		}
		return nil
	case <-runCtx.Done():
		return &dberr.PluginTimeoutError{Plugin: reg.pluginName, Hook: string(event)}
	}
}
