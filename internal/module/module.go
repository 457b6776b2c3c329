package module

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"geik.xyz/farmer/internal/catalogs"
	"geik.xyz/farmer/internal/config"
	"geik.xyz/farmer/internal/event"
	"geik.xyz/farmer/internal/farmer"
	"geik.xyz/farmer/internal/integrations"
)

// Module is an independently enabled feature unit.
type Module interface {
	Name() string
	Enable(ctx context.Context, env *Env) error
	Disable(ctx context.Context) error
}

// ListenerProvider is implemented by modules that react to events. The
// listener is attached only while the module is enabled.
type ListenerProvider interface {
	Listener() event.Listener
}

// Saver persists a single farmer (incremental save).
type Saver interface {
	Upsert(ctx context.Context, f *farmer.Farmer) error
}

// Notifier delivers a rendered message to a player through the host.
type Notifier interface {
	Notify(playerID, message string)
}

type NotifierFunc func(playerID, message string)

func (f NotifierFunc) Notify(playerID, message string) { f(playerID, message) }

// Env is everything a module may use. It is built by the bootstrap sequence;
// modules never reach for globals.
type Env struct {
	Farmers  *farmer.Manager
	Catalogs *catalogs.Cache
	Store    Saver
	Economy  integrations.Economy // nil when no provider is hooked
	Events   *event.Bus
	Notify   Notifier
	Lang     config.Lang
	Settings map[string]any
	Log      *log.Logger
}

// Logger never returns nil.
func (e *Env) Logger() *log.Logger {
	if e == nil || e.Log == nil {
		return log.New(io.Discard, "", 0)
	}
	return e.Log
}

// Tell renders a lang message with the prefix and sends it to playerID.
func (e *Env) Tell(playerID, key string, args ...any) {
	if e == nil || e.Notify == nil || playerID == "" {
		return
	}
	e.Notify.Notify(playerID, e.Lang.Prefixed(key, args...))
}

var ErrDuplicateModule = errors.New("module: duplicate module")

// EnableError means a module's enable hook failed; only that module is
// affected.
type EnableError struct {
	Module string
	Err    error
}

func (e *EnableError) Error() string {
	return fmt.Sprintf("module %s: enable: %v", e.Module, e.Err)
}

func (e *EnableError) Unwrap() error { return e.Err }

type State int

const (
	Registered State = iota
	Enabled
	Failed
	Disabled
)

func (s State) String() string {
	switch s {
	case Registered:
		return "registered"
	case Enabled:
		return "enabled"
	case Failed:
		return "failed"
	case Disabled:
		return "disabled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
