package module

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"geik.xyz/farmer/internal/event"
)

type entry struct {
	m        Module
	state    State
	err      error
	attached bool
}

type Status struct {
	Name  string
	State State
	Err   error
}

// Registry keeps modules in registration order and drives their lifecycle.
// Order is the only dependency mechanism: a module that needs another must
// be registered after it.
type Registry struct {
	bus *event.Bus
	log *log.Logger

	mu      sync.Mutex
	entries []*entry
	byName  map[string]*entry
	routing bool
}

// ToggleListener is the bus name of the registry's own module.toggle check.
const ToggleListener = "module.toggle"


func NewRegistry(bus *event.Bus, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Registry{
		bus:    bus,
		log:    logger,
		byName: map[string]*entry{},
	}
}

func key(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// Register appends m. A second module with the same name is rejected.
func (r *Registry) Register(m Module) error {
	if m == nil {
		return fmt.Errorf("module: nil module")
	}
	k := key(m.Name())
	if k == "" {
		return fmt.Errorf("module: empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[k]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateModule, m.Name())
	}
	e := &entry{m: m, state: Registered}
	r.entries = append(r.entries, e)
	r.byName[k] = e
	return nil
}

// LoadModules enables every Registered module in order. Each module gets its
// own copy of env with its settings filled in. A failing module is marked
// Failed and the rest still load. Modules are never enabled twice.
func (r *Registry) LoadModules(ctx context.Context, env Env, settings func(name string) map[string]any) []Status {
	r.attachToggle()

	r.mu.Lock()
	pending := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.state == Registered {
			pending = append(pending, e)
		}
	}
	r.mu.Unlock()

	for _, e := range pending {
		name := e.m.Name()
		menv := env
		menv.Settings = map[string]any{}
		if settings != nil {
			if s := settings(name); s != nil {
				menv.Settings = s
			}
		}

		err := r.enable(ctx, e, &menv)

		r.mu.Lock()
		if err != nil {
			e.state = Failed
			e.err = err
		} else {
			e.state = Enabled
		}
		r.mu.Unlock()

		if err != nil {
			r.log.Printf("module: %v", err)
			continue
		}
		r.log.Printf("module: %s enabled", name)
	}
	return r.Statuses()
}

func (r *Registry) enable(ctx context.Context, e *entry, env *Env) (err error) {
	name := e.m.Name()
	defer func() {
		if p := recover(); p != nil {
			err = &EnableError{Module: name, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	if err := e.m.Enable(ctx, env); err != nil {
		return &EnableError{Module: name, Err: err}
	}
	lp, ok := e.m.(ListenerProvider)
	if !ok || r.bus == nil {
		return nil
	}
	l := lp.Listener()
	if l == nil {
		return nil
	}
	if err := r.bus.Attach(key(name), l); err != nil {
		if derr := e.m.Disable(ctx); derr != nil {
			r.log.Printf("module: %s: disable after failed attach: %v", name, derr)
		}
		return &EnableError{Module: name, Err: err}
	}
	e.attached = true
	return nil
}

// DisableAll detaches and disables enabled modules in reverse registration
// order. Errors are logged and every module still gets its turn.
func (r *Registry) DisableAll(ctx context.Context) {
	r.mu.Lock()
	var enabled []*entry
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].state == Enabled {
			enabled = append(enabled, r.entries[i])
		}
	}
	r.mu.Unlock()

	for _, e := range enabled {
		name := e.m.Name()
		if e.attached && r.bus != nil {
			r.bus.Detach(key(name))
			e.attached = false
		}
		if err := r.disable(ctx, e); err != nil {
			r.log.Printf("module: %s: disable: %v", name, err)
		}
		r.mu.Lock()
		e.state = Disabled
		r.mu.Unlock()
	}
	r.detachToggle()
}

func (r *Registry) attachToggle() {
	if r.bus == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.routing {
		return
	}
	if err := r.bus.Attach(ToggleListener, event.ListenerFunc(r.checkToggle)); err != nil {
		r.log.Printf("module: %v", err)
		return
	}
	r.routing = true
}

func (r *Registry) detachToggle() {
	if r.bus == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.routing {
		r.bus.Detach(ToggleListener)
		r.routing = false
	}
}

// checkToggle is the one place a module.toggle that cannot be routed is
// reported. Modules ignore toggles they cannot decode.
func (r *Registry) checkToggle(ctx context.Context, ev event.Event) error {
	if ev.Type != event.ModuleToggle {
		return nil
	}
	var p TogglePayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	if _, ok := r.State(p.Module); !ok {
		return fmt.Errorf("%s: unknown module %q", event.ModuleToggle, p.Module)
	}
	return nil
}

func (r *Registry) disable(ctx context.Context, e *entry) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return e.m.Disable(ctx)
}

func (r *Registry) State(name string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byName[key(name)]
	if !ok {
		return 0, false
	}
	return e.state, true
}

// Statuses reports every module in registration order.
func (r *Registry) Statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, Status{Name: e.m.Name(), State: e.state, Err: e.err})
	}
	return out
}

// Enabled lists the names of enabled modules in registration order.
func (r *Registry) Enabled() []string {
	var out []string
	for _, s := range r.Statuses() {
		if s.State == Enabled {
			out = append(out, s.Name)
		}
	}
	return out
}
