package module

import (
	"context"
	"strings"
	"sync/atomic"

	"geik.xyz/farmer/internal/event"
)

// Base holds the state shared by the feature modules. Embed it by pointer.
type Base struct {
	name   string
	env    *Env
	active atomic.Bool
}

func NewBase(name string) *Base { return &Base{name: name} }

func (b *Base) Name() string { return b.name }

func (b *Base) Env() *Env { return b.env }

// Start records env and switches the module on.
func (b *Base) Start(env *Env) {
	b.env = env
	b.active.Store(true)
}

func (b *Base) Stop() { b.active.Store(false) }

// Active reports whether events should be handled right now.
func (b *Base) Active() bool { return b.active.Load() }

// TogglePayload is the body of module.toggle.
type TogglePayload struct {
	Module  string `json:"module"`
	Enabled bool   `json:"enabled"`
}

// HandleToggle applies a module.toggle addressed to this module and reports
// whether ev was one. With a player id it flips that farmer's attribute named
// after the module and saves the farmer. Without one it pauses or resumes the
// module itself. A payload that does not decode is left to the registry.
func (b *Base) HandleToggle(ctx context.Context, ev event.Event) (bool, error) {
	if ev.Type != event.ModuleToggle {
		return false, nil
	}
	var p TogglePayload
	if err := ev.Decode(&p); err != nil {
		return false, nil
	}
	if !strings.EqualFold(strings.TrimSpace(p.Module), b.name) {
		return false, nil
	}
	env := b.env
	if ev.PlayerID == "" {
		b.active.Store(p.Enabled)
		env.Logger().Printf("%s: active=%v", b.name, p.Enabled)
		return true, nil
	}
	if env == nil || env.Farmers == nil {
		return true, nil
	}
	f, _ := env.Farmers.GetOrCreate(ev.PlayerID)
	if f == nil {
		return true, nil
	}
	f.SetAttribute(b.name, p.Enabled)
	env.Tell(ev.PlayerID, "module-toggled", b.name, onOff(p.Enabled))
	if env.Store != nil {
		return true, env.Store.Upsert(ctx, f)
	}
	return true, nil
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
