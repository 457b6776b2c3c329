// Package spawnerkiller collects mob drops from spawner kills.
package spawnerkiller

import (
	"context"
	"fmt"

	"geik.xyz/farmer/internal/event"
	"geik.xyz/farmer/internal/module"
)

const Name = "spawnerkiller"

var defaultDrops = []string{"BONE", "ROTTEN_FLESH", "STRING"}

type Module struct {
	*module.Base
	drops map[string]bool
}

func New() *Module { return &Module{Base: module.NewBase(Name)} }

func (m *Module) Enable(ctx context.Context, env *module.Env) error {
	if env.Farmers == nil || env.Catalogs == nil {
		return fmt.Errorf("farmers and catalogs are required")
	}
	drops, err := module.StringList(env.Settings, "drops", defaultDrops)
	if err != nil {
		return err
	}
	m.drops = make(map[string]bool, len(drops))
	for _, d := range drops {
		m.drops[d] = true
	}
	m.Start(env)
	return nil
}

func (m *Module) Disable(ctx context.Context) error {
	m.Stop()
	return nil
}

func (m *Module) Listener() event.Listener { return event.ListenerFunc(m.handle) }

func (m *Module) handle(ctx context.Context, ev event.Event) error {
	if handled, err := m.HandleToggle(ctx, ev); handled {
		return err
	}
	if ev.Type != event.SpawnerKill || !m.Active() {
		return nil
	}
	var p module.ItemPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	env := m.Env()
	f, ok := env.Farmers.Get(ev.PlayerID)
	if !ok || !f.Attribute(Name) {
		return nil
	}
	def, ok := env.Catalogs.Item(p.Item)
	if !ok || !m.drops[def.ID] {
		return nil
	}
	_, err := module.Collect(ctx, env, f, def.ID, p.Amount)
	return err
}
