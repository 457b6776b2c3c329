// Package autoharvest collects grown crops for farmers that opted in.
package autoharvest

import (
	"context"
	"fmt"

	"geik.xyz/farmer/internal/event"
	"geik.xyz/farmer/internal/module"
)

const Name = "autoharvest"

var defaultCrops = []string{"WHEAT", "CARROT", "POTATO", "BEETROOT", "MELON_SLICE", "PUMPKIN", "SUGAR_CANE", "CACTUS", "NETHER_WART"}

type Module struct {
	*module.Base
	crops map[string]bool
}

func New() *Module { return &Module{Base: module.NewBase(Name)} }

func (m *Module) Enable(ctx context.Context, env *module.Env) error {
	if env.Farmers == nil || env.Catalogs == nil {
		return fmt.Errorf("farmers and catalogs are required")
	}
	crops, err := module.StringList(env.Settings, "crops", defaultCrops)
	if err != nil {
		return err
	}
	m.crops = make(map[string]bool, len(crops))
	for _, c := range crops {
		if _, ok := env.Catalogs.Item(c); !ok {
			env.Logger().Printf("autoharvest: crop %s is not in items.yml, ignoring", c)
			continue
		}
		m.crops[c] = true
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
	if ev.Type != event.CropGrow || !m.Active() {
		return nil
	}
	var p module.ItemPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	env := m.Env()
	// Growth near a player who has no farmer yet is not an opt-in.
	f, ok := env.Farmers.Get(ev.PlayerID)
	if !ok || !f.Attribute(Name) {
		return nil
	}
	def, ok := env.Catalogs.Item(p.Item)
	if !ok || !m.crops[def.ID] {
		return nil
	}
	_, err := module.Collect(ctx, env, f, def.ID, p.Amount)
	return err
}
