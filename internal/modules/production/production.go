// Package production stores items players gather into their farmer.
package production

import (
	"context"
	"fmt"

	"geik.xyz/farmer/internal/event"
	"geik.xyz/farmer/internal/module"
)

const Name = "production"

type Module struct {
	*module.Base
}

func New() *Module { return &Module{Base: module.NewBase(Name)} }

func (m *Module) Enable(ctx context.Context, env *module.Env) error {
	if env.Farmers == nil || env.Catalogs == nil {
		return fmt.Errorf("farmers and catalogs are required")
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
	if ev.Type != event.ItemCollect || !m.Active() {
		return nil
	}
	var p module.ItemPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	env := m.Env()
	f, _ := env.Farmers.GetOrCreate(ev.PlayerID)
	if f == nil {
		return fmt.Errorf("production: missing player id")
	}
	_, err := module.Collect(ctx, env, f, p.Item, p.Amount)
	return err
}
