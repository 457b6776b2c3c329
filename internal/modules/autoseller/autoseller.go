// Package autoseller sells a farmer's full storage through the economy.
package autoseller

import (
	"context"
	"errors"
	"fmt"
	"math"

	"geik.xyz/farmer/internal/event"
	"geik.xyz/farmer/internal/module"
)

const Name = "autoseller"

var ErrNoEconomy = errors.New("autoseller: no economy integration")

type Module struct {
	*module.Base
	minAmount int
}

func New() *Module { return &Module{Base: module.NewBase(Name)} }

func (m *Module) Enable(ctx context.Context, env *module.Env) error {
	if env.Economy == nil {
		return ErrNoEconomy
	}
	if env.Farmers == nil || env.Catalogs == nil || env.Store == nil {
		return fmt.Errorf("farmers, catalogs and store are required")
	}
	n, err := module.Int(env.Settings, "min_amount", 1)
	if err != nil {
		return err
	}
	if n < 1 {
		n = 1
	}
	m.minAmount = n
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
	if ev.Type != event.StockFull || !m.Active() {
		return nil
	}
	var p module.StockFullPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	env := m.Env()
	f, ok := env.Farmers.Get(ev.PlayerID)
	if !ok || !f.Attribute(Name) {
		return nil
	}
	_, err := m.Sell(ctx, f.PlayerID(), p.Item)
	return err
}

// Sell empties one item of a farmer's stock into the player's balance at
// price*(1-tax) of the farmer's level. It returns the amount paid.
func (m *Module) Sell(ctx context.Context, playerID, item string) (float64, error) {
	env := m.Env()
	f, ok := env.Farmers.Get(playerID)
	if !ok {
		return 0, nil
	}
	def, ok := env.Catalogs.Item(item)
	if !ok || f.Stock(def.ID) < m.minAmount {
		return 0, nil
	}
	tax := 0.0
	if lvl, ok := module.LevelFor(env.Catalogs, f); ok {
		tax = lvl.Tax
	}

	n := f.Take(def.ID, -1)
	if n == 0 {
		return 0, nil
	}
	paid := math.Round(float64(n)*def.Price*(1-tax)*100) / 100
	if err := env.Economy.Deposit(playerID, paid); err != nil {
		// Nothing was paid; give the items back.
		f.Collect(def.ID, n, -1)
		return 0, fmt.Errorf("autoseller: deposit %s: %w", playerID, err)
	}
	env.Tell(playerID, "sold", n, def.ID, fmt.Sprintf("%.2f", paid))
	if err := env.Store.Upsert(ctx, f); err != nil {
		return paid, err
	}
	return paid, nil
}
