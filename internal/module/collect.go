package module

import (
	"context"
	"encoding/json"
	"fmt"

	"geik.xyz/farmer/internal/catalogs"
	"geik.xyz/farmer/internal/event"
	"geik.xyz/farmer/internal/farmer"
)

// ItemPayload is the body of item.collect, crop.grow and spawner.kill.
type ItemPayload struct {
	Item   string `json:"item"`
	Amount int    `json:"amount"`
}

// StockFullPayload is the body of stock.full. Overflow is what did not fit.
type StockFullPayload struct {
	Item     string `json:"item"`
	Overflow int    `json:"overflow,omitempty"`
}

// LevelFor returns the definition governing f, resolving undefined levels to
// the closest defined one.
func LevelFor(c *catalogs.Cache, f *farmer.Farmer) (catalogs.LevelDef, bool) {
	lvl, _ := c.ResolveLevel(f.Level())
	return c.Level(lvl)
}

// Capacity is the per-item stock cap for f; -1 means unbounded. A level
// capacity of 0 is unbounded too.
func Capacity(c *catalogs.Cache, f *farmer.Farmer) int {
	def, ok := LevelFor(c, f)
	if !ok || def.Capacity == 0 {
		return -1
	}
	return def.Capacity
}

// Collect stores amount of item in f's stock, capped by capacity. When
// something does not fit, the player is told and stock.full is published so
// selling modules can react. It returns how many items were stored.
func Collect(ctx context.Context, env *Env, f *farmer.Farmer, item string, amount int) (int, error) {
	def, ok := env.Catalogs.Item(item)
	if !ok || amount <= 0 || !f.Collecting() {
		return 0, nil
	}
	stored := f.Collect(def.ID, amount, Capacity(env.Catalogs, f))
	if stored == amount {
		return stored, nil
	}

	env.Tell(f.PlayerID(), "stock-full", def.ID)
	if env.Events == nil {
		return stored, nil
	}
	payload, err := json.Marshal(StockFullPayload{Item: def.ID, Overflow: amount - stored})
	if err != nil {
		return stored, err
	}
	ev := event.Event{Type: event.StockFull, PlayerID: f.PlayerID(), Payload: payload}
	if err := env.Events.Publish(ctx, ev); err != nil {
		return stored, fmt.Errorf("stock.full: %w", err)
	}
	return stored, nil
}
