package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Type names a gameplay event delivered by the host.
type Type string

const (
	PlayerJoin    Type = "player.join"
	PlayerQuit    Type = "player.quit"
	ItemCollect   Type = "item.collect"
	CropGrow      Type = "crop.grow"
	StockFull     Type = "stock.full"
	SpawnerKill   Type = "spawner.kill"
	VoucherRedeem Type = "voucher.redeem"
	ModuleToggle  Type = "module.toggle"
)

type Event struct {
	Type       Type            `json:"type"`
	PlayerID   string          `json:"player_id,omitempty"`
	PlayerName string          `json:"player_name,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s payload: %w", e.Type, err)
	}
	return nil
}

// Listener receives every published event; it ignores types it does not
// handle.
type Listener interface {
	HandleEvent(ctx context.Context, ev Event) error
}

type ListenerFunc func(ctx context.Context, ev Event) error

func (f ListenerFunc) HandleEvent(ctx context.Context, ev Event) error { return f(ctx, ev) }

type attached struct {
	name string
	l    Listener
}

// Bus is the host event system: listeners are attached by name and receive
// events in attach order.
type Bus struct {
	mu        sync.RWMutex
	listeners []attached
}

func NewBus() *Bus { return &Bus{} }

func (b *Bus) Attach(name string, l Listener) error {
	if l == nil {
		return fmt.Errorf("event: nil listener %q", name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, a := range b.listeners {
		if a.name == name {
			return fmt.Errorf("event: listener %q already attached", name)
		}
	}
	b.listeners = append(b.listeners, attached{name: name, l: l})
	return nil
}

// Detach removes the named listener and reports whether it was attached.
func (b *Bus) Detach(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, a := range b.listeners {
		if a.name == name {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			return true
		}
	}
	return false
}

func (b *Bus) Attached() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.listeners))
	for _, a := range b.listeners {
		out = append(out, a.name)
	}
	return out
}

// Publish delivers ev to every attached listener. A failing listener does
// not stop delivery to the rest; all errors are joined.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	ls := make([]attached, len(b.listeners))
	copy(ls, b.listeners)
	b.mu.RUnlock()

	var errs []error
	for _, a := range ls {
		if err := a.l.HandleEvent(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.name, err))
		}
	}
	return errors.Join(errs...)
}
