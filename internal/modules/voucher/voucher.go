// Package voucher lets players redeem level vouchers.
package voucher

import (
	"context"
	"errors"
	"fmt"

	"geik.xyz/farmer/internal/event"
	"geik.xyz/farmer/internal/module"
)

const Name = "voucher"

var ErrInvalidVoucher = errors.New("voucher: invalid level")

type Payload struct {
	Level int `json:"level"`
}

type Module struct {
	*module.Base
}

func New() *Module { return &Module{Base: module.NewBase(Name)} }

func (m *Module) Enable(ctx context.Context, env *module.Env) error {
	if env.Farmers == nil || env.Catalogs == nil || env.Store == nil {
		return fmt.Errorf("farmers, catalogs and store are required")
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
	if ev.Type != event.VoucherRedeem || !m.Active() {
		return nil
	}
	var p Payload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	env := m.Env()
	f, _ := env.Farmers.GetOrCreate(ev.PlayerID)
	if f == nil {
		return fmt.Errorf("voucher: missing player id")
	}
	if _, ok := env.Catalogs.Level(p.Level); !ok || p.Level <= f.Level() {
		env.Tell(f.PlayerID(), "voucher-invalid", p.Level)
		return fmt.Errorf("%w: %d (farmer %s is level %d)", ErrInvalidVoucher, p.Level, f.PlayerID(), f.Level())
	}
	f.SetLevel(p.Level)
	env.Tell(f.PlayerID(), "voucher-used", p.Level)
	return env.Store.Upsert(ctx, f)
}
