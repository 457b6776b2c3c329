package app

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/dustin/go-humanize"

	"geik.xyz/farmer/internal/event"
	"geik.xyz/farmer/internal/module"
	"geik.xyz/farmer/internal/persistence/farmerdb"
)

// onJoin makes sure the player has a farmer before any module sees the event.
func (p *Plugin) onJoin(ctx context.Context, ev event.Event) error {
	if ev.Type != event.PlayerJoin {
		return nil
	}
	f, created := p.farmers.GetOrCreate(ev.PlayerID)
	if f == nil {
		return fmt.Errorf("join: empty player id")
	}
	if ev.PlayerName != "" {
		f.SetName(ev.PlayerName)
	}
	if created {
		p.log.Printf("farmers: created %s at level %d", f.PlayerID(), f.Level())
	}
	return nil
}

// onQuit saves the farmer after every module has handled the event and drops
// it from memory. A farmer that fails to save stays cached for the shutdown
// flush.
func (p *Plugin) onQuit(ctx context.Context, ev event.Event) error {
	if ev.Type != event.PlayerQuit {
		return nil
	}
	f, ok := p.farmers.Get(ev.PlayerID)
	if !ok {
		return nil
	}
	if err := p.store.Upsert(ctx, f); err != nil {
		if errors.Is(err, farmerdb.ErrQuarantined) {
			p.farmers.Remove(ev.PlayerID)
			return nil
		}
		return fmt.Errorf("save %s on quit: %w", f.PlayerID(), err)
	}
	p.farmers.Remove(ev.PlayerID)
	return nil
}

var colorCodes = regexp.MustCompile(`&[0-9a-fk-orA-FK-OR]`)

func stripColors(s string) string { return colorCodes.ReplaceAllString(s, "") }

func (p *Plugin) banner() []string {
	lines := []string{
		stripColors(p.lang.Prefixed("enabled", humanize.Comma(int64(p.farmers.Len())), p.db.Backend())),
	}
	for _, s := range p.registry.Statuses() {
		switch s.State {
		case module.Enabled:
			lines = append(lines, stripColors(p.lang.Prefixed("module-enabled", s.Name)))
		case module.Failed:
			lines = append(lines, stripColors(p.lang.Prefixed("module-failed", s.Name, s.Err)))
		}
	}
	return lines
}
