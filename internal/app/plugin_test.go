package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"geik.xyz/farmer/internal/config"
	"geik.xyz/farmer/internal/event"
	"geik.xyz/farmer/internal/module"
	"geik.xyz/farmer/internal/modules"
	"geik.xyz/farmer/internal/modules/voucher"
	"geik.xyz/farmer/internal/persistence/backup"
	"geik.xyz/farmer/internal/persistence/journal"
	"geik.xyz/farmer/internal/persistence/storage"
)

const quietConfig = `settings:
  lang: en
  economy: %s
database:
  type: sqlite
  file: database.db
telemetry:
  enabled: false
backup:
  enabled: true
  keep: 2
`

func writeConfig(t *testing.T, dir, doc string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, config.FileName), []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func quiet(economy string) string { return fmt.Sprintf(quietConfig, economy) }

func start(t *testing.T, dir string, opts Options) *Plugin {
	t.Helper()
	opts.DataDir = dir
	p := New(opts)
	if err := p.OnBoot(); err != nil {
		t.Fatalf("OnBoot: %v", err)
	}
	if err := p.OnReady(context.Background()); err != nil {
		t.Fatalf("OnReady: %v", err)
	}
	return p
}

func publish(t *testing.T, p *Plugin, typ event.Type, player string, payload any) error {
	t.Helper()
	ev := event.Event{Type: typ, PlayerID: player}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		ev.Payload = raw
	}
	return p.Publish(context.Background(), ev)
}

func TestPlugin_FarmerSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, quiet("memory"))

	p := start(t, dir, Options{})
	if err := publish(t, p, event.PlayerJoin, "alice", nil); err != nil {
		t.Fatalf("join: %v", err)
	}
	f, ok := p.Farmers().Get("alice")
	if !ok || f.Level() != 1 {
		t.Fatalf("alice should start at level 1: %v %v", ok, f)
	}
	if err := publish(t, p, event.VoucherRedeem, "alice", voucher.Payload{Level: 2}); err != nil {
		t.Fatalf("voucher: %v", err)
	}
	// Stock is only persisted by the shutdown flush.
	if err := publish(t, p, event.ItemCollect, "alice", module.ItemPayload{Item: "WHEAT", Amount: 7}); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if err := p.OnShutdown(context.Background()); err != nil {
		t.Fatalf("OnShutdown: %v", err)
	}
	if p.Phase() != Stopped || p.Ready() {
		t.Fatalf("phase=%s", p.Phase())
	}

	q := start(t, dir, Options{})
	defer q.OnShutdown(context.Background())
	f, ok = q.Farmers().Get("alice")
	if !ok {
		t.Fatalf("alice missing after restart")
	}
	if f.Level() != 2 || f.Stock("WHEAT") != 7 {
		t.Fatalf("alice=%+v", f.Record())
	}
	n, err := q.Store().Count(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("Count=%d err=%v", n, err)
	}
}

type probe struct {
	*module.Base
	seen int
}

func (m *probe) Enable(ctx context.Context, env *module.Env) error {
	m.seen = env.Farmers.Len()
	m.Start(env)
	return nil
}

func (m *probe) Disable(ctx context.Context) error {
	m.Stop()
	return nil
}

func TestPlugin_ModulesSeeFullyLoadedCache(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, quiet("memory"))

	p := start(t, dir, Options{})
	for _, id := range []string{"a", "b", "c", "d"} {
		if err := publish(t, p, event.PlayerJoin, id, nil); err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
	}
	if err := p.OnShutdown(context.Background()); err != nil {
		t.Fatalf("OnShutdown: %v", err)
	}

	pr := &probe{Base: module.NewBase("probe")}
	q := start(t, dir, Options{Modules: func() []module.Module {
		return append(modules.Builtin(), pr)
	}})
	defer q.OnShutdown(context.Background())
	if pr.seen != 4 {
		t.Fatalf("module enabled with %d farmers cached, want 4", pr.seen)
	}
	if st, _ := q.Modules().State("probe"); st != module.Enabled {
		t.Fatalf("probe state=%s", st)
	}
}

func TestPlugin_QuitSavesAndEvicts(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, quiet("memory"))
	p := start(t, dir, Options{})
	defer p.OnShutdown(context.Background())

	_ = publish(t, p, event.PlayerJoin, "bob", nil)
	_ = publish(t, p, event.ItemCollect, "bob", module.ItemPayload{Item: "CARROT", Amount: 2})
	if err := publish(t, p, event.PlayerQuit, "bob", nil); err != nil {
		t.Fatalf("quit: %v", err)
	}
	if _, ok := p.Farmers().Get("bob"); ok {
		t.Fatalf("bob should be evicted after quit")
	}
	recs, err := p.Store().Records(context.Background())
	if err != nil || len(recs) != 1 || recs[0].Stock["CARROT"] != 2 {
		t.Fatalf("records=%+v err=%v", recs, err)
	}
}

func TestPlugin_NoEconomyIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, quiet("none"))
	p := start(t, dir, Options{})
	defer p.OnShutdown(context.Background())

	if p.Economy() != nil {
		t.Fatalf("economy should be nil")
	}
	if st, _ := p.Modules().State("autoseller"); st != module.Failed {
		t.Fatalf("autoseller state=%s", st)
	}
	if st, _ := p.Modules().State("voucher"); st != module.Enabled {
		t.Fatalf("voucher state=%s", st)
	}
	w := p.Welcome()
	if len(w.Modules) != 5 || w.Catalogs.Items.Count == 0 || w.Catalogs.Levels.Digest == "" {
		t.Fatalf("welcome=%+v", w)
	}
}

func TestPlugin_UnknownEconomyIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, quiet("vault"))
	p := start(t, dir, Options{})
	defer p.OnShutdown(context.Background())
	if p.Economy() != nil || !p.Ready() {
		t.Fatalf("economy=%v ready=%v", p.Economy(), p.Ready())
	}
}

func TestPlugin_StorageFailureAbortsStartup(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `settings:
  lang: en
database:
  type: postgres
  host: 127.0.0.1
  port: 1
  name: farmer
  user: farmer
  connect_timeout_seconds: 2
  max_retries: 0
telemetry:
  enabled: false
`)
	pr := &probe{Base: module.NewBase("probe")}
	p := New(Options{DataDir: dir, Modules: func() []module.Module { return []module.Module{pr} }})
	if err := p.OnBoot(); err != nil {
		t.Fatalf("OnBoot should not touch the network: %v", err)
	}
	err := p.OnReady(context.Background())
	var ce *storage.ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if p.Phase() != Failed || pr.Active() {
		t.Fatalf("phase=%s probe active=%v", p.Phase(), pr.Active())
	}
	if err := publish(t, p, event.PlayerJoin, "alice", nil); err == nil {
		t.Fatalf("events must be rejected after a failed startup")
	}
	if err := p.OnShutdown(context.Background()); err != nil {
		t.Fatalf("OnShutdown after failed start: %v", err)
	}
}

func TestPlugin_BadConfigFailsBoot(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "settings:\n  lang: en\ndatabase:\n  type: mongodb\n")
	p := New(Options{DataDir: dir})
	err := p.OnBoot()
	var cerr *config.Error
	if !errors.As(err, &cerr) {
		t.Fatalf("expected config.Error, got %v", err)
	}
	if p.Phase() != Failed {
		t.Fatalf("phase=%s", p.Phase())
	}
}

func TestPlugin_HooksRunInOrderOnce(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, quiet("memory"))
	p := New(Options{DataDir: dir})
	if err := p.OnReady(context.Background()); !errors.Is(err, ErrPhase) {
		t.Fatalf("OnReady before OnBoot: %v", err)
	}
	if err := p.OnBoot(); err != nil {
		t.Fatalf("OnBoot: %v", err)
	}
	if err := p.OnBoot(); !errors.Is(err, ErrPhase) {
		t.Fatalf("second OnBoot: %v", err)
	}
	if err := p.OnReady(context.Background()); err != nil {
		t.Fatalf("OnReady: %v", err)
	}
	if err := p.OnReady(context.Background()); !errors.Is(err, ErrPhase) {
		t.Fatalf("second OnReady: %v", err)
	}
	if err := p.OnShutdown(context.Background()); err != nil {
		t.Fatalf("OnShutdown: %v", err)
	}
	if err := p.OnShutdown(context.Background()); !errors.Is(err, ErrPhase) {
		t.Fatalf("second OnShutdown: %v", err)
	}
}

func TestPlugin_ShutdownWritesBackup(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, quiet("memory"))
	now := time.Unix(1_700_000_000, 0)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}

	for i := 0; i < 3; i++ {
		p := start(t, dir, Options{Now: clock})
		_ = publish(t, p, event.PlayerJoin, "carol", nil)
		if err := p.OnShutdown(context.Background()); err != nil {
			t.Fatalf("OnShutdown: %v", err)
		}
	}

	entries, err := backup.List(backup.Dir(dir))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("keep=2 should leave 2 backups, got %d", len(entries))
	}
	b, err := backup.Read(entries[0].Path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if b.Header.Farmers != 1 || b.Header.Backend != "sqlite" || b.Farmers[0].PlayerID != "carol" {
		t.Fatalf("backup=%+v", b)
	}
}

func TestStripColors(t *testing.T) {
	if got := stripColors("&3Farmer &8» &aok"); got != "Farmer » ok" {
		t.Fatalf("got %q", got)
	}
}

func TestPlugin_JournalRecordsOutcomes(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, quiet("memory")+"journal:\n  enabled: true\n")
	p := start(t, dir, Options{})
	_ = publish(t, p, event.PlayerJoin, "alice", nil)
	if err := publish(t, p, event.VoucherRedeem, "alice", voucher.Payload{Level: 9}); err == nil {
		t.Fatalf("voucher for an undefined level should fail")
	}
	if err := p.OnShutdown(context.Background()); err != nil {
		t.Fatalf("OnShutdown: %v", err)
	}

	files, err := journal.Files(journal.Dir(dir))
	if err != nil || len(files) == 0 {
		t.Fatalf("files=%v err=%v", files, err)
	}
	var entries []journal.Entry
	for _, f := range files {
		if err := journal.ReadFile(f, func(e journal.Entry) bool { entries = append(entries, e); return true }); err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
	}
	if len(entries) != 2 || !entries[0].Accepted || entries[1].Accepted || entries[1].Event.Type != event.VoucherRedeem {
		t.Fatalf("entries=%+v", entries)
	}
}

func TestPlugin_ShutdownCopiesBackupOffsite(t *testing.T) {
	var mu sync.Mutex
	var puts []string
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		mu.Lock()
		puts = append(puts, r.Method+" "+r.URL.Path)
		mu.Unlock()
	}))
	defer srv.Close()

	dir := t.TempDir()
	writeConfig(t, dir, quiet("memory")+`  offsite:
    enabled: true
    endpoint: `+srv.URL+`
    bucket: saves
    prefix: survival
    access_key_id: id
    secret_access_key: secret
`)
	now := time.Unix(1_700_000_000, 0)
	p := start(t, dir, Options{Now: func() time.Time { return now }})
	_ = publish(t, p, event.PlayerJoin, "dave", nil)
	if err := p.OnShutdown(context.Background()); err != nil {
		t.Fatalf("OnShutdown: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := "PUT /saves/survival/backups/" + backup.FileName(now)
	if len(puts) != 1 || puts[0] != want {
		t.Fatalf("puts=%v want %s", puts, want)
	}
}

func TestPlugin_OffsiteWithoutCredentialsFailsBoot(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, quiet("memory")+"  offsite:\n    enabled: true\n    endpoint: https://r2.example\n")
	err := New(Options{DataDir: dir}).OnBoot()
	var cerr *config.Error
	if !errors.As(err, &cerr) {
		t.Fatalf("expected config.Error, got %v", err)
	}
}

func TestPlugin_BackupIncludesEvictedFarmers(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, quiet("memory"))
	p := start(t, dir, Options{})
	_ = publish(t, p, event.PlayerJoin, "erin", nil)
	_ = publish(t, p, event.PlayerQuit, "erin", nil)
	_ = publish(t, p, event.PlayerJoin, "frank", nil)
	if err := p.OnShutdown(context.Background()); err != nil {
		t.Fatalf("OnShutdown: %v", err)
	}
	entries, err := backup.List(backup.Dir(dir))
	if err != nil || len(entries) != 1 {
		t.Fatalf("entries=%v err=%v", entries, err)
	}
	b, err := backup.Read(entries[0].Path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(b.Farmers) != 2 || b.Farmers[0].PlayerID != "erin" || b.Farmers[1].PlayerID != "frank" {
		t.Fatalf("farmers=%+v", b.Farmers)
	}
}

// leveler raises a farmer to level 3, but only once release is closed.
type leveler struct {
	*module.Base
	entered chan struct{}
	release chan struct{}
}

const levelUp event.Type = "farm.levelup"

func (m *leveler) Enable(ctx context.Context, env *module.Env) error {
	m.Start(env)
	return nil
}

func (m *leveler) Disable(ctx context.Context) error {
	m.Stop()
	return nil
}

func (m *leveler) Listener() event.Listener {
	return event.ListenerFunc(func(ctx context.Context, ev event.Event) error {
		if ev.Type != levelUp || !m.Active() {
			return nil
		}
		close(m.entered)
		<-m.release
		f, ok := m.Env().Farmers.Get(ev.PlayerID)
		if !ok {
			return fmt.Errorf("no farmer %s", ev.PlayerID)
		}
		f.SetLevel(3)
		return nil
	})
}

func TestPlugin_ShutdownWaitsForEventsInDelivery(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, quiet("memory"))

	lv := &leveler{Base: module.NewBase("leveler"), entered: make(chan struct{}), release: make(chan struct{})}
	p := start(t, dir, Options{Modules: func() []module.Module {
		return append(modules.Builtin(), lv)
	}})
	if err := publish(t, p, event.PlayerJoin, "alice", nil); err != nil {
		t.Fatalf("join: %v", err)
	}

	delivered := make(chan error, 1)
	go func() {
		delivered <- p.Publish(context.Background(), event.Event{Type: levelUp, PlayerID: "alice"})
	}()
	<-lv.entered

	stopped := make(chan error, 1)
	go func() { stopped <- p.OnShutdown(context.Background()) }()

	deadline := time.Now().Add(5 * time.Second)
	for p.Phase() != Stopping {
		if time.Now().After(deadline) {
			t.Fatalf("phase=%s, want stopping", p.Phase())
		}
		time.Sleep(time.Millisecond)
	}
	if err := publish(t, p, event.PlayerJoin, "bob", nil); !errors.Is(err, ErrPhase) {
		t.Fatalf("events after shutdown began should be rejected, got %v", err)
	}
	select {
	case err := <-stopped:
		t.Fatalf("OnShutdown returned (%v) with an accepted event still in delivery", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(lv.release)
	if err := <-delivered; err != nil {
		t.Fatalf("in-flight event: %v", err)
	}
	if err := <-stopped; err != nil {
		t.Fatalf("OnShutdown: %v", err)
	}

	q := start(t, dir, Options{})
	defer q.OnShutdown(context.Background())
	f, ok := q.Farmers().Get("alice")
	if !ok || f.Level() != 3 {
		t.Fatalf("accepted level change lost: ok=%v record=%+v", ok, f)
	}
}
