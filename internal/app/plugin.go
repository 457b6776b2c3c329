package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"geik.xyz/farmer/internal/catalogs"
	"geik.xyz/farmer/internal/config"
	"geik.xyz/farmer/internal/event"
	"geik.xyz/farmer/internal/farmer"
	"geik.xyz/farmer/internal/integrations"
	"geik.xyz/farmer/internal/module"
	"geik.xyz/farmer/internal/modules"
	"geik.xyz/farmer/internal/persistence/backup"
	"geik.xyz/farmer/internal/persistence/farmerdb"
	"geik.xyz/farmer/internal/persistence/journal"
	"geik.xyz/farmer/internal/persistence/offsite"
	"geik.xyz/farmer/internal/persistence/storage"
	"geik.xyz/farmer/internal/protocol"
	"geik.xyz/farmer/internal/telemetry"
)

type Phase int

const (
	Created Phase = iota
	Booted
	Starting
	Ready
	Stopping
	Stopped
	Failed
)

func (p Phase) String() string {
	switch p {
	case Created:
		return "created"
	case Booted:
		return "booted"
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

var ErrPhase = errors.New("app: lifecycle hook called out of order")

type Options struct {
	DataDir string
	Logger  *log.Logger

	// Economies resolves settings.economy. Nil means the built-in registry.
	Economies *integrations.Registry
	// Modules returns the feature modules to register. Nil means the
	// built-in set.
	Modules func() []module.Module
	Now     func() time.Time
}

// Plugin is the add-on. The embedding layer calls OnBoot, OnReady and
// OnShutdown exactly once each, in that order.
type Plugin struct {
	opts Options
	log  *log.Logger

	mu       sync.RWMutex
	phase    Phase
	notifier module.Notifier
	// inflight counts Publish calls that passed the Ready check. Shutdown
	// waits for it to drain before touching modules or storage.
	inflight sync.WaitGroup

	cfg      config.Config
	lang     config.Lang
	db       *storage.DB
	catalogs *catalogs.Cache
	farmers  *farmer.Manager
	store    *farmerdb.Store
	economy  integrations.Economy
	bus      *event.Bus
	registry *module.Registry
	reporter *telemetry.Reporter
	journal  *journal.Journal
	offsite  *offsite.Uploader
}

func New(opts Options) *Plugin {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.Economies == nil {
		opts.Economies = integrations.NewRegistry()
	}
	if opts.Modules == nil {
		opts.Modules = modules.Builtin
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Plugin{opts: opts, log: opts.Logger}
}

func (p *Plugin) Phase() Phase {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.phase
}

func (p *Plugin) setPhase(ph Phase) {
	p.mu.Lock()
	p.phase = ph
	p.mu.Unlock()
}

// advance moves from one phase to the next or reports ErrPhase.
func (p *Plugin) advance(from, to Phase) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.phase != from {
		return fmt.Errorf("%w: phase is %s, want %s", ErrPhase, p.phase, from)
	}
	p.phase = to
	return nil
}

// SetNotifier routes player messages to the host (normally the websocket
// bridge). It may be called at any time.
func (p *Plugin) SetNotifier(n module.Notifier) {
	p.mu.Lock()
	p.notifier = n
	p.mu.Unlock()
}

func (p *Plugin) notify(playerID, message string) {
	p.mu.RLock()
	n := p.notifier
	p.mu.RUnlock()
	if n != nil {
		n.Notify(playerID, message)
	}
}

// OnBoot loads configuration and prepares the storage client without
// connecting. Any error is fatal.
func (p *Plugin) OnBoot() error {
	if err := p.advance(Created, Booted); err != nil {
		return err
	}
	written, err := config.EnsureDefaults(p.opts.DataDir)
	if err != nil {
		p.setPhase(Failed)
		return fmt.Errorf("save defaults: %w", err)
	}
	for _, f := range written {
		p.log.Printf("config: wrote default %s", f)
	}
	cfg, err := config.Load(p.opts.DataDir)
	if err != nil {
		p.setPhase(Failed)
		return err
	}
	lang, err := config.LoadLang(p.opts.DataDir, cfg.Settings.Lang)
	if err != nil {
		p.setPhase(Failed)
		return err
	}
	db, err := storage.New(cfg.Database, p.opts.DataDir, p.log)
	if err != nil {
		p.setPhase(Failed)
		return err
	}
	if cfg.Backup.Offsite.Enabled {
		up, err := offsite.New(cfg.Backup.Offsite, p.opts.DataDir, p.log)
		if err != nil {
			p.setPhase(Failed)
			return &config.Error{Err: fmt.Errorf("backup.offsite: %w", err)}
		}
		p.offsite = up
	}

	p.cfg = cfg
	p.lang = lang
	p.db = db
	p.catalogs = catalogs.NewCache(p.opts.DataDir)
	p.farmers = farmer.NewManager(p.catalogs.DefaultLevel)
	p.store = farmerdb.New(db, p.farmers, p.catalogs, p.log)
	p.bus = event.NewBus()
	p.registry = module.NewRegistry(p.bus, p.log)
	return nil
}

// OnReady runs the startup sequence. Storage, caches and the bulk load are
// fatal; economy, modules and the announcement are not.
func (p *Plugin) OnReady(ctx context.Context) error {
	if err := p.advance(Booted, Starting); err != nil {
		return err
	}
	if err := p.start(ctx); err != nil {
		p.registry.DisableAll(ctx)
		p.closeJournal()
		_ = p.db.Close()
		p.setPhase(Failed)
		return err
	}
	p.setPhase(Ready)
	p.announce(ctx)
	return nil
}

func (p *Plugin) start(ctx context.Context) error {
	if err := p.db.Connect(ctx); err != nil {
		return err
	}
	if p.cfg.Journal.Enabled {
		p.journal = journal.Open(p.opts.DataDir, p.opts.Now)
	}

	eco, err := p.opts.Economies.Resolve(p.cfg.Settings.Economy)
	switch {
	case err != nil:
		p.log.Printf("economy: %v (continuing without economy)", err)
	case eco == nil:
		p.log.Printf("economy: none")
	default:
		p.log.Printf("economy: hooked into %s", eco.Name())
	}
	p.economy = eco

	var g errgroup.Group
	g.Go(p.catalogs.LoadAllItems)
	g.Go(p.catalogs.LoadAllLevels)
	if err := g.Wait(); err != nil {
		return fmt.Errorf("load caches: %w", err)
	}

	loaded, err := p.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load farmers: %w", err)
	}
	p.log.Printf("farmers: loaded %s (skipped %d)", humanize.Comma(int64(len(loaded))), len(p.store.Quarantined()))

	// Join runs before any module and quit after all of them.
	if err := p.bus.Attach("presence.join", event.ListenerFunc(p.onJoin)); err != nil {
		return err
	}
	p.registerModules()
	p.registry.LoadModules(ctx, p.moduleEnv(), p.cfg.ModuleSettings)
	return p.bus.Attach("presence.quit", event.ListenerFunc(p.onQuit))
}

func (p *Plugin) registerModules() {
	for _, m := range p.opts.Modules() {
		if !p.cfg.ModuleEnabled(m.Name()) {
			p.log.Printf("module: %s disabled in config", m.Name())
			continue
		}
		if err := p.registry.Register(m); err != nil {
			p.log.Printf("module: %v", err)
		}
	}
}

func (p *Plugin) moduleEnv() module.Env {
	return module.Env{
		Farmers:  p.farmers,
		Catalogs: p.catalogs,
		Store:    p.store,
		Economy:  p.economy,
		Events:   p.bus,
		Notify:   module.NotifierFunc(p.notify),
		Lang:     p.lang,
		Log:      p.log,
	}
}

func (p *Plugin) announce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Printf("announce: %v", r)
		}
	}()
	for _, line := range p.banner() {
		p.log.Print(line)
	}
	if !p.cfg.Telemetry.Enabled {
		return
	}
	id, err := telemetry.LoadServerID(p.opts.DataDir)
	if err != nil {
		p.log.Printf("telemetry: %v", err)
		return
	}
	p.reporter = telemetry.NewReporter(id, p.Snapshot, p.cfg.Telemetry.Interval(), p.log)
	p.reporter.Start(context.WithoutCancel(ctx))
}

// OnShutdown stops accepting events and waits for the ones already in
// delivery. It then mirrors OnReady (modules off, flush, backup, close) and
// does all of it before returning.
func (p *Plugin) OnShutdown(ctx context.Context) error {
	p.mu.Lock()
	prev := p.phase
	switch prev {
	case Ready:
		p.phase = Stopping
	case Stopping, Stopped:
		p.mu.Unlock()
		return fmt.Errorf("%w: already %s", ErrPhase, prev)
	default:
		p.phase = Stopped
	}
	p.mu.Unlock()

	if prev != Ready {
		// Startup never completed; there is nothing in memory worth flushing.
		if p.db != nil {
			_ = p.db.Close()
		}
		return nil
	}

	p.drain(ctx)
	if p.reporter != nil {
		p.reporter.Stop()
	}
	p.registry.DisableAll(ctx)
	p.bus.Detach("presence.join")
	p.bus.Detach("presence.quit")
	p.closeJournal()

	start := p.opts.Now()
	report, flushErr := p.store.FlushAll(ctx)
	if flushErr != nil {
		p.log.Printf("farmers: %v (failed: %v)", flushErr, report.Failed)
	}
	p.log.Print(stripColors(p.lang.Prefixed("flushed", humanize.Comma(int64(report.Written)), p.opts.Now().Sub(start).Round(time.Millisecond))))

	if p.cfg.Backup.Enabled {
		p.writeBackup(ctx)
	}

	closeErr := p.db.Close()
	if closeErr != nil {
		p.log.Printf("storage: close: %v", closeErr)
	}
	p.setPhase(Stopped)
	return errors.Join(flushErr, closeErr)
}

// drain blocks until every event accepted before the phase left Ready has
// been delivered and journaled.
func (p *Plugin) drain(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.log.Printf("shutdown: gave up waiting for in-flight events: %v", ctx.Err())
	}
}

// writeBackup snapshots the table as flushed, which also covers farmers that
// were evicted on quit. If the table cannot be read the cache is used.
func (p *Plugin) writeBackup(ctx context.Context) {
	recs, err := p.store.Records(ctx)
	if err != nil {
		p.log.Printf("backup: read farmers: %v (using cache)", err)
		all := p.farmers.ListAll()
		recs = make([]farmer.Record, 0, len(all))
		for _, f := range all {
			recs = append(recs, f.Record())
		}
	}
	path, err := backup.Save(p.opts.DataDir, p.opts.Now(), p.db.Backend(), recs, p.cfg.Backup.Keep)
	if err != nil {
		p.log.Printf("backup: %v", err)
	}
	if path == "" {
		return
	}
	p.log.Printf("backup: wrote %s (%s farmers)", path, humanize.Comma(int64(len(recs))))
	if p.offsite == nil {
		return
	}
	key, err := p.offsite.Upload(ctx, path)
	if err != nil {
		p.log.Printf("backup: %v", err)
		return
	}
	p.log.Printf("backup: copied offsite to %s", key)
}

// Ready reports whether gameplay events are accepted.
func (p *Plugin) Ready() bool { return p.Phase() == Ready }

// Publish delivers a host event to the presence listener and the enabled
// modules.
func (p *Plugin) Publish(ctx context.Context, ev event.Event) error {
	if !p.enter() {
		return fmt.Errorf("%w: not ready", ErrPhase)
	}
	defer p.inflight.Done()
	err := p.bus.Publish(ctx, ev)
	if p.journal != nil {
		if jerr := p.journal.Record(ev, err); jerr != nil {
			p.log.Printf("journal: %v", jerr)
		}
	}
	return err
}

// enter admits one event. The phase check and the in-flight count move
// together under mu so OnShutdown cannot slip between them.
func (p *Plugin) enter() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.phase != Ready {
		return false
	}
	p.inflight.Add(1)
	return true
}

func (p *Plugin) closeJournal() {
	if p.journal == nil {
		return
	}
	if err := p.journal.Close(); err != nil {
		p.log.Printf("journal: close: %v", err)
	}
}

// Welcome describes the add-on to a newly connected host.
func (p *Plugin) Welcome() protocol.WelcomeMsg {
	w := protocol.WelcomeMsg{}
	if p.registry == nil {
		return w
	}
	for _, s := range p.registry.Statuses() {
		w.Modules = append(w.Modules, protocol.ModuleRef{Name: s.Name, State: s.State.String()})
	}
	w.Farmers = p.farmers.Len()
	items, levels := p.catalogs.Items(), p.catalogs.Levels()
	w.Catalogs = protocol.CatalogDigests{
		Items:  protocol.DigestRef{Digest: items.Digest, Count: len(items.IDs)},
		Levels: protocol.DigestRef{Digest: levels.Digest, Count: len(levels.Ordered)},
	}
	if p.reporter != nil {
		w.ServerID = p.reporter.ServerID()
	}
	return w
}

// Snapshot is the telemetry view.
func (p *Plugin) Snapshot() telemetry.Snapshot {
	s := telemetry.Snapshot{
		Farmers: p.farmers.Len(),
		Economy: "none",
		Modules: map[string]string{},
	}
	if p.economy != nil {
		s.Economy = p.economy.Name()
	}
	if p.db != nil {
		s.Backend = p.db.Backend()
	}
	for _, st := range p.registry.Statuses() {
		s.Modules[st.Name] = st.State.String()
	}
	return s
}

// Telemetry returns the reporter, or nil when telemetry is off.
func (p *Plugin) Telemetry() *telemetry.Reporter { return p.reporter }

func (p *Plugin) Farmers() *farmer.Manager      { return p.farmers }
func (p *Plugin) Store() *farmerdb.Store        { return p.store }
func (p *Plugin) Modules() *module.Registry     { return p.registry }
func (p *Plugin) Config() config.Config         { return p.cfg }
func (p *Plugin) Economy() integrations.Economy { return p.economy }
