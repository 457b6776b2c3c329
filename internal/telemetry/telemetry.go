package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const IDFile = "telemetry-id"

// Snapshot is a read-only view of the running add-on.
type Snapshot struct {
	ServerID string
	TakenAt  time.Time
	Farmers  int
	Economy  string
	Backend  string
	Modules  map[string]string // name -> state
}

// Reporter takes snapshots on an interval. Nothing it does can fail the
// caller: errors and panics are counted and logged.
type Reporter struct {
	serverID string
	collect  func() Snapshot
	interval time.Duration
	log      *log.Logger

	last     atomic.Pointer[Snapshot]
	reports  atomic.Uint64
	failures atomic.Uint64

	mu   sync.Mutex
	stop context.CancelFunc
	done chan struct{}
}

func NewReporter(serverID string, collect func() Snapshot, interval time.Duration, logger *log.Logger) *Reporter {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Reporter{
		serverID: serverID,
		collect:  collect,
		interval: interval,
		log:      logger,
	}
}

func (r *Reporter) ServerID() string { return r.serverID }

// Collect takes one snapshot now.
func (r *Reporter) Collect() (snap Snapshot, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("telemetry: collect panic: %v", p)
		}
		if err != nil {
			r.failures.Add(1)
		}
	}()
	if r.collect == nil {
		return Snapshot{}, errors.New("telemetry: no collector")
	}
	snap = r.collect()
	snap.ServerID = r.serverID
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now().UTC()
	}
	r.last.Store(&snap)
	r.reports.Add(1)
	return snap, nil
}

// Last returns the most recent successful snapshot.
func (r *Reporter) Last() (Snapshot, bool) {
	s := r.last.Load()
	if s == nil {
		return Snapshot{}, false
	}
	return *s, true
}

// Start runs the interval loop in the background until Stop.
func (r *Reporter) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.stop = cancel
	r.done = make(chan struct{})
	go r.run(ctx, r.done)
}

func (r *Reporter) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(r.interval)
	defer t.Stop()
	r.report()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.report()
		}
	}
}

func (r *Reporter) report() {
	snap, err := r.Collect()
	if err != nil {
		r.log.Printf("telemetry: %v", err)
		return
	}
	r.log.Printf("telemetry: server=%s farmers=%d economy=%s modules=%d", snap.ServerID, snap.Farmers, snap.Economy, countEnabled(snap.Modules))
}

// Stop ends the loop and waits for it.
func (r *Reporter) Stop() {
	r.mu.Lock()
	stop, done := r.stop, r.done
	r.stop, r.done = nil, nil
	r.mu.Unlock()
	if stop == nil {
		return
	}
	stop()
	<-done
}

func countEnabled(mods map[string]string) int {
	n := 0
	for _, s := range mods {
		if s == "enabled" {
			n++
		}
	}
	return n
}

// WriteMetrics renders a fresh snapshot in Prometheus text format.
func (r *Reporter) WriteMetrics(w io.Writer) error {
	snap, err := r.Collect()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "# HELP farmer_info Static information about this server.\n")
	fmt.Fprintf(w, "# TYPE farmer_info gauge\n")
	fmt.Fprintf(w, "farmer_info{server_id=%q,backend=%q,economy=%q} 1\n", snap.ServerID, snap.Backend, snap.Economy)

	fmt.Fprintf(w, "# HELP farmer_farmers Farmers currently held in memory.\n")
	fmt.Fprintf(w, "# TYPE farmer_farmers gauge\n")
	fmt.Fprintf(w, "farmer_farmers %d\n", snap.Farmers)

	fmt.Fprintf(w, "# HELP farmer_module_state Module lifecycle state (1 for the current state).\n")
	fmt.Fprintf(w, "# TYPE farmer_module_state gauge\n")
	names := make([]string, 0, len(snap.Modules))
	for name := range snap.Modules {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "farmer_module_state{module=%q,state=%q} 1\n", name, snap.Modules[name])
	}

	fmt.Fprintf(w, "# HELP farmer_telemetry_reports_total Snapshots taken.\n")
	fmt.Fprintf(w, "# TYPE farmer_telemetry_reports_total counter\n")
	fmt.Fprintf(w, "farmer_telemetry_reports_total %d\n", r.reports.Load())

	fmt.Fprintf(w, "# HELP farmer_telemetry_failures_total Snapshots that failed.\n")
	fmt.Fprintf(w, "# TYPE farmer_telemetry_failures_total counter\n")
	fmt.Fprintf(w, "farmer_telemetry_failures_total %d\n", r.failures.Load())
	return nil
}

func (r *Reporter) Handler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		var sb strings.Builder
		if err := r.WriteMetrics(&sb); err != nil {
			r.log.Printf("telemetry: metrics: %v", err)
			http.Error(rw, "metrics unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(rw, sb.String())
	})
}

// LoadServerID returns the id stored in <dataDir>/telemetry-id, creating
// one on first use.
func LoadServerID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, IDFile)
	if b, err := os.ReadFile(path); err == nil {
		if id, err := uuid.Parse(strings.TrimSpace(string(b))); err == nil {
			return id.String(), nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	id := uuid.NewString()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", err
	}
	return id, nil
}
