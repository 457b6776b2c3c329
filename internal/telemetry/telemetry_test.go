package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestLoadServerIDIsStable(t *testing.T) {
	dir := t.TempDir()
	a, err := LoadServerID(dir)
	if err != nil {
		t.Fatalf("LoadServerID: %v", err)
	}
	b, err := LoadServerID(dir)
	if err != nil {
		t.Fatalf("LoadServerID again: %v", err)
	}
	if a == "" || a != b {
		t.Fatalf("ids differ: %q %q", a, b)
	}
}

func TestReporter_PanicIsContained(t *testing.T) {
	calls := 0
	r := NewReporter("id", func() Snapshot {
		calls++
		if calls == 1 {
			panic("boom")
		}
		return Snapshot{Farmers: 3}
	}, time.Hour, nil)

	if _, err := r.Collect(); err == nil {
		t.Fatalf("expected error from panicking collector")
	}
	snap, err := r.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if snap.Farmers != 3 || snap.ServerID != "id" {
		t.Fatalf("snapshot=%+v", snap)
	}
	if last, ok := r.Last(); !ok || last.Farmers != 3 {
		t.Fatalf("Last=%+v %v", last, ok)
	}
}

func TestReporter_Handler(t *testing.T) {
	r := NewReporter("abc", func() Snapshot {
		return Snapshot{Farmers: 2, Economy: "memory", Backend: "sqlite", Modules: map[string]string{"voucher": "enabled", "autoseller": "failed"}}
	}, time.Hour, nil)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"farmer_farmers 2",
		`farmer_info{server_id="abc",backend="sqlite",economy="memory"} 1`,
		`farmer_module_state{module="autoseller",state="failed"} 1`,
		"farmer_telemetry_reports_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}

	broken := NewReporter("abc", func() Snapshot { panic("x") }, time.Hour, nil)
	rec = httptest.NewRecorder()
	broken.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("broken collector status=%d", rec.Code)
	}
}

func TestReporter_StartStop(t *testing.T) {
	r := NewReporter("id", func() Snapshot { return Snapshot{} }, time.Hour, nil)
	r.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := r.Last(); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("first report not taken")
		}
		time.Sleep(5 * time.Millisecond)
	}
	r.Stop()
	r.Stop()
}
