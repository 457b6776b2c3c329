package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"geik.xyz/farmer/internal/app"
)

// registerAdmin mounts the local-only admin endpoints.
func registerAdmin(mux *http.ServeMux, p *app.Plugin, logger *log.Logger) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp := struct {
			Phase   string   `json:"phase"`
			Farmers int      `json:"farmers"`
			Backend string   `json:"backend"`
			Economy string   `json:"economy"`
			Modules []string `json:"modules"`
		}{Phase: p.Phase().String()}
		if p.Ready() {
			snap := p.Snapshot()
			resp.Farmers = snap.Farmers
			resp.Backend = snap.Backend
			resp.Economy = snap.Economy
			resp.Modules = p.Modules().Enabled()
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	})
	mux.HandleFunc("/admin/v1/flush", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		if !p.Ready() {
			http.Error(rw, "not ready", http.StatusServiceUnavailable)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()
		report, err := p.Store().FlushAll(ctx)
		rw.Header().Set("Content-Type", "application/json")
		out := map[string]any{"ok": err == nil, "written": report.Written, "failed": report.Failed, "skipped": report.Skipped}
		if err != nil {
			logger.Printf("admin flush: %v", err)
			out["error"] = err.Error()
			rw.WriteHeader(http.StatusInternalServerError)
		}
		_ = json.NewEncoder(rw).Encode(out)
	})
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
