package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"geik.xyz/farmer/internal/app"
	"geik.xyz/farmer/internal/telemetry"
	"geik.xyz/farmer/internal/transport/ws"
)

func main() {
	var (
		addr    = flag.String("addr", ":8080", "http listen address")
		dataDir = flag.String("data", "./data", "add-on data directory (config.yml, items.yml, levels.yml, lang/)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[farmer] ", log.LstdFlags|log.Lmicroseconds)

	ctx, cancel := signalContext()
	defer cancel()

	p := app.New(app.Options{DataDir: *dataDir, Logger: logger})
	if err := p.OnBoot(); err != nil {
		logger.Fatalf("boot: %v", err)
	}
	host := ws.NewServer(p, logger)
	p.SetNotifier(host)
	if err := p.OnReady(ctx); err != nil {
		logger.Fatalf("startup: %v", err)
	}

	metrics := p.Telemetry()
	if metrics == nil {
		// Telemetry is off; still serve on-demand snapshots.
		metrics = telemetry.NewReporter("", p.Snapshot, 0, logger)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		if !p.Ready() {
			http.Error(rw, p.Phase().String(), http.StatusServiceUnavailable)
			return
		}
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())

	if envBool("FARMER_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		registerAdmin(mux, p, logger)
	} else {
		logger.Printf("admin endpoints disabled (FARMER_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("FARMER_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/host", host.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Printf("ListenAndServe: %v", err)
	}

	// Shutdown leaves hijacked websocket connections alone. Drop them here;
	// OnShutdown then waits for whatever they had already published.
	host.Close()
	if err := p.OnShutdown(context.Background()); err != nil {
		logger.Printf("shutdown: %v", err)
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
