package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nostr-subs/internal/cache"
	"nostr-subs/internal/config"
	"nostr-subs/internal/fetch"
	"nostr-subs/internal/logging"
	"nostr-subs/internal/pool"
	"nostr-subs/internal/subscription"
	"nostr-subs/internal/tracker"
)

// app owns every long-lived component for the duration of one command.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	pool    *pool.Pool
	tracker *tracker.Tracker
	subs    *subscription.Manager
	cache   *cache.ContentCache
	fetch   *fetch.Fetcher
	metrics *http.Server
}

func newApp(cfg *config.Config, metricsAddr string) *app {
	logging.Init(cfg.Log.Level, cfg.Log.Format)

	a := &app{cfg: cfg, log: logging.Component("relaywatch")}
	a.cache = cache.New(cfg.Cache)
	a.pool = pool.New(cfg.Pool, nil)
	a.tracker = tracker.New(cfg.Tracker, nil)
	a.subs = subscription.New(cfg.Subscription, a.pool, a.tracker, a.cache.Events, nil)
	a.fetch = fetch.New(cfg.Fetch, a.pool, a.cache)

	a.tracker.Start()
	a.subs.Start()

	if metricsAddr != "" {
		a.serveMetrics(metricsAddr)
	}

	a.log.Debug("started",
		"relays", len(cfg.Relays),
		"cache", a.cache.BackendType(),
		"max_connections", cfg.Pool.MaxConnections)
	return a
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthHandler)

	a.metrics = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		a.log.Info("serving metrics", "addr", addr)
		if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server failed", "error", err)
		}
	}()
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// close stops components in reverse order of construction.
func (a *app) close() {
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		a.metrics.Shutdown(ctx)
		cancel()
	}
	a.subs.Dispose()
	a.tracker.Stop()
	a.pool.Close()
	if err := a.cache.Close(); err != nil {
		a.log.Warn("closing cache", "error", err)
	}
}
