// Package main is the entry point of the hearth realtime server.
//
// Everything is built and wired here; there are no package-level singletons.
// The order is config, logger, store, bus, hub, services, event routes, HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/akinalp/hearth/bus"
	"github.com/akinalp/hearth/config"
	"github.com/akinalp/hearth/pkg/logger"
	"github.com/akinalp/hearth/pkg/metrics"
	"github.com/akinalp/hearth/pkg/validate"
	"github.com/akinalp/hearth/ws"
)

const (
	localBusBuffer  = 1024
	shutdownTimeout = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	a.Start(ctx)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      a.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("shutting down")

	// Close sockets first so clients see the disconnect, then drain HTTP.
	a.hub.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

// app is a fully wired server without a listener.
type app struct {
	Handler http.Handler

	hub      *ws.Hub
	bus      bus.Bus
	services *Services
	limiters *RateLimiters
	closeDB  func() error
	logger   *slog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	repos, closeDB, err := openStore(ctx, cfg.Database, logger.Component(log, "database"))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	b, err := openBus(ctx, cfg.Redis, logger.Component(log, "bus"))
	if err != nil {
		closeDB()
		return nil, fmt.Errorf("failed to open bus: %w", err)
	}

	limiters := initRateLimiters(cfg)
	hub := ws.NewHub(b, limiters.Event, m, logger.Component(log, "hub"))
	svc := initServices(repos, hub, cfg, m, log)
	registerEventHandlers(hub, svc, validate.New())

	wsHandler := ws.NewHandler(hub, svc.Identity, svc.Room, limiters.Handshake,
		cfg.Server.CORSOrigins, logger.Component(log, "ws"))

	mux := http.NewServeMux()
	initRoutes(mux, wsHandler, hub, reg)

	return &app{
		Handler:  withCORS(mux, cfg.Server.CORSOrigins),
		hub:      hub,
		bus:      b,
		services: svc,
		limiters: limiters,
		closeDB:  closeDB,
		logger:   log,
	}, nil
}

// openBus connects to Redis when an address is configured; otherwise the
// server runs as a single process on the in-memory bus.
func openBus(ctx context.Context, cfg config.RedisConfig, log *slog.Logger) (bus.Bus, error) {
	if cfg.Addr == "" {
		log.Info("REDIS_ADDR not set, using in-process bus")
		return bus.NewLocal(localBusBuffer), nil
	}

	r, err := bus.ConnectRedis(ctx, bus.RedisOptions{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		Prefix:   cfg.ChannelPrefix,
	}, log)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Start begins delivering bus traffic. It returns immediately.
func (a *app) Start(ctx context.Context) {
	go a.hub.Run(ctx)
}

// Close releases everything newApp acquired, in reverse order.
func (a *app) Close() {
	a.limiters.Close()
	a.services.Close()
	if err := a.bus.Close(); err != nil {
		a.logger.Warn("failed to close bus", "error", err)
	}
	if err := a.closeDB(); err != nil {
		a.logger.Warn("failed to close database", "error", err)
	}
}
