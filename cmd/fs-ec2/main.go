package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/namith-arrellio/fs-ec2/internal/config"
	"github.com/namith-arrellio/fs-ec2/internal/database"
	"github.com/namith-arrellio/fs-ec2/internal/database/models"
	"github.com/namith-arrellio/fs-ec2/internal/directory"
	"github.com/namith-arrellio/fs-ec2/internal/events"
	"github.com/namith-arrellio/fs-ec2/internal/metrics"
	"github.com/namith-arrellio/fs-ec2/internal/presence"
	"github.com/namith-arrellio/fs-ec2/internal/router"
	"github.com/namith-arrellio/fs-ec2/internal/xmlcurl"
)

func main() {
	startTime := time.Now()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting fs-ec2",
		"control_addr", cfg.ControlAddr(),
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
	)

	// Open database and run migrations.
	db, err := database.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	records := database.NewCallRecordRepository(db)

	// Load the tenant directory.
	tenants := directory.Builtin()
	if cfg.TenantsFile != "" {
		tenants, err = directory.LoadFile(cfg.TenantsFile)
		if err != nil {
			slog.Error("failed to load tenants file", "error", err)
			os.Exit(1)
		}
	}
	dir, err := directory.New(tenants, cfg.DefaultTenant, logger)
	if err != nil {
		slog.Error("failed to build tenant directory", "error", err)
		os.Exit(1)
	}
	slog.Info("tenant directory loaded", "tenants", len(dir.Tenants()))

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Presence publisher for valet parking state.
	publisher := presence.NewPublisher(cfg.PresenceProxy, cfg.LocalSIPHost, logger)

	// System event feed: watch parking transitions and publish presence.
	feed := events.NewClient(
		cfg.EventSocketAddr(),
		cfg.EventSocketPassword,
		cfg.ReconnectInterval(),
		events.ParkingHandler(publisher, logger),
		logger,
	)
	go feed.Run(appCtx)

	// Call-control listener.
	listener := router.NewListener(
		cfg.ControlAddr(),
		cfg.MaxSessions,
		dir,
		&recordWriterAdapter{repo: records},
		logger,
	)
	if err := listener.Start(appCtx); err != nil {
		slog.Error("failed to start control listener", "error", err)
		os.Exit(1)
	}

	// Metrics registry with process collectors plus our scrape-time collector.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(listener, publisher, feed, records, startTime),
	)

	// HTTP server for switch configuration lookups and metrics.
	limiter := xmlcurl.NewRateLimiter(xmlcurl.DefaultRateLimiterConfig())
	defer limiter.Stop()

	handler := xmlcurl.NewServer(
		dir,
		cfg.AdvertiseAddr(),
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		limiter,
		logger,
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	appCancel()
	listener.Stop()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("fs-ec2 stopped")
}

// recordWriterAdapter bridges the router's call record writes with the
// database repository, converting between router and model types.
type recordWriterAdapter struct {
	repo database.CallRecordRepository
}

func (a *recordWriterAdapter) Write(ctx context.Context, rec router.CallRecord) error {
	return a.repo.Create(ctx, &models.CallRecord{
		CallID:      rec.CallID,
		Tenant:      rec.Tenant,
		Caller:      rec.Caller,
		Callee:      rec.Callee,
		Context:     rec.Context,
		Route:       rec.Route,
		Disposition: rec.Disposition,
		StartedAt:   rec.StartedAt,
		EndedAt:     rec.EndedAt,
	})
}
