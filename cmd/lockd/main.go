// cmd/lockd/main.go
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	http_api "academy-lock/internal/api/http"
	"academy-lock/internal/config"
	"academy-lock/internal/infra"
	"academy-lock/internal/monitor"
	"academy-lock/internal/tracing"
	"academy-lock/internal/usecase"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize logger and tracer
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)

	tracerShutdown, err := tracing.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.Enabled)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", "error", err)
		}
	}()

	logger.Info("starting lock service", "driver", cfg.Store.Driver, "listen_addr", cfg.HTTP.ListenAddr)

	// 3. Create root context for lifecycle management
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Setup graceful shutdown
	setupGracefulShutdown(cancel, logger)

	// 5. Connect the lock store
	connectCtx, connectCancel := context.WithTimeout(rootCtx, 10*time.Second)
	store, closeStore, err := infra.NewStore(connectCtx, cfg.Store, logger)
	connectCancel()
	if err != nil {
		log.Fatalf("Failed to connect lock store: %v", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("failed to close lock store", "error", err)
		}
	}()

	// 6. Instantiate components
	manager := usecase.NewLockManager(store, usecase.OptionsFromConfig(cfg.Lock), logger)

	healthMonitor, err := monitor.NewHealthMonitor(manager, cfg.Monitor.Schedule, cfg.Monitor.WatchKeys, logger)
	if err != nil {
		log.Fatalf("Failed to create health monitor: %v", err)
	}
	go func() {
		if err := healthMonitor.Start(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("health monitor stopped with error", "error", err)
		}
	}()

	lockHandler := http_api.NewLockHandler(manager, healthMonitor.Summary, logger)

	// 7. Register routes and metrics endpoint
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	lockHandler.RegisterRoutes(mux)

	// 8. Start HTTP API server
	server := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// 9. Block until shutdown
	<-rootCtx.Done()
	logger.Info("shutting down lock service gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	logger.Info("lock service shut down", "active_locks", manager.ActiveLockCount())
}

func setupGracefulShutdown(cancel context.CancelFunc, logger *slog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, initiating graceful shutdown", "signal", sig.String())
		cancel()
	}()
}
