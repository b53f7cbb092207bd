// scaler-service is the HTTP API server for cluster node lifecycle jobs.
package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nodescaler/internal/api"
	"nodescaler/internal/cloudsync"
	"nodescaler/internal/config"
	"nodescaler/internal/executor"
	"nodescaler/internal/health"
	"nodescaler/internal/inventory"
	"nodescaler/internal/job"
	"nodescaler/internal/logbuf"
	"nodescaler/internal/notifier"
	"nodescaler/internal/observability"
	"nodescaler/internal/scaler"
)

func main() {
	svcCfg := config.LoadServiceConfig()

	// Logs go to stdout and to the in-memory tail serving /v1/logs.
	logs := logbuf.New(svcCfg.LogTailLines)
	slog.SetDefault(slog.New(slog.NewJSONHandler(io.MultiWriter(os.Stdout, logs), nil)))

	if err := run(svcCfg, logs); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run(svcCfg *config.ServiceConfig, logs *logbuf.Buffer) error {
	ctx := context.Background()

	scalerCfg := scaler.LoadConfig()
	notifierCfg := notifier.LoadConfig()

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Webhook notifier for terminal job events, disabled without a URL
	var events notifier.Publisher
	if notifierCfg.Enabled() {
		webhook := notifier.New(notifierCfg, metrics)
		events = webhook
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := webhook.Close(closeCtx); err != nil {
				slog.Warn("Notifier shutdown error", "error", err)
			}
			stats := webhook.Stats()
			slog.Info("Notifier stats",
				"delivered", stats.Delivered,
				"failed", stats.Failed,
				"dropped", stats.Dropped,
			)
		}()
	} else {
		slog.Info("Webhook notifications disabled - no NOTIFY_WEBHOOK_URL configured")
	}

	// Wire the workflows: inventory store, instrumented command runner, job
	// table, scaler service.
	inv := inventory.NewStore(scalerCfg.InventoryPath)
	runner := executor.Instrument(executor.NewLocal(), metrics)
	jobs := job.NewStore()
	svc := scaler.New(scalerCfg, inv, runner, jobs, events, metrics)

	slog.Info("Scaler configured",
		"inventory", scalerCfg.InventoryPath,
		"playbook", scalerCfg.PlaybookPath,
	)

	// Autoscaled-node sync against the cloud provider, disabled without a
	// token. The periodic loop stops with the run context.
	syncCtx, syncCancel := context.WithCancel(ctx)
	defer syncCancel()

	syncCfg := cloudsync.LoadConfig()
	var syncer *cloudsync.Syncer
	if syncCfg.Enabled() {
		syncer = cloudsync.NewSyncer(cloudsync.NewHetzner(syncCfg), inv, syncCfg)
		slog.Info("Cloud inventory sync enabled",
			"label", syncCfg.LabelSelector,
			"prefix", syncCfg.HostPrefix,
			"interval", syncCfg.Interval,
		)
		go syncer.Run(syncCtx, syncCfg.Interval)
	} else {
		slog.Info("Cloud inventory sync disabled - no HCLOUD_TOKEN configured")
	}

	healthChecker := health.NewChecker(svc)

	routerCfg := api.RouterConfig{
		Scaler:        svc,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		Logs:          logs,
		LogTailMax:    svcCfg.LogTailLines,
		APIKey:        svcCfg.APIKey,
	}
	if syncer != nil {
		routerCfg.Sync = syncer
	}
	router := api.NewRouter(routerCfg)

	if svcCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY configured")
	}

	apiServer := &http.Server{
		Addr:         ":" + svcCfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		slog.Info("Starting API server", "port", svcCfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		return err
	}

	// Phase 1: fail readiness so load balancers stop routing here
	healthChecker.SetShuttingDown()
	if svcCfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
		time.Sleep(svcCfg.ShutdownDrainWait)
	}

	// Phase 2: stop accepting connections, finish in-flight requests
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// Phase 3: wait for running workflows. A playbook run can be long; the
	// bound here keeps shutdown from hanging forever while still giving an
	// in-flight inventory mutation time to land.
	slog.Info("Waiting for in-flight workflows")
	drainCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := svc.Drain(drainCtx); err != nil {
		slog.Warn("Workflows still running at shutdown", "error", err)
	}

	slog.Info("Shutdown complete")
	return nil
}
