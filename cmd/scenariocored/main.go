// Command scenariocored serves the scenario editing sessions over HTTP. It
// wires the backend client, snapshot cache, baseline archive, and metrics
// from the environment and exposes the editor API plus /metrics and
// /debug/vars endpoints.
package main

import (
	"context"
	"errors"
	"expvar"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scenariocore/internal/adapters/editor"
	"scenariocore/internal/archive"
	"scenariocore/internal/backend"
	"scenariocore/internal/core"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	if err := run(logger); err != nil {
		logger.Error("scenariocored failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backendURL := os.Getenv("SCENARIOCORE_BACKEND_URL")
	if backendURL == "" {
		backendURL = "http://localhost:5050"
	}
	var clientOpts []backend.Option
	if token := os.Getenv("SCENARIOCORE_BACKEND_TOKEN"); token != "" {
		clientOpts = append(clientOpts, backend.WithToken(token))
	}
	client, err := backend.NewClient(backendURL, clientOpts...)
	if err != nil {
		return err
	}

	if strings.EqualFold(os.Getenv("SCENARIOCORE_JOB_EVENTS"), "true") {
		stream, err := client.OpenEvents(ctx)
		if err != nil {
			logger.Warn("job socket unavailable", "error", err)
		} else {
			defer func() { _ = stream.Close() }()
			go func() {
				for ev := range stream.Events() {
					logger.Info("job event", "job", ev.JobID, "project", ev.Project,
						"scenario", ev.Scenario, "state", ev.State)
				}
			}()
		}
	}

	cache, err := core.OpenSnapshotStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = cache.Close() }()

	baselines, err := archive.Open(ctx)
	if err != nil {
		return err
	}

	metrics, err := core.NewPrometheusMetricsRecorder(nil)
	if err != nil {
		return err
	}
	expvarMetrics := core.NewExpvarMetricsRecorder("scenariocore_editor")

	service := core.NewService(client,
		core.WithSnapshotCache(cache),
		core.WithArchive(baselines),
		core.WithMetrics(fanout{metrics, expvarMetrics}),
		core.WithLogger(logger),
	)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/sessions", editor.NewHandler(service))
	mux.Handle("/api/v1/sessions/", editor.NewHandler(service))
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/debug/vars", expvar.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	addr := os.Getenv("SCENARIOCORE_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr, "backend", backendURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// fanout forwards each observation to every recorder.
type fanout []core.MetricsRecorder

func (f fanout) Observe(ctx context.Context, operation string, success bool, duration time.Duration) {
	for _, rec := range f {
		rec.Observe(ctx, operation, success, duration)
	}
}
