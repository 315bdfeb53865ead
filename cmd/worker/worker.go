package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phrazzld/unwrap-qr/internal/actor"
	"github.com/phrazzld/unwrap-qr/internal/broker"
	"github.com/phrazzld/unwrap-qr/internal/config"
	"github.com/phrazzld/unwrap-qr/internal/platform/gateway"
	"github.com/phrazzld/unwrap-qr/internal/scan"
)

// worker runs the request actor of one worker process.
type worker struct {
	gateway broker.Gateway
	actor   *actor.Actor
	logger  *slog.Logger
}

// newWorker starts consuming the requests queue on gw. The worker owns gw
// once created.
func newWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, gw broker.Gateway, decoder scan.Decoder) (*worker, error) {
	handler, err := scan.NewHandler(decoder, gateway.Queues(cfg.Broker), logger,
		scan.WithMaxPixels(cfg.Scan.MaxPixels))
	if err != nil {
		return nil, fmt.Errorf("failed to create scan handler: %w", err)
	}

	a, err := actor.New(ctx, gw, handler, actor.Config{
		PublishBuffer:  cfg.Broker.PublishBuffer,
		PublishTimeout: cfg.Broker.PublishTimeout(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start request actor: %w", err)
	}

	return &worker{gateway: gw, actor: a, logger: logger}, nil
}

// Run processes requests until ctx is canceled, which is a clean exit.
// Any other stop, in particular actor.ErrConsumerClosed, is returned.
func (w *worker) Run(ctx context.Context) error {
	w.logger.Info("worker started")
	err := w.actor.Run(ctx)
	w.cleanup()

	if err != nil && !errors.Is(err, context.Canceled) {
		w.logger.Error("worker stopped", "error", err)
		return err
	}
	w.logger.Info("worker shutdown completed")
	return nil
}

func (w *worker) cleanup() {
	if err := w.actor.Close(); err != nil {
		w.logger.Error("error closing request actor", "error", err)
	}
	if err := w.gateway.Close(); err != nil {
		w.logger.Error("error closing broker connection", "error", err)
	}
}

// serveMetrics exposes the default Prometheus registry on port and returns
// a function that shuts the listener down.
func serveMetrics(port int, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("serving metrics", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown failed", "error", err)
		}
	}
}
