package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/unwrap-qr/internal/actor"
	"github.com/phrazzld/unwrap-qr/internal/api"
	"github.com/phrazzld/unwrap-qr/internal/broker"
	"github.com/phrazzld/unwrap-qr/internal/config"
	"github.com/phrazzld/unwrap-qr/internal/platform/gateway"
	"github.com/phrazzld/unwrap-qr/internal/task"
)

// application holds the server's dependencies.
type application struct {
	config  *config.Config
	logger  *slog.Logger
	gateway broker.Gateway

	registry *task.Registry
	actor    *actor.Actor
	service  *task.Service

	taskHandler *api.TaskHandler
}

// newApplication wires the registry, the response actor and the HTTP
// handlers on top of an already connected gateway. The gateway is owned by
// the application from here on and closed by cleanup.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, gw broker.Gateway) (*application, error) {
	app := &application{
		config:   cfg,
		logger:   logger,
		gateway:  gw,
		registry: task.NewRegistry(),
	}

	var err error
	app.actor, err = actor.New(ctx, gw,
		task.NewResultHandler(app.registry, gateway.Queues(cfg.Broker), logger),
		actor.Config{
			PublishBuffer:  cfg.Broker.PublishBuffer,
			PublishTimeout: cfg.Broker.PublishTimeout(),
		},
		logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start response actor: %w", err)
	}

	app.service, err = task.NewService(app.actor, app.registry, logger)
	if err != nil {
		_ = app.actor.Close()
		return nil, fmt.Errorf("failed to create task service: %w", err)
	}

	app.taskHandler, err = api.NewTaskHandler(app.service, cfg.Server.MaxUploadBytes, logger)
	if err != nil {
		_ = app.actor.Close()
		return nil, fmt.Errorf("failed to create task handler: %w", err)
	}

	logger.Info("application initialized",
		"requests_queue", cfg.Broker.RequestsQueue,
		"responses_queue", cfg.Broker.ResponsesQueue)
	return app, nil
}

// Run serves HTTP and consumes responses until ctx is canceled. If the
// response consumer stops on its own the server shuts down and the
// actor's error is returned.
func (app *application) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	actorDone := make(chan error, 1)
	go func() {
		actorDone <- app.actor.Run(runCtx)
	}()

	err := app.startHTTPServer(runCtx, app.setupRouter(), actorDone)
	if err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup releases the actor and the broker connection.
func (app *application) cleanup() {
	if app.actor != nil {
		if err := app.actor.Close(); err != nil {
			app.logger.Error("error closing response actor", "error", err)
		}
	}

	if app.gateway != nil {
		if err := app.gateway.Close(); err != nil {
			app.logger.Error("error closing broker connection", "error", err)
		}
	}

	app.logger.Info("application shutdown completed")
}
