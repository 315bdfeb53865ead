package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/unwrap-qr/internal/broker"
	"github.com/phrazzld/unwrap-qr/internal/config"
	"github.com/phrazzld/unwrap-qr/internal/platform/gateway"
	"github.com/phrazzld/unwrap-qr/internal/platform/logger"
	"github.com/phrazzld/unwrap-qr/internal/protocol"
	"github.com/phrazzld/unwrap-qr/internal/redact"
)

// loadAppConfig loads the configuration and sets up the process logger.
func loadAppConfig(configFile string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server, "server")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	log.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"broker_driver", cfg.Broker.Driver,
		"broker_url", redact.String(cfg.Broker.URL),
		"requests_queue", cfg.Broker.RequestsQueue,
		"responses_queue", cfg.Broker.ResponsesQueue,
		"protocol_version", protocol.Version)

	return cfg, log, nil
}

func openGateway(ctx context.Context, cfg *config.Config, log *slog.Logger) (broker.Gateway, error) {
	return gateway.Open(ctx, cfg.Broker, log)
}
