// Package gateway opens the broker.Gateway selected by configuration.
package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/unwrap-qr/internal/broker"
	"github.com/phrazzld/unwrap-qr/internal/config"
	"github.com/phrazzld/unwrap-qr/internal/platform/rabbitmq"
	"github.com/phrazzld/unwrap-qr/internal/platform/redisq"
)

// Supported broker drivers
const (
	DriverAMQP  = "amqp"
	DriverRedis = "redis"
)

// Open connects to the broker named by cfg.Driver. Failures wrap
// broker.ErrConnection and are fatal for the caller.
func Open(ctx context.Context, cfg config.BrokerConfig, logger *slog.Logger) (broker.Gateway, error) {
	switch cfg.Driver {
	case DriverAMQP:
		gw, err := rabbitmq.Dial(cfg.URL, logger)
		if err != nil {
			return nil, err
		}
		return gw, nil
	case DriverRedis:
		gw, err := redisq.Dial(ctx, cfg.URL, logger)
		if err != nil {
			return nil, err
		}
		return gw, nil
	default:
		return nil, fmt.Errorf("%w: unknown broker driver %q", broker.ErrConnection, cfg.Driver)
	}
}

// Queues returns the queue pair named in cfg.
func Queues(cfg config.BrokerConfig) broker.Queues {
	return broker.Queues{
		Requests:  cfg.RequestsQueue,
		Responses: cfg.ResponsesQueue,
	}
}
