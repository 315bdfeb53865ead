// Package main implements the unwrap-qr worker: it consumes image requests
// from the broker, decodes the QR code in each and publishes the result.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/phrazzld/unwrap-qr/internal/config"
	"github.com/phrazzld/unwrap-qr/internal/platform/gateway"
	"github.com/phrazzld/unwrap-qr/internal/platform/logger"
	"github.com/phrazzld/unwrap-qr/internal/protocol"
	"github.com/phrazzld/unwrap-qr/internal/redact"
	"github.com/phrazzld/unwrap-qr/internal/scan"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configFile  string
		metricsPort int
	)

	cmd := &cobra.Command{
		Use:           "unwrapqr-worker",
		Short:         "Decode QR codes from queued images",
		Long:          "Consumes image requests from the broker, decodes the QR code in each and publishes the text or a failure reason.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configFile, metricsPort)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "path to a YAML config file (default ./config.yaml if present)")
	cmd.Flags().IntVar(&metricsPort, "metrics-port", 0, "serve Prometheus metrics on this port (0 disables)")
	return cmd
}

// run connects to the broker and processes requests until ctx is canceled
// or the broker ends the request stream.
func run(ctx context.Context, configFile string, metricsPort int) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server, "worker")
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	logConfig(log, cfg)

	gw, err := gateway.Open(ctx, cfg.Broker, log)
	if err != nil {
		log.Error("failed to connect to broker", "driver", cfg.Broker.Driver, "error", err)
		return err
	}

	w, err := newWorker(ctx, cfg, log, gw, scan.NewZXingDecoder())
	if err != nil {
		_ = gw.Close()
		return fmt.Errorf("failed to initialize worker: %w", err)
	}

	if metricsPort > 0 {
		stopMetrics := serveMetrics(metricsPort, log)
		defer stopMetrics()
	}

	return w.Run(ctx)
}

func logConfig(log *slog.Logger, cfg *config.Config) {
	log.Info("worker configuration loaded",
		"log_level", cfg.Server.LogLevel,
		"broker_driver", cfg.Broker.Driver,
		"broker_url", redact.String(cfg.Broker.URL),
		"requests_queue", cfg.Broker.RequestsQueue,
		"responses_queue", cfg.Broker.ResponsesQueue,
		"max_pixels", cfg.Scan.MaxPixels,
		"protocol_version", protocol.Version)
}
