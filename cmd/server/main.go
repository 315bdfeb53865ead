// Package main implements the unwrap-qr server: the HTTP front end that
// accepts image uploads, queues them for workers and lists task results.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
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
	var configFile string

	cmd := &cobra.Command{
		Use:           "unwrapqr-server",
		Short:         "Serve the QR upload front end",
		Long:          "Accepts image uploads over HTTP, sends them to workers through the broker and lists the decoded results.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configFile)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "path to a YAML config file (default ./config.yaml if present)")
	return cmd
}

// run loads configuration, connects to the broker and serves until ctx is
// canceled or the result consumer dies.
func run(ctx context.Context, configFile string) error {
	cfg, log, err := loadAppConfig(configFile)
	if err != nil {
		return err
	}

	gw, err := openGateway(ctx, cfg, log)
	if err != nil {
		log.Error("failed to connect to broker", "driver", cfg.Broker.Driver, "error", err)
		return err
	}

	app, err := newApplication(ctx, cfg, log, gw)
	if err != nil {
		_ = gw.Close()
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return app.Run(ctx)
}
