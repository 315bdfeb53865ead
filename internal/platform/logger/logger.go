package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/phrazzld/unwrap-qr/internal/config"
)

// ParseLevel maps a configured level name to a slog level (case-insensitive).
// The second result is false for unknown names, in which case info is used.
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// Setup initializes and configures the application's logging system based on
// the provided configuration. It creates a structured JSON logger on stdout,
// tagged with the process name, and sets it as the default logger.
func Setup(cfg config.ServerConfig, process string) (*slog.Logger, error) {
	return SetupWithWriter(os.Stdout, cfg, process)
}

// SetupWithWriter is Setup writing to w instead of stdout.
func SetupWithWriter(w io.Writer, cfg config.ServerConfig, process string) (*slog.Logger, error) {
	level, ok := ParseLevel(cfg.LogLevel)

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler).With("process", process)

	if !ok {
		logger.Warn("invalid log level configured, using default level",
			"configured_level", cfg.LogLevel,
			"default_level", "info")
	}

	// Allows using the slog package functions directly (slog.Info, slog.Error, etc.)
	slog.SetDefault(logger)
	return logger, nil
}
