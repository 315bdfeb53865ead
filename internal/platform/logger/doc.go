// Package logger provides structured logging functionality for the application.
//
// It utilizes Go's standard library log/slog package to implement structured JSON logging
// with configurable log levels. Both binaries call Setup once at startup and
// hand the returned logger to every component.
package logger
