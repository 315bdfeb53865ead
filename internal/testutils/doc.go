// Package testutils provides helpers shared by package tests: a capturing
// slog handler for log assertions and generators for QR code and blank PNG
// fixtures.
package testutils
