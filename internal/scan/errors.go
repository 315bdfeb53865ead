package scan

import "errors"

// Decode failures. Their messages are what clients see as the failure reason.
var (
	ErrNoCode       = errors.New("no code found")
	ErrDecodeFailed = errors.New("decode failed")
	ErrNotText      = errors.New("not representable as text")

	// ErrImageTooLarge is returned for images whose declared size exceeds
	// the handler's pixel cap. Their pixels are never decoded.
	ErrImageTooLarge = errors.New("image too large")
)
