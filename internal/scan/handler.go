package scan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	// Registered image formats
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/phrazzld/unwrap-qr/internal/broker"
	"github.com/phrazzld/unwrap-qr/internal/protocol"
)

// DefaultMaxPixels is the pixel cap used when none is configured.
const DefaultMaxPixels int64 = 1 << 24

// Handler is the worker-side queue handler. It consumes requests, decodes
// the image each one carries and replies with a terminal status.
type Handler struct {
	decoder   Decoder
	queues    broker.Queues
	maxPixels int64
	logger    *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithMaxPixels caps width*height of accepted images. Values <= 0 keep
// DefaultMaxPixels.
func WithMaxPixels(n int64) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxPixels = n
		}
	}
}

// NewHandler creates a worker handler using decoder.
func NewHandler(decoder Decoder, queues broker.Queues, logger *slog.Logger, opts ...HandlerOption) (*Handler, error) {
	if decoder == nil {
		return nil, errors.New("decoder cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	h := &Handler{
		decoder:   decoder,
		queues:    queues,
		maxPixels: DefaultMaxPixels,
		logger:    logger.With("component", "scan_handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// SourceQueue implements actor.Handler.
func (h *Handler) SourceQueue() string {
	return h.queues.Requests
}

// TargetQueue implements actor.Handler.
func (h *Handler) TargetQueue() string {
	return h.queues.Responses
}

// Handle implements actor.Handler.
//
// Every well-formed request gets exactly one terminal reply. A request that
// cannot be parsed is answered with a Failure so the submitter does not wait
// forever. A parsed request that carries no image gets no reply.
func (h *Handler) Handle(ctx context.Context, id protocol.CorrelationID, payload []byte) ([]byte, error) {
	log := h.logger.With("task_id", id)

	status, err := protocol.Decode(payload)
	if err != nil {
		log.Warn("malformed request", "error", err)
		return h.reply(protocol.Failure(fmt.Sprintf("protocol mismatch: %v", err)))
	}

	if status.Kind != protocol.KindInProgress || len(status.Data) == 0 {
		log.Warn("request carries no image, ignoring", "status", status.String())
		return nil, nil
	}

	result := h.scan(status.Data)
	if result.Kind == protocol.KindSuccess {
		log.Info("code decoded", "length", len(result.Text))
	} else {
		log.Info("scan failed", "reason", result.Text)
	}
	return h.reply(result)
}

// scan turns raw image bytes into a terminal status. The header is checked
// against the pixel cap before any pixel data is decoded.
func (h *Handler) scan(data []byte) protocol.Status {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return protocol.Failure(fmt.Sprintf("unreadable image: %v", err))
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > h.maxPixels {
		h.logger.Warn("rejecting oversized image",
			"width", cfg.Width,
			"height", cfg.Height,
			"max_pixels", h.maxPixels)
		return protocol.Failure(ErrImageTooLarge.Error())
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return protocol.Failure(fmt.Sprintf("unreadable image: %v", err))
	}
	h.logger.Debug("image decoded",
		"format", format,
		"width", img.Bounds().Dx(),
		"height", img.Bounds().Dy())

	text, err := h.decoder.Decode(img)
	if err != nil {
		return protocol.Failure(failureReason(err))
	}
	return protocol.Success(text)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrNoCode):
		return ErrNoCode.Error()
	case errors.Is(err, ErrNotText):
		return ErrNotText.Error()
	case errors.Is(err, ErrDecodeFailed):
		return ErrDecodeFailed.Error()
	case errors.Is(err, ErrImageTooLarge):
		return ErrImageTooLarge.Error()
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return ErrDecodeFailed.Error()
}

func (h *Handler) reply(status protocol.Status) ([]byte, error) {
	body, err := protocol.Encode(status)
	if err != nil {
		return nil, fmt.Errorf("encode reply: %w", err)
	}
	return body, nil
}
