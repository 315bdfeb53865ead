package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/unwrap-qr/internal/broker"
	"github.com/phrazzld/unwrap-qr/internal/platform/metrics"
	"github.com/phrazzld/unwrap-qr/internal/protocol"
)

// ResultHandler is the server-side queue handler. It consumes worker
// replies from the responses queue and applies them to the registry.
// It never replies.
type ResultHandler struct {
	registry *Registry
	queues   broker.Queues
	logger   *slog.Logger
}

// NewResultHandler creates a ResultHandler updating registry.
func NewResultHandler(registry *Registry, queues broker.Queues, logger *slog.Logger) *ResultHandler {
	return &ResultHandler{
		registry: registry,
		queues:   queues,
		logger:   logger.With("component", "result_handler"),
	}
}

// SourceQueue implements actor.Handler.
func (h *ResultHandler) SourceQueue() string {
	return h.queues.Responses
}

// TargetQueue implements actor.Handler. Direct sends from the submit path
// go here.
func (h *ResultHandler) TargetQueue() string {
	return h.queues.Requests
}

// Handle implements actor.Handler.
//
// A reply that does not parse is returned as an error and dropped by the
// actor. A reply for an unknown task, or one that would move a task
// backwards, is logged and ignored so the consumer keeps running.
func (h *ResultHandler) Handle(ctx context.Context, id protocol.CorrelationID, payload []byte) ([]byte, error) {
	status, err := protocol.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("decode result for task %s: %w", id, err)
	}

	if err := h.registry.Update(id, status); err != nil {
		reason := "invalid_transition"
		switch {
		case errors.Is(err, ErrTaskNotFound):
			reason = "unknown_task"
			h.logger.Warn("result for unknown task",
				"task_id", id,
				"status", status.Kind,
				"error", err)
		case errors.Is(err, ErrTerminalStatus):
			reason = "already_terminal"
			h.logger.Warn("result for finished task ignored",
				"task_id", id,
				"status", status.Kind,
				"error", err)
		default:
			h.logger.Warn("out-of-order result ignored",
				"task_id", id,
				"status", status.Kind,
				"error", err)
		}
		metrics.TaskAnomaliesTotal.WithLabelValues(reason).Inc()
		return nil, nil
	}

	metrics.TaskResultsTotal.WithLabelValues(string(status.Kind)).Inc()
	h.logger.Info("task status updated",
		"task_id", id,
		"status", status.String())
	return nil, nil
}
