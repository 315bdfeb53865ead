package task

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/phrazzld/unwrap-qr/internal/actor"
	"github.com/phrazzld/unwrap-qr/internal/platform/metrics"
	"github.com/phrazzld/unwrap-qr/internal/protocol"
)

// Sender publishes a payload under a freshly minted correlation id.
// It is satisfied by *actor.Actor.
type Sender interface {
	Send(ctx context.Context, body []byte, register actor.RegisterFunc) (protocol.CorrelationID, error)
}

// Upload is one image received from a client.
type Upload struct {
	FileName string
	Data     []byte
}

// Service is the submit and query side of the task lifecycle used by the
// HTTP front end.
type Service struct {
	sender   Sender
	registry *Registry
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a Service that sends uploads through sender and
// records them in registry.
func NewService(sender Sender, registry *Registry, logger *slog.Logger) (*Service, error) {
	if sender == nil {
		return nil, errors.New("sender cannot be nil")
	}
	if registry == nil {
		return nil, errors.New("registry cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	return &Service{
		sender:   sender,
		registry: registry,
		logger:   logger.With("component", "task_service"),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Submit turns an upload into a task. The Pending record is inserted
// before the request is published, so a worker reply can never arrive for
// an id the registry does not know yet.
func (s *Service) Submit(ctx context.Context, upload Upload) (Record, error) {
	if len(upload.Data) == 0 {
		return Record{}, ErrEmptyUpload
	}

	body, err := protocol.Encode(protocol.InProgress(upload.Data))
	if err != nil {
		return Record{}, fmt.Errorf("failed to encode request: %w", err)
	}

	var rec Record
	id, err := s.sender.Send(ctx, body, func(id protocol.CorrelationID) error {
		rec = Record{
			ID:        id,
			CreatedAt: s.now(),
			Status:    protocol.Pending(),
			FileName:  upload.FileName,
			Size:      int64(len(upload.Data)),
			Digest:    Digest(upload.Data),
		}
		return s.registry.Insert(rec)
	})
	if err != nil {
		s.logger.Error("failed to submit task",
			"task_id", id,
			"file_name", upload.FileName,
			"error", err)
		return Record{}, fmt.Errorf("failed to submit task: %w", err)
	}

	metrics.TasksSubmittedTotal.Inc()
	s.logger.Info("task submitted",
		"task_id", id,
		"file_name", upload.FileName,
		"size", rec.Size,
		"digest", rec.Digest)
	return rec, nil
}

// List returns every known task in submission order.
func (s *Service) List() []Record {
	return s.registry.Snapshot()
}

// Get returns a single task.
func (s *Service) Get(id protocol.CorrelationID) (Record, error) {
	return s.registry.Get(id)
}

// Digest returns the hex BLAKE2b-256 digest of data.
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
