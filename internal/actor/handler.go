package actor

import (
	"context"

	"github.com/phrazzld/unwrap-qr/internal/protocol"
)

// Handler is the per-message business logic run by an Actor.
type Handler interface {
	// SourceQueue names the queue the actor consumes from.
	SourceQueue() string

	// TargetQueue names the queue replies and direct sends are published to.
	TargetQueue() string

	// Handle processes one payload. A nil reply with a nil error means there
	// is nothing to publish. An error drops the message without a reply.
	Handle(ctx context.Context, id protocol.CorrelationID, payload []byte) ([]byte, error)
}
