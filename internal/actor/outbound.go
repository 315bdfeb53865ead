package actor

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/phrazzld/unwrap-qr/internal/broker"
)

// outboundQueue is the bounded buffer between the consume loop and the
// publisher goroutine. Enqueue never blocks.
type outboundQueue struct {
	mu       sync.Mutex
	messages chan broker.Publishing
	logger   *slog.Logger
	closed   bool
}

func newOutboundQueue(size int, logger *slog.Logger) *outboundQueue {
	return &outboundQueue{
		messages: make(chan broker.Publishing, size),
		logger:   logger,
	}
}

// Enqueue adds a reply for publishing.
// Returns an error if the queue is full or closed.
func (q *outboundQueue) Enqueue(msg broker.Publishing) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrOutboundClosed
	}

	select {
	case q.messages <- msg:
		q.logger.Debug("reply queued",
			"correlation_id", msg.CorrelationID,
			"queue_len", len(q.messages),
			"queue_cap", cap(q.messages))
		return nil
	default:
		return fmt.Errorf("%w: capacity %d reached", ErrOutboundFull, cap(q.messages))
	}
}

// Close stops accepting replies. Replies already queued are still delivered
// to readers of Messages.
func (q *outboundQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.messages)
		q.logger.Debug("outbound queue closed")
	}
}

// Messages returns the channel drained by the publisher.
func (q *outboundQueue) Messages() <-chan broker.Publishing {
	return q.messages
}
