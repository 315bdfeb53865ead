package broker

import (
	"context"

	"github.com/phrazzld/unwrap-qr/internal/protocol"
)

// Default queue names shared by the server and worker processes.
const (
	RequestsQueue  = "requests"
	ResponsesQueue = "responses"
)

// Queues names the pair of queues a deployment uses.
type Queues struct {
	Requests  string
	Responses string
}

// DefaultQueues returns the conventional queue names.
func DefaultQueues() Queues {
	return Queues{
		Requests:  RequestsQueue,
		Responses: ResponsesQueue,
	}
}

// QueueOptions controls how a queue is declared.
type QueueOptions struct {
	Durable    bool
	AutoDelete bool
}

// TransientQueue is the declaration policy used for both task queues:
// non-durable and deleted once the last consumer goes away.
var TransientQueue = QueueOptions{Durable: false, AutoDelete: true}

// ConsumerTag returns the consumer tag used when consuming from queue.
func ConsumerTag(queue string) string {
	return queue + "-consumer"
}

// Acknowledger settles a single delivery with the broker.
type Acknowledger interface {
	Ack(ctx context.Context) error
}

// Delivery is one message received from a queue.
// CorrelationID is empty when the sender did not set one.
type Delivery struct {
	CorrelationID protocol.CorrelationID
	Body          []byte
	Acknowledger  Acknowledger
}

// Ack acknowledges receipt of the delivery.
func (d Delivery) Ack(ctx context.Context) error {
	if d.Acknowledger == nil {
		return nil
	}
	return d.Acknowledger.Ack(ctx)
}

// Publishing is an outgoing message tagged with a correlation id.
type Publishing struct {
	CorrelationID protocol.CorrelationID
	Body          []byte
}

// Consumer is an open subscription on a queue.
type Consumer interface {
	// Deliveries yields messages in broker order. The channel is closed when
	// the subscription ends, after which Err reports why.
	Deliveries() <-chan Delivery

	// Err returns the reason the delivery stream ended, or nil if it ended
	// because the consume context was canceled.
	Err() error
}

// Channel is a logical session with the broker.
type Channel interface {
	// DeclareQueue creates the queue if it does not exist yet.
	DeclareQueue(ctx context.Context, name string, opts QueueOptions) error

	// Consume opens a subscription on queue with manual acknowledgement.
	Consume(ctx context.Context, queue, consumerTag string) (Consumer, error)

	// Publish sends msg to queue with default message properties.
	Publish(ctx context.Context, queue string, msg Publishing) error

	// Close releases the channel.
	Close() error
}

// Gateway owns the connection to a broker and hands out channels.
type Gateway interface {
	// OpenChannel opens a new channel on the existing connection.
	OpenChannel(ctx context.Context) (Channel, error)

	// Close tears down the connection.
	Close() error
}
