package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// memoryQueueCapacity bounds how many unconsumed messages one in-memory queue holds.
const memoryQueueCapacity = 1024

// MemoryGateway is an in-process Gateway. Queues are buffered channels shared
// by every channel opened on the gateway, so a server actor and a worker
// actor built on the same MemoryGateway talk to each other exactly as they
// would through a real broker.
type MemoryGateway struct {
	mu         sync.Mutex
	queues     map[string]*memoryQueue
	consumers  []*memoryConsumer
	closed     bool
	publishErr error
}

type memoryQueue struct {
	name     string
	messages chan Publishing
	acked    atomic.Int64
}

// NewMemoryGateway creates an empty in-memory broker.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		queues: make(map[string]*memoryQueue),
	}
}

// OpenChannel implements Gateway.
func (g *MemoryGateway) OpenChannel(ctx context.Context) (Channel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, fmt.Errorf("%w: gateway closed", ErrConnection)
	}
	return &memoryChannel{gateway: g}, nil
}

// Close implements Gateway. Every open consumer stops with ErrClosed.
func (g *MemoryGateway) Close() error {
	g.Disconnect(ErrClosed)

	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	return nil
}

// Disconnect ends every active subscription with cause, simulating the
// broker dropping the connection mid-stream.
func (g *MemoryGateway) Disconnect(cause error) {
	g.mu.Lock()
	consumers := g.consumers
	g.consumers = nil
	g.mu.Unlock()

	for _, c := range consumers {
		c.stop(cause)
	}
}

// FailPublishes makes every subsequent publish fail with cause.
// Passing nil restores normal behavior.
func (g *MemoryGateway) FailPublishes(cause error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.publishErr = cause
}

// Depth returns the number of messages waiting in queue.
func (g *MemoryGateway) Depth(queue string) int {
	q, err := g.queue(queue)
	if err != nil {
		return 0
	}
	return len(q.messages)
}

// Acked returns how many deliveries from queue have been acknowledged.
func (g *MemoryGateway) Acked(queue string) int64 {
	q, err := g.queue(queue)
	if err != nil {
		return 0
	}
	return q.acked.Load()
}

func (g *MemoryGateway) queue(name string) (*memoryQueue, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	q, ok := g.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrQueueNotDeclared, name)
	}
	return q, nil
}

func (g *MemoryGateway) declare(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.queues[name]; !ok {
		g.queues[name] = &memoryQueue{
			name:     name,
			messages: make(chan Publishing, memoryQueueCapacity),
		}
	}
}

func (g *MemoryGateway) register(c *memoryConsumer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consumers = append(g.consumers, c)
}

// memoryChannel implements Channel on top of a MemoryGateway.
type memoryChannel struct {
	gateway *MemoryGateway

	mu        sync.Mutex
	closed    bool
	consumers []*memoryConsumer
}

func (c *memoryChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// DeclareQueue implements Channel. Durability options have no effect in memory.
func (c *memoryChannel) DeclareQueue(ctx context.Context, name string, opts QueueOptions) error {
	if c.isClosed() {
		return ErrClosed
	}
	if name == "" {
		return errors.New("queue name must not be empty")
	}
	c.gateway.declare(name)
	return nil
}

// Consume implements Channel.
func (c *memoryChannel) Consume(ctx context.Context, queue, consumerTag string) (Consumer, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	q, err := c.gateway.queue(queue)
	if err != nil {
		return nil, err
	}

	consumer := &memoryConsumer{
		tag:        consumerTag,
		deliveries: make(chan Delivery),
		quit:       make(chan struct{}),
	}
	c.gateway.register(consumer)

	c.mu.Lock()
	c.consumers = append(c.consumers, consumer)
	c.mu.Unlock()

	go consumer.run(ctx, q)
	return consumer, nil
}

// Publish implements Channel.
func (c *memoryChannel) Publish(ctx context.Context, queue string, msg Publishing) error {
	if c.isClosed() {
		return fmt.Errorf("%w: %w", ErrPublish, ErrClosed)
	}

	c.gateway.mu.Lock()
	failure := c.gateway.publishErr
	c.gateway.mu.Unlock()
	if failure != nil {
		return fmt.Errorf("%w: %v", ErrPublish, failure)
	}

	q, err := c.gateway.queue(queue)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}

	body := append([]byte(nil), msg.Body...)
	select {
	case q.messages <- Publishing{CorrelationID: msg.CorrelationID, Body: body}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrPublish, ctx.Err())
	default:
		return fmt.Errorf("%w: queue %s is full", ErrPublish, queue)
	}
}

// Close implements Channel. Consumers opened on this channel stop with ErrClosed.
func (c *memoryChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	consumers := c.consumers
	c.consumers = nil
	c.mu.Unlock()

	for _, consumer := range consumers {
		consumer.stop(ErrClosed)
	}
	return nil
}

// memoryConsumer implements Consumer.
type memoryConsumer struct {
	tag        string
	deliveries chan Delivery
	quit       chan struct{}
	stopOnce   sync.Once

	mu  sync.Mutex
	err error
}

func (c *memoryConsumer) Deliveries() <-chan Delivery {
	return c.deliveries
}

func (c *memoryConsumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *memoryConsumer) stop(cause error) {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.err = cause
		c.mu.Unlock()
		close(c.quit)
	})
}

func (c *memoryConsumer) run(ctx context.Context, q *memoryQueue) {
	defer close(c.deliveries)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.quit:
			return
		case msg := <-q.messages:
			d := Delivery{
				CorrelationID: msg.CorrelationID,
				Body:          msg.Body,
				Acknowledger:  memoryAck{queue: q},
			}
			select {
			case c.deliveries <- d:
			case <-ctx.Done():
				return
			case <-c.quit:
				return
			}
		}
	}
}

type memoryAck struct {
	queue *memoryQueue
}

func (a memoryAck) Ack(ctx context.Context) error {
	a.queue.acked.Add(1)
	return nil
}
