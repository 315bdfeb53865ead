// Package redisq implements broker.Gateway on Redis Streams. Each queue is a
// stream read through a consumer group, and a delivery is acknowledged with
// XACK.
package redisq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/phrazzld/unwrap-qr/internal/broker"
	"github.com/phrazzld/unwrap-qr/internal/protocol"
)

// Message field names.
const (
	fieldCorrelationID = "correlation_id"
	fieldBody          = "body"
)

// DefaultGroup is the consumer group every queue is read through.
const DefaultGroup = "unwrapqr"

// readBlock bounds each XREADGROUP call so cancellation is noticed.
const readBlock = 2 * time.Second

// Gateway is a broker.Gateway backed by a Redis client.
type Gateway struct {
	client *redis.Client
	group  string
	logger *slog.Logger
}

var _ broker.Gateway = (*Gateway)(nil)

// Dial connects to the Redis server at url, for example
// redis://127.0.0.1:6379/0, and verifies the connection.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", broker.ErrConnection, err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", broker.ErrConnection, opts.Addr, err)
	}

	logger = logger.With("component", "redisq")
	logger.Info("connected to broker", "addr", opts.Addr, "db", opts.DB)
	return &Gateway{client: client, group: DefaultGroup, logger: logger}, nil
}

// OpenChannel implements broker.Gateway. Redis has no channel concept, so a
// channel is a view on the shared client.
func (g *Gateway) OpenChannel(ctx context.Context) (broker.Channel, error) {
	return &channel{gateway: g}, nil
}

// Close implements broker.Gateway.
func (g *Gateway) Close() error {
	if err := g.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}

type channel struct {
	gateway *Gateway
	closed  atomic.Bool
}

// DeclareQueue creates the stream and its consumer group. Streams always
// persist, so opts is not applied.
func (c *channel) DeclareQueue(ctx context.Context, name string, opts broker.QueueOptions) error {
	if c.closed.Load() {
		return fmt.Errorf("%w: declare queue %q", broker.ErrClosed, name)
	}

	err := c.gateway.client.XGroupCreateMkStream(ctx, name, c.gateway.group, "$").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("%w: declare queue %q: %v", broker.ErrConnection, name, err)
	}
	return nil
}

func (c *channel) Consume(ctx context.Context, queue, consumerTag string) (broker.Consumer, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("%w: consume %q", broker.ErrClosed, queue)
	}

	cons := &consumer{
		client: c.gateway.client,
		stream: queue,
		group:  c.gateway.group,
		name:   consumerTag,
		out:    make(chan broker.Delivery),
		logger: c.gateway.logger.With("queue", queue),
	}
	go cons.run(ctx)
	return cons, nil
}

func (c *channel) Publish(ctx context.Context, queue string, msg broker.Publishing) error {
	if c.closed.Load() {
		return fmt.Errorf("%w: %w", broker.ErrPublish, broker.ErrClosed)
	}

	err := c.gateway.client.XAdd(ctx, &redis.XAddArgs{
		Stream: queue,
		Values: encodeValues(msg),
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", broker.ErrPublish, err)
	}
	return nil
}

func (c *channel) Close() error {
	c.closed.Store(true)
	return nil
}

type consumer struct {
	client *redis.Client
	stream string
	group  string
	name   string
	out    chan broker.Delivery
	logger *slog.Logger

	mu  sync.Mutex
	err error
}

func (c *consumer) Deliveries() <-chan broker.Delivery {
	return c.out
}

func (c *consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *consumer) run(ctx context.Context) {
	defer close(c.out)

	for {
		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.name,
			Streams:  []string{c.stream, ">"},
			Block:    readBlock,
			Count:    1,
		}).Result()

		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			c.mu.Lock()
			c.err = fmt.Errorf("%w: read %s: %v", broker.ErrConnection, c.stream, err)
			c.mu.Unlock()
			return
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				d, ok := decodeMessage(msg)
				d.Acknowledger = acker{client: c.client, stream: c.stream, group: c.group, id: msg.ID}
				if !ok {
					c.logger.Warn("stream entry without body, acknowledging", "entry_id", msg.ID)
					_ = d.Ack(ctx)
					continue
				}

				select {
				case c.out <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

type acker struct {
	client *redis.Client
	stream string
	group  string
	id     string
}

func (a acker) Ack(ctx context.Context) error {
	if err := a.client.XAck(ctx, a.stream, a.group, a.id).Err(); err != nil {
		return fmt.Errorf("ack %s/%s: %w", a.stream, a.id, err)
	}
	return nil
}

func encodeValues(msg broker.Publishing) map[string]interface{} {
	return map[string]interface{}{
		fieldCorrelationID: msg.CorrelationID.String(),
		fieldBody:          msg.Body,
	}
}

// decodeMessage reads a stream entry written by encodeValues. A missing
// correlation id yields an empty one; a missing body is reported as not ok.
func decodeMessage(msg redis.XMessage) (broker.Delivery, bool) {
	var d broker.Delivery
	if id, ok := msg.Values[fieldCorrelationID].(string); ok {
		d.CorrelationID = protocol.CorrelationID(id)
	}
	body, ok := msg.Values[fieldBody].(string)
	if !ok {
		return d, false
	}
	d.Body = []byte(body)
	return d, true
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
