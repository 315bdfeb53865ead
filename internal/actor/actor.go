package actor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/phrazzld/unwrap-qr/internal/broker"
	"github.com/phrazzld/unwrap-qr/internal/platform/metrics"
	"github.com/phrazzld/unwrap-qr/internal/protocol"
)

const tracerName = "github.com/phrazzld/unwrap-qr/internal/actor"

// Config holds configuration options for an Actor
type Config struct {
	// PublishBuffer bounds the number of replies waiting for the publisher.
	// If zero or negative, defaults to 1.
	PublishBuffer int

	// PublishTimeout bounds each publish to the broker, for replies and
	// direct sends alike. If zero or negative, DefaultPublishTimeout is used.
	PublishTimeout time.Duration

	// TracerProvider supplies the tracer for delivery and send spans.
	// If nil, the global provider is used.
	TracerProvider trace.TracerProvider
}

// DefaultPublishTimeout is the publish bound used when none is configured.
const DefaultPublishTimeout = 5 * time.Second

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		PublishBuffer:  64,
		PublishTimeout: DefaultPublishTimeout,
	}
}

// RegisterFunc is called by Send with the freshly minted correlation id
// before anything is published. Returning an error aborts the send.
type RegisterFunc func(id protocol.CorrelationID) error

type sendRequest struct {
	ctx      context.Context
	body     []byte
	register RegisterFunc
	result   chan sendResult
}

type sendResult struct {
	id  protocol.CorrelationID
	err error
}

// Actor bridges a broker consumer stream and a Handler.
//
// Deliveries and direct sends are processed one at a time by the goroutine
// calling Run, in the order they are received. Replies are published by a
// separate publisher goroutine so a slow broker never stalls consumption.
type Actor struct {
	handler  Handler
	channel  broker.Channel
	consumer broker.Consumer
	outbound *outboundQueue

	sends         chan sendRequest
	stopped       chan struct{}
	publisherDone chan struct{}
	cancelConsume context.CancelFunc

	running   atomic.Bool
	closing   atomic.Bool
	closeOnce sync.Once

	publishTimeout time.Duration
	publishCtx     context.Context
	cancelPublish  context.CancelFunc

	logger *slog.Logger
	tracer trace.Tracer
}

// New opens a channel on gw, declares the handler's target and source queues
// and starts consuming from the source queue. Any failure is wrapped in
// ErrSetup and nothing is retried.
func New(ctx context.Context, gw broker.Gateway, handler Handler, config Config, logger *slog.Logger) (*Actor, error) {
	source := handler.SourceQueue()
	target := handler.TargetQueue()
	logger = logger.With(
		"component", "queue_actor",
		"source_queue", source,
		"target_queue", target,
	)

	bufferSize := config.PublishBuffer
	if bufferSize <= 0 {
		bufferSize = 1
		logger.Warn("invalid publish buffer specified, using default",
			"specified_size", config.PublishBuffer,
			"default_size", bufferSize)
	}

	publishTimeout := config.PublishTimeout
	if publishTimeout <= 0 {
		publishTimeout = DefaultPublishTimeout
	}

	tp := config.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	channel, err := gw.OpenChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: open channel: %w", ErrSetup, err)
	}
	logger.Debug("channel opened")

	if err := channel.DeclareQueue(ctx, target, broker.TransientQueue); err != nil {
		closeChannel(channel, logger)
		return nil, fmt.Errorf("%w: declare target queue %s: %w", ErrSetup, target, err)
	}
	logger.Debug("target queue declared")

	if err := channel.DeclareQueue(ctx, source, broker.TransientQueue); err != nil {
		closeChannel(channel, logger)
		return nil, fmt.Errorf("%w: declare source queue %s: %w", ErrSetup, source, err)
	}
	logger.Debug("source queue declared")

	// The subscription outlives the setup context; Close cancels it.
	consumeCtx, cancel := context.WithCancel(context.Background())
	consumer, err := channel.Consume(consumeCtx, source, broker.ConsumerTag(source))
	if err != nil {
		cancel()
		closeChannel(channel, logger)
		return nil, fmt.Errorf("%w: consume %s: %w", ErrSetup, source, err)
	}
	logger.Debug("consumer started", "consumer_tag", broker.ConsumerTag(source))

	publishCtx, cancelPublish := context.WithCancel(context.Background())
	a := &Actor{
		handler:        handler,
		channel:        channel,
		consumer:       consumer,
		outbound:       newOutboundQueue(bufferSize, logger),
		sends:          make(chan sendRequest),
		stopped:        make(chan struct{}),
		publisherDone:  make(chan struct{}),
		cancelConsume:  cancel,
		publishTimeout: publishTimeout,
		publishCtx:     publishCtx,
		cancelPublish:  cancelPublish,
		logger:         logger,
		tracer:         tp.Tracer(tracerName),
	}

	go a.publishLoop()

	return a, nil
}

func closeChannel(channel broker.Channel, logger *slog.Logger) {
	if err := channel.Close(); err != nil {
		logger.Warn("failed to close channel", "error", err)
	}
}

// Run consumes deliveries and serves direct sends until ctx is canceled, the
// actor is closed, or the broker ends the delivery stream. The last case is
// reported as ErrConsumerClosed and should be treated as fatal.
func (a *Actor) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(a.stopped)

	a.logger.Info("queue actor running")
	deliveries := a.consumer.Deliveries()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("queue actor stopping", "reason", ctx.Err())
			return ctx.Err()

		case d, ok := <-deliveries:
			if !ok {
				if a.closing.Load() {
					return nil
				}
				cause := a.consumer.Err()
				if cause == nil {
					cause = errors.New("stream ended")
				}
				a.logger.Error("delivery stream closed by broker", "error", cause)
				return fmt.Errorf("%w: %w", ErrConsumerClosed, cause)
			}
			a.processDelivery(ctx, d)

		case req := <-a.sends:
			a.handleSend(req)
		}
	}
}

// processDelivery acknowledges, handles and optionally answers one delivery.
// Nothing that goes wrong here stops the loop.
func (a *Actor) processDelivery(ctx context.Context, d broker.Delivery) {
	source := a.handler.SourceQueue()
	ctx, span := a.tracer.Start(ctx, "QueueActor.Handle", trace.WithAttributes(
		attribute.String("messaging.source", source),
		attribute.String("messaging.correlation_id", d.CorrelationID.String()),
		attribute.Int("messaging.body_size", len(d.Body)),
	))
	defer span.End()

	// Acknowledge up front: a delivery is never redelivered, whatever the handler does.
	if err := d.Ack(ctx); err != nil {
		a.logger.Warn("failed to acknowledge delivery",
			"correlation_id", d.CorrelationID,
			"error", err)
	}

	if d.CorrelationID == "" {
		a.logger.Warn("dropping delivery", "error", ErrMissingCorrelationID)
		metrics.DeliveriesTotal.WithLabelValues(source, metrics.OutcomeMissingID).Inc()
		span.SetStatus(codes.Error, ErrMissingCorrelationID.Error())
		return
	}

	logger := a.logger.With("correlation_id", d.CorrelationID)
	logger.Debug("handling delivery", "body_size", len(d.Body))

	start := time.Now()
	reply, err := a.handler.Handle(ctx, d.CorrelationID, d.Body)
	metrics.HandleDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())

	if err != nil {
		logger.Error("handler failed, dropping delivery", "error", err)
		metrics.DeliveriesTotal.WithLabelValues(source, metrics.OutcomeHandlerError).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	if reply == nil {
		metrics.DeliveriesTotal.WithLabelValues(source, metrics.OutcomeHandled).Inc()
		return
	}

	metrics.DeliveriesTotal.WithLabelValues(source, metrics.OutcomeReplied).Inc()
	if err := a.outbound.Enqueue(broker.Publishing{CorrelationID: d.CorrelationID, Body: reply}); err != nil {
		logger.Error("reply not queued for publishing", "error", err)
		metrics.PublishFailuresTotal.WithLabelValues(a.handler.TargetQueue(), "outbound_queue").Inc()
		span.RecordError(err)
	}
}

// publishLoop drains the outbound queue until it is closed.
func (a *Actor) publishLoop() {
	defer close(a.publisherDone)

	target := a.handler.TargetQueue()
	for msg := range a.outbound.Messages() {
		ctx, cancel := context.WithTimeout(a.publishCtx, a.publishTimeout)
		err := a.channel.Publish(ctx, target, msg)
		cancel()
		if err != nil {
			a.logger.Error("failed to publish reply",
				"correlation_id", msg.CorrelationID,
				"error", err)
			metrics.PublishFailuresTotal.WithLabelValues(target, "broker").Inc()
			continue
		}
		metrics.PublishesTotal.WithLabelValues(target).Inc()
		a.logger.Debug("reply published", "correlation_id", msg.CorrelationID)
	}
}

// Send publishes body to the actor's target queue under a new correlation
// id and returns that id. The send runs inside the actor's loop; register,
// if not nil, is called with the id before the message is published.
// Send does not wait for any reply to the message.
//
// ctx only bounds the wait for the run loop to pick the send up. Once
// picked up, the send runs to completion and its outcome is returned even
// if ctx is canceled meanwhile, so a caller never sees an error for a
// message that was published.
func (a *Actor) Send(ctx context.Context, body []byte, register RegisterFunc) (protocol.CorrelationID, error) {
	req := sendRequest{
		ctx:      ctx,
		body:     body,
		register: register,
		result:   make(chan sendResult, 1),
	}

	select {
	case a.sends <- req:
	case <-a.stopped:
		return "", ErrStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}

	res := <-req.result
	return res.id, res.err
}

func (a *Actor) handleSend(req sendRequest) {
	if err := req.ctx.Err(); err != nil {
		req.result <- sendResult{err: err}
		return
	}

	target := a.handler.TargetQueue()
	id := protocol.NewCorrelationID()
	ctx, span := a.tracer.Start(req.ctx, "QueueActor.Send", trace.WithAttributes(
		attribute.String("messaging.destination", target),
		attribute.String("messaging.correlation_id", id.String()),
		attribute.Int("messaging.body_size", len(req.body)),
	))
	defer span.End()

	logger := a.logger.With("correlation_id", id)

	if req.register != nil {
		if err := req.register(id); err != nil {
			logger.Error("failed to register message before sending", "error", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			req.result <- sendResult{err: fmt.Errorf("register %s: %w", id, err)}
			return
		}
	}

	// The record may already exist, so the caller's cancellation no longer
	// applies; only the publish timeout does.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.publishTimeout)
	defer cancel()
	if err := a.channel.Publish(sendCtx, target, broker.Publishing{CorrelationID: id, Body: req.body}); err != nil {
		logger.Error("failed to send message", "error", err)
		metrics.PublishFailuresTotal.WithLabelValues(target, "broker").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		req.result <- sendResult{id: id, err: fmt.Errorf("send %s: %w", id, err)}
		return
	}

	metrics.PublishesTotal.WithLabelValues(target).Inc()
	logger.Debug("message sent", "body_size", len(req.body))
	req.result <- sendResult{id: id}
}

// Close stops consuming, waits for queued replies to be published and
// closes the channel. Replies still pending after one publish timeout are
// abandoned. Run returns nil once the delivery stream drains.
func (a *Actor) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.closing.Store(true)
		a.cancelConsume()
		a.outbound.Close()

		select {
		case <-a.publisherDone:
		case <-time.After(a.publishTimeout):
			a.logger.Warn("outbound queue not drained in time, abandoning pending replies")
			a.cancelPublish()
			<-a.publisherDone
		}
		a.cancelPublish()

		err = a.channel.Close()
		a.logger.Info("queue actor closed")
	})
	return err
}
