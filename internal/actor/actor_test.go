package actor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/unwrap-qr/internal/broker"
	"github.com/phrazzld/unwrap-qr/internal/protocol"
	"github.com/phrazzld/unwrap-qr/internal/testutils"
)

const (
	inQueue  = "in"
	outQueue = "out"
)

// funcHandler adapts a function to the Handler interface for tests
type funcHandler struct {
	fn func(ctx context.Context, id protocol.CorrelationID, payload []byte) ([]byte, error)
}

func (h *funcHandler) SourceQueue() string { return inQueue }
func (h *funcHandler) TargetQueue() string { return outQueue }
func (h *funcHandler) Handle(ctx context.Context, id protocol.CorrelationID, payload []byte) ([]byte, error) {
	return h.fn(ctx, id, payload)
}

func echoHandler() *funcHandler {
	return &funcHandler{fn: func(_ context.Context, _ protocol.CorrelationID, payload []byte) ([]byte, error) {
		return append([]byte("echo:"), payload...), nil
	}}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startActor builds an actor on gw and runs it until the test ends.
func startActor(t *testing.T, gw broker.Gateway, h Handler, logger *slog.Logger) (*Actor, <-chan error) {
	t.Helper()

	a, err := New(context.Background(), gw, h, DefaultConfig(), logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		_ = a.Close()
	})
	return a, errCh
}

// peer opens a channel used by the test to play the other side of the broker.
func peer(t *testing.T, gw broker.Gateway) (broker.Channel, broker.Consumer) {
	t.Helper()
	ctx := context.Background()

	ch, err := gw.OpenChannel(ctx)
	require.NoError(t, err)
	require.NoError(t, ch.DeclareQueue(ctx, outQueue, broker.TransientQueue))
	require.NoError(t, ch.DeclareQueue(ctx, inQueue, broker.TransientQueue))

	consumer, err := ch.Consume(ctx, outQueue, broker.ConsumerTag(outQueue))
	require.NoError(t, err)

	t.Cleanup(func() { _ = ch.Close() })
	return ch, consumer
}

func expectMessage(t *testing.T, c broker.Consumer) broker.Delivery {
	t.Helper()
	select {
	case d, ok := <-c.Deliveries():
		require.True(t, ok, "delivery stream closed")
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return broker.Delivery{}
	}
}

func expectNoMessage(t *testing.T, c broker.Consumer) {
	t.Helper()
	select {
	case d := <-c.Deliveries():
		t.Fatalf("unexpected message with correlation id %q", d.CorrelationID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestActorRepliesUnderSameCorrelationID(t *testing.T) {
	gw := broker.NewMemoryGateway()
	startActor(t, gw, echoHandler(), discardLogger())
	ch, replies := peer(t, gw)

	ctx := context.Background()
	require.NoError(t, ch.Publish(ctx, inQueue, broker.Publishing{CorrelationID: "task-1", Body: []byte("a")}))
	require.NoError(t, ch.Publish(ctx, inQueue, broker.Publishing{CorrelationID: "task-2", Body: []byte("b")}))

	first := expectMessage(t, replies)
	assert.Equal(t, protocol.CorrelationID("task-1"), first.CorrelationID)
	assert.Equal(t, []byte("echo:a"), first.Body)

	second := expectMessage(t, replies)
	assert.Equal(t, protocol.CorrelationID("task-2"), second.CorrelationID)
	assert.Equal(t, []byte("echo:b"), second.Body)
}

func TestActorDropsDeliveryWithoutCorrelationID(t *testing.T) {
	gw := broker.NewMemoryGateway()
	logger, logs := testutils.NewTestLogger()
	var calls atomic.Int32
	h := &funcHandler{fn: func(_ context.Context, _ protocol.CorrelationID, payload []byte) ([]byte, error) {
		calls.Add(1)
		return payload, nil
	}}
	startActor(t, gw, h, logger)
	ch, replies := peer(t, gw)

	ctx := context.Background()
	require.NoError(t, ch.Publish(ctx, inQueue, broker.Publishing{Body: []byte("orphan")}))
	expectNoMessage(t, replies)

	// The loop keeps going after the drop.
	require.NoError(t, ch.Publish(ctx, inQueue, broker.Publishing{CorrelationID: "next", Body: []byte("ok")}))
	d := expectMessage(t, replies)
	assert.Equal(t, protocol.CorrelationID("next"), d.CorrelationID)

	assert.Equal(t, int32(1), calls.Load(), "handler must not see the orphan message")
	assert.Equal(t, int64(2), gw.Acked(inQueue), "both deliveries are acknowledged")
	assert.NotEmpty(t, logs.Find("dropping delivery"))
}

func TestActorSurvivesHandlerErrors(t *testing.T) {
	gw := broker.NewMemoryGateway()
	h := &funcHandler{fn: func(_ context.Context, id protocol.CorrelationID, payload []byte) ([]byte, error) {
		if id == "bad" {
			return nil, errors.New("boom")
		}
		return payload, nil
	}}
	_, errCh := startActor(t, gw, h, discardLogger())
	ch, replies := peer(t, gw)

	ctx := context.Background()
	require.NoError(t, ch.Publish(ctx, inQueue, broker.Publishing{CorrelationID: "bad", Body: []byte("x")}))
	require.NoError(t, ch.Publish(ctx, inQueue, broker.Publishing{CorrelationID: "good", Body: []byte("y")}))

	d := expectMessage(t, replies)
	assert.Equal(t, protocol.CorrelationID("good"), d.CorrelationID)
	expectNoMessage(t, replies)

	select {
	case err := <-errCh:
		t.Fatalf("actor stopped unexpectedly: %v", err)
	default:
	}
	assert.Equal(t, int64(2), gw.Acked(inQueue))
}

func TestActorNilReplyPublishesNothing(t *testing.T) {
	gw := broker.NewMemoryGateway()
	h := &funcHandler{fn: func(context.Context, protocol.CorrelationID, []byte) ([]byte, error) {
		return nil, nil
	}}
	startActor(t, gw, h, discardLogger())
	ch, replies := peer(t, gw)

	require.NoError(t, ch.Publish(context.Background(), inQueue, broker.Publishing{CorrelationID: "quiet", Body: []byte("x")}))
	expectNoMessage(t, replies)
}

func TestActorProcessesOneDeliveryAtATime(t *testing.T) {
	gw := broker.NewMemoryGateway()

	var active, maxActive atomic.Int32
	var mu sync.Mutex
	var order []protocol.CorrelationID
	h := &funcHandler{fn: func(_ context.Context, id protocol.CorrelationID, payload []byte) ([]byte, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)

		mu.Lock()
		order = append(order, id)
		mu.Unlock()
		return payload, nil
	}}
	startActor(t, gw, h, discardLogger())
	ch, replies := peer(t, gw)

	ids := []protocol.CorrelationID{"1", "2", "3", "4", "5", "6", "7", "8"}
	for _, id := range ids {
		require.NoError(t, ch.Publish(context.Background(), inQueue, broker.Publishing{CorrelationID: id, Body: []byte(id)}))
	}
	for _, id := range ids {
		assert.Equal(t, id, expectMessage(t, replies).CorrelationID)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, ids, order)
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestActorPublishFailureIsNotFatal(t *testing.T) {
	gw := broker.NewMemoryGateway()
	logger, logs := testutils.NewTestLogger()
	h := &funcHandler{fn: func(_ context.Context, id protocol.CorrelationID, payload []byte) ([]byte, error) {
		if id == "lost" {
			// The broker starts refusing messages before the reply goes out.
			gw.FailPublishes(errors.New("channel flow"))
		}
		return payload, nil
	}}
	_, errCh := startActor(t, gw, h, logger)
	ch, replies := peer(t, gw)
	ctx := context.Background()

	require.NoError(t, ch.Publish(ctx, inQueue, broker.Publishing{CorrelationID: "lost", Body: []byte("x")}))
	require.Eventually(t, func() bool {
		return len(logs.Find("failed to publish reply")) > 0
	}, 2*time.Second, 10*time.Millisecond)
	gw.FailPublishes(nil)

	require.NoError(t, ch.Publish(ctx, inQueue, broker.Publishing{CorrelationID: "kept", Body: []byte("y")}))
	d := expectMessage(t, replies)
	assert.Equal(t, protocol.CorrelationID("kept"), d.CorrelationID)

	select {
	case err := <-errCh:
		t.Fatalf("actor stopped unexpectedly: %v", err)
	default:
	}
}

func TestActorSend(t *testing.T) {
	t.Run("registers before publishing", func(t *testing.T) {
		gw := broker.NewMemoryGateway()
		a, _ := startActor(t, gw, echoHandler(), discardLogger())
		_, published := peer(t, gw)

		var registered protocol.CorrelationID
		id, err := a.Send(context.Background(), []byte("payload"), func(id protocol.CorrelationID) error {
			registered = id
			assert.Equal(t, 0, gw.Depth(outQueue), "nothing may be published before registration")
			return nil
		})
		require.NoError(t, err)
		assert.NotEmpty(t, id)
		assert.Equal(t, registered, id)

		d := expectMessage(t, published)
		assert.Equal(t, id, d.CorrelationID)
		assert.Equal(t, []byte("payload"), d.Body)
	})

	t.Run("registration failure aborts the send", func(t *testing.T) {
		gw := broker.NewMemoryGateway()
		a, _ := startActor(t, gw, echoHandler(), discardLogger())
		_, published := peer(t, gw)

		regErr := errors.New("duplicate")
		_, err := a.Send(context.Background(), []byte("payload"), func(protocol.CorrelationID) error {
			return regErr
		})
		assert.ErrorIs(t, err, regErr)
		expectNoMessage(t, published)
	})

	t.Run("publish failure is returned", func(t *testing.T) {
		gw := broker.NewMemoryGateway()
		a, _ := startActor(t, gw, echoHandler(), discardLogger())

		gw.FailPublishes(errors.New("blocked"))
		_, err := a.Send(context.Background(), []byte("payload"), nil)
		assert.ErrorIs(t, err, broker.ErrPublish)
	})

	t.Run("completes once picked up even if the caller gives up", func(t *testing.T) {
		gw := broker.NewMemoryGateway()
		a, _ := startActor(t, gw, echoHandler(), discardLogger())
		_, published := peer(t, gw)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		var registered protocol.CorrelationID
		id, err := a.Send(ctx, []byte("payload"), func(id protocol.CorrelationID) error {
			registered = id
			// The client disconnects while the send is in flight.
			cancel()
			return nil
		})
		require.NoError(t, err, "a registered and published message must not be reported as failed")
		assert.Equal(t, registered, id)

		d := expectMessage(t, published)
		assert.Equal(t, id, d.CorrelationID)
	})

	t.Run("ids are unique", func(t *testing.T) {
		gw := broker.NewMemoryGateway()
		a, _ := startActor(t, gw, echoHandler(), discardLogger())

		seen := make(map[protocol.CorrelationID]bool)
		for i := 0; i < 50; i++ {
			id, err := a.Send(context.Background(), []byte("x"), nil)
			require.NoError(t, err)
			require.False(t, seen[id], "duplicate id %s", id)
			seen[id] = true
		}
	})

	t.Run("fails once the actor stopped", func(t *testing.T) {
		gw := broker.NewMemoryGateway()
		a, err := New(context.Background(), gw, echoHandler(), DefaultConfig(), discardLogger())
		require.NoError(t, err)
		defer a.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, a.Run(ctx), context.Canceled)

		_, err = a.Send(context.Background(), []byte("x"), nil)
		assert.ErrorIs(t, err, ErrStopped)
	})

	t.Run("honours caller cancellation", func(t *testing.T) {
		gw := broker.NewMemoryGateway()
		a, err := New(context.Background(), gw, echoHandler(), DefaultConfig(), discardLogger())
		require.NoError(t, err)
		defer a.Close()

		// Run is never started, so the send cannot be scheduled.
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err = a.Send(ctx, []byte("x"), nil)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestActorRunStopsWhenStreamEnds(t *testing.T) {
	gw := broker.NewMemoryGateway()
	_, errCh := startActor(t, gw, echoHandler(), discardLogger())

	cause := errors.New("connection reset by peer")
	gw.Disconnect(cause)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrConsumerClosed)
		assert.ErrorIs(t, err, cause)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after disconnect")
	}
}

func TestActorCloseEndsRun(t *testing.T) {
	gw := broker.NewMemoryGateway()
	a, err := New(context.Background(), gw, echoHandler(), DefaultConfig(), discardLogger())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(context.Background()) }()

	require.NoError(t, a.Close())
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	assert.ErrorIs(t, a.Run(context.Background()), ErrAlreadyRunning)
}

// failingGateway fails at a chosen setup step
type failingGateway struct {
	failOpen    bool
	failDeclare string
	failConsume bool
	closed      bool
	declared    []string
}

func (g *failingGateway) OpenChannel(context.Context) (broker.Channel, error) {
	if g.failOpen {
		return nil, broker.ErrConnection
	}
	return g, nil
}

func (g *failingGateway) DeclareQueue(_ context.Context, name string, opts broker.QueueOptions) error {
	if name == g.failDeclare {
		return errors.New("access refused")
	}
	g.declared = append(g.declared, name)
	return nil
}

func (g *failingGateway) Consume(context.Context, string, string) (broker.Consumer, error) {
	if g.failConsume {
		return nil, errors.New("consumer tag in use")
	}
	return nil, errors.New("unexpected consume")
}

func (g *failingGateway) Publish(context.Context, string, broker.Publishing) error {
	return nil
}

func (g *failingGateway) Close() error {
	g.closed = true
	return nil
}

func TestNewSetupFailures(t *testing.T) {
	testCases := []struct {
		name     string
		gw       *failingGateway
		declared []string
	}{
		{name: "open channel", gw: &failingGateway{failOpen: true}},
		{name: "declare target", gw: &failingGateway{failDeclare: outQueue}},
		{name: "declare source", gw: &failingGateway{failDeclare: inQueue}, declared: []string{outQueue}},
		{name: "consume", gw: &failingGateway{failConsume: true}, declared: []string{outQueue, inQueue}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a, err := New(context.Background(), tc.gw, echoHandler(), DefaultConfig(), discardLogger())
			assert.Nil(t, a)
			assert.ErrorIs(t, err, ErrSetup)
			assert.Equal(t, tc.declared, tc.gw.declared, "queues are declared target first")
			if !tc.gw.failOpen {
				assert.True(t, tc.gw.closed, "channel is closed after a failed setup")
			}
		})
	}
}

// stallingGateway hands out channels whose publishes block until their
// context ends, like a broker applying flow control indefinitely.
type stallingGateway struct {
	*broker.MemoryGateway
}

func (g stallingGateway) OpenChannel(ctx context.Context) (broker.Channel, error) {
	ch, err := g.MemoryGateway.OpenChannel(ctx)
	if err != nil {
		return nil, err
	}
	return stallingChannel{Channel: ch}, nil
}

type stallingChannel struct {
	broker.Channel
}

func (c stallingChannel) Publish(ctx context.Context, _ string, _ broker.Publishing) error {
	<-ctx.Done()
	return fmt.Errorf("%w: %w", broker.ErrPublish, ctx.Err())
}

func TestActorStalledPublishesAreBounded(t *testing.T) {
	mem := broker.NewMemoryGateway()
	logger, logs := testutils.NewTestLogger()

	a, err := New(context.Background(), stallingGateway{MemoryGateway: mem}, echoHandler(),
		Config{PublishBuffer: 8, PublishTimeout: 50 * time.Millisecond}, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()

	ch, err := mem.OpenChannel(context.Background())
	require.NoError(t, err)
	defer ch.Close()
	for _, id := range []protocol.CorrelationID{"a", "b", "c"} {
		require.NoError(t, ch.Publish(context.Background(), inQueue, broker.Publishing{CorrelationID: id, Body: []byte(id)}))
	}

	require.Eventually(t, func() bool {
		return len(logs.Find("failed to publish reply")) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	_, err = a.Send(context.Background(), []byte("x"), nil)
	assert.ErrorIs(t, err, broker.ErrPublish)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	closed := make(chan error, 1)
	go func() { closed <- a.Close() }()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close hung on a stalled publish")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 64, cfg.PublishBuffer)
	assert.Equal(t, DefaultPublishTimeout, cfg.PublishTimeout)
}
