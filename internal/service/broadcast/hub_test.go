package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestHub(opts Options, listener Listener) *Hub {
	return NewHub(slog.New(slog.DiscardHandler), listener, opts)
}

func receive(t *testing.T, sub *Subscriber) []byte {
	t.Helper()
	select {
	case payload := <-sub.Messages():
		return payload
	case <-time.After(time.Second):
		t.Fatalf("subscriber %s received nothing", sub.ID())
		return nil
	}
}

func assertSilent(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case payload := <-sub.Messages():
		t.Fatalf("subscriber %s unexpectedly received %q", sub.ID(), payload)
	case <-time.After(20 * time.Millisecond):
	}
}

type countingSink struct {
	calls atomic.Int64
}

func (c *countingSink) Deliver(context.Context, []byte) error {
	c.calls.Add(1)
	return nil
}

type recordingListener struct {
	mu          sync.Mutex
	connected   []string
	disconnects map[string]DisconnectReason
}

func newRecordingListener() *recordingListener {
	return &recordingListener{disconnects: map[string]DisconnectReason{}}
}

func (r *recordingListener) OnConnect(sub *Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = append(r.connected, sub.ID())
}

func (r *recordingListener) OnDisconnect(sub *Subscriber, reason DisconnectReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnects[sub.ID()] = reason
}

func (r *recordingListener) OnMessage(_ *Subscriber, payload []byte) ([]byte, error) {
	return payload, nil
}

func (r *recordingListener) reason(id string) (DisconnectReason, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reason, ok := r.disconnects[id]
	return reason, ok
}

func TestHubSingleSubscriberReceivesHello(t *testing.T) {
	hub := newTestHub(DefaultOptions(), nil)
	sub := hub.Subscribe()

	result := hub.Publish(context.Background(), []byte(`{"author":{"id":"author-id"},"body":"hello"}`))

	require.Equal(t, Result{Attempted: 1, Delivered: 1}, result)
	require.Contains(t, string(receive(t, sub)), "hello")
}

func TestHubPublishWithoutSubscribersIsLost(t *testing.T) {
	hub := newTestHub(DefaultOptions(), nil)

	result := hub.Publish(context.Background(), []byte("nobody listens"))
	require.Equal(t, Result{}, result)

	late := hub.Subscribe()
	assertSilent(t, late)
}

func TestHubDeliversToSnapshotExactlyOnce(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(Options{MaxConcurrency: 4}, nil)

	sinks := make([]*countingSink, 50)
	for i := range sinks {
		sinks[i] = &countingSink{}
		hub.Register(sinks[i])
	}

	result := hub.Publish(context.Background(), []byte("fan-out"))
	req.Equal(50, result.Attempted)
	req.Equal(50, result.Delivered)
	req.Zero(result.Dropped)

	for i, sink := range sinks {
		req.EqualValues(1, sink.calls.Load(), "sink %d", i)
	}
}

func TestHubUnsubscribedClientDoesNotReceive(t *testing.T) {
	hub := newTestHub(DefaultOptions(), nil)
	first := hub.Subscribe()
	second := hub.Subscribe()

	hub.Unsubscribe(first)
	hub.Publish(context.Background(), []byte("only for second"))

	require.Equal(t, "only for second", string(receive(t, second)))
	assertSilent(t, first)
	require.True(t, first.Closed())
	require.Equal(t, ReasonClosedByClient, first.Reason())
}

func TestHubUnsubscribeIsIdempotent(t *testing.T) {
	listener := newRecordingListener()
	hub := newTestHub(DefaultOptions(), listener)
	sub := hub.Subscribe()

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)
	hub.Disconnect(sub, ReasonCancelled)
	hub.Unsubscribe(nil)

	require.Zero(t, hub.Count())
	require.Equal(t, ReasonClosedByClient, sub.Reason())
	reason, ok := listener.reason(sub.ID())
	require.True(t, ok)
	require.Equal(t, ReasonClosedByClient, reason)
}

func TestHubFailingSinkIsRemoved(t *testing.T) {
	req := require.New(t)
	listener := newRecordingListener()
	hub := newTestHub(DefaultOptions(), listener)

	var failures atomic.Int64
	failing := hub.Register(SinkFunc(func(context.Context, []byte) error {
		failures.Add(1)
		return errors.New("connection reset")
	}))
	healthy := hub.Subscribe()

	result := hub.Publish(context.Background(), []byte("one"))
	req.Equal(Result{Attempted: 2, Delivered: 1, Dropped: 1}, result)
	req.True(failing.Closed())
	req.Equal(ReasonDeliveryFailed, failing.Reason())
	reason, ok := listener.reason(failing.ID())
	req.True(ok)
	req.Equal(ReasonDeliveryFailed, reason)

	result = hub.Publish(context.Background(), []byte("two"))
	req.Equal(Result{Attempted: 1, Delivered: 1}, result)
	req.EqualValues(1, failures.Load())

	req.Equal("one", string(receive(t, healthy)))
	req.Equal("two", string(receive(t, healthy)))
}

func TestHubSlowSinkDoesNotStallOthers(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(Options{DeliveryTimeout: 30 * time.Millisecond, MaxConcurrency: 1}, nil)

	block := make(chan struct{})
	defer close(block)
	slow := hub.Register(SinkFunc(func(context.Context, []byte) error {
		<-block
		return nil
	}))
	fast := hub.Subscribe()

	start := time.Now()
	result := hub.Publish(context.Background(), []byte("tick"))
	req.Less(time.Since(start), time.Second)

	req.Equal(1, result.Delivered)
	req.Equal(1, result.Dropped)
	req.True(slow.Closed())
	req.Equal(ReasonDeliveryFailed, slow.Reason())
	req.Equal("tick", string(receive(t, fast)))
}

func TestHubPublishLatencyBoundedByStalledWaves(t *testing.T) {
	req := require.New(t)
	const timeout = 50 * time.Millisecond
	hub := newTestHub(Options{DeliveryTimeout: timeout, MaxConcurrency: 2}, nil)

	block := make(chan struct{})
	defer close(block)
	stalled := SinkFunc(func(context.Context, []byte) error {
		<-block
		return nil
	})
	for range 4 {
		hub.Register(stalled)
	}

	start := time.Now()
	result := hub.Publish(context.Background(), []byte("tick"))
	elapsed := time.Since(start)

	// two waves of two stalled deliveries
	req.GreaterOrEqual(elapsed, 2*timeout)
	req.Less(elapsed, 2*timeout+400*time.Millisecond)
	req.Equal(4, result.Dropped)
	req.Zero(hub.Count())
}

func TestHubFullBufferCountsAsDeliveryFailure(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(Options{DeliveryTimeout: 20 * time.Millisecond, BufferSize: 1}, nil)
	lagging := hub.Subscribe()

	req.Equal(1, hub.Publish(context.Background(), []byte("first")).Delivered)
	req.Equal(1, hub.Publish(context.Background(), []byte("second")).Dropped)
	req.True(lagging.Closed())
	req.Zero(hub.Count())
}

func TestHubPanickingSinkIsRemoved(t *testing.T) {
	hub := newTestHub(DefaultOptions(), nil)
	sub := hub.Register(SinkFunc(func(context.Context, []byte) error {
		panic("boom")
	}))

	result := hub.Publish(context.Background(), []byte("payload"))

	require.Equal(t, 1, result.Dropped)
	require.True(t, sub.Closed())
}

func TestHubSubscriberJoiningMidPublishIsExcluded(t *testing.T) {
	hub := newTestHub(DefaultOptions(), nil)

	var late *Subscriber
	hub.Register(SinkFunc(func(context.Context, []byte) error {
		if late == nil {
			late = hub.Subscribe()
		}
		return nil
	}))

	result := hub.Publish(context.Background(), []byte("before join"))
	require.Equal(t, 1, result.Attempted)
	require.NotNil(t, late)
	assertSilent(t, late)

	hub.Publish(context.Background(), []byte("after join"))
	require.Equal(t, "after join", string(receive(t, late)))
}

func TestHubPublishSurvivesCancelledContext(t *testing.T) {
	hub := newTestHub(DefaultOptions(), nil)
	sub := hub.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := hub.Publish(ctx, []byte("still delivered"))
	require.Equal(t, 1, result.Delivered)
	require.Equal(t, "still delivered", string(receive(t, sub)))
}

func TestHubDispatchEchoesToAll(t *testing.T) {
	hub := newTestHub(DefaultOptions(), NewLogListener(slog.New(slog.DiscardHandler)))
	sender := hub.Subscribe()
	other := hub.Subscribe()

	result, err := hub.Dispatch(context.Background(), sender, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 2, result.Delivered)
	require.Equal(t, "hello", string(receive(t, sender)))
	require.Equal(t, "hello", string(receive(t, other)))
}

func TestHubCloseDisconnectsEveryone(t *testing.T) {
	req := require.New(t)
	listener := newRecordingListener()
	hub := newTestHub(DefaultOptions(), listener)
	a := hub.Subscribe()
	b := hub.Subscribe()

	hub.Close()

	req.Zero(hub.Count())
	for _, sub := range []*Subscriber{a, b} {
		req.True(sub.Closed())
		req.Equal(ReasonShutdown, sub.Reason())
		reason, ok := listener.reason(sub.ID())
		req.True(ok)
		req.Equal(ReasonShutdown, reason)
	}

	after := hub.Subscribe()
	req.True(after.Closed())
	req.Zero(hub.Count())
}

func TestHubConcurrentSubscribeAndPublish(t *testing.T) {
	hub := newTestHub(DefaultOptions(), nil)
	var wg sync.WaitGroup

	for range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub := hub.Subscribe()
			hub.Unsubscribe(sub)
		}()
		go func() {
			defer wg.Done()
			hub.Publish(context.Background(), []byte("concurrent"))
		}()
	}
	wg.Wait()

	require.Zero(t, hub.Count())
}
