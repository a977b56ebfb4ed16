// Package broadcast keeps the registry of live subscribers and fans every
// published payload out to them.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// Options tunes delivery behaviour.
type Options struct {
	DeliveryTimeout time.Duration // upper bound for one delivery to one subscriber
	BufferSize      int           // queued payloads per channel-backed subscriber
	MaxConcurrency  int           // deliveries in flight during a single Publish
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		DeliveryTimeout: 2 * time.Second,
		BufferSize:      64,
		MaxConcurrency:  32,
	}
}

// Result summarises one Publish call.
type Result struct {
	Attempted int
	Delivered int
	Dropped   int
}

// Hub is safe for concurrent use. Publish never returns delivery errors; a
// subscriber that fails or times out is deregistered instead.
type Hub struct {
	log      *slog.Logger
	listener Listener
	opts     Options

	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	closed      bool
}

// NewHub creates an empty hub. A nil listener disables callbacks and echoes inbound messages.
func NewHub(log *slog.Logger, listener Listener, opts Options) *Hub {
	defaults := DefaultOptions()
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = defaults.DeliveryTimeout
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaults.BufferSize
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = defaults.MaxConcurrency
	}
	if listener == nil {
		listener = nopListener{}
	}

	return &Hub{
		log:         log,
		listener:    listener,
		opts:        opts,
		subscribers: make(map[string]*Subscriber),
	}
}

// Subscribe registers a channel-backed subscriber. Payloads arrive on Messages().
func (h *Hub) Subscribe() *Subscriber {
	sub := newSubscriber()
	sink := &channelSink{ch: make(chan []byte, h.opts.BufferSize), done: sub.done}
	sub.sink = sink
	sub.messages = sink.ch
	h.add(sub)
	return sub
}

// Register registers a caller-provided sink.
func (h *Hub) Register(sink Sink) *Subscriber {
	sub := newSubscriber()
	sub.sink = sink
	h.add(sub)
	return sub
}

func (h *Hub) add(sub *Subscriber) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.close(ReasonShutdown)
		return
	}
	h.subscribers[sub.id] = sub
	count := len(h.subscribers)
	h.mu.Unlock()

	h.log.Debug("subscriber registered", "subscriber", sub.id, "total", count)
	h.listener.OnConnect(sub)
}

// Unsubscribe removes a subscriber that closed its connection. Calling it twice is a no-op.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.Disconnect(sub, ReasonClosedByClient)
}

// Disconnect removes a subscriber and records why it left.
func (h *Hub) Disconnect(sub *Subscriber, reason DisconnectReason) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	if _, ok := h.subscribers[sub.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subscribers, sub.id)
	count := len(h.subscribers)
	h.mu.Unlock()

	sub.close(reason)
	h.log.Debug("subscriber removed", "subscriber", sub.id, "reason", reason.String(), "total", count)
	h.listener.OnDisconnect(sub, reason)
}

// Publish delivers payload to every subscriber registered at the time of the call.
// It returns once each delivery has either completed or timed out, so with N
// stalled subscribers the caller waits at most ceil(N/MaxConcurrency)*DeliveryTimeout.
func (h *Hub) Publish(ctx context.Context, payload []byte) Result {
	snapshot := h.snapshot()
	result := Result{Attempted: len(snapshot)}
	if len(snapshot) == 0 {
		return result
	}

	// deliveries must not be cut short by the publishing request going away
	ctx = context.WithoutCancel(ctx)

	var (
		g         errgroup.Group
		delivered atomic.Int64
		dropped   atomic.Int64
	)
	g.SetLimit(h.opts.MaxConcurrency)

	for _, sub := range snapshot {
		g.Go(func() error {
			err := h.deliver(ctx, sub, payload)
			if err != nil && sub.Closed() {
				// left between snapshot and delivery
				return nil
			}
			if err != nil {
				h.log.Warn("delivery failed, dropping subscriber", "subscriber", sub.id, "error", err)
				dropped.Add(1)
				h.Disconnect(sub, ReasonDeliveryFailed)
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	result.Delivered = int(delivered.Load())
	result.Dropped = int(dropped.Load())
	h.log.Debug("payload published", "attempted", result.Attempted, "delivered", result.Delivered, "dropped", result.Dropped)
	return result
}

// Dispatch hands a payload sent by from to the listener and publishes whatever it returns.
func (h *Hub) Dispatch(ctx context.Context, from *Subscriber, payload []byte) (Result, error) {
	out, err := h.listener.OnMessage(from, payload)
	if err != nil {
		return Result{}, fmt.Errorf("handle message: %w", err)
	}
	if out == nil {
		return Result{}, nil
	}
	return h.Publish(ctx, out), nil
}

// Count returns the number of registered subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close deregisters every subscriber. Subscribers registered afterwards are closed immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := lo.Values(h.subscribers)
	clear(h.subscribers)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close(ReasonShutdown)
		h.listener.OnDisconnect(sub, ReasonShutdown)
	}
	h.log.Info("hub closed", "subscribers", len(subs))
}

func (h *Hub) snapshot() []*Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return lo.Values(h.subscribers)
}

// deliver bounds a single delivery by the configured timeout even when the sink ignores ctx.
func (h *Hub) deliver(ctx context.Context, sub *Subscriber, payload []byte) error {
	if sub.Closed() {
		return ErrSubscriberClosed
	}

	ctx, cancel := context.WithTimeout(ctx, h.opts.DeliveryTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("sink panic: %v", r)
			}
		}()
		errCh <- sub.sink.Deliver(ctx, payload)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrDeliveryTimeout, ctx.Err())
	}
}
