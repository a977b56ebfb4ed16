package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSubscriberClosed = errors.New("subscriber closed")
	ErrDeliveryTimeout  = errors.New("delivery timed out")
)

// Sink accepts payloads pushed to one connected client.
// Deliver must honour ctx cancellation; the hub abandons deliveries that outlive it.
type Sink interface {
	Deliver(ctx context.Context, payload []byte) error
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(ctx context.Context, payload []byte) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, payload []byte) error {
	return f(ctx, payload)
}

// DisconnectReason tells why a subscriber left the hub.
type DisconnectReason int

const (
	ReasonNone DisconnectReason = iota
	ReasonClosedByClient
	ReasonCancelled
	ReasonDeliveryFailed
	ReasonShutdown
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonClosedByClient:
		return "closed by client"
	case ReasonCancelled:
		return "unexpectedly disconnected"
	case ReasonDeliveryFailed:
		return "delivery failed"
	case ReasonShutdown:
		return "hub shutdown"
	default:
		return "connected"
	}
}

// Subscriber is the handle returned for one registered client.
type Subscriber struct {
	id          string
	connectedAt time.Time
	sink        Sink
	messages    <-chan []byte

	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	reason DisconnectReason
}

func newSubscriber() *Subscriber {
	return &Subscriber{
		id:          uuid.NewString(),
		connectedAt: time.Now().UTC(),
		done:        make(chan struct{}),
	}
}

// ID returns the unique connection id.
func (s *Subscriber) ID() string { return s.id }

// ConnectedAt returns the registration time.
func (s *Subscriber) ConnectedAt() time.Time { return s.connectedAt }

// Messages returns the payload stream of a subscriber created by Hub.Subscribe.
// It is nil for subscribers registered with a custom Sink. The channel is never
// closed; select on Done to observe deregistration.
func (s *Subscriber) Messages() <-chan []byte { return s.messages }

// Done is closed once the subscriber has been deregistered.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Closed reports whether the subscriber has been deregistered.
func (s *Subscriber) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Reason returns why the subscriber was deregistered, or ReasonNone while it is live.
func (s *Subscriber) Reason() DisconnectReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *Subscriber) close(reason DisconnectReason) {
	s.once.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		close(s.done)
	})
}

// channelSink buffers payloads for a consumer reading Subscriber.Messages.
type channelSink struct {
	ch   chan []byte
	done <-chan struct{}
}

func (c *channelSink) Deliver(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return ErrSubscriberClosed
	default:
	}

	select {
	case c.ch <- payload:
		return nil
	case <-c.done:
		return ErrSubscriberClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrDeliveryTimeout, ctx.Err())
	}
}
