package broadcast

import "log/slog"

// Listener receives subscriber lifecycle callbacks from the hub.
// OnMessage handles a payload sent by a client; a non-nil return value is
// published to every subscriber of the hub.
type Listener interface {
	OnConnect(sub *Subscriber)
	OnDisconnect(sub *Subscriber, reason DisconnectReason)
	OnMessage(sub *Subscriber, payload []byte) ([]byte, error)
}

// LogListener logs connects and disconnects and echoes inbound messages back to the hub.
type LogListener struct {
	log *slog.Logger
}

// NewLogListener creates a LogListener writing to log.
func NewLogListener(log *slog.Logger) *LogListener {
	return &LogListener{log: log}
}

func (l *LogListener) OnConnect(sub *Subscriber) {
	l.log.Info("client connected", "client", sub.ID())
}

func (l *LogListener) OnDisconnect(sub *Subscriber, reason DisconnectReason) {
	switch reason {
	case ReasonCancelled, ReasonDeliveryFailed:
		l.log.Warn("client unexpectedly disconnected", "client", sub.ID(), "reason", reason.String())
	default:
		l.log.Info("client closed the connection", "client", sub.ID(), "reason", reason.String())
	}
}

func (l *LogListener) OnMessage(sub *Subscriber, payload []byte) ([]byte, error) {
	l.log.Info("message received", "client", sub.ID(), "message", string(payload))
	return payload, nil
}

type nopListener struct{}

func (nopListener) OnConnect(*Subscriber) {}
func (nopListener) OnDisconnect(*Subscriber, DisconnectReason) {}
func (nopListener) OnMessage(_ *Subscriber, p []byte) ([]byte, error) { return p, nil }
