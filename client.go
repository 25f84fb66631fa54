package realtime

import (
	"context"
)

type (
	// Client is the collaborator surface exposed to the rest of the application: domain stores
	// call Send with broadcast types, UI layers register handlers with On.
	Client interface {
		// Connect opens the connection, optionally presenting identity in the handshake.
		Connect(ctx context.Context, identity string) error
		// Disconnect closes the connection on purpose and suppresses reconnection.
		Disconnect()
		// Send transmits an envelope now, or queues it until the connection is back.
		Send(msgType string, data map[string]any) error
		// Subscribe adds a channel to the set replayed on every (re)connection.
		Subscribe(channel string)
		// Unsubscribe removes a channel from the replayed set.
		Unsubscribe(channel string)
		// On registers h for event and returns the registration id.
		On(event EventName, h Handler) ListenerID
		// Off removes the registration id from event.
		Off(event EventName, id ListenerID)
		// Status returns a snapshot of the connection.
		Status() Status
	}

	// Option customises a ConnectionManager.
	Option func(*ConnectionManager)
)

var _ Client = (*ConnectionManager)(nil)

func WithLogger(logger Logger) Option {
	return func(m *ConnectionManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithTransport(t Transport) Option {
	return func(m *ConnectionManager) {
		if t != nil {
			m.transport = t
		}
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *ConnectionManager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// WithOpenConnectionParamsGetter replaces the default "?token=<identity>" endpoint builder.
func WithOpenConnectionParamsGetter(getter OpenConnectionParamsGetter) Option {
	return func(m *ConnectionManager) {
		if getter != nil {
			m.paramsGetter = getter
		}
	}
}

// WithBackoff replaces the exponential reconnect schedule.
func WithBackoff(calculator BackoffCalculator) Option {
	return func(m *ConnectionManager) {
		if calculator != nil {
			m.backoff = calculator
		}
	}
}
