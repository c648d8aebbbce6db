// Package mqtt provides MQTT publishing and subscribing with abstraction for testing.
package mqtt

import (
	"context"
	"errors"
)

// ErrNoRetained means a topic had no retained message within the fetch timeout.
var ErrNoRetained = errors.New("no retained message")

// Message is a single MQTT publication.
type Message struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// Publisher publishes messages to MQTT.
type Publisher interface {
	// Publish sends a message to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(msg Message) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// ConnectionEvents are invoked by a Transport as its connection changes.
// Any field may be nil.
type ConnectionEvents struct {
	// OnConnect runs after the first connect and after every reconnect.
	// Subscriptions do not survive a reconnect and must be re-made here.
	OnConnect func()

	// OnConnectionLost runs when an established connection drops.
	OnConnectionLost func(err error)

	// OnReconnecting runs before each reconnect attempt, counting from 1
	// since the connection was last up.
	OnReconnecting func(attempt int)
}

// Transport is the subscribing side of the push feed.
type Transport interface {
	// Connect opens the connection. The transport keeps retrying in the
	// background if ctx ends first; events fire for its whole lifetime.
	Connect(ctx context.Context, events ConnectionEvents) error

	// Subscribe delivers live messages on topic to handler. Retained
	// messages replayed by the broker on subscribe are not delivered.
	Subscribe(topic string, handler func(payload []byte)) error

	// FetchLast returns the retained message on topic, independently of any
	// live subscription. Returns ErrNoRetained (wrapped) if there is none.
	FetchLast(ctx context.Context, topic string) ([]byte, error)

	// Close disconnects. No events or messages are delivered afterwards.
	Close() error
}
