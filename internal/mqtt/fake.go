package mqtt

import (
	"context"
	"fmt"
	"sync"
)

// FakePublisher records published messages for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	// Messages contains every message that was published, in order.
	Messages []Message

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// Publish records the message.
func (f *FakePublisher) Publish(msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Messages = append(f.Messages, msg)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Published returns a copy of the recorded messages.
func (f *FakePublisher) Published() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.Messages...)
}

// Last returns the most recent message published to topic.
func (f *FakePublisher) Last(topic string) (Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.Messages) - 1; i >= 0; i-- {
		if f.Messages[i].Topic == topic {
			return f.Messages[i], true
		}
	}
	return Message{}, false
}

// Reset clears recorded messages.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Messages = nil
	f.Closed = false
	f.PublishError = nil
	f.Connected = false
}

// FakeTransport is a scripted Transport. Tests drive connection events and
// message delivery explicitly.
type FakeTransport struct {
	mu sync.Mutex

	events   ConnectionEvents
	handlers map[string]func([]byte)

	// Retained maps topic to the payload FetchLast returns.
	Retained map[string][]byte

	// ConnectError, if set, is returned by Connect (OnConnect is not fired).
	ConnectError error

	// ConnectBlocks makes Connect wait for ctx to end, like a client that
	// keeps retrying an unreachable broker.
	ConnectBlocks bool

	// SubscribeError, if set, is returned by Subscribe.
	SubscribeError error

	// FetchError, if set, is returned by FetchLast.
	FetchError error

	// FetchCalls counts FetchLast calls.
	FetchCalls int

	// Subscribes counts successful Subscribe calls.
	Subscribes int

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeTransport creates a FakeTransport with no retained messages.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		handlers: make(map[string]func([]byte)),
		Retained: make(map[string][]byte),
	}
}

// Connect stores events and fires OnConnect unless ConnectError or
// ConnectBlocks is set.
func (f *FakeTransport) Connect(ctx context.Context, events ConnectionEvents) error {
	f.mu.Lock()
	f.events = events
	err := f.ConnectError
	blocks := f.ConnectBlocks
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if blocks {
		<-ctx.Done()
		return ctx.Err()
	}
	if events.OnConnect != nil {
		events.OnConnect()
	}
	return nil
}

// Subscribe registers handler for topic.
func (f *FakeTransport) Subscribe(topic string, handler func([]byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubscribeError != nil {
		return f.SubscribeError
	}
	f.handlers[topic] = handler
	f.Subscribes++
	return nil
}

// FetchLast returns the scripted retained payload for topic.
func (f *FakeTransport) FetchLast(_ context.Context, topic string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FetchCalls++
	if f.FetchError != nil {
		return nil, f.FetchError
	}
	payload, ok := f.Retained[topic]
	if !ok {
		return nil, fmt.Errorf("fetch last %s: %w", topic, ErrNoRetained)
	}
	return payload, nil
}

// Close drops all subscriptions.
func (f *FakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	f.handlers = make(map[string]func([]byte))
	f.events = ConnectionEvents{}
	return nil
}

// Deliver sends payload to the subscriber of topic, if any. It reports
// whether a subscriber received it.
func (f *FakeTransport) Deliver(topic string, payload []byte) bool {
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h(payload)
	return true
}

// DropConnection simulates a lost connection; subscriptions are forgotten
// as with a clean session.
func (f *FakeTransport) DropConnection(err error) {
	f.mu.Lock()
	f.handlers = make(map[string]func([]byte))
	fn := f.events.OnConnectionLost
	f.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Reconnecting simulates a failed reconnect attempt.
func (f *FakeTransport) Reconnecting(attempt int) {
	f.mu.Lock()
	fn := f.events.OnReconnecting
	f.mu.Unlock()
	if fn != nil {
		fn(attempt)
	}
}

// Reconnect simulates a successful reconnect.
func (f *FakeTransport) Reconnect() {
	f.mu.Lock()
	fn := f.events.OnConnect
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// SetRetained sets the retained payload for topic.
func (f *FakeTransport) SetRetained(topic string, payload []byte) {
	f.mu.Lock()
	f.Retained[topic] = payload
	f.mu.Unlock()
}

// SetFetchError sets the error returned by FetchLast.
func (f *FakeTransport) SetFetchError(err error) {
	f.mu.Lock()
	f.FetchError = err
	f.mu.Unlock()
}

// Fetches returns the number of FetchLast calls so far.
func (f *FakeTransport) Fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.FetchCalls
}
