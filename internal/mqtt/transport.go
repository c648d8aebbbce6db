package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// TransportOptions configures a RealTransport.
type TransportOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string

	// FetchTimeout bounds FetchLast when ctx carries no deadline.
	FetchTimeout time.Duration
}

// RealTransport subscribes to a broker with paho.
type RealTransport struct {
	opts TransportOptions

	mu       sync.Mutex
	client   paho.Client
	attempts int
}

// NewRealTransport creates an unconnected transport.
func NewRealTransport(opts TransportOptions) *RealTransport {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	return &RealTransport{opts: opts}
}

func (t *RealTransport) clientOptions(clientID string) *paho.ClientOptions {
	return paho.NewClientOptions().
		AddBroker(t.opts.Broker).
		SetClientID(clientID).
		SetUsername(t.opts.Username).
		SetPassword(t.opts.Password).
		SetCleanSession(true)
}

// Connect starts the connection with automatic reconnect and waits for the
// first connection until ctx ends. The client keeps retrying after that and
// fires OnConnect once it gets through, so callers should bound ctx.
func (t *RealTransport) Connect(ctx context.Context, events ConnectionEvents) error {
	o := t.clientOptions(t.opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(paho.Client) {
			t.mu.Lock()
			t.attempts = 0
			t.mu.Unlock()
			if events.OnConnect != nil {
				events.OnConnect()
			}
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			if events.OnConnectionLost != nil {
				events.OnConnectionLost(err)
			}
		}).
		SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
			t.mu.Lock()
			t.attempts++
			n := t.attempts
			t.mu.Unlock()
			if events.OnReconnecting != nil {
				events.OnReconnecting(n)
			}
		})

	client := paho.NewClient(o)
	t.mu.Lock()
	t.client = client
	t.mu.Unlock()

	return waitToken(ctx, client.Connect(), "connect")
}

// Subscribe delivers live (non-retained) messages on topic to handler.
func (t *RealTransport) Subscribe(topic string, handler func(payload []byte)) error {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil {
		return fmt.Errorf("subscribe %s: not connected", topic)
	}

	token := client.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
		if msg.Retained() {
			return
		}
		handler(msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// FetchLast reads the retained message on topic with a short-lived client of
// its own.
func (t *RealTransport) FetchLast(ctx context.Context, topic string) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.FetchTimeout)
		defer cancel()
	}

	client := paho.NewClient(t.clientOptions(t.opts.ClientID + "-seed"))
	if err := waitToken(ctx, client.Connect(), "seed connect"); err != nil {
		return nil, err
	}
	defer client.Disconnect(250)

	got := make(chan []byte, 1)
	token := client.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
		if !msg.Retained() {
			return
		}
		select {
		case got <- msg.Payload():
		default:
		}
	})
	if err := waitToken(ctx, token, "seed subscribe"); err != nil {
		return nil, err
	}

	select {
	case payload := <-got:
		return payload, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch last %s: %w", topic, ErrNoRetained)
	}
}

// Close disconnects the live client.
func (t *RealTransport) Close() error {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.mu.Unlock()
	if client != nil {
		client.Disconnect(1000)
	}
	return nil
}

// IsConnected reports whether the live connection is up.
func (t *RealTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client != nil && t.client.IsConnectionOpen()
}

func waitToken(ctx context.Context, token paho.Token, op string) error {
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
}
