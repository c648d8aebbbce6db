package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// PublisherOptions configures a RealPublisher.
type PublisherOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string

	// Will, if Topic is set, is published by the broker when this client
	// disappears without disconnecting.
	Will Message

	// BufferSize is how many messages are kept for replay while disconnected.
	BufferSize int

	// OnConnect runs after every (re)connect, once buffered messages have
	// been replayed.
	OnConnect func()
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client    paho.Client
	log       zerolog.Logger
	onConnect func()

	mu  sync.Mutex
	buf *ringBuffer
}

// NewRealPublisher creates a publisher and starts connecting to the broker.
// It does not wait for the connection; early messages are buffered.
func NewRealPublisher(opts PublisherOptions, log zerolog.Logger) *RealPublisher {
	p := &RealPublisher{
		log:       log.With().Str("component", "mqtt-publisher").Logger(),
		onConnect: opts.OnConnect,
		buf:       newRingBuffer(opts.BufferSize),
	}

	o := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(p.handleConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.log.Warn().Err(err).Msg("connection lost")
		})
	if opts.Will.Topic != "" {
		o.SetBinaryWill(opts.Will.Topic, opts.Will.Payload, opts.Will.QoS, opts.Will.Retained)
	}

	p.client = paho.NewClient(o)
	p.client.Connect()
	return p
}

func (p *RealPublisher) handleConnect(_ paho.Client) {
	p.mu.Lock()
	pending := p.buf.drainAll()
	p.mu.Unlock()

	if len(pending) > 0 {
		p.log.Info().Int("count", len(pending)).Msg("replaying buffered messages")
	}
	for _, msg := range pending {
		if err := p.send(msg); err != nil {
			p.log.Warn().Err(err).Str("topic", msg.Topic).Msg("replay failed")
		}
	}
	if p.onConnect != nil {
		p.onConnect()
	}
}

// Publish sends msg, or buffers it while the connection is down.
func (p *RealPublisher) Publish(msg Message) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		dropped := p.buf.push(msg)
		p.mu.Unlock()
		if dropped {
			p.log.Warn().Msg("offline buffer full, dropping oldest")
		}
		return nil
	}
	return p.send(msg)
}

func (p *RealPublisher) send(msg Message) error {
	token := p.client.Publish(msg.Topic, msg.QoS, msg.Retained, msg.Payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", msg.Topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Topic, err)
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
