// Package busnub mirrors the live total raised published on a push channel.
//
// A Subscriber keeps a subscription open for new values, seeds itself from
// the channel's last message, and pings registered listeners whenever the
// value changes. Listeners are not passed the value; they re-read it.
package busnub

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/sweeney/desertbus-sensor/internal/mqtt"
)

// ErrStopped is returned by Start on a Subscriber that has been stopped.
var ErrStopped = errors.New("subscriber stopped")

// ListenerID identifies a registered listener.
type ListenerID uint64

// Options configures a Subscriber.
type Options struct {
	// Channel is the topic carrying the total.
	Channel string

	// SeedTimeout bounds one fetch of the last message and the wait for the
	// first connection in Start. Zero means 10s.
	SeedTimeout time.Duration

	// OfflineAfter is the number of consecutive reconnect attempts after
	// which the subscriber reports offline. Zero means 3.
	OfflineAfter int

	// Backoff builds the retry schedule for failed seeds. Nil means an
	// exponential backoff that never gives up.
	Backoff func() backoff.BackOff
}

func (o *Options) setDefaults() {
	if o.SeedTimeout <= 0 {
		o.SeedTimeout = 10 * time.Second
	}
	if o.OfflineAfter <= 0 {
		o.OfflineAfter = 3
	}
	if o.Backoff == nil {
		o.Backoff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 5 * time.Minute
			b.MaxElapsedTime = 0
			return b
		}
	}
}

// Subscriber is the live total mirror.
//
// Overwriting the value and notifying listeners happen under one lock, so
// listeners run one update at a time and never concurrently with each other.
// A listener must not call Stop.
type Subscriber struct {
	transport mqtt.Transport
	opts      Options
	log       zerolog.Logger

	// updateMu serializes value changes with their notifications.
	updateMu sync.Mutex
	stopped  bool

	mu       sync.RWMutex
	total    float64
	online   bool
	connects int
	seeding  bool
	// pendingSeed is set when Start could not connect; the first connect
	// the transport makes later seeds instead.
	pendingSeed bool

	listenersMu sync.Mutex
	listeners   map[ListenerID]func()
	nextID      ListenerID

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Subscriber on transport. Nothing happens until Start.
func New(transport mqtt.Transport, opts Options, log zerolog.Logger) *Subscriber {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Subscriber{
		transport: transport,
		opts:      opts,
		log:       log.With().Str("component", "busnub").Str("channel", opts.Channel).Logger(),
		listeners: make(map[ListenerID]func()),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start connects, subscribes to the channel and seeds the value from the
// last message. A failed seed is retried in the background. If the transport
// does not connect within SeedTimeout, Start returns the error and the seed
// runs when the transport's own retry gets through.
func (s *Subscriber) Start(ctx context.Context) error {
	s.updateMu.Lock()
	stopped := s.stopped
	s.updateMu.Unlock()
	if stopped {
		return ErrStopped
	}

	cctx, cancel := context.WithTimeout(ctx, s.opts.SeedTimeout)
	err := s.transport.Connect(cctx, mqtt.ConnectionEvents{
		OnConnect:        s.handleConnect,
		OnConnectionLost: s.handleConnectionLost,
		OnReconnecting:   s.handleReconnecting,
	})
	cancel()
	if err != nil {
		s.deferSeed()
		return fmt.Errorf("connect: %w", err)
	}

	if !s.beginSeed() {
		return nil
	}
	if err := s.seed(ctx); err != nil {
		s.log.Warn().Err(err).Msg("seed failed, retrying in background")
		s.spawnSeedLoop()
		return nil
	}
	s.endSeed()
	return nil
}

// Register adds a listener and returns its id.
func (s *Subscriber) Register(fn func()) ListenerID {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.nextID++
	s.listeners[s.nextID] = fn
	return s.nextID
}

// Unregister removes a listener. Unknown ids are ignored.
func (s *Subscriber) Unregister(id ListenerID) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	delete(s.listeners, id)
}

// TotalRaised returns the last value received. Check Online first.
func (s *Subscriber) TotalRaised() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// Online reports whether a seed has succeeded and the feed has not since
// been lost for too many reconnect attempts.
func (s *Subscriber) Online() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online
}

// Stop releases the subscription. No listener is invoked after Stop returns.
func (s *Subscriber) Stop() error {
	s.updateMu.Lock()
	if s.stopped {
		s.updateMu.Unlock()
		return nil
	}
	s.stopped = true
	s.updateMu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.online = false
	s.mu.Unlock()
	liveOnline.Set(0)
	return s.transport.Close()
}

// deferSeed hands the seed to the next connect. If the transport connected
// while Start was giving up, the seed starts now.
func (s *Subscriber) deferSeed() {
	s.mu.Lock()
	connected := s.connects > 0
	if !connected {
		s.pendingSeed = true
	}
	s.mu.Unlock()
	if connected && s.beginSeed() {
		s.spawnSeedLoop()
	}
}

// handleConnect re-subscribes after every connect; subscriptions do not
// survive a reconnect. Reconnects, and a first connect that Start gave up
// on, also seed.
func (s *Subscriber) handleConnect() {
	s.mu.Lock()
	s.connects++
	reconnect := s.connects > 1
	needSeed := reconnect || s.pendingSeed
	s.pendingSeed = false
	s.mu.Unlock()

	if err := s.transport.Subscribe(s.opts.Channel, s.handleMessage); err != nil {
		s.log.Error().Err(err).Msg("subscribe failed")
	} else {
		s.log.Info().Bool("reconnect", reconnect).Msg("subscribed")
	}

	if needSeed && s.beginSeed() {
		s.spawnSeedLoop()
	}
}

func (s *Subscriber) handleConnectionLost(err error) {
	s.log.Warn().Err(err).Msg("connection lost")
}

func (s *Subscriber) handleReconnecting(attempt int) {
	s.log.Debug().Int("attempt", attempt).Msg("reconnecting")
	if attempt < s.opts.OfflineAfter {
		return
	}
	s.updateMu.Lock()
	defer s.updateMu.Unlock()
	if s.stopped {
		return
	}
	s.mu.Lock()
	was := s.online
	s.online = false
	s.mu.Unlock()
	if !was {
		return
	}
	s.log.Warn().Int("attempts", attempt).Msg("feed offline")
	liveOnline.Set(0)
	s.notify()
}

func (s *Subscriber) handleMessage(payload []byte) {
	v, err := parseTotal(payload)
	if err != nil {
		s.log.Warn().Err(err).Msg("dropping message")
		return
	}
	liveMessages.Inc()
	s.update(v, false)
}

// beginSeed claims the single seeding slot. It returns false if a seed is
// already running.
func (s *Subscriber) beginSeed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seeding {
		return false
	}
	s.seeding = true
	return true
}

func (s *Subscriber) endSeed() {
	s.mu.Lock()
	s.seeding = false
	s.mu.Unlock()
}

// spawnSeedLoop starts seedLoop. The caller holds the seeding slot.
func (s *Subscriber) spawnSeedLoop() {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()
	if s.stopped {
		s.endSeed()
		return
	}
	s.wg.Add(1)
	go s.seedLoop()
}

// seedLoop retries seed until it succeeds or the subscriber stops.
func (s *Subscriber) seedLoop() {
	defer s.wg.Done()
	defer s.endSeed()

	b := backoff.WithContext(s.opts.Backoff(), s.ctx)
	err := backoff.RetryNotify(func() error {
		return s.seed(s.ctx)
	}, b, func(err error, next time.Duration) {
		s.log.Debug().Err(err).Dur("next", next).Msg("seed failed")
	})
	if err != nil && s.ctx.Err() == nil {
		s.log.Error().Err(err).Msg("giving up on seed")
	}
}

func (s *Subscriber) seed(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.SeedTimeout)
	defer cancel()

	payload, err := s.transport.FetchLast(ctx, s.opts.Channel)
	if err != nil {
		return err
	}
	v, err := parseTotal(payload)
	if err != nil {
		return backoff.Permanent(err)
	}
	s.log.Info().Float64("total", v).Msg("seeded")
	s.update(v, true)
	return nil
}

// update overwrites the value and notifies listeners as one step. A seeded
// value also marks the subscriber online.
func (s *Subscriber) update(v float64, seeded bool) {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()
	if s.stopped {
		return
	}

	s.mu.Lock()
	s.total = v
	if seeded {
		s.online = true
	}
	online := s.online
	s.mu.Unlock()

	liveTotal.Set(v)
	liveOnline.Set(boolGauge(online))
	s.notify()
}

// notify calls a snapshot of the listeners. Callers hold updateMu.
func (s *Subscriber) notify() {
	s.listenersMu.Lock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func parseTotal(payload []byte) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse total %q: %w", payload, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("parse total %q: negative", payload)
	}
	return v, nil
}
