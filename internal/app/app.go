// Package app wires the coordinator, the live total subscriber, the sensor
// publisher and the status tracker into one daemon instance.
package app

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/desertbus-sensor/internal/busmath"
	"github.com/sweeney/desertbus-sensor/internal/busnub"
	"github.com/sweeney/desertbus-sensor/internal/config"
	"github.com/sweeney/desertbus-sensor/internal/coordinator"
	"github.com/sweeney/desertbus-sensor/internal/logic"
	"github.com/sweeney/desertbus-sensor/internal/mqtt"
	"github.com/sweeney/desertbus-sensor/internal/sensor"
	"github.com/sweeney/desertbus-sensor/internal/stats"
	"github.com/sweeney/desertbus-sensor/internal/status"
	"github.com/sweeney/desertbus-sensor/internal/worker"
)

// System event names published on the system topic.
const (
	EventStartup  = "STARTUP"
	EventShutdown = "SHUTDOWN"
)

// TransportFactory builds a push transport for a push config.
type TransportFactory func(config.PushConfig) mqtt.Transport

// Deps are the collaborators an App is built from.
type Deps struct {
	Fetcher      stats.Fetcher
	Omega        stats.OmegaChecker
	Publisher    mqtt.Publisher
	NewTransport TransportFactory
	// Clock returns the current time. Nil means time.Now.
	Clock func() time.Time
}

// App owns one coordinator and one live subscriber at a time.
type App struct {
	coord   *coordinator.Coordinator
	pub     mqtt.Publisher
	sensors *sensor.Publisher
	tracker *status.Tracker
	newT    TransportFactory
	system  string
	now     func() time.Time
	log     zerolog.Logger

	mu  sync.Mutex
	cfg config.Config
	sub *busnub.Subscriber
}

// New builds an App from cfg. Nothing connects until Start.
func New(cfg *config.Config, deps Deps, log zerolog.Logger) *App {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	coord := coordinator.New(deps.Fetcher, deps.Omega, worker.New(cfg.Stats.Workers), coordinator.Config{
		Limits: LimitsFor(cfg.Stats),
		Rate:   busmath.DefaultRate,
		Clock:  deps.Clock,
	}, log)

	return &App{
		coord: coord,
		pub:   deps.Publisher,
		sensors: sensor.NewPublisher(deps.Publisher, sensor.Topics{
			DiscoveryPrefix: cfg.Publish.DiscoveryPrefix,
			Prefix:          cfg.Publish.TopicPrefix,
		}, log),
		tracker: status.NewTracker(deps.Clock(), trackerConfig(cfg)),
		newT:    deps.NewTransport,
		system:  cfg.Publish.TopicPrefix + "/system",
		now:     deps.Clock,
		log:     log.With().Str("component", "app").Logger(),
		cfg:     *cfg,
	}
}

// LimitsFor converts the stats config to cache rule limits.
func LimitsFor(s config.StatsConfig) logic.Limits {
	lim := logic.DefaultLimits()
	lim.InRunCooldown = s.InRunCooldown
	lim.PostRunGrace = s.PostRunGrace
	lim.PostRunCooldown = s.PostRunCooldown
	lim.OmegaCooldown = s.OmegaCooldown
	return lim
}

func trackerConfig(cfg *config.Config) status.Config {
	return status.Config{
		PollInterval: cfg.Stats.PollInterval,
		StatsURL:     cfg.Stats.BaseURL,
		Broker:       cfg.Publish.Broker,
		PushBroker:   cfg.Push.Broker,
		Channel:      cfg.Push.Channel,
		HTTPAddr:     cfg.HTTP.Addr,
	}
}

// Tracker returns the status tracker.
func (a *App) Tracker() *status.Tracker {
	return a.tracker
}

// Coordinator returns the poll coordinator.
func (a *App) Coordinator() *coordinator.Coordinator {
	return a.coord
}

// Sensors returns the sensor publisher.
func (a *App) Sensors() *sensor.Publisher {
	return a.sensors
}

// Start announces the sensors, publishes the startup event and starts the
// live subscriber. A subscriber that cannot connect is logged and left to
// reconnect; Start itself does not fail on it.
func (a *App) Start(ctx context.Context) error {
	var errs []error
	if err := a.sensors.PublishDiscovery(); err != nil {
		errs = append(errs, err)
	}
	if err := a.sensors.PublishAvailability(true); err != nil {
		errs = append(errs, err)
	}
	if err := a.sensors.PublishStates(sensor.LiveStates(0, false, busmath.DefaultRate)); err != nil {
		errs = append(errs, err)
	}
	a.publishSystem(EventStartup, "")

	a.mu.Lock()
	push := a.cfg.Push
	a.mu.Unlock()
	a.startSubscriber(ctx, push)
	return errors.Join(errs...)
}

// Tick runs one coordinator refresh and publishes the coordinator sensors.
// Errors are recorded and logged; the last good data stays published.
func (a *App) Tick(ctx context.Context) {
	a.refreshMQTTStatus()

	d, err := a.coord.Refresh(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("refresh failed")
		a.tracker.SetTickError(err, a.now())
		if errors.Is(err, coordinator.ErrNoData) {
			a.publishCoordinator(coordinator.Data{}, false)
		}
		return
	}
	a.tracker.Update(d, a.coord.PollState())
	a.log.Debug().
		Bool("now_bussing", d.NowBussing).
		Str("shift", string(d.CurrentShift)).
		Int("db_year", d.DBYear).
		Msg("tick")
	a.publishCoordinator(d, true)
}

func (a *App) publishCoordinator(d coordinator.Data, ok bool) {
	if err := a.sensors.PublishStates(sensor.CoordinatorStates(d, ok)); err != nil {
		a.log.Warn().Err(err).Msg("publish coordinator sensors")
	}
}

// Reconfigure applies a reloaded config. A changed push section replaces
// the live subscriber; other sections take effect on restart.
func (a *App) Reconfigure(ctx context.Context, cfg *config.Config) {
	a.mu.Lock()
	old := a.cfg
	a.cfg = *cfg
	a.mu.Unlock()

	a.tracker.SetConfig(trackerConfig(cfg))

	if reflect.DeepEqual(old.Push, cfg.Push) {
		if !reflect.DeepEqual(old, *cfg) {
			a.log.Info().Msg("config changed outside push section, restart to apply")
		}
		return
	}
	a.log.Info().Str("channel", cfg.Push.Channel).Msg("push config changed, replacing subscriber")
	a.stopSubscriber()
	a.startSubscriber(ctx, cfg.Push)
}

// Stop stops the subscriber and publishes the shutdown event and the
// retained offline availability.
func (a *App) Stop(reason string) {
	a.stopSubscriber()
	a.refreshMQTTStatus()
	a.publishSystem(EventShutdown, reason)
	if err := a.sensors.PublishAvailability(false); err != nil {
		a.log.Warn().Err(err).Msg("publish offline availability")
	}
}

func (a *App) startSubscriber(ctx context.Context, push config.PushConfig) {
	sub := busnub.New(a.newT(push), busnub.Options{
		Channel:      push.Channel,
		SeedTimeout:  push.SeedTimeout,
		OfflineAfter: push.OfflineAfter,
	}, a.log)
	sub.Register(func() { a.onLive(sub) })

	a.mu.Lock()
	a.sub = sub
	a.mu.Unlock()

	if err := sub.Start(ctx); err != nil {
		a.log.Warn().Err(err).Msg("live subscriber did not connect yet")
	}
}

func (a *App) stopSubscriber() {
	a.mu.Lock()
	sub := a.sub
	a.sub = nil
	a.mu.Unlock()
	if sub == nil {
		return
	}
	if err := sub.Stop(); err != nil {
		a.log.Warn().Err(err).Msg("stop live subscriber")
	}
	a.tracker.SetLive(0, false)
	if err := a.sensors.PublishStates(sensor.LiveStates(0, false, busmath.DefaultRate)); err != nil {
		a.log.Warn().Err(err).Msg("publish live sensors")
	}
}

// onLive is the subscriber's listener: it re-reads the total and republishes
// the live sensors.
func (a *App) onLive(sub *busnub.Subscriber) {
	total, online := sub.TotalRaised(), sub.Online()
	a.tracker.SetLive(total, online)
	if err := a.sensors.PublishStates(sensor.LiveStates(total, online, busmath.DefaultRate)); err != nil {
		a.log.Warn().Err(err).Msg("publish live sensors")
	}
}

// Live returns the current subscriber's total and online flag.
func (a *App) Live() (total float64, online bool) {
	a.mu.Lock()
	sub := a.sub
	a.mu.Unlock()
	if sub == nil {
		return 0, false
	}
	return sub.TotalRaised(), sub.Online()
}

func (a *App) refreshMQTTStatus() {
	if cs, ok := a.pub.(mqtt.ConnectionStatus); ok {
		a.tracker.SetMQTTConnected(cs.IsConnected())
	}
}

func (a *App) publishSystem(event, reason string) {
	snap := a.tracker.Snapshot()
	msg := mqtt.Message{
		Topic:    a.system,
		Payload:  status.FormatStatusEvent(snap, event, reason),
		QoS:      1,
		Retained: true,
	}
	if err := a.pub.Publish(msg); err != nil {
		a.log.Warn().Err(err).Str("event", event).Msg("publish system event")
		return
	}
	a.log.Info().Str("event", event).Msg("published system event")
}

// SystemTopic is where startup and shutdown events go.
func (a *App) SystemTopic() string {
	return a.system
}
