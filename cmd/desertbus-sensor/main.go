// Command desertbus-sensor tracks the Desert Bus for Hope run and publishes
// its state to MQTT as Home Assistant sensors.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sweeney/desertbus-sensor/internal/app"
	"github.com/sweeney/desertbus-sensor/internal/busmath"
	"github.com/sweeney/desertbus-sensor/internal/config"
	"github.com/sweeney/desertbus-sensor/internal/coordinator"
	"github.com/sweeney/desertbus-sensor/internal/mqtt"
	"github.com/sweeney/desertbus-sensor/internal/sensor"
	"github.com/sweeney/desertbus-sensor/internal/stats"
	"github.com/sweeney/desertbus-sensor/internal/status"
	"github.com/sweeney/desertbus-sensor/internal/web"
	"github.com/sweeney/desertbus-sensor/internal/worker"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:          "desertbus-sensor",
		Short:        "Publish Desert Bus run state to MQTT",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			log := newLogger(cfg.Log.Level)
			if err := cfg.Validate(); err != nil {
				log.Fatal().Err(err).Str("path", cfgPath).Msg("invalid config")
			}
			return run(cmd.Context(), cfgPath, cfg, log)
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", config.PathFromEnv(), "config file (YAML)")
	root.AddCommand(newStatsCmd(&cfgPath))
	return root
}

func newStatsCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Fetch the current run stats once and print them as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			log := newLogger(cfg.Log.Level)
			client := stats.NewHTTPClient(cfg.Stats.BaseURL, cfg.Stats.HTTPTimeout)
			coord := coordinator.New(client, client, worker.New(cfg.Stats.Workers), coordinator.Config{
				Limits: app.LimitsFor(cfg.Stats),
				Rate:   busmath.DefaultRate,
			}, log)
			d, err := coord.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(status.FormatData(d)))
			return nil
		},
	}
}

// newLogger builds the console logger. Unknown levels fall back to info.
func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(cw).Level(lvl).With().Timestamp().Logger()
}

func newTransport(p config.PushConfig) mqtt.Transport {
	return mqtt.NewRealTransport(mqtt.TransportOptions{
		Broker:       p.Broker,
		ClientID:     "desertbus-sensor-" + uuid.NewString(),
		Username:     p.SubscribeKey,
		FetchTimeout: p.SeedTimeout,
	})
}

func run(ctx context.Context, cfgPath string, cfg *config.Config, log zerolog.Logger) error {
	client := stats.NewHTTPClient(cfg.Stats.BaseURL, cfg.Stats.HTTPTimeout)
	topics := sensor.Topics{DiscoveryPrefix: cfg.Publish.DiscoveryPrefix, Prefix: cfg.Publish.TopicPrefix}

	// The broker keeps retained availability, so it must be reasserted after
	// every reconnect. The app may not exist yet on the first connect.
	var current atomic.Pointer[app.App]
	publisher := mqtt.NewRealPublisher(mqtt.PublisherOptions{
		Broker:     cfg.Publish.Broker,
		ClientID:   "desertbus-sensor-pub-" + uuid.NewString(),
		Username:   cfg.Publish.Username,
		Password:   cfg.Publish.Password,
		Will:       topics.OfflineMessage(),
		BufferSize: cfg.Publish.Buffer,
		OnConnect: func() {
			if a := current.Load(); a != nil {
				if err := a.Sensors().PublishAvailability(true); err != nil {
					log.Warn().Err(err).Msg("republish availability")
				}
			}
		},
	}, log)
	defer publisher.Close()

	a := app.New(cfg, app.Deps{
		Fetcher:      client,
		Omega:        client,
		Publisher:    publisher,
		NewTransport: newTransport,
	}, log)
	current.Store(a)

	if err := a.Start(ctx); err != nil {
		log.Warn().Err(err).Msg("startup publish incomplete")
	}

	var srv *web.Server
	if cfg.HTTP.Addr != "" {
		srv = web.New(cfg.HTTP.Addr, a.Tracker())
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("http server error")
			}
		}()
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("http status server listening")
	}
	stopHTTP := func() {
		if srv == nil {
			return
		}
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("http server shutdown")
		}
	}

	ticks, err := coordinator.NewCronTicks(cfg.Stats.PollInterval)
	if err != nil {
		return err
	}

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	watcher := config.NewWatcher(cfgPath, cfg, log)
	go func() {
		if err := watcher.Run(watchCtx); err != nil {
			log.Warn().Err(err).Msg("config watcher disabled")
		}
	}()

	log.Info().
		Dur("poll", cfg.Stats.PollInterval).
		Str("stats", cfg.Stats.BaseURL).
		Str("broker", cfg.Publish.Broker).
		Str("channel", cfg.Push.Channel).
		Msg("started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	return runLoop(ctx, a, ticks, watcher.Changes(), sigCh, stopHTTP, log)
}

// runLoop refreshes once immediately, then on every tick, and applies
// config reloads until a signal arrives. On a signal it stops the ticks and
// calls quiesce before the app publishes its shutdown.
func runLoop(ctx context.Context, a *app.App, ticks coordinator.TickSource, reload <-chan *config.Config, sig <-chan os.Signal, quiesce func(), log zerolog.Logger) error {
	a.Tick(ctx)

	for {
		select {
		case s := <-sig:
			log.Info().Str("signal", s.String()).Msg("shutting down")
			ticks.Stop()
			if quiesce != nil {
				quiesce()
			}
			a.Stop(signalName(s))
			return nil

		case <-ticks.C():
			a.Tick(ctx)

		case cfg := <-reload:
			a.Reconfigure(ctx, cfg)
		}
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

