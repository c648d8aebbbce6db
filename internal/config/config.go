// Package config loads the daemon configuration from YAML with environment
// overrides, and watches the file for changes.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when neither --config nor DESERTBUS_CONFIG is given.
const DefaultPath = "desertbus.yaml"

// Config holds all daemon configuration.
type Config struct {
	Stats   StatsConfig   `yaml:"stats"`
	Push    PushConfig    `yaml:"push"`
	Publish PublishConfig `yaml:"publish"`
	HTTP    HTTPConfig    `yaml:"http"`
	Log     LogConfig     `yaml:"log"`
}

// StatsConfig tunes the stats poller.
type StatsConfig struct {
	BaseURL         string        `yaml:"base_url"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	HTTPTimeout     time.Duration `yaml:"http_timeout"`
	InRunCooldown   time.Duration `yaml:"in_run_cooldown"`
	PostRunGrace    time.Duration `yaml:"post_run_grace"`
	PostRunCooldown time.Duration `yaml:"post_run_cooldown"`
	OmegaCooldown   time.Duration `yaml:"omega_cooldown"`
	Workers         int           `yaml:"workers"`
}

// PushConfig identifies the live total feed.
type PushConfig struct {
	Broker       string        `yaml:"broker"`
	SubscribeKey string        `yaml:"subscribe_key"`
	Channel      string        `yaml:"channel"`
	SeedTimeout  time.Duration `yaml:"seed_timeout"`
	OfflineAfter int           `yaml:"offline_after"`
}

// PublishConfig controls where sensor states are published.
type PublishConfig struct {
	// Broker defaults to the push broker.
	Broker          string `yaml:"broker"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	TopicPrefix     string `yaml:"topic_prefix"`
	Buffer          int    `yaml:"buffer"`
}

// HTTPConfig configures the status server. An empty Addr disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// PathFromEnv returns DESERTBUS_CONFIG, or DefaultPath.
func PathFromEnv() string {
	if v := os.Getenv("DESERTBUS_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML data, then applies environment overrides and defaults.
func Parse(data []byte) (*Config, error) {
	// Set before decoding so an explicit empty addr disables the server.
	cfg := &Config{HTTP: HTTPConfig{Addr: ":8080"}}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DESERTBUS_BROKER"); v != "" {
		c.Push.Broker = v
	}
	if v := os.Getenv("DESERTBUS_SUBSCRIBE_KEY"); v != "" {
		c.Push.SubscribeKey = v
	}
	if v := os.Getenv("DESERTBUS_CHANNEL"); v != "" {
		c.Push.Channel = v
	}
	if v := os.Getenv("DESERTBUS_STATS_URL"); v != "" {
		c.Stats.BaseURL = v
	}
	if v, ok := os.LookupEnv("DESERTBUS_HTTP_ADDR"); ok {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("DESERTBUS_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func (c *Config) applyDefaults() {
	if c.Stats.BaseURL == "" {
		c.Stats.BaseURL = "https://vst.ninja"
	}
	if c.Stats.PollInterval == 0 {
		c.Stats.PollInterval = 15 * time.Second
	}
	if c.Stats.HTTPTimeout == 0 {
		c.Stats.HTTPTimeout = 30 * time.Second
	}
	if c.Stats.InRunCooldown == 0 {
		c.Stats.InRunCooldown = 15 * time.Minute
	}
	if c.Stats.PostRunGrace == 0 {
		c.Stats.PostRunGrace = 6 * time.Hour
	}
	if c.Stats.PostRunCooldown == 0 {
		c.Stats.PostRunCooldown = 6 * time.Hour
	}
	if c.Stats.OmegaCooldown == 0 {
		c.Stats.OmegaCooldown = 10 * time.Minute
	}
	if c.Stats.Workers == 0 {
		c.Stats.Workers = 2
	}
	if c.Push.SeedTimeout == 0 {
		c.Push.SeedTimeout = 10 * time.Second
	}
	if c.Push.OfflineAfter == 0 {
		c.Push.OfflineAfter = 3
	}
	if c.Publish.Broker == "" {
		c.Publish.Broker = c.Push.Broker
	}
	if c.Publish.DiscoveryPrefix == "" {
		c.Publish.DiscoveryPrefix = "homeassistant"
	}
	if c.Publish.TopicPrefix == "" {
		c.Publish.TopicPrefix = "desertbus"
	}
	if c.Publish.Buffer == 0 {
		c.Publish.Buffer = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	var errs []error
	if _, err := url.ParseRequestURI(c.Stats.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("stats.base_url: %w", err))
	}
	if c.Stats.PollInterval <= 0 {
		errs = append(errs, errors.New("stats.poll_interval must be positive"))
	}
	if c.Stats.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("stats.http_timeout must be positive"))
	}
	if c.Stats.Workers < 1 {
		errs = append(errs, errors.New("stats.workers must be at least 1"))
	}
	for name, d := range map[string]time.Duration{
		"stats.in_run_cooldown":   c.Stats.InRunCooldown,
		"stats.post_run_grace":    c.Stats.PostRunGrace,
		"stats.post_run_cooldown": c.Stats.PostRunCooldown,
		"stats.omega_cooldown":    c.Stats.OmegaCooldown,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if c.Push.Broker == "" {
		errs = append(errs, errors.New("push.broker is required"))
	}
	if c.Push.Channel == "" {
		errs = append(errs, errors.New("push.channel is required"))
	}
	if c.Push.OfflineAfter < 1 {
		errs = append(errs, errors.New("push.offline_after must be at least 1"))
	}
	if c.Publish.Buffer < 1 {
		errs = append(errs, errors.New("publish.buffer must be at least 1"))
	}
	return errors.Join(errs...)
}
