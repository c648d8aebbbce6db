package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
stats:
  base_url: http://localhost:9000
  poll_interval: 30s
  in_run_cooldown: 5m
  workers: 4
push:
  broker: tcp://broker:1883
  subscribe_key: sub-abc
  channel: desertbus/total
publish:
  topic_prefix: db
http:
  addr: ":9090"
log:
  level: debug
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Stats.BaseURL != "http://localhost:9000" {
		t.Errorf("BaseURL: got %q", cfg.Stats.BaseURL)
	}
	if cfg.Stats.PollInterval != 30*time.Second {
		t.Errorf("PollInterval: got %v, want 30s", cfg.Stats.PollInterval)
	}
	if cfg.Stats.InRunCooldown != 5*time.Minute {
		t.Errorf("InRunCooldown: got %v, want 5m", cfg.Stats.InRunCooldown)
	}
	if cfg.Stats.Workers != 4 {
		t.Errorf("Workers: got %d, want 4", cfg.Stats.Workers)
	}
	if cfg.Push.SubscribeKey != "sub-abc" || cfg.Push.Channel != "desertbus/total" {
		t.Errorf("Push: got %+v", cfg.Push)
	}
	if cfg.Publish.TopicPrefix != "db" {
		t.Errorf("TopicPrefix: got %q", cfg.Publish.TopicPrefix)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Errorf("HTTP.Addr: got %q", cfg.HTTP.Addr)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level: got %q", cfg.Log.Level)
	}

	// Defaults fill the rest.
	if cfg.Stats.PostRunGrace != 6*time.Hour {
		t.Errorf("PostRunGrace: got %v, want 6h", cfg.Stats.PostRunGrace)
	}
	if cfg.Stats.OmegaCooldown != 10*time.Minute {
		t.Errorf("OmegaCooldown: got %v, want 10m", cfg.Stats.OmegaCooldown)
	}
	if cfg.Publish.Broker != "tcp://broker:1883" {
		t.Errorf("Publish.Broker should default to push broker, got %q", cfg.Publish.Broker)
	}
	if cfg.Publish.DiscoveryPrefix != "homeassistant" {
		t.Errorf("DiscoveryPrefix: got %q", cfg.Publish.DiscoveryPrefix)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Stats.BaseURL != "https://vst.ninja" {
		t.Errorf("BaseURL: got %q", cfg.Stats.BaseURL)
	}
	if cfg.Stats.PollInterval != 15*time.Second {
		t.Errorf("PollInterval: got %v", cfg.Stats.PollInterval)
	}
	if cfg.Stats.InRunCooldown != 15*time.Minute {
		t.Errorf("InRunCooldown: got %v", cfg.Stats.InRunCooldown)
	}
	if cfg.Stats.Workers != 2 {
		t.Errorf("Workers: got %d", cfg.Stats.Workers)
	}
	if cfg.Push.OfflineAfter != 3 || cfg.Push.SeedTimeout != 10*time.Second {
		t.Errorf("Push defaults: got %+v", cfg.Push)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("HTTP.Addr: got %q", cfg.HTTP.Addr)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level: got %q", cfg.Log.Level)
	}
}

func TestExplicitEmptyAddrDisablesHTTP(t *testing.T) {
	cfg, err := Parse([]byte("http:\n  addr: \"\"\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.HTTP.Addr != "" {
		t.Errorf("HTTP.Addr: got %q, want empty", cfg.HTTP.Addr)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DESERTBUS_BROKER", "tcp://env:1883")
	t.Setenv("DESERTBUS_SUBSCRIBE_KEY", "env-key")
	t.Setenv("DESERTBUS_CHANNEL", "env/channel")
	t.Setenv("DESERTBUS_STATS_URL", "http://env")
	t.Setenv("DESERTBUS_HTTP_ADDR", "")
	t.Setenv("DESERTBUS_LOG_LEVEL", "warn")

	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Push.Broker != "tcp://env:1883" || cfg.Push.SubscribeKey != "env-key" || cfg.Push.Channel != "env/channel" {
		t.Errorf("Push: got %+v", cfg.Push)
	}
	if cfg.Stats.BaseURL != "http://env" {
		t.Errorf("BaseURL: got %q", cfg.Stats.BaseURL)
	}
	if cfg.HTTP.Addr != "" {
		t.Errorf("HTTP.Addr: got %q, want empty", cfg.HTTP.Addr)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level: got %q", cfg.Log.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Stats.BaseURL != "https://vst.ninja" {
		t.Errorf("expected defaults, got %q", cfg.Stats.BaseURL)
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("stats: [unclosed"), 0o644)
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestBadDuration(t *testing.T) {
	if _, err := Parse([]byte("stats:\n  poll_interval: soon\n")); err == nil {
		t.Error("expected error for bad duration")
	}
}

func TestValidate(t *testing.T) {
	cfg, _ := Parse(nil)
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error without push broker and channel")
	}
	for _, want := range []string{"push.broker", "push.channel"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %s", err, want)
		}
	}

	cfg.Push.Broker = "tcp://b:1883"
	cfg.Push.Channel = "c"
	cfg.Stats.InRunCooldown = -time.Second
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "in_run_cooldown") {
		t.Errorf("expected cooldown error, got %v", err)
	}

	cfg.Stats.InRunCooldown = time.Minute
	cfg.Stats.BaseURL = "not a url"
	if err := cfg.Validate(); err == nil {
		t.Error("expected base_url error")
	}
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv("DESERTBUS_CONFIG", "")
	if got := PathFromEnv(); got != DefaultPath {
		t.Errorf("got %q, want %q", got, DefaultPath)
	}
	t.Setenv("DESERTBUS_CONFIG", "/etc/desertbus.yaml")
	if got := PathFromEnv(); got != "/etc/desertbus.yaml" {
		t.Errorf("got %q", got)
	}
}
