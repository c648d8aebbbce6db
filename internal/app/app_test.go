package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/desertbus-sensor/internal/config"
	"github.com/sweeney/desertbus-sensor/internal/logic"
	"github.com/sweeney/desertbus-sensor/internal/mqtt"
	"github.com/sweeney/desertbus-sensor/internal/stats"
)

var midRun = time.Date(2024, 11, 16, 12, 0, 0, 0, logic.BusZone)

type harness struct {
	app        *App
	fetcher    *stats.FakeFetcher
	pub        *mqtt.FakePublisher
	mu         sync.Mutex
	transports []*mqtt.FakeTransport
	retained   string
	// blockConnect makes new transports hang in Connect.
	blockConnect bool
}

func (h *harness) transport(i int) *mqtt.FakeTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transports[i]
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte("push:\n  broker: tcp://b:1883\n  channel: desertbus/total\n"))
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithConfig(t, testConfig(t))
}

func newHarnessWithConfig(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	h := &harness{
		fetcher:  stats.NewFakeFetcher(),
		pub:      mqtt.NewFakePublisher(),
		retained: "123.45",
	}
	h.fetcher.Records[18] = logic.Record{
		YearStart:        "2024-11-15T10:00:00",
		MaxHourPurchased: 77,
		TotalRaised:      250000,
		YearNumber:       18,
	}
	h.app = New(cfg, Deps{
		Fetcher:   h.fetcher,
		Omega:     h.fetcher,
		Publisher: h.pub,
		NewTransport: func(p config.PushConfig) mqtt.Transport {
			tr := mqtt.NewFakeTransport()
			tr.SetRetained(p.Channel, []byte(h.retained))
			h.mu.Lock()
			tr.ConnectBlocks = h.blockConnect
			h.transports = append(h.transports, tr)
			h.mu.Unlock()
			return tr
		},
		Clock: func() time.Time { return midRun },
	}, zerolog.Nop())
	t.Cleanup(func() { h.app.Stop("test") })
	return h
}

func statePayload(t *testing.T, pub *mqtt.FakePublisher, topic string) map[string]any {
	t.Helper()
	msg, ok := pub.Last(topic)
	if !ok {
		t.Fatalf("nothing published to %s", topic)
	}
	var out map[string]any
	if err := json.Unmarshal(msg.Payload, &out); err != nil {
		t.Fatalf("unmarshal %s: %v", topic, err)
	}
	return out
}

func TestStartPublishesDiscoveryAndLiveTotal(t *testing.T) {
	h := newHarness(t)
	if err := h.app.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, ok := h.pub.Last("homeassistant/sensor/desertbus_current_shift/config"); !ok {
		t.Error("missing discovery config")
	}
	if msg, ok := h.pub.Last("desertbus/availability"); !ok || string(msg.Payload) != "online" {
		t.Errorf("availability: got %q", msg.Payload)
	}
	if _, ok := h.pub.Last("desertbus/system"); !ok {
		t.Error("missing startup event")
	}

	got := statePayload(t, h.pub, "desertbus/total_raised/state")
	if got["state"] != 123.45 || got["available"] != true {
		t.Errorf("total_raised: got %v", got)
	}
	total, online := h.app.Live()
	if !online || total != 123.45 {
		t.Errorf("Live: got (%v, %v)", total, online)
	}
	if snap := h.app.Tracker().Snapshot(); !snap.Live.Online {
		t.Error("tracker should see live feed online")
	}
}

func TestUnreachablePushBrokerDoesNotStallStartOrTick(t *testing.T) {
	cfg, err := config.Parse([]byte("push:\n  broker: tcp://b:1883\n  channel: desertbus/total\n  seed_timeout: 20ms\n"))
	if err != nil {
		t.Fatal(err)
	}
	h := newHarnessWithConfig(t, cfg)
	h.blockConnect = true

	done := make(chan struct{})
	go func() {
		h.app.Start(context.Background())
		h.app.Tick(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start and Tick blocked on an unreachable push broker")
	}

	if calls := h.fetcher.Calls(); len(calls) != 1 {
		t.Errorf("expected the tick to fetch once, got %v", calls)
	}
	if _, ok := h.pub.Last("desertbus/current_shift/state"); !ok {
		t.Error("coordinator sensors not published")
	}
	if _, online := h.app.Live(); online {
		t.Error("live feed should be offline before the broker is reached")
	}

	// The broker comes back; the transport's retry connects and seeds.
	h.transport(0).Reconnect()
	deadline := time.Now().Add(time.Second)
	for {
		if total, online := h.app.Live(); online && total == 123.45 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("live feed never came online after the late connect")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestTickPublishesCoordinatorSensors(t *testing.T) {
	h := newHarness(t)
	h.app.Tick(context.Background())

	if got := statePayload(t, h.pub, "desertbus/current_shift/state"); got["state"] != "Alpha Flight" {
		t.Errorf("current_shift: got %v", got)
	}
	if got := statePayload(t, h.pub, "desertbus/now_bussing/state"); got["state"] != true {
		t.Errorf("now_bussing: got %v", got)
	}
	if got := statePayload(t, h.pub, "desertbus/db_year/state"); got["state"] != float64(18) {
		t.Errorf("db_year: got %v", got)
	}

	snap := h.app.Tracker().Snapshot()
	if !snap.HasData || snap.Data.RunPurchased != 77 {
		t.Errorf("tracker data: got %+v", snap.Data)
	}
	if !snap.Poll.LastStatsCheck.Equal(midRun) {
		t.Errorf("tracker poll state: got %+v", snap.Poll)
	}
}

func TestTickFailureBeforeFirstFetch(t *testing.T) {
	h := newHarness(t)
	h.fetcher.StatsError = errors.New("boom")

	h.app.Tick(context.Background())

	snap := h.app.Tracker().Snapshot()
	if snap.HasData {
		t.Error("no data expected")
	}
	if snap.LastError == "" {
		t.Error("expected tick error recorded")
	}
	if got := statePayload(t, h.pub, "desertbus/current_shift/state"); got["available"] != false {
		t.Errorf("current_shift should be unavailable, got %v", got)
	}
}

func TestTickFailureKeepsLastGoodData(t *testing.T) {
	h := newHarness(t)
	h.app.Tick(context.Background())

	h.fetcher.StatsError = errors.New("boom")
	h.fetcher.OmegaError = errors.New("omega down")
	h.app.Tick(context.Background())

	snap := h.app.Tracker().Snapshot()
	if !snap.HasData || snap.Data.DBYear != 18 {
		t.Errorf("expected last good data kept, got %+v", snap.Data)
	}
	if got := statePayload(t, h.pub, "desertbus/current_shift/state"); got["state"] != "Alpha Flight" {
		t.Errorf("current_shift: got %v", got)
	}
}

func TestReconfigureReplacesSubscriber(t *testing.T) {
	h := newHarness(t)
	if err := h.app.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	cfg := testConfig(t)
	cfg.Push.Channel = "desertbus/other"
	h.retained = "999"
	h.app.Reconfigure(context.Background(), cfg)

	if !h.transport(0).Closed {
		t.Error("old transport should be closed")
	}
	total, online := h.app.Live()
	if !online || total != 999 {
		t.Errorf("Live after reconfigure: got (%v, %v)", total, online)
	}
	if h.app.Tracker().Snapshot().Config.Channel != "desertbus/other" {
		t.Error("tracker config not updated")
	}

	// Old channel no longer feeds the sensors.
	h.transport(0).Deliver("desertbus/total", []byte("1"))
	if total, _ := h.app.Live(); total != 999 {
		t.Errorf("old subscriber still active: total %v", total)
	}
	h.transport(1).Deliver("desertbus/other", []byte("1000"))
	if got := statePayload(t, h.pub, "desertbus/total_raised/state"); got["state"] != float64(1000) {
		t.Errorf("total_raised: got %v", got)
	}
}

func TestReconfigureSamePushKeepsSubscriber(t *testing.T) {
	h := newHarness(t)
	h.app.Start(context.Background())

	cfg := testConfig(t)
	cfg.Log.Level = "debug"
	h.app.Reconfigure(context.Background(), cfg)

	h.mu.Lock()
	n := len(h.transports)
	h.mu.Unlock()
	if n != 1 {
		t.Errorf("expected subscriber kept, got %d transports", n)
	}
}

func TestStopPublishesOffline(t *testing.T) {
	h := newHarness(t)
	h.app.Start(context.Background())
	h.app.Stop("SIGTERM")

	msg, ok := h.pub.Last("desertbus/availability")
	if !ok || string(msg.Payload) != "offline" || !msg.Retained {
		t.Errorf("availability: got %+v", msg)
	}
	sys := statePayload(t, h.pub, "desertbus/system")
	inner := sys["status"].(map[string]any)
	if inner["event"] != "SHUTDOWN" || inner["reason"] != "SIGTERM" {
		t.Errorf("shutdown event: got %v", inner)
	}
	if got := statePayload(t, h.pub, "desertbus/total_raised/state"); got["available"] != false {
		t.Errorf("total_raised should be unavailable after stop, got %v", got)
	}
	if _, online := h.app.Live(); online {
		t.Error("expected offline after Stop")
	}
}

func TestLimitsFor(t *testing.T) {
	cfg := testConfig(t)
	cfg.Stats.InRunCooldown = time.Minute
	lim := LimitsFor(cfg.Stats)
	if lim.InRunCooldown != time.Minute {
		t.Errorf("InRunCooldown: got %v", lim.InRunCooldown)
	}
	if lim.RunMonth != time.November {
		t.Errorf("RunMonth: got %v", lim.RunMonth)
	}
	if lim.OmegaCooldown != 10*time.Minute {
		t.Errorf("OmegaCooldown: got %v", lim.OmegaCooldown)
	}
}
