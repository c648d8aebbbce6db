package status

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/desertbus-sensor/internal/coordinator"
	"github.com/sweeney/desertbus-sensor/internal/logic"
)

func testData() coordinator.Data {
	return coordinator.Data{
		NowBussing:             true,
		CurrentShift:           logic.ShiftNight,
		TotalRaised:            250000,
		StartTime:              time.Date(2024, 11, 15, 10, 0, 0, 0, logic.BusZone),
		DBYear:                 18,
		RunPurchased:           77,
		NextHourPriceTotal:     183.04,
		NextHourPriceRemaining: 12.5,
	}
}

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{PollInterval: 15 * time.Second, Broker: "tcp://localhost:1883", HTTPAddr: ":8080"}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.PollInterval != 15*time.Second {
		t.Errorf("Config.PollInterval: got %v, want 15s", snap.Config.PollInterval)
	}
	if snap.HasData {
		t.Error("expected HasData=false initially")
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
}

func TestUpdateClearsError(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetTickError(errors.New("boom"), time.Now())
	if tr.Snapshot().LastError != "boom" {
		t.Errorf("LastError: got %q", tr.Snapshot().LastError)
	}

	poll := logic.PollState{LastStatsCheck: time.Date(2024, 11, 16, 12, 0, 0, 0, time.UTC)}
	tr.Update(testData(), poll)

	snap := tr.Snapshot()
	if !snap.HasData || snap.Data.DBYear != 18 {
		t.Errorf("Data: got %+v (HasData=%v)", snap.Data, snap.HasData)
	}
	if snap.LastError != "" {
		t.Errorf("LastError should be cleared, got %q", snap.LastError)
	}
	if !snap.Poll.LastStatsCheck.Equal(poll.LastStatsCheck) {
		t.Errorf("Poll: got %+v", snap.Poll)
	}
}

func TestSetLiveAndMQTT(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetLive(123.45, true)
	tr.SetMQTTConnected(true)
	snap := tr.Snapshot()
	if !snap.Live.Online || snap.Live.TotalRaised != 123.45 {
		t.Errorf("Live: got %+v", snap.Live)
	}
	if !snap.MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetConfig(Config{Channel: "new"})
	if tr.Snapshot().Config.Channel != "new" {
		t.Error("SetConfig not applied")
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
	}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.Update(testData(), logic.PollState{})

	snap1 := tr.Snapshot()

	d := testData()
	d.DBYear = 19
	tr.Update(d, logic.PollState{})

	if snap1.Data.DBYear != 18 {
		t.Error("snapshot should be a copy; DBYear was modified")
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Data:          testData(),
		HasData:       true,
		Live:          Live{TotalRaised: 260000, Online: true},
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{PollInterval: 15 * time.Second, Broker: "tcp://localhost:1883", HTTPAddr: ":8080"},
	}

	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(snap), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	s := parsed.Status
	if !s.Ready {
		t.Error("expected Ready=true")
	}
	if s.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", s.UptimeSeconds)
	}
	if s.Stats == nil || s.Stats.CurrentShift == nil {
		t.Fatalf("Stats: got %+v", s.Stats)
	}
	if s.Stats.RunPurchased != 77 || *s.Stats.CurrentShift != "Night Watch" {
		t.Errorf("Stats: got %+v", s.Stats)
	}
	if s.Stats.StartTime != "2024-11-15T10:00:00-08:00" {
		t.Errorf("Stats.StartTime: got %q", s.Stats.StartTime)
	}
	if s.Live.TotalRaised == nil || *s.Live.TotalRaised != 260000 {
		t.Errorf("Live: got %+v", s.Live)
	}
	if !s.MQTT.Connected || s.Config.PollSeconds != 15 {
		t.Errorf("MQTT/Config: got %+v / %+v", s.MQTT, s.Config)
	}
	if s.Event != "" || s.Reason != "" {
		t.Errorf("expected no event/reason for web format, got %q/%q", s.Event, s.Reason)
	}
}

func TestFormatJSONBeforeFirstTick(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
		LastError: "no stats fetched yet",
	}

	var raw map[string]any
	if err := json.Unmarshal(FormatJSON(snap), &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	status := raw["status"].(map[string]any)
	if status["stats"] != nil {
		t.Errorf("stats should be null, got %v", status["stats"])
	}
	if status["ready"] != false {
		t.Errorf("ready: got %v", status["ready"])
	}
	if _, exists := status["last_stats_check"]; exists {
		t.Error("last_stats_check should be omitted when never checked")
	}
	live := status["live"].(map[string]any)
	if live["total_raised"] != nil {
		t.Errorf("live total should be null while offline, got %v", live["total_raised"])
	}
}

func TestFormatDataNullShift(t *testing.T) {
	d := testData()
	d.CurrentShift = logic.ShiftNone

	out := string(FormatData(d))
	if !strings.Contains(out, `"current_shift": null`) {
		t.Errorf("expected null shift in %s", out)
	}
	if !strings.Contains(out, `"next_hour_price_total": 183.04`) {
		t.Errorf("expected price in %s", out)
	}
}

func TestFormatStatusEvent(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(30 * time.Minute),
		Config:    Config{Broker: "tcp://localhost:1883"},
	}

	var parsed StatusJSON
	if err := json.Unmarshal(FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM"), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Event != "SHUTDOWN" {
		t.Errorf("Event: got %q, want SHUTDOWN", parsed.Status.Event)
	}
	if parsed.Status.Reason != "SIGTERM" {
		t.Errorf("Reason: got %q, want SIGTERM", parsed.Status.Reason)
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	var raw map[string]interface{}
	json.Unmarshal(FormatStatusEvent(snap, "STARTUP", ""), &raw)
	status := raw["status"].(map[string]interface{})
	if _, exists := status["reason"]; exists {
		t.Error("reason should be omitted when empty")
	}
	if status["event"] != "STARTUP" {
		t.Errorf("event: got %v, want STARTUP", status["event"])
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	// Writer
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.Update(testData(), logic.PollState{})
			tr.SetLive(float64(i), i%2 == 0)
			tr.SetMQTTConnected(i%2 == 0)
		}
	}()

	// Reader
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = FormatJSON(snap)
		}
	}()

	wg.Wait()
}
