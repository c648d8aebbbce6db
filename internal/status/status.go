// Package status provides a thread-safe status tracker for the desertbus-sensor daemon.
// It is read by the HTTP handlers and the system events published on MQTT.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/desertbus-sensor/internal/coordinator"
	"github.com/sweeney/desertbus-sensor/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	PollInterval time.Duration
	StatsURL     string
	Broker       string
	PushBroker   string
	Channel      string
	HTTPAddr     string
}

// Live is the live total feed state.
type Live struct {
	TotalRaised float64
	Online      bool
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Data          coordinator.Data
	HasData       bool
	Poll          logic.PollState
	LastError     string
	LastErrorAt   time.Time
	Live          Live
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update records the result of a successful tick and clears the last error.
func (t *Tracker) Update(d coordinator.Data, poll logic.PollState) {
	t.mu.Lock()
	t.snap.Data = d
	t.snap.HasData = true
	t.snap.Poll = poll
	t.snap.LastError = ""
	t.mu.Unlock()
}

// SetTickError records a failed tick. The last good data is kept.
func (t *Tracker) SetTickError(err error, at time.Time) {
	t.mu.Lock()
	t.snap.LastError = err.Error()
	t.snap.LastErrorAt = at
	t.mu.Unlock()
}

// SetLive records the live total feed state.
func (t *Tracker) SetLive(total float64, online bool) {
	t.mu.Lock()
	t.snap.Live = Live{TotalRaised: total, Online: online}
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetConfig replaces the displayed config after a reload.
func (t *Tracker) SetConfig(cfg Config) {
	t.mu.Lock()
	t.snap.Config = cfg
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
