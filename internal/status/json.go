package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/desertbus-sensor/internal/coordinator"
	"github.com/sweeney/desertbus-sensor/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Ready         bool       `json:"ready"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	Stats         *DataJSON  `json:"stats"`
	LastCheck     string     `json:"last_stats_check,omitempty"`
	LastOmega     string     `json:"last_omega_check,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	Live          LiveJSON   `json:"live"`
	MQTT          MQTTStatus `json:"mqtt"`
	Config        ConfigJSON `json:"config"`
}

// DataJSON is the host-facing stats mapping.
type DataJSON struct {
	NowBussing             bool    `json:"now_bussing"`
	CurrentShift           *string `json:"current_shift"`
	TotalRaised            float64 `json:"total_raised"`
	StartTime              string  `json:"start_time"`
	DBYear                 int     `json:"db_year"`
	RunPurchased           int     `json:"run_purchased"`
	NextHourPriceTotal     float64 `json:"next_hour_price_total"`
	NextHourPriceRemaining float64 `json:"next_hour_price_remaining"`
}

// LiveJSON reports the live total feed.
type LiveJSON struct {
	Online      bool     `json:"online"`
	TotalRaised *float64 `json:"total_raised"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollSeconds int64  `json:"poll_seconds"`
	StatsURL    string `json:"stats_url"`
	Broker      string `json:"broker"`
	PushBroker  string `json:"push_broker"`
	Channel     string `json:"channel"`
	HTTPAddr    string `json:"http_addr"`
}

// NewDataJSON converts coordinator data to its JSON mapping. An
// unclassified shift becomes null.
func NewDataJSON(d coordinator.Data) DataJSON {
	out := DataJSON{
		NowBussing:             d.NowBussing,
		TotalRaised:            d.TotalRaised,
		StartTime:              d.StartTime.Format(time.RFC3339),
		DBYear:                 d.DBYear,
		RunPurchased:           d.RunPurchased,
		NextHourPriceTotal:     d.NextHourPriceTotal,
		NextHourPriceRemaining: d.NextHourPriceRemaining,
	}
	if d.CurrentShift != logic.ShiftNone {
		s := string(d.CurrentShift)
		out.CurrentShift = &s
	}
	return out
}

// FormatData returns the indented JSON mapping for d.
func FormatData(d coordinator.Data) []byte {
	data, _ := json.MarshalIndent(NewDataJSON(d), "", "  ")
	return data
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Ready:         snap.HasData,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		LastCheck:     formatTime(snap.Poll.LastStatsCheck),
		LastOmega:     formatTime(snap.Poll.LastOmegaCheck),
		LastError:     snap.LastError,
		Live:          LiveJSON{Online: snap.Live.Online},
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			PollSeconds: int64(snap.Config.PollInterval / time.Second),
			StatsURL:    snap.Config.StatsURL,
			Broker:      snap.Config.Broker,
			PushBroker:  snap.Config.PushBroker,
			Channel:     snap.Config.Channel,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}
	if snap.HasData {
		d := NewDataJSON(snap.Data)
		inner.Stats = &d
	}
	if snap.Live.Online {
		total := snap.Live.TotalRaised
		inner.Live.TotalRaised = &total
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
