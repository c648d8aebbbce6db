// Package sensor defines the host-facing Desert Bus sensors and their
// Home Assistant MQTT discovery and state payloads.
package sensor

import (
	"time"

	"github.com/sweeney/desertbus-sensor/internal/busmath"
	"github.com/sweeney/desertbus-sensor/internal/coordinator"
	"github.com/sweeney/desertbus-sensor/internal/logic"
)

// Source says which component feeds a sensor.
type Source int

const (
	// FromCoordinator sensors update after every poll tick.
	FromCoordinator Source = iota
	// FromLive sensors update whenever the live total changes.
	FromLive
)

// Sensor keys.
const (
	KeyCurrentShift           = "current_shift"
	KeyNowBussing             = "now_bussing"
	KeyDBYear                 = "db_year"
	KeyStartTime              = "start_time"
	KeyTotalRaised            = "total_raised"
	KeyRunPurchased           = "run_purchased"
	KeyNextHourPriceRemaining = "next_hour_price_remaining"
)

// Definition describes one sensor.
type Definition struct {
	Key         string
	Name        string
	Source      Source
	Icon        string
	Unit        string
	DeviceClass string
	StateClass  string
	Options     []string
}

// UniqueID returns the sensor's stable id.
func (d Definition) UniqueID() string {
	return "desertbus_" + d.Key
}

// Definitions lists every sensor, coordinator-backed first.
var Definitions = []Definition{
	{
		Key:         KeyCurrentShift,
		Name:        "Current Shift",
		Source:      FromCoordinator,
		Icon:        "mdi:bus-clock",
		DeviceClass: "enum",
		Options:     shiftOptions(),
	},
	{Key: KeyNowBussing, Name: "Currently Bussing", Source: FromCoordinator, Icon: "mdi:bus"},
	{Key: KeyDBYear, Name: "Year", Source: FromCoordinator, Icon: "mdi:calendar", StateClass: "measurement"},
	{Key: KeyStartTime, Name: "Start Time", Source: FromCoordinator, DeviceClass: "timestamp"},
	{
		Key:         KeyTotalRaised,
		Name:        "Total Raised",
		Source:      FromLive,
		Unit:        "USD",
		DeviceClass: "monetary",
		StateClass:  "total",
	},
	{
		Key:         KeyRunPurchased,
		Name:        "Time Paid For",
		Source:      FromLive,
		Unit:        "h",
		DeviceClass: "duration",
		StateClass:  "total",
	},
	{
		Key:         KeyNextHourPriceRemaining,
		Name:        "Cost Remaining to Next Hour",
		Source:      FromLive,
		Unit:        "USD",
		DeviceClass: "monetary",
	},
}

func shiftOptions() []string {
	opts := make([]string, len(logic.Shifts))
	for i, s := range logic.Shifts {
		opts[i] = string(s)
	}
	return opts
}

// State is one sensor's current value. A nil Value publishes as null.
type State struct {
	Key        string
	Value      any
	Attributes map[string]any
	Available  bool
}

// CoordinatorStates returns the states of the coordinator-backed sensors.
// ok false (no tick has succeeded yet) marks them all unavailable.
func CoordinatorStates(d coordinator.Data, ok bool) []State {
	if !ok {
		return []State{
			{Key: KeyCurrentShift},
			{Key: KeyNowBussing},
			{Key: KeyDBYear},
			{Key: KeyStartTime},
		}
	}

	shift := State{Key: KeyCurrentShift, Available: true}
	if d.CurrentShift != logic.ShiftNone {
		shift.Value = string(d.CurrentShift)
	}
	if c, found := logic.ColorsFor(d.CurrentShift); found {
		shift.Attributes = map[string]any{
			"color_primary":   c.Primary,
			"color_secondary": c.Secondary,
			"color_tertiary":  c.Tertiary,
		}
	}

	return []State{
		shift,
		{Key: KeyNowBussing, Value: d.NowBussing, Available: true},
		{Key: KeyDBYear, Value: d.DBYear, Available: true},
		{Key: KeyStartTime, Value: d.StartTime.Format(time.RFC3339), Available: true},
	}
}

// LiveStates returns the states of the live-total sensors. They are only
// available while the live feed is online.
func LiveStates(total float64, online bool, rate float64) []State {
	if !online {
		return []State{
			{Key: KeyTotalRaised},
			{Key: KeyRunPurchased},
			{Key: KeyNextHourPriceRemaining},
		}
	}
	hours := busmath.DollarsToHours(total, rate)
	return []State{
		{Key: KeyTotalRaised, Value: total, Available: true},
		{Key: KeyRunPurchased, Value: hours, Available: true},
		{
			Key:        KeyNextHourPriceRemaining,
			Value:      busmath.NextHourRemaining(total, hours, rate),
			Attributes: map[string]any{"Total": busmath.PriceForHour(hours, rate)},
			Available:  true,
		},
	}
}
