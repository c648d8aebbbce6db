// Package logic contains pure business logic for tracking the Desert Bus run.
// This package has NO external dependencies (no HTTP, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// BusZone is the fixed UTC-8 zone the run's schedule is published in.
var BusZone = time.FixedZone("UTC-8", -8*60*60)

// Shift is the named on-air operating period.
type Shift string

const (
	ShiftNone  Shift = ""
	ShiftZeta  Shift = "Zeta Shift"
	ShiftDawn  Shift = "Dawn Guard"
	ShiftAlpha Shift = "Alpha Flight"
	ShiftNight Shift = "Night Watch"
	ShiftOmega Shift = "Omega Shift"
)

// Shifts lists every named shift, in display order.
var Shifts = []Shift{ShiftDawn, ShiftAlpha, ShiftNight, ShiftZeta, ShiftOmega}

// Record is a single row of the published yearly stats file.
type Record struct {
	YearStart        string  `json:"Year Start Date-Time"`
	MaxHourPurchased float64 `json:"Max Hour Purchased"`
	TotalRaised      float64 `json:"Total Raised"`
	YearNumber       int     `json:"Year Number"`
}

// RunStats is a snapshot of derived run statistics. It is replaced as a
// whole on every successful fetch and never partially updated.
type RunStats struct {
	StartTime              time.Time
	TotalRaised            float64
	HoursPurchased         int
	YearNumber             int
	IsLive                 bool
	NextHourPriceTotal     float64
	NextHourPriceRemaining float64
}

// RunEnd returns the instant the purchased hours run out.
func (s RunStats) RunEnd() time.Time {
	return s.StartTime.Add(time.Duration(s.HoursPurchased) * time.Hour)
}

// PollState tracks when the remote endpoints were last consulted.
// The zero time means "never".
type PollState struct {
	LastStatsCheck time.Time
	LastOmegaCheck time.Time
}

// Limits configures the cache rule table.
type Limits struct {
	// RunMonth is the calendar month the run takes place in.
	RunMonth time.Month
	// InRunCooldown is the minimum spacing between fetches otherwise.
	InRunCooldown time.Duration
	// PostRunGrace is how long after the purchased hours run out the run is
	// considered over.
	PostRunGrace time.Duration
	// PostRunCooldown is the minimum spacing between fetches once the run is over.
	PostRunCooldown time.Duration
	// OmegaCooldown is the minimum spacing between Omega flag checks.
	OmegaCooldown time.Duration
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		RunMonth:        time.November,
		InRunCooldown:   15 * time.Minute,
		PostRunGrace:    6 * time.Hour,
		PostRunCooldown: 6 * time.Hour,
		OmegaCooldown:   10 * time.Minute,
	}
}
