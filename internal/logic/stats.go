package logic

import (
	"fmt"
	"time"

	"github.com/sweeney/desertbus-sensor/internal/busmath"
)

// YearOffset is subtracted from the calendar year to get the run's edition number.
const YearOffset = 2006

// DBYear returns the edition whose stats are current at now. Before the run
// month the previous edition is still the latest one.
func DBYear(now time.Time, runMonth time.Month) int {
	local := now.In(BusZone)
	if local.Month() < runMonth {
		return local.Year() - YearOffset - 1
	}
	return local.Year() - YearOffset
}

var startLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
}

// ParseStart parses the published start time. The wall clock is always read
// as BusZone; any offset in the string is ignored.
func ParseStart(s string) (time.Time, error) {
	for _, layout := range startLayouts {
		if t, err := time.ParseInLocation(layout, s, BusZone); err == nil {
			return t, nil
		}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse start time %q: %w", s, err)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), BusZone), nil
}

// Derive computes a RunStats snapshot from a raw record as seen at now.
func Derive(rec Record, now time.Time, rate float64) (RunStats, error) {
	start, err := ParseStart(rec.YearStart)
	if err != nil {
		return RunStats{}, err
	}
	if rec.MaxHourPurchased < 0 {
		return RunStats{}, fmt.Errorf("negative hours purchased: %v", rec.MaxHourPurchased)
	}
	hours := int(rec.MaxHourPurchased)

	s := RunStats{
		StartTime:          start,
		TotalRaised:        rec.TotalRaised,
		HoursPurchased:     hours,
		YearNumber:         rec.YearNumber,
		NextHourPriceTotal: busmath.PriceForHour(hours, rate),
	}
	s.NextHourPriceRemaining = busmath.NextHourRemaining(rec.TotalRaised, hours, rate)
	s.IsLive = !now.Before(start) && now.Before(s.RunEnd())
	return s, nil
}
