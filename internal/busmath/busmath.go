// Package busmath implements the Desert Bus hour pricing formulas.
//
// Each hour of the run costs rate times the previous one, starting at $1.00
// for hour 0. Math largely from https://loadingreadyrun.com/forum/viewtopic.php?t=10231
package busmath

import (
	"math"

	"github.com/shopspring/decimal"
)

// DefaultRate is the per-hour price multiplier used by the event.
const DefaultRate = 1.07

// PriceForHour returns the marginal cost of unlocking hour n (0-indexed),
// rounded to cents.
func PriceForHour(n int, rate float64) float64 {
	return cents(math.Pow(rate, float64(n)))
}

// HoursToDollars returns the cumulative cost of buying the first n hours,
// rounded to cents.
func HoursToDollars(n int, rate float64) float64 {
	return cents((1 - math.Pow(rate, float64(n))) / (1 - rate))
}

// DollarsToHours returns how many whole hours the given amount buys.
//
// This is not an exact inverse of HoursToDollars: HoursToDollars rounds to
// cents, so feeding its result back can land just under the boundary and
// come out one hour short. dollars must be non-negative.
func DollarsToHours(dollars, rate float64) int {
	return int(math.Floor(math.Log(dollars*(rate-1)+1) / math.Log(rate)))
}

// NextHourRemaining is what is still owed on the next hour once the first
// hours have been bought out of total.
func NextHourRemaining(total float64, hours int, rate float64) float64 {
	next := PriceForHour(hours, rate)
	return next - (total - HoursToDollars(hours, rate))
}

func cents(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
