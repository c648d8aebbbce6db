package stats

import (
	"context"
	"fmt"
	"sync"

	"github.com/sweeney/desertbus-sensor/internal/logic"
)

// FakeFetcher serves scripted records for test assertions.
type FakeFetcher struct {
	mu sync.Mutex

	// Records maps edition number to the record returned for it.
	// Years missing from the map return ErrNotFound.
	Records map[int]logic.Record

	// StatsError, if set, is returned by FetchStats instead.
	StatsError error

	// Omega controls the return value of OmegaActive.
	Omega bool

	// OmegaError, if set, is returned by OmegaActive.
	OmegaError error

	// StatsCalls records the years requested, in order.
	StatsCalls []int

	// OmegaCalls counts OmegaActive calls.
	OmegaCalls int
}

// NewFakeFetcher creates a FakeFetcher with no records.
func NewFakeFetcher() *FakeFetcher {
	return &FakeFetcher{Records: make(map[int]logic.Record)}
}

// FetchStats records the call and returns the scripted record.
func (f *FakeFetcher) FetchStats(_ context.Context, year int) (logic.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.StatsCalls = append(f.StatsCalls, year)
	if f.StatsError != nil {
		return logic.Record{}, f.StatsError
	}
	rec, ok := f.Records[year]
	if !ok {
		return logic.Record{}, fmt.Errorf("DB%d: %w", year, ErrNotFound)
	}
	return rec, nil
}

// OmegaActive records the call and returns the scripted flag.
func (f *FakeFetcher) OmegaActive(_ context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.OmegaCalls++
	if f.OmegaError != nil {
		return false, f.OmegaError
	}
	return f.Omega, nil
}

// Calls returns a copy of the years requested so far.
func (f *FakeFetcher) Calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.StatsCalls...)
}

// Reset clears recorded calls and scripted errors.
func (f *FakeFetcher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StatsCalls = nil
	f.OmegaCalls = 0
	f.StatsError = nil
	f.OmegaError = nil
}
