// Package stats reads the published Desert Bus statistics and Omega Shift
// flag over HTTP, with abstraction for testing.
package stats

import (
	"context"
	"errors"

	"github.com/sweeney/desertbus-sensor/internal/logic"
)

// DefaultBaseURL is the host serving the stats files.
const DefaultBaseURL = "https://vst.ninja"

var (
	// ErrNotFound means the stats file for the requested year is not published yet.
	ErrNotFound = errors.New("stats not found")

	// ErrEmptyRecord means the stats file held no records.
	ErrEmptyRecord = errors.New("stats file is empty")
)

// Fetcher reads one year's stats record.
type Fetcher interface {
	// FetchStats returns the first record of the given edition's stats file.
	// Returns ErrNotFound (wrapped) when the file does not exist yet.
	FetchStats(ctx context.Context, year int) (logic.Record, error)
}

// OmegaChecker reads the remote Omega Shift flag.
type OmegaChecker interface {
	// OmegaActive reports whether Omega Shift is currently signalled.
	OmegaActive(ctx context.Context) (bool, error)
}
