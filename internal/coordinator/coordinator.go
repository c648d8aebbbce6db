// Package coordinator decides on each tick whether to re-fetch the run
// statistics or reuse the cached snapshot, and classifies the current shift.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/desertbus-sensor/internal/busmath"
	"github.com/sweeney/desertbus-sensor/internal/logic"
	"github.com/sweeney/desertbus-sensor/internal/stats"
	"github.com/sweeney/desertbus-sensor/internal/worker"
)

// ErrNoData is returned by a tick when no snapshot has ever been fetched.
var ErrNoData = errors.New("no stats fetched yet")

// Data is the host-facing view produced by each tick.
type Data struct {
	NowBussing             bool
	CurrentShift           logic.Shift
	TotalRaised            float64
	StartTime              time.Time
	DBYear                 int
	RunPurchased           int
	NextHourPriceTotal     float64
	NextHourPriceRemaining float64
	UpdatedAt              time.Time
}

// Config tunes a Coordinator.
type Config struct {
	Limits logic.Limits
	// Rate is the hour price multiplier. Zero means busmath.DefaultRate.
	Rate float64
	// Clock returns the current time. Nil means time.Now.
	Clock func() time.Time
}

// Coordinator owns the cached snapshot and the poll timestamps. Ticks are
// serialized; only one Refresh runs at a time.
type Coordinator struct {
	fetcher stats.Fetcher
	omega   stats.OmegaChecker
	pool    *worker.Pool
	limits  logic.Limits
	rate    float64
	now     func() time.Time
	log     zerolog.Logger

	tickMu sync.Mutex
	state  logic.PollState
	cached *logic.RunStats

	dataMu sync.RWMutex
	data   *Data
}

// New creates a Coordinator. Blocking calls to fetcher and omega run on pool.
func New(fetcher stats.Fetcher, omega stats.OmegaChecker, pool *worker.Pool, cfg Config, log zerolog.Logger) *Coordinator {
	if cfg.Rate == 0 {
		cfg.Rate = busmath.DefaultRate
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Coordinator{
		fetcher: fetcher,
		omega:   omega,
		pool:    pool,
		limits:  cfg.Limits,
		rate:    cfg.Rate,
		now:     cfg.Clock,
		log:     log.With().Str("component", "coordinator").Logger(),
	}
}

// Refresh runs one tick: it resolves the stats snapshot per the cache rules,
// classifies the shift, and stores the result. It returns ErrNoData until the
// first successful fetch.
func (c *Coordinator) Refresh(ctx context.Context) (Data, error) {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	now := c.now()
	st, err := c.runStats(ctx, now)
	if err != nil {
		return Data{}, err
	}

	prev, hadPrev := c.Data()
	shift, err := c.shift(ctx, now, st.IsLive)
	if err != nil {
		c.log.Warn().Err(err).Msg("shift classification failed, keeping previous shift")
		shift = logic.ShiftNone
		if hadPrev {
			shift = prev.CurrentShift
		}
	}

	d := Data{
		NowBussing:             st.IsLive,
		CurrentShift:           shift,
		TotalRaised:            st.TotalRaised,
		StartTime:              st.StartTime,
		DBYear:                 st.YearNumber,
		RunPurchased:           st.HoursPurchased,
		NextHourPriceTotal:     st.NextHourPriceTotal,
		NextHourPriceRemaining: st.NextHourPriceRemaining,
		UpdatedAt:              now,
	}
	c.dataMu.Lock()
	c.data = &d
	c.dataMu.Unlock()
	return d, nil
}

// Data returns the result of the last successful tick. ok is false before
// the first one.
func (c *Coordinator) Data() (d Data, ok bool) {
	c.dataMu.RLock()
	defer c.dataMu.RUnlock()
	if c.data == nil {
		return Data{}, false
	}
	return *c.data, true
}

// PollState returns the current poll timestamps.
func (c *Coordinator) PollState() logic.PollState {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()
	return c.state
}

// runStats returns the snapshot for this tick, fetching only when the cache
// rules allow it. A failed fetch falls back to the cache without advancing
// LastStatsCheck.
func (c *Coordinator) runStats(ctx context.Context, now time.Time) (logic.RunStats, error) {
	rule := logic.Decide(now, c.cached, c.state, c.limits)
	if rule.Reuse() {
		c.log.Debug().Str("rule", string(rule)).Time("last_check", c.state.LastStatsCheck).Msg("reusing cached stats")
		statsCacheHits.WithLabelValues(string(rule)).Inc()
		return *c.cached, nil
	}

	st, err := c.fetch(ctx, now)
	if err != nil {
		statsFetches.WithLabelValues("error").Inc()
		if c.cached == nil {
			c.log.Warn().Err(err).Msg("stats fetch failed, nothing cached")
			return logic.RunStats{}, fmt.Errorf("%w: %v", ErrNoData, err)
		}
		c.log.Warn().Err(err).Msg("stats fetch failed, using cached stats")
		return *c.cached, nil
	}

	statsFetches.WithLabelValues("ok").Inc()
	c.cached = &st
	c.state.LastStatsCheck = now
	return st, nil
}

func (c *Coordinator) fetch(ctx context.Context, now time.Time) (logic.RunStats, error) {
	year := logic.DBYear(now, c.limits.RunMonth)
	rec, err := c.fetchYear(ctx, year)
	if errors.Is(err, stats.ErrNotFound) {
		c.log.Debug().Int("year", year).Msg("stats not published yet, trying previous year")
		rec, err = c.fetchYear(ctx, year-1)
	}
	if err != nil {
		return logic.RunStats{}, err
	}
	return logic.Derive(rec, now, c.rate)
}

func (c *Coordinator) fetchYear(ctx context.Context, year int) (logic.Record, error) {
	c.log.Debug().Int("year", year).Msg("fetching stats")
	return worker.Do(ctx, c.pool, func(ctx context.Context) (logic.Record, error) {
		return c.fetcher.FetchStats(ctx, year)
	})
}

// shift classifies now. The remote Omega flag overrides the time-of-day table
// when the run is live and the check is due; errors from that check are
// returned to the caller.
func (c *Coordinator) shift(ctx context.Context, now time.Time, live bool) (logic.Shift, error) {
	if logic.OmegaDue(now, live, c.state, c.limits) {
		c.log.Debug().Msg("checking omega shift")
		on, err := worker.Do(ctx, c.pool, c.omega.OmegaActive)
		if err != nil {
			omegaChecks.WithLabelValues("error").Inc()
			return logic.ShiftNone, fmt.Errorf("omega check: %w", err)
		}
		c.state.LastOmegaCheck = now
		if on {
			omegaChecks.WithLabelValues("on").Inc()
			return logic.ShiftOmega, nil
		}
		omegaChecks.WithLabelValues("off").Inc()
	}
	s, _ := logic.ShiftAt(now)
	return s, nil
}
