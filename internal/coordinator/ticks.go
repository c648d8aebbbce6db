package coordinator

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// TickSource delivers the times at which a refresh should run.
type TickSource interface {
	C() <-chan time.Time
	Stop()
}

// CronTicks fires on a fixed interval using a cron scheduler. A tick that
// fires while the previous one is still unconsumed is dropped, so consumers
// never see ticks pile up behind a slow refresh.
type CronTicks struct {
	cron *cron.Cron
	ch   chan time.Time
}

// NewCronTicks starts a tick source firing every interval.
func NewCronTicks(interval time.Duration) (*CronTicks, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("tick interval must be positive, got %v", interval)
	}
	t := &CronTicks{
		cron: cron.New(),
		ch:   make(chan time.Time, 1),
	}
	if _, err := t.cron.AddFunc("@every "+interval.String(), t.fire); err != nil {
		return nil, fmt.Errorf("schedule ticks: %w", err)
	}
	t.cron.Start()
	return t, nil
}

func (t *CronTicks) fire() {
	select {
	case t.ch <- time.Now():
	default:
	}
}

// C returns the tick channel.
func (t *CronTicks) C() <-chan time.Time {
	return t.ch
}

// Stop halts the scheduler and waits for a running fire to return.
func (t *CronTicks) Stop() {
	<-t.cron.Stop().Done()
}

// ChanTicks adapts a plain channel, such as a test's or a time.Ticker's.
type ChanTicks struct {
	Ch     <-chan time.Time
	OnStop func()
}

// C returns the wrapped channel.
func (t ChanTicks) C() <-chan time.Time {
	return t.Ch
}

// Stop calls OnStop if set.
func (t ChanTicks) Stop() {
	if t.OnStop != nil {
		t.OnStop()
	}
}
