package session

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ParseSchedule accepts a cron expression, a descriptor such as
// "@every 5m", or a plain duration.
func ParseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}
	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return cron.Every(dur), nil
}

// Sweeper runs MemoryStore.Sweep periodically.
type Sweeper struct {
	cron *cron.Cron
}

// StartSweeper sweeps the store on the given schedule, until Stop is called.
func StartSweeper(s *MemoryStore, schedule string) (*Sweeper, error) {
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return nil, err
	}
	c := cron.New()
	c.Schedule(sched, cron.FuncJob(func() {
		if n := s.Sweep(); n > 0 {
			s.logger.Info("expired sessions swept", "count", n, "live", s.Len())
		}
	}))
	c.Start()
	return &Sweeper{cron: c}, nil
}

// Stop stops the schedule and waits for a running sweep to finish.
func (sw *Sweeper) Stop() {
	stopCtx := sw.cron.Stop()
	<-stopCtx.Done()
}
