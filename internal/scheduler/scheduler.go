// Package scheduler provides scheduling for Conversia background work.
//
// Its main consumer is the periodic flow refresh sweep, which re-fetches
// every tenant's flow definitions at a fixed interval.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler with panic recovery.
func NewScheduler() *Scheduler {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using a cron expression.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// AddEvery schedules a task at a fixed interval. Intervals below one
// second are rejected.
func (s *Scheduler) AddEvery(interval time.Duration, task func()) error {
	if interval < time.Second {
		return fmt.Errorf("interval too short: %s", interval)
	}
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), task)
	return err
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
