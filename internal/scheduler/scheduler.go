// Package scheduler provides cron-based job scheduling for CalendarPipe's
// background sweeps: the per-minute digest check and the periodic
// reconciliation pass.
package scheduler

import (
	"github.com/robfig/cron/v3"
)

// Cron expressions for the background sweeps.
const (
	// DigestSweepSpec runs every minute so each account's configured local
	// digest time can be matched.
	DigestSweepSpec = "* * * * *"
	// ReconcileSweepSpec runs the snapshot diff every 5 minutes.
	ReconcileSweepSpec = "*/5 * * * *"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler using the standard
// 5-field expression format, with panic recovery on jobs.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression. It returns an
// error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
