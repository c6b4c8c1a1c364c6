// Package scheduler provides cron-based scheduling for ZapFlow.
//
// The campaign dispatcher uses it to poll for due disparos.
package scheduler

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler wraps a running cron instance.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler using standard 5-field
// expressions (min, hour, dom, month, dow), with panic recovery around jobs.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	id, err := s.cron.AddFunc(expr, task)
	if err != nil {
		return err
	}
	slog.Debug("Scheduler.AddJob: job registered", "expr", expr, "entryID", id)
	return nil
}

// Stop stops the scheduler and blocks until in-flight jobs finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
