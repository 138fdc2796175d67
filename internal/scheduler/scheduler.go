// Package scheduler runs the synchronization job on a cron schedule.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// Job is one synchronization pass. ctx is cancelled when the scheduler stops.
type Job func(ctx context.Context)

// Scheduler runs a Job on a cron schedule, never more than one at a time.
type Scheduler struct {
	logger     *slog.Logger
	scheduler  *gocron.Scheduler
	cron       string
	runOnStart bool
	job        Job

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Scheduler. cron is a standard five field expression in
// UTC. If runOnStart is set the job also runs as soon as the scheduler starts.
func New(logger *slog.Logger, cron string, runOnStart bool, job Job) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger:     logger,
		scheduler:  gocron.NewScheduler(time.UTC),
		cron:       cron,
		runOnStart: runOnStart,
		job:        job,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start schedules the job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	sched := s.scheduler.Cron(s.cron)
	if s.runOnStart {
		sched = sched.StartImmediately()
	}
	j, err := sched.SingletonMode().Do(func() {
		start := time.Now()
		s.logger.Info("scheduler: running synchronization")
		s.job(s.ctx)
		s.logger.Info("scheduler: synchronization finished", "in", time.Since(start).Round(time.Second))
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.logger.Info("scheduler started", "cron", s.cron, "next", j.NextRun())
	return nil
}

// Stop cancels a running job and stops the scheduler.
func (s *Scheduler) Stop() {
	s.cancel()
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
