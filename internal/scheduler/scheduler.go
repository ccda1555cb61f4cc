package scheduler

import (
	"context"
	"time"

	"github.com/campushq/campus-courier/internal/logger"
)

// Job is one unit of periodic work, typically an enumeration sweep.
type Job interface {
	Run(ctx context.Context) error
}

// Scheduler fires a job immediately on start and then on a fixed interval.
// Runs are sequential; a run still in flight when the ticker fires delays the
// next one rather than overlapping it.
type Scheduler struct {
	job      Job
	interval time.Duration
	log      logger.Logger
}

// New builds a scheduler for job.
func New(job Job, interval time.Duration, log logger.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if log == nil {
		log = &logger.NopLogger{}
	}
	return &Scheduler{job: job, interval: interval, log: log}
}

// Run blocks until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	s.fire(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context) {
	start := time.Now()
	if err := s.job.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.ErrorObj("scheduled run failed", "error", map[string]string{
			"error":    err.Error(),
			"duration": time.Since(start).String(),
		})
		return
	}
	s.log.DebugObj("scheduled run finished", "duration", time.Since(start).String())
}
