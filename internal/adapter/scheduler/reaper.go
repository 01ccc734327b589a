package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// IdleClearer drops retry state last touched before cutoff and returns the
// affected session ids.
type IdleClearer interface {
	ClearIdle(cutoff time.Time) []string
}

// Reaper clears retry state of sessions that were abandoned without an
// explicit clear.
type Reaper struct {
	policy IdleClearer
	ttl    time.Duration
	now    func() time.Time
	log    *slog.Logger
}

// NewReaper creates a reaper for sessions idle longer than ttl.
func NewReaper(policy IdleClearer, ttl time.Duration, log *slog.Logger) *Reaper {
	if log == nil {
		log = slog.Default()
	}
	return &Reaper{policy: policy, ttl: ttl, now: time.Now, log: log}
}

// Run clears every idle session unless ctx already ended.
func (r *Reaper) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		r.log.Warn("reaper skipped", "error", err)
		return err
	}
	ids := r.policy.ClearIdle(r.now().Add(-r.ttl))
	if len(ids) > 0 {
		r.log.Info("cleared idle retry state", "sessions", len(ids), "ttl", r.ttl)
	}
	return nil
}

// Register schedules the reaper on s.
func (r *Reaper) Register(s *Scheduler, schedule string) (JobID, error) {
	return s.Add(schedule, r.Run, JobOptions{
		Name:          "retry-state-reaper",
		Timeout:       time.Minute,
		OverlapPolicy: SkipIfRunning,
	})
}
