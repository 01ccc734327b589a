package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc is a scheduled job.
type JobFunc func(ctx context.Context) error

// JobID identifies a registered job.
type JobID = cron.EntryID

// OverlapPolicy controls what happens when a run is due while the previous
// one is still going.
type OverlapPolicy int

const (
	// AllowOverlap runs concurrently (default).
	AllowOverlap OverlapPolicy = iota
	// SkipIfRunning drops the due run.
	SkipIfRunning
	// DelayIfRunning queues the due run behind the current one.
	DelayIfRunning
)

// JobOptions configures a job.
type JobOptions struct {
	Name          string
	Timeout       time.Duration
	OverlapPolicy OverlapPolicy
}

// JobHooks are optional observability callbacks.
type JobHooks struct {
	OnJobStart  func(jobName string)
	OnJobFinish func(jobName string, duration time.Duration, err error)
}

// Config holds scheduler settings.
type Config struct {
	Logger   *slog.Logger
	JobHooks JobHooks
}

// parser accepts both 5-field and 6-field (seconds) specs plus descriptors
// such as "@every 10m".
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule validates a schedule spec.
func ParseSchedule(spec string) error {
	_, err := parser.Parse(spec)
	return err
}

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}

// Scheduler runs cron jobs until its context ends.
type Scheduler struct {
	cron      *cron.Cron
	logger    *slog.Logger
	hooks     JobHooks
	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a scheduler bound to parent.
func New(parent context.Context, cfg Config) *Scheduler {
	ctx, cancel := context.WithCancel(parent)
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger.With("component", "cron")}
	return &Scheduler{
		cron:   cron.New(cron.WithParser(parser), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		logger: logger,
		hooks:  cfg.JobHooks,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers job on schedule.
func (s *Scheduler) Add(schedule string, job JobFunc, opts JobOptions) (JobID, error) {
	var chain cron.Chain
	cl := cronLogger{logger: s.logger}
	switch opts.OverlapPolicy {
	case SkipIfRunning:
		chain = cron.NewChain(cron.SkipIfStillRunning(cl))
	case DelayIfRunning:
		chain = cron.NewChain(cron.DelayIfStillRunning(cl))
	default:
		chain = cron.NewChain()
	}

	id, err := s.cron.AddJob(schedule, chain.Then(cron.FuncJob(func() { s.run(job, opts) })))
	if err != nil {
		return 0, fmt.Errorf("add job %q: %w", opts.Name, err)
	}
	s.logger.Info("job scheduled", "name", opts.Name, "schedule", schedule, "id", id)
	return id, nil
}

// Remove unregisters a job.
func (s *Scheduler) Remove(id JobID) {
	s.cron.Remove(id)
}

// Start begins running jobs. It is idempotent.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.cron.Start()
		go func() {
			<-s.ctx.Done()
			s.stopOnce.Do(s.stop)
		}()
	})
}

// Stop halts the scheduler and waits for running jobs, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.stopOnce.Do(s.stop)
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop deadline exceeded")
		return ctx.Err()
	}
}

// IsRunning reports whether the scheduler has not been stopped.
func (s *Scheduler) IsRunning() bool {
	return s.ctx.Err() == nil
}

func (s *Scheduler) stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(job JobFunc, opts JobOptions) {
	name := opts.Name
	if name == "" {
		name = "unnamed"
	}
	if s.hooks.OnJobStart != nil {
		s.hooks.OnJobStart(name)
	}

	ctx := s.ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := safeRun(ctx, job)
	dur := time.Since(start)

	if s.hooks.OnJobFinish != nil {
		s.hooks.OnJobFinish(name, dur, err)
	}
	if err != nil {
		s.logger.Error("job failed", "name", name, "error", err, "duration", dur)
		return
	}
	s.logger.Debug("job completed", "name", name, "duration", dur)
}

func safeRun(ctx context.Context, job JobFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job(ctx)
}
