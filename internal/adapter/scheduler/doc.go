// Package scheduler runs periodic background jobs on cron schedules
// (github.com/robfig/cron/v3) and hosts the retry-state reaper.
//
// Features:
//   - 5-field, 6-field and descriptor schedules ("@every 10m", "@hourly")
//   - Overlap control (Allow/Skip/Delay)
//   - Per-job timeouts, panic recovery and optional hooks
//   - Graceful shutdown bounded by a context
//
// Retry state is created per session and must be removed explicitly. Sessions
// that end without calling ClearRetryState are picked up by the Reaper:
//
//	s := scheduler.New(ctx, scheduler.Config{Logger: log})
//	reaper := scheduler.NewReaper(store, policy, cfg.Reaper.IdleTTL, log)
//	if _, err := reaper.Register(s, cfg.Reaper.Schedule); err != nil {
//		return err
//	}
//	s.Start()
//	defer s.Stop(shutdownCtx)
package scheduler
