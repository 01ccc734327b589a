package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"retrygate/internal/platform/logger"
	"retrygate/internal/platform/metrics"
	"retrygate/internal/shared"
	"retrygate/pkg/retry"
)

// Waiter performs one isolated wait.
type Waiter interface {
	Wait(d, remaining time.Duration, token retry.CancelToken) retry.WaitOutcome
}

// TerminalFunc is called when a session gives up on an exhausted budget.
type TerminalFunc func(ctx context.Context, sessionID string, err *shared.RetryTimeoutExceededError)

// Runner drives a logical operation through classify, decide, wait, retry.
type Runner struct {
	policy         *Policy
	waiter         Waiter
	log            *slog.Logger
	onTerminal     TerminalFunc
	attemptTimeout time.Duration
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithWaiter replaces the isolated wait controller.
func WithWaiter(w Waiter) RunnerOption {
	return func(r *Runner) {
		if w != nil {
			r.waiter = w
		}
	}
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// WithTerminalHook registers fn for RetryTimeoutExceeded failures.
func WithTerminalHook(fn TerminalFunc) RunnerOption {
	return func(r *Runner) { r.onTerminal = fn }
}

// WithAttemptTimeout bounds each call of the operation. The bound never
// reaches the wait between attempts.
func WithAttemptTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.attemptTimeout = d }
}

// NewRunner creates a runner over p.
func NewRunner(p *Policy, opts ...RunnerOption) *Runner {
	r := &Runner{
		policy: p,
		waiter: &retry.Waiter{},
		log:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the underlying policy.
func (r *Runner) Policy() *Policy { return r.policy }

// Do runs op until it succeeds, fails with a kind the policy does not retry,
// or the budget runs out. The caller only sees the final result: the last
// real error, or *shared.RetryTimeoutExceededError when the server asks for
// more than the budget. Cancelling ctx aborts waits within the poll interval;
// its deadline does not. Giving up drops the session's retry state, so the
// next operation starts with a fresh attempt count.
func (r *Runner) Do(ctx context.Context, sessionID string, op func(context.Context) error) error {
	start := r.policy.now()
	token := retry.ContextToken(ctx)
	log := logger.ForSession(r.log, sessionID)
	failed := false

	for {
		err := r.call(ctx, op)
		if err == nil {
			if failed {
				r.policy.ClearRetryState(sessionID)
			}
			return nil
		}

		rerr := shared.Classify(err)
		dec := r.policy.ShouldRetry(sessionID, rerr.Kind)
		if !dec.Retry {
			metrics.ObserveGiveUp(metrics.LayerSession, rerr.Kind.String())
			r.policy.ClearRetryState(sessionID)
			return err
		}
		failed = true

		delay, derr := r.policy.Delay(rerr, dec.Attempt)
		if derr != nil {
			r.policy.ClearRetryState(sessionID)
			var rte *shared.RetryTimeoutExceededError
			if errors.As(derr, &rte) {
				metrics.ObserveGiveUp(metrics.LayerSession, rte.Kind().String())
				log.Error("retry budget cannot cover server wait",
					slog.Int64("retry_after_ms", rte.RetryAfterMs),
					slog.Int64("max_timeout_ms", rte.MaxTimeoutMs),
				)
				if r.onTerminal != nil {
					go r.onTerminal(context.WithoutCancel(ctx), sessionID, rte)
				}
				return derr
			}
			return err
		}

		elapsed := r.policy.now().Sub(start)
		if dec.Elapsed > elapsed {
			elapsed = dec.Elapsed
		}
		remaining := r.policy.Limits().Remaining(elapsed)

		log.Warn("retrying operation",
			slog.String("kind", rerr.Kind.String()),
			slog.Int("attempt", dec.Attempt),
			slog.Duration("wait", delay),
			slog.Any("error", err),
		)
		outcome := r.waiter.Wait(delay, remaining, token)
		metrics.ObserveWait(metrics.LayerSession, outcome.String())
		if outcome != retry.WaitCompleted {
			log.Warn("retry wait ended early", slog.String("outcome", outcome.String()))
			r.policy.ClearRetryState(sessionID)
			return err
		}
		metrics.ObserveRetry(metrics.LayerSession, rerr.Kind.String(), delay)
	}
}

func (r *Runner) call(ctx context.Context, op func(context.Context) error) error {
	if r.attemptTimeout <= 0 {
		return op(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
	defer cancel()
	return op(actx)
}
