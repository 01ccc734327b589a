package session

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"retrygate/internal/platform/metrics"
	"retrygate/internal/shared"
	"retrygate/pkg/retry"
)

// Per-kind curves.
var timeoutSchedule = []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second}

const (
	rateLimitBase = 2 * time.Second
	socketBase    = time.Second

	timeoutMaxAttempts = 3
	socketMaxAttempts  = 3
)

// ErrNotRetryable is returned by Delay for kinds the policy never retries.
var ErrNotRetryable = errors.New("error kind is not retried")

// Decision is the answer of ShouldRetry.
type Decision struct {
	Retry bool
	Kind  shared.Kind
	// Elapsed is the time spent failing with Kind in this session
	Elapsed time.Duration
	// Attempt is the 1-based failure count for Kind, used to index Delay
	Attempt int
}

// Policy decides whether a whole logical operation is retried and after what
// delay. It holds no state of its own beyond the injected store.
type Policy struct {
	store  StateStore
	limits retry.LimitsFunc
	now    func() time.Time
	rand   func() float64
	log    *slog.Logger
}

// Option configures a Policy.
type Option func(*Policy)

// WithLimits sets the limits source, read on every decision.
func WithLimits(f retry.LimitsFunc) Option {
	return func(p *Policy) {
		if f != nil {
			p.limits = f
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Policy) {
		if now != nil {
			p.now = now
		}
	}
}

// WithRand sets the jitter source; nil disables jitter.
func WithRand(r func() float64) Option {
	return func(p *Policy) { p.rand = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Policy) {
		if l != nil {
			p.log = l
		}
	}
}

// NewPolicy creates a policy over store.
func NewPolicy(store StateStore, opts ...Option) *Policy {
	p := &Policy{
		store:  store,
		limits: retry.DefaultLimits,
		now:    time.Now,
		rand:   rand.Float64,
		log:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Limits returns the limits currently in effect.
func (p *Policy) Limits() retry.Limits {
	return p.limits()
}

// ShouldRetry records a failure of kind for the session. A kind different
// from the last one restarts the elapsed clock. Non-retryable kinds leave the
// stored state untouched.
func (p *Policy) ShouldRetry(sessionID string, kind shared.Kind) Decision {
	if !kind.Retryable() {
		return Decision{Kind: kind}
	}
	now := p.now()
	st := p.store.Observe(sessionID, kind, now)
	p.trackSessions()

	d := Decision{Kind: kind, Elapsed: st.Elapsed(now), Attempt: st.Attempts}
	d.Retry = d.Elapsed < p.limits().Budget
	if limit := maxAttempts(kind); limit > 0 && st.Attempts > limit {
		d.Retry = false
	}
	if !d.Retry {
		p.log.Warn("session retry refused",
			slog.String("session", sessionID),
			slog.String("kind", kind.String()),
			slog.Int("attempt", st.Attempts),
			slog.Duration("elapsed", d.Elapsed),
		)
	}
	return d
}

// Delay returns the wait before attempt of the failed operation.
// A server hint larger than the global budget yields
// *shared.RetryTimeoutExceededError.
func (p *Policy) Delay(rerr *shared.RetryableError, attempt int) (time.Duration, error) {
	if rerr == nil {
		return 0, ErrNotRetryable
	}
	if attempt < 1 {
		attempt = 1
	}
	limits := p.limits()

	switch rerr.Kind {
	case shared.KindRateLimit:
		if hint, ok := retry.HeaderDelay(rerr.Header, p.now()); ok {
			if hint > limits.Budget {
				return 0, &shared.RetryTimeoutExceededError{
					RetryAfterMs: hint.Milliseconds(),
					MaxTimeoutMs: limits.Budget.Milliseconds(),
				}
			}
			return retry.Jitter(hint, p.rand), nil
		}
		maxDelay := limits.MaxDelay
		if maxDelay <= 0 {
			maxDelay = retry.DefaultLimits().MaxDelay
		}
		b := retry.Backoff{Initial: rateLimitBase, Factor: 2, Max: maxDelay}
		return retry.Jitter(retry.Exponential(attempt, b), p.rand), nil

	case shared.KindTimeout:
		i := attempt
		if i > len(timeoutSchedule) {
			i = len(timeoutSchedule)
		}
		return timeoutSchedule[i-1], nil

	case shared.KindSocketConnection:
		if attempt > socketMaxAttempts {
			attempt = socketMaxAttempts
		}
		return retry.Exponential(attempt, retry.Backoff{Initial: socketBase, Factor: 2}), nil
	}
	return 0, fmt.Errorf("%w: %s", ErrNotRetryable, rerr.Kind)
}

// ClearRetryState drops the session's retry state. Call it when the session
// completes or is abandoned.
func (p *Policy) ClearRetryState(sessionID string) {
	p.store.Clear(sessionID)
	p.trackSessions()
}

// ClearIdle drops the state of sessions not seen since cutoff and returns
// their ids. Stores without bulk expiry report nothing.
func (p *Policy) ClearIdle(cutoff time.Time) []string {
	c, ok := p.store.(interface{ ClearIdle(time.Time) []string })
	if !ok {
		return nil
	}
	ids := c.ClearIdle(cutoff)
	p.trackSessions()
	return ids
}

func (p *Policy) trackSessions() {
	if c, ok := p.store.(interface{ Len() int }); ok {
		metrics.TrackedSessions.Set(float64(c.Len()))
	}
}

func maxAttempts(kind shared.Kind) int {
	switch kind {
	case shared.KindTimeout:
		return timeoutMaxAttempts
	case shared.KindSocketConnection:
		return socketMaxAttempts
	}
	return 0
}
