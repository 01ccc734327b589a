package retry

import (
	"errors"
	"time"
)

// Limits holds the global retry constants. They are read fresh for every
// delay computation, so callers pass a LimitsFunc rather than a snapshot.
type Limits struct {
	// Budget is the wall-clock time an operation may keep retrying
	Budget time.Duration
	// MaxDelay caps a single computed wait
	MaxDelay time.Duration
	// MinInterval is the floor applied to every computed delay
	MinInterval time.Duration
	// MaxBackoff caps header-less exponential backoff
	MaxBackoff time.Duration
}

// LimitsFunc returns the limits in effect right now.
type LimitsFunc func() Limits

// DefaultLimits returns the production defaults: a 7 day budget, 20 minute
// single wait cap, 30 second floor and 30 second header-less ceiling.
func DefaultLimits() Limits {
	return Limits{
		Budget:      7 * 24 * time.Hour,
		MaxDelay:    20 * time.Minute,
		MinInterval: 30 * time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

// Static returns a LimitsFunc that always yields l.
func Static(l Limits) LimitsFunc {
	return func() Limits { return l }
}

// Normalize validates the limits
func (l *Limits) Normalize() error {
	if l.Budget < 0 {
		return errors.New("retry: Budget cannot be negative")
	}
	if l.MinInterval < 0 {
		return errors.New("retry: MinInterval cannot be negative")
	}
	if l.MaxDelay <= 0 {
		l.MaxDelay = DefaultLimits().MaxDelay
	}
	if l.MaxBackoff <= 0 {
		l.MaxBackoff = DefaultLimits().MaxBackoff
	}
	return nil
}

// Backoff describes one exponential curve.
type Backoff struct {
	// Initial is the delay for attempt 1
	Initial time.Duration
	// Factor is applied once per further attempt
	Factor float64
	// Max caps the curve before jitter (0 = uncapped)
	Max time.Duration
}

// FetchBackoff is the curve used by the fetch-level wrapper when no header
// hint is usable.
func FetchBackoff(l Limits) Backoff {
	return Backoff{Initial: 2 * time.Second, Factor: 2, Max: l.MaxBackoff}
}

// Remaining returns how much of the budget is left after elapsed.
func (l Limits) Remaining(elapsed time.Duration) time.Duration {
	if r := l.Budget - elapsed; r > 0 {
		return r
	}
	return 0
}
