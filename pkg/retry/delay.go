package retry

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// HeaderRetryAfterMs carries a millisecond hint and wins over HeaderRetryAfter.
	HeaderRetryAfterMs = "Retry-After-Ms"
	// HeaderRetryAfter carries seconds or an HTTP date.
	HeaderRetryAfter = "Retry-After"

	// JitterFraction is the upper bound of positive jitter added to a delay.
	JitterFraction = 0.1
)

// Result is the outcome of a delay computation.
type Result struct {
	// Delay is the jittered wait before the next attempt
	Delay time.Duration
	// Hint is the raw server hint, zero when FromHeader is false
	Hint time.Duration
	// FromHeader reports whether a header hint drove the delay
	FromHeader bool
	// Exceeded means the server asked for more than the remaining budget;
	// the caller must stop retrying
	Exceeded bool
}

// Input collects everything Compute needs. Attempt starts at 1.
type Input struct {
	Header      http.Header
	Attempt     int
	Backoff     Backoff
	MaxDelay    time.Duration
	MinInterval time.Duration
	Remaining   time.Duration
	Now         time.Time
	// Rand returns a value in [0,1); nil disables jitter
	Rand func() float64
}

// HeaderDelay extracts a server wait hint. Unparseable, negative or
// non-finite values are treated as absent; an HTTP date must lie in the future.
func HeaderDelay(h http.Header, now time.Time) (time.Duration, bool) {
	if h == nil {
		return 0, false
	}
	if v := strings.TrimSpace(h.Get(HeaderRetryAfterMs)); v != "" {
		if ms, err := strconv.ParseFloat(v, 64); err == nil && !math.IsInf(ms, 0) && !math.IsNaN(ms) && ms >= 0 {
			return saturate(ms, time.Millisecond), true
		}
	}
	v := strings.TrimSpace(h.Get(HeaderRetryAfter))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if math.IsInf(secs, 0) || math.IsNaN(secs) || secs < 0 {
			return 0, false
		}
		return saturate(secs, time.Second), true
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d, true
		}
	}
	return 0, false
}

// saturate converts v units to a Duration, pinning values beyond the
// Duration range at the maximum so an enormous hint stays over any budget.
func saturate(v float64, unit time.Duration) time.Duration {
	d := v * float64(unit)
	if d >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Exponential returns Initial*Factor^(attempt-1) capped at Max.
func Exponential(attempt int, b Backoff) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := b.Factor
	if factor < 1 {
		factor = 2
	}
	d := b.Initial
	for i := 1; i < attempt; i++ {
		// overflow guard
		if b.Max > 0 && d > time.Duration(float64(b.Max)/factor) {
			return b.Max
		}
		d = time.Duration(float64(d) * factor)
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

// Jitter adds 0-10% positive jitter to d.
func Jitter(d time.Duration, rnd func() float64) time.Duration {
	if d <= 0 || rnd == nil {
		return d
	}
	r := rnd()
	if r < 0 {
		r = 0
	}
	if r >= 1 {
		r = math.Nextafter(1, 0)
	}
	return d + time.Duration(float64(d)*JitterFraction*r)
}

// Compute maps headers, attempt and policy constants to a wait.
// A header hint beyond the remaining budget is never clamped: the result is
// marked Exceeded so the caller gives up deterministically.
func Compute(in Input) Result {
	if hint, ok := HeaderDelay(in.Header, in.Now); ok {
		if hint > in.Remaining {
			return Result{Hint: hint, FromHeader: true, Exceeded: true}
		}
		d := hint
		if d < in.MinInterval {
			d = in.MinInterval
		}
		return Result{Delay: Jitter(d, in.Rand), Hint: hint, FromHeader: true}
	}

	b := in.Backoff
	if in.MaxDelay > 0 && (b.Max <= 0 || in.MaxDelay < b.Max) {
		b.Max = in.MaxDelay
	}
	d := Exponential(in.Attempt, b)
	if d < in.MinInterval {
		d = in.MinInterval
	}
	return Result{Delay: Jitter(d, in.Rand)}
}
