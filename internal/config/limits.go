package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"retrygate/pkg/retry"
)

// Retry limit variables. They are read on every call to RetryLimits so a
// changed environment takes effect on the next delay computation.
const (
	EnvRetryTimeout     = "RETRY_TIMEOUT"         // seconds
	EnvRetryMaxDelay    = "RETRY_MAX_DELAY_MS"    // milliseconds
	EnvRetryMinInterval = "RETRY_MIN_INTERVAL_MS" // milliseconds
	EnvRetryMaxBackoff  = "RETRY_MAX_BACKOFF_MS"  // milliseconds
)

// RetryLimits returns the current retry limits. Missing or invalid values
// fall back to retry.DefaultLimits.
func RetryLimits() retry.Limits {
	def := retry.DefaultLimits()
	l := retry.Limits{
		Budget:      numberEnv(EnvRetryTimeout, "gte=0", time.Second, def.Budget),
		MaxDelay:    numberEnv(EnvRetryMaxDelay, "gt=0", time.Millisecond, def.MaxDelay),
		MinInterval: numberEnv(EnvRetryMinInterval, "gte=0", time.Millisecond, def.MinInterval),
		MaxBackoff:  numberEnv(EnvRetryMaxBackoff, "gt=0", time.Millisecond, def.MaxBackoff),
	}
	if err := l.Normalize(); err != nil {
		return def
	}
	return l
}

// numberEnv parses a float env var in unit, checked against tag.
func numberEnv(k, tag string, unit, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || validate.Var(n, tag) != nil {
		return def
	}
	d := n * float64(unit)
	// beyond time.Duration range
	if d > float64(1<<63-1) {
		return def
	}
	return time.Duration(d)
}
