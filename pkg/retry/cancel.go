package retry

import (
	"context"
	"errors"
	"sync/atomic"
)

// CancelToken reports user-initiated cancellation. Waits poll it; nothing
// ever subscribes to it.
type CancelToken interface {
	Cancelled() bool
}

// CancelSource is an explicit, manually triggered CancelToken.
type CancelSource struct {
	cancelled atomic.Bool
}

// NewCancelSource returns a token that is not cancelled.
func NewCancelSource() *CancelSource {
	return &CancelSource{}
}

// Cancel marks the token cancelled. Safe to call more than once.
func (c *CancelSource) Cancel() { c.cancelled.Store(true) }

// Cancelled implements CancelToken.
func (c *CancelSource) Cancelled() bool { return c.cancelled.Load() }

type contextToken struct {
	ctx context.Context
}

// ContextToken adapts ctx into a CancelToken that only reports explicit
// cancellation. Deadline expiry is ignored, so a request timeout carried by
// ctx can never abort a wait.
func ContextToken(ctx context.Context) CancelToken {
	if ctx == nil {
		return nil
	}
	return contextToken{ctx: ctx}
}

func (t contextToken) Cancelled() bool {
	return errors.Is(t.ctx.Err(), context.Canceled)
}

type anyToken []CancelToken

// AnyToken is cancelled as soon as one of tokens is. Nil tokens are skipped;
// it returns nil when nothing is left.
func AnyToken(tokens ...CancelToken) CancelToken {
	var out anyToken
	for _, t := range tokens {
		if t != nil {
			out = append(out, t)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}

func (a anyToken) Cancelled() bool {
	for _, t := range a {
		if t.Cancelled() {
			return true
		}
	}
	return false
}
