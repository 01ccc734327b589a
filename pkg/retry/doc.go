// Package retry provides the time arithmetic and waiting primitives used to
// absorb rate limits and transient failures from remote LLM providers.
//
// Key Features:
//   - Server hint parsing (Retry-After-Ms, Retry-After seconds or HTTP date)
//   - Exponential backoff with 0-10% positive jitter
//   - A distinguishable "exceeded" result instead of silent clamping
//   - Isolated waits bounded by the global budget, not by request timeouts
//   - Polled user cancellation (CancelToken) with a bounded notice delay
//
// Computing a delay:
//
//	res := retry.Compute(retry.Input{
//	    Header:      resp.Header,
//	    Attempt:     attempt,
//	    Backoff:     retry.FetchBackoff(limits),
//	    MaxDelay:    limits.MaxDelay,
//	    MinInterval: limits.MinInterval,
//	    Remaining:   limits.Remaining(time.Since(start)),
//	    Now:         time.Now(),
//	    Rand:        rand.Float64,
//	})
//	if res.Exceeded {
//	    return resp, nil // give up, let the caller decide
//	}
//
// Waiting in isolation:
//
//	var w retry.Waiter
//	switch w.Wait(res.Delay, remaining, retry.ContextToken(userCtx)) {
//	case retry.WaitCompleted:
//	    // retry
//	case retry.WaitBudgetExceeded, retry.WaitUserCancelled:
//	    // surface the last response
//	}
//
// A request context that only carries a deadline never aborts a wait:
// ContextToken reports context.Canceled and nothing else.
//
// For HTTP transport wrapping see internal/platform/httpclient, for the
// session-level policy see internal/session.
package retry
