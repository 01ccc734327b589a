// Package shared holds the failure taxonomy used by every retry layer.
//
// Provider errors arrive in many shapes: HTTP statuses, net.Error values,
// syscall errnos, SDK messages, broken JSON. Classify folds all of them into
// one *RetryableError carrying a Kind, the status code and the response
// headers so later layers never re-inspect the raw error.
//
// Kinds are checked in a fixed priority:
//
//	RetryTimeoutExceeded > Aborted > Timeout > SocketConnection > StreamParse > RateLimit > Unknown
//
// Only RateLimit, Timeout and SocketConnection are retryable. StreamParse is
// handled by the consumer skipping the event, Aborted and
// RetryTimeoutExceeded are terminal.
//
// Adapters mark their failures with the sentinels or typed errors:
//
//	return &shared.StreamParseError{Event: raw, Err: err}
//	return shared.NewAPIError(resp, body)
//	return shared.Wrap(shared.ErrSocketClosed, "read stream")
//
// Callers branch on the kind:
//
//	rerr := shared.Classify(err)
//	if rerr.Retryable {
//	    delay, err := policy.Delay(rerr, attempt)
//	    ...
//	}
package shared
