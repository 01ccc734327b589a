// Package session implements the session-level retry policy: per-session
// failure tracking and kind-specific backoff for whole logical operations.
//
// The fetch wrapper in internal/platform/httpclient absorbs 429s and socket
// blips inside one HTTP exchange. This package handles what escapes it:
//
//	store := session.NewStore()
//	policy := session.NewPolicy(store, session.WithLimits(config.RetryLimits))
//	runner := session.NewRunner(policy, session.WithTerminalHook(notifier.RetryExhausted))
//
//	err := runner.Do(ctx, sessionID, func(ctx context.Context) error {
//	    return client.Chat(ctx, req)
//	})
//
// State lives in the Store until ClearRetryState is called; the scheduler
// reaper clears sessions that went idle.
package session
