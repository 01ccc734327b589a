package retry

import (
	"sync"
	"time"
)

// DefaultPollInterval bounds how late a user cancellation is noticed during a
// long wait.
const DefaultPollInterval = 10 * time.Second

// WaitOutcome is the tagged result of an isolated wait.
type WaitOutcome int

const (
	// WaitCompleted means the full delay elapsed
	WaitCompleted WaitOutcome = iota
	// WaitBudgetExceeded means the global budget ran out first
	WaitBudgetExceeded
	// WaitUserCancelled means the polled cancel token fired
	WaitUserCancelled
)

// String returns the string representation of the outcome.
func (o WaitOutcome) String() string {
	switch o {
	case WaitCompleted:
		return "completed"
	case WaitBudgetExceeded:
		return "budget_exceeded"
	case WaitUserCancelled:
		return "user_cancelled"
	default:
		return "unknown"
	}
}

// Waiter performs isolated waits. Its zero value is ready to use.
type Waiter struct {
	// PollInterval is how often the cancel token is checked (default 10s)
	PollInterval time.Duration
	// Now returns current time (for testing, defaults to time.Now)
	Now func() time.Time
}

// WaitHandle is one in-flight isolated wait. It owns its cancellation
// channel; nothing tied to the HTTP request that caused the wait can close it.
type WaitHandle struct {
	delay    time.Duration
	deadline time.Time
	exceeds  bool
	token    CancelToken

	timer  *time.Timer
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

// Begin arms a wait for d, bounded by remaining global budget. token may be nil.
func (w *Waiter) Begin(d, remaining time.Duration, token CancelToken) *WaitHandle {
	now := time.Now
	if w != nil && w.Now != nil {
		now = w.Now
	}
	poll := DefaultPollInterval
	if w != nil && w.PollInterval > 0 {
		poll = w.PollInterval
	}
	if d < 0 {
		d = 0
	}
	if remaining < 0 {
		remaining = 0
	}

	h := &WaitHandle{
		delay:    min(d, remaining),
		deadline: now().Add(remaining),
		exceeds:  d > remaining,
		token:    token,
		done:     make(chan struct{}),
	}
	h.timer = time.NewTimer(h.delay)
	if token != nil {
		h.ticker = time.NewTicker(poll)
	}
	return h
}

// Deadline is the instant the global budget runs out.
func (h *WaitHandle) Deadline() time.Time { return h.deadline }

// Stop releases the wait early; a blocked Wait reports WaitUserCancelled.
func (h *WaitHandle) Stop() {
	h.once.Do(func() { close(h.done) })
}

// Wait blocks until the handle resolves and releases every timer it holds.
func (h *WaitHandle) Wait() WaitOutcome {
	defer h.release()

	if h.token != nil && h.token.Cancelled() {
		return WaitUserCancelled
	}

	var poll <-chan time.Time
	if h.ticker != nil {
		poll = h.ticker.C
	}
	for {
		select {
		case <-h.timer.C:
			if h.exceeds {
				return WaitBudgetExceeded
			}
			if h.token != nil && h.token.Cancelled() {
				return WaitUserCancelled
			}
			return WaitCompleted
		case <-poll:
			if h.token.Cancelled() {
				return WaitUserCancelled
			}
		case <-h.done:
			return WaitUserCancelled
		}
	}
}

func (h *WaitHandle) release() {
	h.timer.Stop()
	if h.ticker != nil {
		h.ticker.Stop()
	}
	h.once.Do(func() { close(h.done) })
}

// Wait waits for d unless the remaining budget runs out or token is cancelled.
func (w *Waiter) Wait(d, remaining time.Duration, token CancelToken) WaitOutcome {
	return w.Begin(d, remaining, token).Wait()
}
