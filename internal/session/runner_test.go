package session

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retrygate/internal/shared"
	"retrygate/pkg/retry"
)

type recordingWaiter struct {
	delays    []time.Duration
	remaining []time.Duration
	outcome   retry.WaitOutcome
}

func (w *recordingWaiter) Wait(d, remaining time.Duration, _ retry.CancelToken) retry.WaitOutcome {
	w.delays = append(w.delays, d)
	w.remaining = append(w.remaining, remaining)
	return w.outcome
}

func failing(errs ...error) (func(context.Context) error, *int) {
	calls := 0
	return func(context.Context) error {
		calls++
		if calls <= len(errs) {
			return errs[calls-1]
		}
		return nil
	}, &calls
}

func newTestRunner(opts ...RunnerOption) (*Runner, *Store, *recordingWaiter) {
	p, store := newTestPolicy(newFakeClock())
	w := &recordingWaiter{outcome: retry.WaitCompleted}
	return NewRunner(p, append([]RunnerOption{WithWaiter(w)}, opts...)...), store, w
}

func TestRunnerRecoversFromSocketDrops(t *testing.T) {
	r, store, w := newTestRunner()
	op, calls := failing(shared.ErrSocketClosed, shared.ErrSocketClosed)

	require.NoError(t, r.Do(context.Background(), "s", op))
	assert.Equal(t, 3, *calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, w.delays)
	assert.Equal(t, 0, store.Len(), "state cleared after recovery")
}

func TestRunnerSocketAttemptCap(t *testing.T) {
	r, _, w := newTestRunner()
	calls := 0
	err := r.Do(context.Background(), "s", func(context.Context) error {
		calls++
		return shared.ErrSocketClosed
	})

	assert.ErrorIs(t, err, shared.ErrSocketClosed)
	assert.Equal(t, 4, calls)
	assert.Len(t, w.delays, 3)
}

func TestRunnerTimeoutSchedule(t *testing.T) {
	r, _, w := newTestRunner()
	op, _ := failing(shared.ErrTimeout, shared.ErrTimeout, shared.ErrTimeout)

	require.NoError(t, r.Do(context.Background(), "s", op))
	assert.Equal(t, []time.Duration{30 * time.Second, time.Minute, 2 * time.Minute}, w.delays)
	for _, rem := range w.remaining {
		assert.Equal(t, retry.DefaultLimits().Budget, rem)
	}
}

func TestRunnerDoesNotRetryUnknownOrParse(t *testing.T) {
	for _, e := range []error{
		errors.New("bad request"),
		&shared.StreamParseError{Err: errors.New("unexpected end of JSON input")},
		context.Canceled,
	} {
		r, store, w := newTestRunner()
		op, calls := failing(e)

		err := r.Do(context.Background(), "s", op)
		assert.Same(t, e, err)
		assert.Equal(t, 1, *calls)
		assert.Empty(t, w.delays)
		assert.Equal(t, 0, store.Len())
	}
}

func TestRunnerTerminalBudgetError(t *testing.T) {
	hooked := make(chan *shared.RetryTimeoutExceededError, 1)
	release := make(chan struct{})
	r, store, w := newTestRunner(WithTerminalHook(func(ctx context.Context, id string, err *shared.RetryTimeoutExceededError) {
		assert.Equal(t, "s", id)
		assert.NoError(t, ctx.Err())
		<-release
		hooked <- err
	}))

	h := http.Header{}
	h.Set("Retry-After", "691200")
	op, calls := failing(&shared.APIError{StatusCode: http.StatusTooManyRequests, Header: h})

	ctx, cancel := context.WithCancel(context.Background())
	err := r.Do(ctx, "s", op)
	cancel()
	close(release)

	var rte *shared.RetryTimeoutExceededError
	require.True(t, errors.As(err, &rte))
	assert.Equal(t, int64(691200000), rte.RetryAfterMs)
	assert.Equal(t, int64(604800000), rte.MaxTimeoutMs)
	assert.Equal(t, 1, *calls)
	assert.Empty(t, w.delays)
	assert.Equal(t, 0, store.Len())

	select {
	case got := <-hooked:
		assert.Same(t, rte, got)
	case <-time.After(time.Second):
		t.Fatal("terminal hook not called")
	}
}

func TestRunnerGiveUpResetsAttemptsForNextOperation(t *testing.T) {
	r, store, w := newTestRunner()

	err := r.Do(context.Background(), "s", func(context.Context) error {
		return shared.ErrSocketClosed
	})
	require.ErrorIs(t, err, shared.ErrSocketClosed)
	assert.Equal(t, 0, store.Len())

	w.delays = nil
	op, calls := failing(shared.ErrSocketClosed)
	require.NoError(t, r.Do(context.Background(), "s", op))
	assert.Equal(t, 2, *calls)
	assert.Equal(t, []time.Duration{time.Second}, w.delays)
}

func TestRunnerWaitEndsEarly(t *testing.T) {
	for _, outcome := range []retry.WaitOutcome{retry.WaitUserCancelled, retry.WaitBudgetExceeded} {
		t.Run(outcome.String(), func(t *testing.T) {
			r, store, w := newTestRunner()
			w.outcome = outcome
			last := errors.New("rate limit reached")
			op, calls := failing(last, last)

			assert.Same(t, last, r.Do(context.Background(), "s", op))
			assert.Equal(t, 1, *calls)
			assert.Len(t, w.delays, 1)
			assert.Equal(t, 0, store.Len())
		})
	}
}

func TestRunnerAttemptTimeoutStaysInsideCall(t *testing.T) {
	r, _, _ := newTestRunner(WithAttemptTimeout(time.Minute))
	var deadlines int
	err := r.Do(context.Background(), "s", func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			deadlines++
		}
		if deadlines < 2 {
			return shared.ErrTimeout
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, deadlines)
}
