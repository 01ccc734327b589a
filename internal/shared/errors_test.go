package shared_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retrygate/internal/shared"
)

func syntaxError() error {
	var v map[string]any
	return json.Unmarshal([]byte("{bad"), &v)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      shared.Kind
		retryable bool
	}{
		{"context canceled", context.Canceled, shared.KindAborted, false},
		{"abort error", &shared.AbortError{Reason: "user pressed stop"}, shared.KindAborted, false},
		{"aborted message", errors.New("request aborted by client"), shared.KindAborted, false},
		{"deadline exceeded", context.DeadlineExceeded, shared.KindTimeout, true},
		{"timeout sentinel", shared.Wrap(shared.ErrTimeout, "chat"), shared.KindTimeout, true},
		{"timed out message", errors.New("upstream timed out"), shared.KindTimeout, true},
		{
			"connection reset errno",
			&net.OpError{Op: "read", Net: "tcp", Err: os.NewSyscallError("read", syscall.ECONNRESET)},
			shared.KindSocketConnection, true,
		},
		{"socket sentinel", shared.ErrSocketClosed, shared.KindSocketConnection, true},
		{"unexpected eof", fmt.Errorf("read body: %w", io.ErrUnexpectedEOF), shared.KindSocketConnection, true},
		{"empty finish", shared.ErrEmptyFinish, shared.KindSocketConnection, true},
		{"socket hang up message", errors.New("socket hang up"), shared.KindSocketConnection, true},
		{"connection aborted by peer", errors.New("read tcp 10.0.0.1:51234->10.0.0.2:443: connection aborted by peer"), shared.KindSocketConnection, true},
		{"wrapped abort error", fmt.Errorf("chat: %w", &shared.AbortError{}), shared.KindAborted, false},
		{"stream parse error", &shared.StreamParseError{Event: "{", Err: io.ErrUnexpectedEOF}, shared.KindStreamParse, false},
		{"json syntax error", syntaxError(), shared.KindStreamParse, false},
		{"rate limit message", errors.New("Rate limit reached for requests"), shared.KindRateLimit, true},
		{"too many requests message", errors.New("Too Many Requests"), shared.KindRateLimit, true},
		{"api 429", &shared.APIError{StatusCode: http.StatusTooManyRequests, Body: "slow down"}, shared.KindRateLimit, true},
		{"api 500", &shared.APIError{StatusCode: http.StatusInternalServerError, Body: "boom"}, shared.KindUnknown, false},
		{"unknown", errors.New("something odd"), shared.KindUnknown, false},
		{"budget exceeded", &shared.RetryTimeoutExceededError{RetryAfterMs: 10, MaxTimeoutMs: 5}, shared.KindRetryTimeoutExceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rerr := shared.Classify(tt.err)
			require.NotNil(t, rerr)
			assert.Equal(t, tt.kind, rerr.Kind)
			assert.Equal(t, tt.retryable, rerr.Retryable)
			assert.True(t, errors.Is(rerr, tt.err))
		})
	}
}

func TestClassifyNil(t *testing.T) {
	assert.Nil(t, shared.Classify(nil))
	assert.Equal(t, shared.KindUnknown, shared.KindOf(nil))
}

func TestClassifyPriority(t *testing.T) {
	// timeout outranks rate limit when both appear
	assert.Equal(t, shared.KindTimeout, shared.KindOf(errors.New("rate limit: request timed out")))
	// cancellation outranks everything but the budget error
	assert.Equal(t, shared.KindAborted, shared.KindOf(fmt.Errorf("%w: %w", context.Canceled, shared.ErrSocketClosed)))
	// a decoder wrapping io.ErrUnexpectedEOF is still a parse failure
	assert.Equal(t, shared.KindStreamParse, shared.KindOf(&shared.StreamParseError{Err: io.ErrUnexpectedEOF}))
	// the budget error message mentions a timeout, kind must not
	assert.Equal(t, shared.KindRetryTimeoutExceeded, shared.KindOf(&shared.RetryTimeoutExceededError{}))
}

func TestClassifyCarriesResponse(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "60")
	api := &shared.APIError{StatusCode: http.StatusTooManyRequests, Header: h, Body: `{"error":"rate_limited"}`}

	rerr := shared.Classify(fmt.Errorf("chat completion: %w", api))
	require.NotNil(t, rerr)
	assert.Equal(t, shared.KindRateLimit, rerr.Kind)
	assert.Equal(t, http.StatusTooManyRequests, rerr.StatusCode)
	assert.Equal(t, "60", rerr.Header.Get("retry-after"))
	assert.Equal(t, api.Body, rerr.RawText)
}

func TestClassifyPassesThrough(t *testing.T) {
	first := shared.Classify(errors.New("socket hang up"))
	second := shared.Classify(shared.Wrap(first, "retry"))
	assert.Same(t, first, second)
}

func TestRetryableErrorFormat(t *testing.T) {
	rerr := shared.Classify(errors.New("too many requests"))
	assert.Equal(t, "RateLimit: too many requests", rerr.Error())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "RateLimit", shared.KindRateLimit.String())
	assert.Equal(t, "SocketConnection", shared.KindSocketConnection.String())
	assert.Equal(t, "RetryTimeoutExceeded", shared.KindRetryTimeoutExceeded.String())
	assert.Equal(t, "Unknown", shared.Kind(99).String())
}

func TestKindRetryable(t *testing.T) {
	assert.True(t, shared.KindRateLimit.Retryable())
	assert.True(t, shared.KindTimeout.Retryable())
	assert.True(t, shared.KindSocketConnection.Retryable())
	assert.False(t, shared.KindStreamParse.Retryable())
	assert.False(t, shared.KindAborted.Retryable())
	assert.False(t, shared.KindRetryTimeoutExceeded.Retryable())
	assert.False(t, shared.KindUnknown.Retryable())
}

func TestHasKind(t *testing.T) {
	err := shared.Wrap(shared.ErrSocketClosed, "stream")
	assert.True(t, shared.HasKind(err, shared.KindSocketConnection))
	assert.False(t, shared.HasKind(err, shared.KindTimeout))
}

func TestRetryTimeoutExceededError(t *testing.T) {
	err := shared.Wrap(&shared.RetryTimeoutExceededError{RetryAfterMs: 691200000, MaxTimeoutMs: 604800000}, "session")
	assert.True(t, shared.IsRetryTimeoutExceeded(err))
	assert.Equal(t, "session: retry wait of 691200000ms exceeds retry timeout of 604800000ms", err.Error())

	var rte *shared.RetryTimeoutExceededError
	require.True(t, errors.As(err, &rte))
	assert.Equal(t, shared.KindRetryTimeoutExceeded, rte.Kind())
	assert.False(t, shared.IsRetryTimeoutExceeded(errors.New("retry timeout")))
}

func TestStreamParseErrorUnwrap(t *testing.T) {
	inner := syntaxError()
	err := &shared.StreamParseError{Event: "{bad", Err: inner}
	assert.True(t, errors.Is(err, shared.ErrStreamParse))
	assert.True(t, errors.Is(err, inner))
	assert.True(t, shared.IsStreamParse(err))
}

func TestAPIErrorMessage(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusServiceUnavailable, Header: http.Header{"X-Request-Id": {"abc"}}}
	err := shared.NewAPIError(resp, []byte("  overloaded \n"))
	assert.Equal(t, "provider API error (status 503): overloaded", err.Error())
	assert.Equal(t, "abc", err.Header.Get("X-Request-Id"))

	resp.Header.Set("X-Request-Id", "changed")
	assert.Equal(t, "abc", err.Header.Get("X-Request-Id"), "header must be a copy")
}

func TestIsCanceledIgnoresDeadline(t *testing.T) {
	assert.True(t, shared.IsCanceled(context.Canceled))
	assert.False(t, shared.IsCanceled(context.DeadlineExceeded))
	assert.False(t, shared.IsCanceled(nil))
}

func TestWrap(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		context  string
		expected string
		isNil    bool
	}{
		{name: "nil error", err: nil, context: "some context", isNil: true},
		{name: "simple error", err: errors.New("original"), context: "wrapper", expected: "wrapper: original"},
		{name: "empty context", err: errors.New("original"), context: "", expected: "original"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := shared.Wrap(tt.err, tt.context)
			if tt.isNil {
				assert.Nil(t, result)
				return
			}
			require.NotNil(t, result)
			assert.Equal(t, tt.expected, result.Error())
			assert.True(t, errors.Is(result, tt.err))
		})
	}
}

func TestWrapf(t *testing.T) {
	assert.Nil(t, shared.Wrapf(nil, "attempt %d", 1))

	orig := errors.New("original")
	err := shared.Wrapf(orig, "attempt %d of %s", 2, "chat")
	assert.Equal(t, "attempt 2 of chat: original", err.Error())
	assert.True(t, errors.Is(err, orig))
	assert.Same(t, orig, shared.Wrapf(orig, ""))
}
