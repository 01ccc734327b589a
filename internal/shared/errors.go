package shared

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Common sentinel errors that adapters can wrap to force a classification.
var (
	// ErrTimeout indicates that a provider call timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrSocketClosed indicates that the connection dropped mid-exchange
	ErrSocketClosed = errors.New("socket connection was closed unexpectedly")

	// ErrEmptyFinish indicates a stream that ended with an unknown finish
	// reason before producing a single token
	ErrEmptyFinish = errors.New("stream finished with unknown reason and zero tokens")

	// ErrStreamParse indicates a malformed event in a provider stream
	ErrStreamParse = errors.New("malformed stream event")
)

// Kind represents a category of provider failure.
type Kind int

const (
	// KindUnknown represents an unclassified error
	KindUnknown Kind = iota
	// KindRateLimit represents HTTP 429 and rate-limit messages
	KindRateLimit
	// KindTimeout represents provider or connection timeouts
	KindTimeout
	// KindSocketConnection represents resets and dropped connections
	KindSocketConnection
	// KindStreamParse represents corrupted stream events
	KindStreamParse
	// KindAborted represents explicit cancellation
	KindAborted
	// KindRetryTimeoutExceeded represents an exhausted global budget
	KindRetryTimeoutExceeded
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindRateLimit:
		return "RateLimit"
	case KindTimeout:
		return "Timeout"
	case KindSocketConnection:
		return "SocketConnection"
	case KindStreamParse:
		return "StreamParse"
	case KindAborted:
		return "Aborted"
	case KindRetryTimeoutExceeded:
		return "RetryTimeoutExceeded"
	default:
		return "Unknown"
	}
}

// Retryable reports the static retryability of the kind. StreamParse is
// deliberately false: the consumer skips the event instead of resending.
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimit, KindTimeout, KindSocketConnection:
		return true
	default:
		return false
	}
}

// RetryableError is a classified failure. It is immutable once Classify
// returns it.
type RetryableError struct {
	Kind       Kind
	Message    string
	Retryable  bool
	StatusCode int
	Header     http.Header
	RawText    string

	err error
}

func (e *RetryableError) Error() string {
	return e.Kind.String() + ": " + e.Message
}

func (e *RetryableError) Unwrap() error {
	return e.err
}

// APIError is returned by provider adapters for non-2xx responses.
type APIError struct {
	StatusCode int
	Header     http.Header
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider API error (status %d): %s", e.StatusCode, truncate(e.Body, 200))
}

// NewAPIError builds an APIError from a response and its already-read body.
func NewAPIError(resp *http.Response, body []byte) *APIError {
	return &APIError{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: string(body)}
}

// AbortError marks an explicit user abort.
type AbortError struct {
	Reason string
}

func (e *AbortError) Error() string {
	if e.Reason == "" {
		return "operation aborted"
	}
	return "operation aborted: " + e.Reason
}

// StreamParseError describes one corrupted stream event.
type StreamParseError struct {
	Event string
	Err   error
}

func (e *StreamParseError) Error() string {
	return fmt.Sprintf("%s: %v", ErrStreamParse, e.Err)
}

func (e *StreamParseError) Unwrap() []error {
	return []error{ErrStreamParse, e.Err}
}

// RetryTimeoutExceededError is the single terminal error of the retry layer:
// the server asked for a wait the global budget cannot cover.
type RetryTimeoutExceededError struct {
	RetryAfterMs int64
	MaxTimeoutMs int64
}

func (e *RetryTimeoutExceededError) Error() string {
	return fmt.Sprintf("retry wait of %dms exceeds retry timeout of %dms", e.RetryAfterMs, e.MaxTimeoutMs)
}

// Kind implements the kinded interface.
func (e *RetryTimeoutExceededError) Kind() Kind { return KindRetryTimeoutExceeded }

// KindOf returns the Kind of err.
//
// Example:
//
//	switch shared.KindOf(err) {
//	case shared.KindRateLimit:
//	    // back off using the response headers
//	case shared.KindStreamParse:
//	    // skip the event and keep reading
//	}
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	return Classify(err).Kind
}

// HasKind reports whether the given error has the specified kind.
func HasKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryTimeoutExceeded reports whether err is the terminal budget error.
func IsRetryTimeoutExceeded(err error) bool {
	var rte *RetryTimeoutExceededError
	return errors.As(err, &rte)
}

// Wrap wraps an error with additional context.
// It returns a new error that formats as "context: err".
// If err is nil, Wrap returns nil.
// If context is empty, returns the original error.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	if context == "" {
		return err
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	context := fmt.Sprintf(format, args...)
	if context == "" {
		return err
	}
	return fmt.Errorf("%s: %w", context, err)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
