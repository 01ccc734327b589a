package shared

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

type statusCoder interface {
	StatusCode() int
}

type headerCarrier interface {
	ResponseHeader() http.Header
}

var abortVocabulary = []string{
	"operation aborted",
	"request aborted",
	"aborterror",
}

var timeoutVocabulary = []string{
	"timed out",
	"timeout",
	"deadline exceeded",
}

var socketVocabulary = []string{
	"socket connection was closed unexpectedly",
	"socket hang up",
	"connection reset",
	"connection refused",
	"connection aborted",
	"econnreset",
	"econnrefused",
	"broken pipe",
	"unexpected eof",
	"use of closed network connection",
	"network is unreachable",
}

var streamParseVocabulary = []string{
	"json parse",
	"jsonparseerror",
	"unexpected end of json",
	"invalid character",
	"malformed",
	"failed to parse stream",
}

var rateLimitVocabulary = []string{
	"rate limit",
	"rate_limit",
	"ratelimit",
	"too many requests",
}

// Classify maps an arbitrary failure to exactly one Kind, checked in
// priority order: cancellation, timeout, socket, stream parse, rate limit.
// A *RetryableError passes through untouched.
func Classify(err error) *RetryableError {
	if err == nil {
		return nil
	}
	var already *RetryableError
	if errors.As(err, &already) {
		return already
	}

	out := &RetryableError{Message: err.Error(), err: err}
	var api *APIError
	if errors.As(err, &api) {
		out.StatusCode = api.StatusCode
		out.Header = api.Header
		out.RawText = api.Body
	} else {
		var sc statusCoder
		if errors.As(err, &sc) {
			out.StatusCode = sc.StatusCode()
		}
	}
	var hc headerCarrier
	if out.Header == nil && errors.As(err, &hc) {
		out.Header = hc.ResponseHeader()
	}

	out.Kind = kindFor(err, out.StatusCode, strings.ToLower(out.Message))
	out.Retryable = out.Kind.Retryable()
	return out
}

func kindFor(err error, status int, msg string) Kind {
	if IsRetryTimeoutExceeded(err) {
		return KindRetryTimeoutExceeded
	}
	switch {
	case IsCanceled(err) || containsAny(msg, abortVocabulary):
		return KindAborted
	case errors.Is(err, ErrStreamParse):
		// typed marker wins over the io.ErrUnexpectedEOF a decoder may wrap
		return KindStreamParse
	case IsTimeout(err) || containsAny(msg, timeoutVocabulary):
		return KindTimeout
	case IsSocketError(err) || containsAny(msg, socketVocabulary):
		return KindSocketConnection
	case IsStreamParse(err) || containsAny(msg, streamParseVocabulary):
		return KindStreamParse
	case status == http.StatusTooManyRequests || containsAny(msg, rateLimitVocabulary):
		return KindRateLimit
	}
	return KindUnknown
}

// IsCanceled reports whether the error indicates an explicit cancellation.
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	var abort *AbortError
	return errors.Is(err, context.Canceled) || errors.As(err, &abort)
}

// IsTimeout reports whether the error indicates a timeout.
// It checks for context.DeadlineExceeded, net.Error timeouts, and our ErrTimeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// IsSocketError reports whether the error indicates a dropped or refused
// connection.
func IsSocketError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSocketClosed) || errors.Is(err, ErrEmptyFinish) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED,
			syscall.ENETDOWN, syscall.ENETUNREACH, syscall.EPIPE,
			syscall.EHOSTUNREACH:
			return true
		}
	}
	return false
}

// IsStreamParse reports whether the error indicates a corrupted stream event.
func IsStreamParse(err error) bool {
	if err == nil {
		return false
	}
	var syntaxErr *json.SyntaxError
	return errors.Is(err, ErrStreamParse) || errors.As(err, &syntaxErr)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
