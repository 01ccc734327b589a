package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	stdhttp "net/http"
	"sync/atomic"
	"time"

	"retrygate/internal/platform/metrics"
	"retrygate/internal/shared"
	"retrygate/pkg/retry"
)

var errBodyConsumed = errors.New("http: request body over replay limit already sent")

// DefaultNetworkRetries caps retries of thrown socket errors per request.
const DefaultNetworkRetries = 3

// Waiter performs one isolated wait.
type Waiter interface {
	Wait(d, remaining time.Duration, token retry.CancelToken) retry.WaitOutcome
}

type ctxKey int

const (
	userCancelKey ctxKey = iota
	sessionKey
)

// WithUserCancel attaches a user cancellation token to requests sent with ctx.
func WithUserCancel(ctx context.Context, tok retry.CancelToken) context.Context {
	return context.WithValue(ctx, userCancelKey, tok)
}

// WithSession overrides the session label logged for requests sent with ctx.
func WithSession(ctx context.Context, label string) context.Context {
	return context.WithValue(ctx, sessionKey, label)
}

func sessionFrom(ctx context.Context, fallback string) string {
	if s, ok := ctx.Value(sessionKey).(string); ok && s != "" {
		return s
	}
	return fallback
}

func userCancelFrom(ctx context.Context) retry.CancelToken {
	tok, _ := ctx.Value(userCancelKey).(retry.CancelToken)
	return tok
}

// Transport retries 429 responses and dropped connections of the wrapped
// RoundTripper. Every other response passes through untouched.
type Transport struct {
	next           stdhttp.RoundTripper
	label          string
	limits         retry.LimitsFunc
	waiter         Waiter
	token          retry.CancelToken
	log            *slog.Logger
	rand           func() float64
	now            func() time.Time
	networkRetries int
	maxReplayBody  int64
	attemptTimeout time.Duration
}

// WrapOption configures Transport.
type WrapOption func(*Transport)

// WithLimits sets the limits source, read on every attempt.
func WithLimits(f retry.LimitsFunc) WrapOption {
	return func(t *Transport) {
		if f != nil {
			t.limits = f
		}
	}
}

// WithWaiter replaces the isolated wait controller.
func WithWaiter(w Waiter) WrapOption {
	return func(t *Transport) {
		if w != nil {
			t.waiter = w
		}
	}
}

// WithCancelToken sets a user cancellation token for every request.
func WithCancelToken(tok retry.CancelToken) WrapOption {
	return func(t *Transport) { t.token = tok }
}

// WithRetryLogger sets the logger used for retry decisions.
func WithRetryLogger(l *slog.Logger) WrapOption {
	return func(t *Transport) {
		if l != nil {
			t.log = l
		}
	}
}

// WithRand sets the jitter source; nil disables jitter.
func WithRand(r func() float64) WrapOption {
	return func(t *Transport) { t.rand = r }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) WrapOption {
	return func(t *Transport) {
		if now != nil {
			t.now = now
		}
	}
}

// WithNetworkRetries caps retries of socket errors (0 disables them).
func WithNetworkRetries(n int) WrapOption {
	return func(t *Transport) {
		if n >= 0 {
			t.networkRetries = n
		}
	}
}

// WithReplayLimit limits size of buffered body for retries (0 disables limit).
func WithReplayLimit(n int64) WrapOption {
	return func(t *Transport) { t.maxReplayBody = n }
}

// WithAttemptTimeout bounds each inner call. Waits between attempts are not
// counted against it.
func WithAttemptTimeout(d time.Duration) WrapOption {
	return func(t *Transport) { t.attemptTimeout = d }
}

// Wrap returns next wrapped with 429 and socket-error retries. label names
// the session in logs unless the request context carries one (WithSession).
func Wrap(next stdhttp.RoundTripper, label string, opts ...WrapOption) *Transport {
	if next == nil {
		next = stdhttp.DefaultTransport
	}
	t := &Transport{
		next:           next,
		label:          label,
		limits:         retry.DefaultLimits,
		waiter:         &retry.Waiter{},
		log:            slog.New(slog.DiscardHandler),
		rand:           rand.Float64,
		now:            time.Now,
		networkRetries: DefaultNetworkRetries,
		maxReplayBody:  1 << 20,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// CloseIdleConnections forwards to the wrapped transport.
func (t *Transport) CloseIdleConnections() {
	if c, ok := t.next.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *stdhttp.Request) (*stdhttp.Response, error) {
	getBody, replay, err := replayable(req, t.maxReplayBody)
	if err != nil {
		return nil, err
	}

	ctx := req.Context()
	label := sessionFrom(ctx, t.label)
	if !replay {
		t.log.Warn("request body over replay limit, sending without retries",
			slog.String("session", label),
			slog.String("method", req.Method),
			slog.String("url", req.URL.Redacted()),
			slog.Int64("limit", t.maxReplayBody),
		)
		return t.attempt(req, getBody)
	}
	token := retry.AnyToken(t.token, userCancelFrom(ctx), retry.ContextToken(ctx))
	start := t.now()

	var netRetries, rateAttempts int
	for {
		resp, err := t.attempt(req, getBody)
		limits := t.limits()
		elapsed := t.now().Sub(start)
		remaining := limits.Remaining(elapsed)

		if err != nil {
			if !shared.HasKind(err, shared.KindSocketConnection) || ctx.Err() != nil {
				return nil, err
			}
			if netRetries >= t.networkRetries || remaining <= 0 {
				metrics.ObserveGiveUp(metrics.LayerFetch, "network_cap")
				return nil, err
			}
			netRetries++
			res := retry.Compute(retry.Input{
				Attempt:     netRetries,
				Backoff:     retry.FetchBackoff(limits),
				MaxDelay:    limits.MaxDelay,
				MinInterval: limits.MinInterval,
				Remaining:   remaining,
				Now:         t.now(),
				Rand:        t.rand,
			})
			t.log.Warn("http connection dropped, retrying",
				slog.String("session", label),
				slog.String("method", req.Method),
				slog.String("url", req.URL.Redacted()),
				slog.Int("attempt", netRetries),
				slog.Duration("wait", res.Delay),
				slog.Any("error", err),
			)
			if !t.wait(res.Delay, remaining, token, shared.KindSocketConnection) {
				return nil, err
			}
			continue
		}

		if resp.StatusCode != stdhttp.StatusTooManyRequests {
			return resp, nil
		}
		rateAttempts++
		if remaining <= 0 {
			metrics.ObserveGiveUp(metrics.LayerFetch, "budget")
			t.log.Warn("retry budget spent, returning 429", slog.String("session", label), slog.Duration("elapsed", elapsed))
			return resp, nil
		}

		res := retry.Compute(retry.Input{
			Header:      resp.Header,
			Attempt:     rateAttempts,
			Backoff:     retry.FetchBackoff(limits),
			MaxDelay:    limits.MaxDelay,
			MinInterval: limits.MinInterval,
			Remaining:   remaining,
			Now:         t.now(),
			Rand:        t.rand,
		})
		if res.Exceeded {
			metrics.ObserveGiveUp(metrics.LayerFetch, "exceeded")
			t.log.Warn("server wait exceeds retry budget, returning 429",
				slog.String("session", label),
				slog.Duration("retry_after", res.Hint),
				slog.Duration("remaining", remaining),
			)
			return resp, nil
		}

		t.log.Warn("rate limited, retrying",
			slog.String("session", label),
			slog.String("method", req.Method),
			slog.String("url", req.URL.Redacted()),
			slog.Int("attempt", rateAttempts),
			slog.Duration("wait", res.Delay),
			slog.Bool("from_header", res.FromHeader),
		)
		if !t.wait(res.Delay, remaining, token, shared.KindRateLimit) {
			return resp, nil
		}
		drainAndClose(resp.Body)
	}
}

func (t *Transport) wait(d, remaining time.Duration, token retry.CancelToken, kind shared.Kind) bool {
	outcome := t.waiter.Wait(d, remaining, token)
	metrics.ObserveWait(metrics.LayerFetch, outcome.String())
	if outcome != retry.WaitCompleted {
		return false
	}
	metrics.ObserveRetry(metrics.LayerFetch, kind.String(), d)
	return true
}

func (t *Transport) attempt(req *stdhttp.Request, getBody func() (io.ReadCloser, error)) (*stdhttp.Response, error) {
	ctx := req.Context()
	cancel := context.CancelFunc(func() {})
	if t.attemptTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, t.attemptTimeout)
	}
	r := req.Clone(ctx)
	if getBody != nil {
		body, err := getBody()
		if err != nil {
			cancel()
			return nil, err
		}
		r.Body = body
		r.GetBody = getBody
	}
	resp, err := t.next.RoundTrip(r)
	if err != nil {
		cancel()
		return nil, err
	}
	if t.attemptTimeout > 0 {
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	}
	return resp, nil
}

// replayable returns a body factory for req, buffering the body when the
// request cannot rebuild it itself. A body over limit cannot be replayed: the
// factory then yields the buffered prefix joined with the unread rest, once.
func replayable(req *stdhttp.Request, limit int64) (func() (io.ReadCloser, error), bool, error) {
	if req.Body == nil || req.Body == stdhttp.NoBody {
		return nil, true, nil
	}
	if req.GetBody != nil {
		_ = req.Body.Close()
		return req.GetBody, true, nil
	}
	if limit <= 0 {
		defer req.Body.Close()
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, false, err
		}
		return bufferedBody(body), true, nil
	}
	body, err := io.ReadAll(io.LimitReader(req.Body, limit+1))
	if err != nil {
		_ = req.Body.Close()
		return nil, false, err
	}
	if int64(len(body)) <= limit {
		_ = req.Body.Close()
		return bufferedBody(body), true, nil
	}
	rest := req.Body
	var used atomic.Bool
	once := func() (io.ReadCloser, error) {
		if used.Swap(true) {
			return nil, errBodyConsumed
		}
		return struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(body), rest), rest}, nil
	}
	return once, false, nil
}

func bufferedBody(body []byte) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// drainAndClose drains up to 512KB from body and closes it.
func drainAndClose(b io.ReadCloser) {
	if b == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, b, 512<<10)
	_ = b.Close()
}
