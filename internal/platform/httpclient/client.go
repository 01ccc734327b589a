package httpclient

import (
	"context"
	"log/slog"
	stdhttp "net/http"
	"net/url"
	"time"
)

// Client wraps http.Client with logging and a retrying transport.
type Client struct {
	hc          *stdhttp.Client
	log         *slog.Logger
	headers     map[string]string
	urlRedactor func(*url.URL) string
	base        stdhttp.RoundTripper
	label       string
	wrapOpts    []WrapOption
	transport   *Transport
}

// Option configures Client.
type Option func(*Client)

// WithTimeout bounds each attempt. Retry waits are not counted.
func WithTimeout(t time.Duration) Option {
	return func(c *Client) { c.wrapOpts = append(c.wrapOpts, WithAttemptTimeout(t)) }
}

// WithLogger sets logger used by client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithHeaders adds default headers to each request.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) {
		for k, v := range h {
			if c.headers == nil {
				c.headers = make(map[string]string)
			}
			c.headers[k] = v
		}
	}
}

// WithoutHeaders removes default headers.
func WithoutHeaders(keys ...string) Option {
	return func(c *Client) {
		for _, k := range keys {
			delete(c.headers, k)
		}
	}
}

// WithURLRedactor sets URL redactor for logs.
func WithURLRedactor(f func(*url.URL) string) Option {
	return func(c *Client) { c.urlRedactor = f }
}

// WithTransport sets the transport that gets wrapped.
func WithTransport(rt stdhttp.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.base = rt
		}
	}
}

// WithRetry labels the session and configures the retrying transport.
func WithRetry(label string, opts ...WrapOption) Option {
	return func(c *Client) {
		c.label = label
		c.wrapOpts = append(c.wrapOpts, opts...)
	}
}

// WithMaxReplayBodySize limits size of buffered body for retries (0 disables limit).
func WithMaxReplayBodySize(n int64) Option {
	return func(c *Client) { c.wrapOpts = append(c.wrapOpts, WithReplayLimit(n)) }
}

// NewTransport returns the pooled base transport used by New.
func NewTransport() *stdhttp.Transport {
	tr := stdhttp.DefaultTransport.(*stdhttp.Transport).Clone()
	tr.MaxIdleConns = 100
	tr.MaxConnsPerHost = 100
	tr.MaxIdleConnsPerHost = 100
	tr.IdleConnTimeout = 90 * time.Second
	tr.TLSHandshakeTimeout = 10 * time.Second
	tr.ExpectContinueTimeout = 1 * time.Second
	return tr
}

// New creates configured Client. No client-wide timeout is set: it would
// cut retry waits short. Use WithTimeout to bound single attempts.
func New(opts ...Option) *Client {
	c := &Client{
		log:  slog.Default(),
		base: NewTransport(),
	}
	for _, o := range opts {
		o(c)
	}
	wrapOpts := append([]WrapOption{WithRetryLogger(c.log)}, c.wrapOpts...)
	c.transport = Wrap(c.base, c.label, wrapOpts...)
	c.hc = &stdhttp.Client{Transport: c.transport}
	return c
}

// HTTPClient exposes the underlying client for SDKs that take one.
func (c *Client) HTTPClient() *stdhttp.Client { return c.hc }

// Transport returns the retrying transport.
func (c *Client) Transport() *Transport { return c.transport }

// redactURL returns redacted URL string.
func (c *Client) redactURL(u *url.URL) string {
	if c.urlRedactor != nil {
		return c.urlRedactor(u)
	}
	return u.Redacted()
}

// Do sends HTTP request with context and logging. 429s and dropped
// connections are retried by the transport; a 429 that survives the budget
// is returned as a response, not an error.
func (c *Client) Do(ctx context.Context, req *stdhttp.Request) (*stdhttp.Response, error) {
	r := req.WithContext(ctx)
	if len(c.headers) > 0 {
		r = req.Clone(ctx)
		for k, v := range c.headers {
			if r.Header.Get(k) == "" {
				r.Header.Set(k, v)
			}
		}
	}
	u := c.redactURL(r.URL)
	st := time.Now()
	resp, err := c.hc.Do(r)
	dur := time.Since(st)
	if err != nil {
		c.log.Warn("http request error", slog.String("method", r.Method), slog.String("url", u), slog.Duration("dur", dur), slog.Any("error", err))
		return nil, err
	}
	c.log.Info("http request", slog.String("method", r.Method), slog.String("url", u), slog.Int("status", resp.StatusCode), slog.Duration("dur", dur))
	return resp, nil
}
