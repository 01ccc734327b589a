// Package openai streams chat completions from OpenAI-compatible providers
// through the retry layers.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"retrygate/internal/platform/httpclient"
	"retrygate/internal/platform/logger"
	"retrygate/internal/platform/metrics"
	"retrygate/internal/session"
	"retrygate/internal/shared"
)

// maxErrorBody bounds how much of a failed response is kept.
const maxErrorBody = 64 << 10

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a chat completion request. Stream is always forced on.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

// Delta is one piece of streamed content. Attempt starts at 1 and grows
// when the stream is restarted after a retry; consumers that render
// incrementally should discard earlier output when it changes.
type Delta struct {
	Attempt int
	Text    string
}

// Completion is the assembled result of a stream.
type Completion struct {
	ID           string
	RequestID    string
	Content      string
	FinishReason string
	// Chunks counts content deltas of the successful attempt
	Chunks int
	// Skipped counts malformed events dropped across all attempts
	Skipped  int
	Attempts int
}

type chunk struct {
	ID      string `json:"id"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Client talks to the chat completions endpoint.
type Client struct {
	http     *httpclient.Client
	runner   *session.Runner
	baseURL  string
	apiKey   string
	provider string
	log      *slog.Logger
}

// Option configures Client.
type Option func(*Client)

// WithProvider sets the provider label used in logs and metrics.
func WithProvider(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.provider = name
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New creates a client. baseURL is the API root, e.g. https://api.openai.com/v1.
func New(hc *httpclient.Client, runner *session.Runner, baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		http:     hc,
		runner:   runner,
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		provider: "openai",
		log:      slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Stream sends req and calls fn for every content delta. Rate limits and
// dropped connections are retried under the session policy; malformed
// events are skipped. An error from fn stops the stream without retrying.
func (c *Client) Stream(ctx context.Context, sessionID string, req ChatRequest, fn func(Delta) error) (*Completion, error) {
	body, err := json.Marshal(struct {
		ChatRequest
		Stream bool `json:"stream"`
	}{req, true})
	if err != nil {
		return nil, shared.Wrap(err, "openai: encode request")
	}

	var (
		out      *Completion
		attempts int
		skipped  int
		reqID    = uuid.NewString()
	)
	err = c.runner.Do(ctx, sessionID, func(actx context.Context) error {
		attempts++
		res, err := c.streamOnce(actx, sessionID, reqID, body, attempts, fn)
		if res != nil {
			skipped += res.Skipped
		}
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	out.Attempts = attempts
	out.Skipped = skipped
	return out, nil
}

func (c *Client) streamOnce(ctx context.Context, sessionID, reqID string, body []byte, attempt int, fn func(Delta) error) (*Completion, error) {
	hreq, err := http.NewRequestWithContext(httpclient.WithSession(ctx, sessionID), http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "text/event-stream")
	hreq.Header.Set("X-Request-ID", reqID)
	if c.apiKey != "" {
		hreq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(hreq.Context(), hreq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, shared.NewAPIError(resp, b)
	}

	out := &Completion{RequestID: reqID}
	var content strings.Builder
	dec := NewDecoder(resp.Body)
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, shared.Wrapf(err, "openai: read stream (attempt %d)", attempt)
		}
		data := strings.TrimSpace(ev.Data)
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var ch chunk
		if err := json.Unmarshal([]byte(data), &ch); err != nil {
			c.skip(sessionID, &shared.StreamParseError{Event: data, Err: err})
			out.Skipped++
			continue
		}
		if ch.Error != nil {
			// mid-stream provider errors arrive with a 200 status
			return out, &shared.APIError{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: data}
		}
		if out.ID == "" {
			out.ID = ch.ID
		}
		for _, choice := range ch.Choices {
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				out.FinishReason = *choice.FinishReason
			}
			if choice.Delta.Content == "" {
				continue
			}
			out.Chunks++
			content.WriteString(choice.Delta.Content)
			if fn == nil {
				continue
			}
			if err := fn(Delta{Attempt: attempt, Text: choice.Delta.Content}); err != nil {
				return out, fmt.Errorf("%w: %w", &shared.AbortError{Reason: "consumer stopped"}, err)
			}
		}
	}

	if out.Chunks == 0 && (out.FinishReason == "" || out.FinishReason == "unknown") {
		return out, shared.ErrEmptyFinish
	}
	out.Content = content.String()
	return out, nil
}

func (c *Client) skip(sessionID string, err *shared.StreamParseError) {
	metrics.SkippedEvents.WithLabelValues(c.provider).Inc()
	logger.ForSession(c.log, sessionID).Warn("skipping malformed stream event",
		slog.String("provider", c.provider),
		slog.Any("error", err),
	)
}
