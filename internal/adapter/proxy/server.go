// Package proxy exposes the retry layers over HTTP: a reverse proxy to the
// provider, a streaming chat endpoint and session administration.
package proxy

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"retrygate/internal/adapter/external/openai"
	"retrygate/internal/platform/httpclient"
	"retrygate/internal/session"
	"retrygate/internal/shared"
)

// SessionHeader carries the session id in both directions.
const SessionHeader = "X-Session-ID"

// statusClientClosed is the de facto status for requests the client dropped.
const statusClientClosed = 499

// Sessions lists tracked retry state.
type Sessions interface {
	Snapshot() []session.State
}

// Clearer drops the retry state of one session.
type Clearer interface {
	ClearRetryState(sessionID string)
}

// Streamer runs a chat completion under the session retry policy.
type Streamer interface {
	Stream(ctx context.Context, sessionID string, req openai.ChatRequest, fn func(openai.Delta) error) (*openai.Completion, error)
}

// Server is the HTTP surface of the gateway.
type Server struct {
	engine   *gin.Engine
	rp       *httputil.ReverseProxy
	sessions Sessions
	clearer  Clearer
	chat     Streamer
	apiKey   string
	now      func() time.Time
	log      *slog.Logger
}

// Option configures Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithAPIKey makes the proxy authenticate upstream requests itself.
func WithAPIKey(key string) Option {
	return func(s *Server) { s.apiKey = key }
}

// WithChat enables POST /sessions/:id/chat.
func WithChat(c Streamer) Option {
	return func(s *Server) { s.chat = c }
}

// New builds the router. rt is normally the retrying transport from
// httpclient; it sees every proxied request.
func New(upstream *url.URL, rt http.RoundTripper, sessions Sessions, clearer Clearer, opts ...Option) *Server {
	s := &Server{
		sessions: sessions,
		clearer:  clearer,
		now:      time.Now,
		log:      slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(s)
	}

	s.rp = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.SetXForwarded()
			if s.apiKey != "" {
				pr.Out.Header.Set("Authorization", "Bearer "+s.apiKey)
			}
		},
		Transport:     rt,
		FlushInterval: -1,
		ErrorHandler:  s.proxyError,
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/sessions", s.listSessions)
	r.DELETE("/sessions/:id", s.clearSession)
	if s.chat != nil {
		r.POST("/sessions/:id/chat", s.streamChat)
	}
	r.Any("/v1/*path", s.forward)
	s.engine = r
	return s
}

// Engine returns the router so callers can mount extra routes.
func (s *Server) Engine() *gin.Engine { return s.engine }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.engine.ServeHTTP(w, r) }

func (s *Server) forward(c *gin.Context) {
	sid := sessionID(c)
	ctx := httpclient.WithSession(c.Request.Context(), sid)
	s.rp.ServeHTTP(c.Writer, c.Request.WithContext(ctx))
}

func (s *Server) proxyError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadGateway
	kind := shared.KindOf(err)
	switch kind {
	case shared.KindAborted:
		status = statusClientClosed
	case shared.KindTimeout:
		status = http.StatusGatewayTimeout
	}
	s.log.Warn("upstream request failed",
		slog.String("session", w.Header().Get(SessionHeader)),
		slog.String("path", r.URL.Path),
		slog.String("kind", kind.String()),
		slog.Any("error", err),
	)
	w.WriteHeader(status)
}

// sessionID reads the caller's session id, minting one when absent, and
// echoes it back.
func sessionID(c *gin.Context) string {
	sid := c.Param("id")
	if sid == "" {
		sid = c.GetHeader(SessionHeader)
	}
	if sid == "" {
		sid = uuid.NewString()
	}
	c.Header(SessionHeader, sid)
	return sid
}

type sessionView struct {
	SessionID   string    `json:"session_id"`
	Kind        string    `json:"kind"`
	Attempts    int       `json:"attempts"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	ElapsedMs   int64     `json:"elapsed_ms"`
}

func (s *Server) listSessions(c *gin.Context) {
	now := s.now()
	states := s.sessions.Snapshot()
	out := make([]sessionView, 0, len(states))
	for _, st := range states {
		out = append(out, sessionView{
			SessionID:   st.SessionID,
			Kind:        st.LastKind.String(),
			Attempts:    st.Attempts,
			FirstSeenAt: st.FirstSeenAt,
			LastSeenAt:  st.LastSeenAt,
			ElapsedMs:   st.Elapsed(now).Milliseconds(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (s *Server) clearSession(c *gin.Context) {
	id := c.Param("id")
	s.clearer.ClearRetryState(id)
	s.log.Info("retry state cleared", slog.String("session", id))
	c.Status(http.StatusNoContent)
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		st := time.Now()
		c.Next()
		s.log.Info("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.String("session", c.Writer.Header().Get(SessionHeader)),
			slog.Duration("dur", time.Since(st)),
		)
	}
}
