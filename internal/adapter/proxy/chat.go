package proxy

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"retrygate/internal/adapter/external/openai"
	"retrygate/internal/platform/logger"
	"retrygate/internal/shared"
)

// streamChat relays a chat completion as server-sent events: one "delta"
// per content piece, then "done" or "error". Retries happen inside the
// stream, so a failure after the headers went out is reported as an event.
func (s *Server) streamChat(c *gin.Context) {
	sid := sessionID(c)

	var req openai.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Model == "" || len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model and messages are required"})
		return
	}

	ctx := c.Request.Context()
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)

	comp, err := s.chat.Stream(ctx, sid, req, func(d openai.Delta) error {
		c.SSEvent("delta", gin.H{"attempt": d.Attempt, "text": d.Text})
		c.Writer.Flush()
		return ctx.Err()
	})
	if err != nil {
		logger.ForSession(s.log, sid).Warn("chat stream failed", slog.Any("error", err))
		c.SSEvent("error", errorEvent(err))
		c.Writer.Flush()
		return
	}
	c.SSEvent("done", gin.H{
		"id":            comp.ID,
		"request_id":    comp.RequestID,
		"content":       comp.Content,
		"finish_reason": comp.FinishReason,
		"attempts":      comp.Attempts,
		"skipped":       comp.Skipped,
	})
	c.Writer.Flush()
}

func errorEvent(err error) gin.H {
	ev := gin.H{"kind": shared.KindOf(err).String(), "message": err.Error()}
	var rte *shared.RetryTimeoutExceededError
	if errors.As(err, &rte) {
		ev["retry_after_ms"] = rte.RetryAfterMs
		ev["max_timeout_ms"] = rte.MaxTimeoutMs
	}
	var apiErr *shared.APIError
	if errors.As(err, &apiErr) {
		ev["status"] = apiErr.StatusCode
	}
	return ev
}
