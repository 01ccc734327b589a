package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"retrygate/internal/adapter/telegram"
)

// RateLimiter allows one command per user per interval.
type RateLimiter struct {
	mu   sync.Mutex
	last map[int64]time.Time
	rate time.Duration
	now  func() time.Time
}

// NewRateLimiter creates a limiter with the given interval.
func NewRateLimiter(rate time.Duration) *RateLimiter {
	return &RateLimiter{last: make(map[int64]time.Time), rate: rate, now: time.Now}
}

// Allow returns false if the user hits the limit.
func (r *RateLimiter) Allow(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if t, ok := r.last[userID]; ok && now.Sub(t) < r.rate {
		return false
	}
	r.last[userID] = now
	return true
}

// Middleware checks the limit before calling next.
func (r *RateLimiter) Middleware(next telegram.HandlerFunc) telegram.HandlerFunc {
	return func(ctx context.Context, s telegram.Sender, upd *models.Update) {
		msg := upd.Message
		if msg != nil && msg.From != nil && !r.Allow(msg.From.ID) {
			_, _ = s.SendMessage(ctx, &bot.SendMessageParams{
				ChatID: msg.Chat.ID,
				Text:   "too many commands, slow down",
			})
			return
		}
		next(ctx, s, upd)
	}
}
