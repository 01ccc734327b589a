package middleware

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"retrygate/internal/adapter/telegram"
)

// ACL restricts commands to a list of Telegram user IDs.
type ACL struct{ allowed map[int64]struct{} }

// NewACL creates an ACL from a list of IDs.
func NewACL(ids []int64) *ACL {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return &ACL{allowed: m}
}

// IsAllowed reports whether the user may run commands.
func (a *ACL) IsAllowed(id int64) bool { _, ok := a.allowed[id]; return ok }

// Middleware drops updates from users outside the list. Anonymous updates
// are dropped as well since they cannot be attributed.
func (a *ACL) Middleware(next telegram.HandlerFunc) telegram.HandlerFunc {
	return func(ctx context.Context, s telegram.Sender, upd *models.Update) {
		m := upd.Message
		if m == nil {
			return
		}
		if m.From != nil && a.IsAllowed(m.From.ID) {
			next(ctx, s, upd)
			return
		}
		if s != nil {
			_, _ = s.SendMessage(ctx, &bot.SendMessageParams{ChatID: m.Chat.ID, Text: "access denied"})
		}
	}
}
