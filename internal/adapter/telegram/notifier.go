package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"

	"retrygate/internal/shared"
)

const sendTimeout = 10 * time.Second

// Notifier posts terminal retry failures to a chat.
type Notifier struct {
	sender Sender
	chatID int64
	log    *slog.Logger
}

// NewNotifier returns a notifier posting to chatID.
func NewNotifier(s Sender, chatID int64, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Notifier{sender: s, chatID: chatID, log: log}
}

// RetryExhausted reports that a session gave up because the provider asked
// for a wait longer than the retry budget. Its signature matches
// session.TerminalFunc. Send failures are logged and swallowed.
func (n *Notifier) RetryExhausted(ctx context.Context, sessionID string, err *shared.RetryTimeoutExceededError) {
	if n == nil || n.sender == nil || err == nil {
		return
	}
	// the caller's request is usually being torn down by now
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	_, sendErr := n.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: n.chatID,
		Text:   alertText(sessionID, err),
	})
	if sendErr != nil {
		n.log.Warn("alert not delivered", "session", sessionID, "error", sendErr)
	}
}

func alertText(sessionID string, err *shared.RetryTimeoutExceededError) string {
	wait := time.Duration(err.RetryAfterMs) * time.Millisecond
	budget := time.Duration(err.MaxTimeoutMs) * time.Millisecond
	if sessionID == "" {
		sessionID = "(none)"
	}
	return fmt.Sprintf("retry budget exhausted\nsession: %s\nprovider asked to wait %s, budget is %s",
		sessionID, wait, budget)
}
