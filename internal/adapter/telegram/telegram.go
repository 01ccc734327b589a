// Package telegram delivers retry alerts to an operator chat and serves a
// small set of operator commands over the same bot.
package telegram

import (
	"context"
	"errors"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Sender is the subset of *bot.Bot used by this package.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// HandlerFunc handles one incoming update.
type HandlerFunc func(ctx context.Context, s Sender, upd *models.Update)

// NewBot creates a bot that routes every update to h. The bot does not
// receive updates until Start or StartWebhook is called on it. A non-empty
// webhookSecret is checked on every webhook delivery.
func NewBot(token string, h HandlerFunc, webhookSecret string) (*bot.Bot, error) {
	if token == "" {
		return nil, errors.New("telegram: empty token")
	}
	opts := []bot.Option{
		bot.WithDefaultHandler(func(ctx context.Context, b *bot.Bot, upd *models.Update) {
			h(ctx, b, upd)
		}),
		bot.WithAllowedUpdates([]string{"message"}),
	}
	if webhookSecret != "" {
		opts = append(opts, bot.WithWebhookSecretToken(webhookSecret))
	}
	return bot.New(token, opts...)
}

// Reply sends text to the chat the message came from.
func Reply(ctx context.Context, s Sender, msg *models.Message, text string) error {
	_, err := s.SendMessage(ctx, &bot.SendMessageParams{ChatID: msg.Chat.ID, Text: text})
	return err
}
