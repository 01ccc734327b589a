// Package handlers implements the operator commands of the alert bot.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-telegram/bot/models"

	"retrygate/internal/adapter/telegram"
	"retrygate/internal/session"
)

// maxListed bounds the /sessions reply, Telegram caps messages at 4096 chars.
const maxListed = 30

// Sessions lists tracked retry state.
type Sessions interface {
	Snapshot() []session.State
}

// Clearer drops the retry state of one session.
type Clearer interface {
	ClearRetryState(sessionID string)
}

// Commands routes operator commands.
type Commands struct {
	sessions Sessions
	clearer  Clearer
	now      func() time.Time
	log      *slog.Logger
}

// New returns a command router.
func New(s Sessions, c Clearer, log *slog.Logger) *Commands {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Commands{sessions: s, clearer: c, now: time.Now, log: log}
}

// Handle routes updates to command handlers.
func (c *Commands) Handle(ctx context.Context, s telegram.Sender, upd *models.Update) {
	msg := upd.Message
	if msg == nil || !strings.HasPrefix(msg.Text, "/") {
		return
	}
	fields := strings.Fields(msg.Text)
	cmd := strings.TrimPrefix(fields[0], "/")
	// "/clear@SomeBot" in group chats
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	args := fields[1:]

	var text string
	switch cmd {
	case "ping":
		text = "pong"
	case "sessions":
		text = c.list()
	case "clear":
		text = c.clear(args)
	case "start", "help":
		text = "/sessions - list sessions with retry state\n/clear <id> - drop retry state of a session\n/ping - check the bot"
	default:
		return
	}
	if err := telegram.Reply(ctx, s, msg, text); err != nil {
		c.log.Warn("reply failed", "command", cmd, "error", err)
	}
}

func (c *Commands) list() string {
	states := c.sessions.Snapshot()
	if len(states) == 0 {
		return "no sessions are retrying"
	}
	now := c.now()
	var b strings.Builder
	fmt.Fprintf(&b, "%d session(s) with retry state\n", len(states))
	for i, st := range states {
		if i == maxListed {
			fmt.Fprintf(&b, "... and %d more", len(states)-maxListed)
			break
		}
		fmt.Fprintf(&b, "%s  %s x%d  for %s\n",
			st.SessionID, st.LastKind, st.Attempts, st.Elapsed(now).Truncate(time.Second))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *Commands) clear(args []string) string {
	if len(args) != 1 {
		return "usage: /clear <session id>"
	}
	c.clearer.ClearRetryState(args[0])
	c.log.Info("retry state cleared by operator", "session", args[0])
	return "cleared " + args[0]
}
