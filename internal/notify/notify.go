package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
)

// Nop drops every message. It is used when no chat is configured.
type Nop struct{}

func (Nop) Notify(context.Context, string) error { return nil }

// Telegram posts job notifications to one chat.
type Telegram struct {
	bot    *gotgbot.Bot
	chatID int64
	token  string
}

// NewTelegram creates a notifier. opts may be nil; the token is checked
// against the Bot API unless opts disables it.
func NewTelegram(token string, chatID int64, opts *gotgbot.BotOpts) (*Telegram, error) {
	if strings.TrimSpace(token) == "" || chatID == 0 {
		return nil, fmt.Errorf("telegram token and chat id are required")
	}
	bot, err := gotgbot.NewBot(token, opts)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %s", Redact(err, token))
	}
	return &Telegram{bot: bot, chatID: chatID, token: token}, nil
}

func (t *Telegram) Notify(ctx context.Context, text string) error {
	if _, err := t.bot.SendMessageWithContext(ctx, t.chatID, text, nil); err != nil {
		return fmt.Errorf("telegram send: %s", Redact(err, t.token))
	}
	return nil
}

// Redact removes the bot token from error text; request URLs embed it.
func Redact(err error, token string) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if strings.TrimSpace(token) == "" {
		return msg
	}
	msg = strings.ReplaceAll(msg, token, "<redacted-token>")
	if idx := strings.Index(token, ":"); idx > 0 {
		botID := token[:idx]
		msg = strings.ReplaceAll(msg, "/bot"+botID+":", "/bot<redacted>:")
		msg = strings.ReplaceAll(msg, "bot"+botID+"/", "bot<redacted>/")
	}
	return msg
}
