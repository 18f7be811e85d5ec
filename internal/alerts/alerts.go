// Package alerts delivers operator notifications for shutdown and recovery
// events.
package alerts

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/relayguard/relayguard/internal/config"
)

// Notifier sends one operator-facing message.
type Notifier interface {
	Notify(message string) error
}

// Nop discards every message.
type Nop struct{}

func (Nop) Notify(string) error { return nil }

// Telegram sends messages to a configured chat. Each send creates a one-off
// bot client; alert volume is far too low to justify a long-lived session.
type Telegram struct {
	token  string
	chatID int64
}

// NewTelegram creates a telegram notifier from configuration.
func NewTelegram(cfg config.AlertsConfig) *Telegram {
	return &Telegram{token: strings.TrimSpace(cfg.BotToken), chatID: cfg.ChatID}
}

// Notify sends the message. Missing configuration makes it a no-op.
func (t *Telegram) Notify(message string) error {
	if t.token == "" || t.chatID == 0 || strings.TrimSpace(message) == "" {
		return nil
	}

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, message)
	msg.ParseMode = "Markdown"
	_, err = bot.Send(msg)
	return err
}

// FromConfig returns the configured notifier, or Nop when alerts are
// disabled. Enabled notifiers are wrapped with deduplication.
func FromConfig(cfg config.AlertsConfig) Notifier {
	if !cfg.Enabled {
		return Nop{}
	}
	return NewDeduper(NewTelegram(cfg), cfg.DedupWindow)
}
