package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramNotifier sends events via the Telegram Bot API.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramNotifier creates a Telegram notifier against the public API.
// botToken: Bot API token from @BotFather
// chatID: Target chat/group/channel ID
func NewTelegramNotifier(botToken string, chatID int64) (*TelegramNotifier, error) {
	return NewTelegramNotifierWithEndpoint(botToken, chatID, tgbotapi.APIEndpoint)
}

// NewTelegramNotifierWithEndpoint is NewTelegramNotifier with a custom API
// endpoint format ("<base>/bot%s/%s").
func NewTelegramNotifierWithEndpoint(botToken string, chatID int64, endpoint string) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(botToken, endpoint, &http.Client{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	return &TelegramNotifier{bot: bot, chatID: chatID}, nil
}

func (t *TelegramNotifier) Send(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	text := fmt.Sprintf("%s *%s*\n%s\n\n%s",
		severityEmoji(ev.Severity),
		escape(ev.Instrument),
		escape(ev.Strategy),
		escape(ev.Message))

	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableNotification = ev.Silent

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}

	log.Printf("[telegram] sent %s event %s", ev.Severity, ev.ID)
	return nil
}

func severityEmoji(s Severity) string {
	switch s {
	case SeveritySuccess:
		return "✅"
	case SeverityWarning:
		return "⚠️"
	case SeverityError:
		return "🚨"
	}
	return "ℹ️"
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, s)
}
