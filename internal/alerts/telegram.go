package alerts

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ajitpratap0/solfunk/internal/errs"
)

// telegramSender is the slice of the bot API that Send uses.
// *tgbotapi.BotAPI satisfies it.
type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramAlerter delivers alerts to a Telegram chat.
type TelegramAlerter struct {
	api    telegramSender
	chatID int64
}

// NewTelegramAlerter connects to the Telegram bot API. The token is
// validated against the API during construction.
func NewTelegramAlerter(botToken string, chatID int64) (*TelegramAlerter, error) {
	if botToken == "" {
		return nil, errs.Configf("telegram bot token is empty")
	}
	if chatID == 0 {
		return nil, errs.Configf("telegram chat id is not set")
	}

	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, errs.Configf("telegram bot init: %v", err)
	}

	return &TelegramAlerter{api: api, chatID: chatID}, nil
}

// Send delivers one alert as a Markdown message.
func (t *TelegramAlerter) Send(ctx context.Context, alert Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(t.chatID, t.formatAlert(alert))
	msg.ParseMode = "Markdown"
	msg.DisableWebPagePreview = true

	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("telegram send to chat %d: %w", t.chatID, err)
	}
	return nil
}

// formatAlert renders an alert for Telegram.
func (t *TelegramAlerter) formatAlert(alert Alert) string {
	var emoji string
	switch alert.Severity {
	case SeverityCritical:
		emoji = "🚨"
	case SeverityWarning:
		emoji = "⚠️"
	default:
		emoji = "ℹ️"
	}

	message := fmt.Sprintf("%s *%s*", emoji, alert.Title)
	if alert.Message != "" {
		message += "\n\n" + alert.Message
	}

	if len(alert.Fields) > 0 {
		message += "\n\n*Details:*"
		for key, value := range alert.Fields {
			message += fmt.Sprintf("\n• %s: `%v`", key, value)
		}
	}

	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	message += fmt.Sprintf("\n\n_Time: %s_", ts.UTC().Format("2006-01-02 15:04:05"))

	return message
}
