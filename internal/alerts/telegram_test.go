package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTelegram captures messages instead of calling the bot API.
type fakeTelegram struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeTelegram) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, f.err
}

func TestNewTelegramAlerter_Validation(t *testing.T) {
	tests := []struct {
		name     string
		botToken string
		chatID   int64
		errMsg   string
	}{
		{
			name:     "empty bot token",
			botToken: "",
			chatID:   123456789,
			errMsg:   "bot token is empty",
		},
		{
			name:     "missing chat id",
			botToken: "test_token",
			chatID:   0,
			errMsg:   "chat id is not set",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerter, err := NewTelegramAlerter(tt.botToken, tt.chatID)
			assert.Error(t, err)
			assert.Nil(t, alerter)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestTelegramAlerter_Send(t *testing.T) {
	fake := &fakeTelegram{}
	alerter := &TelegramAlerter{api: fake, chatID: 99}

	err := alerter.Send(context.Background(), Alert{
		Title:     "Trade executed",
		Message:   "BUY 0.05 SOL",
		Severity:  SeverityInfo,
		Timestamp: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Fields:    map[string]any{"mint": "So11111111111111111111111111111111111111112"},
	})
	require.NoError(t, err)
	require.Len(t, fake.sent, 1)

	msg := fake.sent[0]
	assert.Equal(t, int64(99), msg.ChatID)
	assert.Equal(t, "Markdown", msg.ParseMode)
	assert.True(t, msg.DisableWebPagePreview)
	assert.Contains(t, msg.Text, "*Trade executed*")
	assert.Contains(t, msg.Text, "BUY 0.05 SOL")
	assert.Contains(t, msg.Text, "*Details:*")
	assert.Contains(t, msg.Text, "• mint: `So11111111111111111111111111111111111111112`")
	assert.Contains(t, msg.Text, "_Time: 2026-03-14 09:30:00_")
}

func TestTelegramAlerter_SendErrorWrapped(t *testing.T) {
	fake := &fakeTelegram{err: errors.New("flood control")}
	alerter := &TelegramAlerter{api: fake, chatID: 42}

	err := alerter.Send(context.Background(), Alert{Title: "boom", Severity: SeverityCritical})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat 42")
	assert.Contains(t, err.Error(), "flood control")
}

func TestTelegramAlerter_CancelledContext(t *testing.T) {
	fake := &fakeTelegram{}
	alerter := &TelegramAlerter{api: fake, chatID: 42}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := alerter.Send(ctx, Alert{Title: "late", Severity: SeverityInfo})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fake.sent)
}

func TestTelegramAlerter_FormatAlert(t *testing.T) {
	alerter := &TelegramAlerter{}

	tests := []struct {
		name     string
		alert    Alert
		contains []string
	}{
		{
			name: "critical alert",
			alert: Alert{
				Title:     "RPC unreachable",
				Message:   "all endpoints failing",
				Severity:  SeverityCritical,
				Timestamp: time.Now(),
			},
			contains: []string{"🚨", "RPC unreachable", "all endpoints failing"},
		},
		{
			name: "warning alert",
			alert: Alert{
				Title:     "Budget near limit",
				Message:   "API budget 91% used",
				Severity:  SeverityWarning,
				Timestamp: time.Now(),
			},
			contains: []string{"⚠️", "Budget near limit", "API budget 91% used"},
		},
		{
			name: "info alert",
			alert: Alert{
				Title:     "Position opened",
				Message:   "Bought BONK for 0.05 SOL",
				Severity:  SeverityInfo,
				Timestamp: time.Now(),
			},
			contains: []string{"ℹ️", "Position opened", "Bought BONK for 0.05 SOL"},
		},
		{
			name: "alert with fields",
			alert: Alert{
				Title:     "Position closed",
				Message:   "take profit hit",
				Severity:  SeverityInfo,
				Timestamp: time.Now(),
				Fields: map[string]any{
					"mint":    "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263",
					"pnl_pct": 12.5,
				},
			},
			contains: []string{"Position closed", "take profit hit", "Details:", "pnl_pct", "12.5"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := alerter.formatAlert(tt.alert)
			for _, str := range tt.contains {
				assert.Contains(t, result, str)
			}
		})
	}
}

func TestTelegramAlerter_FormatAlertStampsMissingTime(t *testing.T) {
	alerter := &TelegramAlerter{}
	result := alerter.formatAlert(Alert{Title: "no time", Severity: SeverityInfo})
	assert.Contains(t, result, "_Time: ")
}
