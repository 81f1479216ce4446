package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

// TelegramConfig targets one chat with a bot token. The adapter only sends;
// it never polls for updates.
type TelegramConfig struct {
	Token  string
	ChatID int64
}

type TelegramAdapter struct {
	bot  *tele.Bot
	chat tele.ChatID
}

func NewTelegram(cfg TelegramConfig) (*TelegramAdapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("telegram: token is required")
	}
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram: chat_id is required")
	}
	bot, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &TelegramAdapter{bot: bot, chat: tele.ChatID(cfg.ChatID)}, nil
}

// telegramMessageLimit is Telegram's hard cap per message; longer payloads
// (e.g. captured stdout) are truncated with a marker.
const telegramMessageLimit = 4096

func (a *TelegramAdapter) Send(ctx context.Context, title, message string) error {
	text := title
	if message != "" {
		text = title + "\n" + message
	}
	if len(text) > telegramMessageLimit {
		const marker = "\n… (truncated)"
		text = text[:telegramMessageLimit-len(marker)] + marker
	}

	done := make(chan error, 1)
	go func() { _, err := a.bot.Send(a.chat, text); done <- err }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return fmt.Errorf("telegram: send timed out")
	}
}
