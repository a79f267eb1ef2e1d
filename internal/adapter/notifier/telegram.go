package notifier

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/semmidev/vaultkeeper/internal/domain"
)

// telegram caps message text at 4096 characters
const telegramMaxText = 4096

type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger Logger
}

func NewTelegram(botToken, chatID string, logger Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return newTelegram(bot, chatID, logger)
}

func newTelegram(bot *tgbotapi.BotAPI, chatID string, logger Logger) (*Telegram, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid telegram chat id %q", domain.ErrConfiguration, chatID)
	}
	return &Telegram{bot: bot, chatID: id, logger: logger}, nil
}

// Notify sends text with the embeds flattened below it.
func (t *Telegram) Notify(ctx context.Context, text string, embeds []domain.Embed) {
	msg := tgbotapi.NewMessage(t.chatID, Flatten(text, embeds))
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Warnf("telegram notification failed: %v", err)
	}
}

// Flatten renders embeds as plain text sections after text.
func Flatten(text string, embeds []domain.Embed) string {
	var b strings.Builder
	b.WriteString(text)
	for _, e := range embeds {
		b.WriteString("\n\n")
		if e.Title != "" {
			b.WriteString(e.Title)
			b.WriteString("\n")
		}
		for _, f := range e.Fields {
			fmt.Fprintf(&b, "• %s: %s\n", f.Name, f.Value)
		}
	}
	out := strings.TrimRight(b.String(), "\n")
	if r := []rune(out); len(r) > telegramMaxText {
		out = string(r[:telegramMaxText-1]) + "…"
	}
	return out
}
