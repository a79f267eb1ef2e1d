// Package notifier delivers run reports to chat.
package notifier

import (
	"context"
	"fmt"

	"github.com/semmidev/vaultkeeper/internal/config"
	"github.com/semmidev/vaultkeeper/internal/domain"
)

// Nop drops every notification.
type Nop struct{}

func (Nop) Notify(context.Context, string, []domain.Embed) {}

// New returns the notifier selected by cfg, or Nop when disabled.
func New(cfg *config.NotifyConfig, logger Logger) (domain.Notifier, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	switch cfg.Type {
	case "discord":
		return NewDiscord(cfg.DiscordChannel, cfg.DiscordToken, logger), nil
	case "telegram":
		t, err := NewTelegram(cfg.BotToken, cfg.ChatID, logger)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("%w: unknown notifier type %q", domain.ErrConfiguration, cfg.Type)
	}
}
