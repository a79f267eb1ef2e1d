package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/semmidev/vaultkeeper/internal/domain"
)

const DiscordAPI = "https://discord.com/api/v9"

type Logger interface {
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

// Discord posts messages to a channel with a bot token.
type Discord struct {
	client  *http.Client
	baseURL string
	channel string
	token   string
	logger  Logger
}

func NewDiscord(channel, token string, logger Logger) *Discord {
	return &Discord{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: DiscordAPI,
		channel: channel,
		token:   token,
		logger:  logger,
	}
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordEmbed struct {
	Title  string         `json:"title,omitempty"`
	Color  int            `json:"color,omitempty"`
	Fields []discordField `json:"fields,omitempty"`
}

type discordMessage struct {
	Content string         `json:"content"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

// Notify sends the message. Failures are logged, never returned.
func (d *Discord) Notify(ctx context.Context, text string, embeds []domain.Embed) {
	if err := d.send(ctx, text, embeds); err != nil {
		d.logger.Warnf("discord notification failed: %v", err)
	}
}

func (d *Discord) send(ctx context.Context, text string, embeds []domain.Embed) error {
	msg := discordMessage{Content: text}
	for _, e := range embeds {
		de := discordEmbed{Title: e.Title, Color: e.Color}
		for _, f := range e.Fields {
			de.Fields = append(de.Fields, discordField{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
		msg.Embeds = append(msg.Embeds, de)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	url := fmt.Sprintf("%s/channels/%s/messages", d.baseURL, d.channel)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+d.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord returned %s: %s", resp.Status, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
