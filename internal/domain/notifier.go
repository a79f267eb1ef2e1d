package domain

import "context"

// Embed is a titled block of fields attached to a notification.
type Embed struct {
	Title  string
	Color  int
	Fields []EmbedField
}

type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Notifier delivers chat notifications. Implementations swallow their own
// transport errors.
type Notifier interface {
	Notify(ctx context.Context, text string, embeds []Embed)
}
