// Package telegram delivers digest messages to a Telegram chat.
package telegram

import (
	"context"
	"log/slog"
)

// Provider defines the interface for message sending implementations.
type Provider interface {
	// Send delivers one Markdown-formatted message to the chat.
	Send(ctx context.Context, chatID, text string) error
}

// Sender delivers digest messages to a fixed chat using a pluggable provider.
type Sender struct {
	provider Provider
	logger   *slog.Logger
	chatID   string
}

// New creates a new message sender for the given chat.
func New(provider Provider, chatID string, logger *slog.Logger) *Sender {
	return &Sender{
		provider: provider,
		chatID:   chatID,
		logger:   logger,
	}
}

// Send delivers one message. Delivery is attempted once; a failed poll
// delivery surfaces again on the next scheduler tick.
func (s *Sender) Send(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	s.logger.Info("Sending message",
		"chat_id", s.chatID,
		"length", len(text))

	return s.provider.Send(ctx, s.chatID, text)
}
