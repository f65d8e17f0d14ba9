package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultBaseURL = "https://api.telegram.org"

// BotProvider sends messages via the Telegram Bot API.
type BotProvider struct {
	client  *http.Client
	logger  *slog.Logger
	token   string
	baseURL string
}

// NewBotProvider creates a new Telegram Bot API provider.
func NewBotProvider(token string, logger *slog.Logger) *BotProvider {
	return &BotProvider{
		token:   token,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

// sendMessageRequest represents the Bot API sendMessage request.
type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// sendMessageResponse is the subset of the Bot API response we inspect.
type sendMessageResponse struct {
	Description string `json:"description"`
	OK          bool   `json:"ok"`
}

// Send delivers one message via the Bot API.
func (b *BotProvider) Send(ctx context.Context, chatID, text string) error {
	reqBody := sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             "Markdown",
		DisableWebPagePreview: true,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	b.logger.Info("Telegram API request starting",
		"method", "POST",
		"endpoint", "sendMessage",
		"chat_id", chatID,
		"length", len(text))

	startTime := time.Now()
	url := b.baseURL + "/bot" + b.token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		b.logger.Warn("Telegram API request failed",
			"chat_id", chatID,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return fmt.Errorf("send message: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			b.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var apiResp sendMessageResponse
	if err := json.Unmarshal(respData, &apiResp); err != nil {
		return fmt.Errorf("parse response (HTTP %d): %w", resp.StatusCode, err)
	}
	if !apiResp.OK {
		b.logger.Warn("Telegram API rejected the message",
			"status_code", resp.StatusCode,
			"description", apiResp.Description)
		return fmt.Errorf("telegram API error (HTTP %d): %s", resp.StatusCode, apiResp.Description)
	}

	b.logger.Info("Telegram API request completed",
		"endpoint", "sendMessage",
		"chat_id", chatID,
		"duration_ms", duration.Milliseconds(),
		"status", "success")

	return nil
}
