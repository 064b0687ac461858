package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// BotClient talks to the internal API of the bot connector, the process
// that holds the actual Telegram session. Delivery is best-effort by
// contract: callers log and move on.
type BotClient struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewBotClient(baseURL string, log *zap.Logger) *BotClient {
	return &BotClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

// SendChatMessage posts text into a group chat.
func (c *BotClient) SendChatMessage(ctx context.Context, chatID int64, text string) error {
	return c.post(ctx, "/internal/notify", map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
}

// SendUserMessage delivers text to a user's private chat with the bot.
func (c *BotClient) SendUserMessage(ctx context.Context, telegramUserID int64, text string) error {
	return c.post(ctx, "/internal/notify", map[string]any{
		"telegram_user_id": telegramUserID,
		"text":             text,
	})
}

func (c *BotClient) post(ctx context.Context, path string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bot connector unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("bot connector returned %d: %s", resp.StatusCode, string(b))
	}
	return nil
}
