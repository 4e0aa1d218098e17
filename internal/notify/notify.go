// Package notify pushes fleet events to an admin chat via the Telegram
// Bot API. It is send-only; the conversational front-end lives elsewhere.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Notifier is a minimal Telegram sendMessage client. A nil Notifier or a
// zero chat id disables delivery, so callers never have to guard sends.
type Notifier struct {
	token  string
	chatID int64
	client *http.Client
}

func New(token string, chatID int64) *Notifier {
	return &Notifier{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type sendMessageRequest struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

// Send delivers a text message to the configured chat. It is a no-op on
// a nil notifier or when no chat id was configured.
func (n *Notifier) Send(ctx context.Context, text string) error {
	if n == nil || n.chatID == 0 {
		return nil
	}

	body, err := json.Marshal(sendMessageRequest{ChatID: n.chatID, Text: text})
	if err != nil {
		return fmt.Errorf("notify: marshaling request: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: sending message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("notify: telegram API error: status %d, body: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
