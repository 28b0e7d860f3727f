// Package telegram delivers user notifications through the Telegram
// Bot API. Messages are HTML-formatted; the chat ID is the user's
// Telegram ID.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Notifier implements domain.Notifier over the Bot API sendMessage call.
type Notifier struct {
	apiURL     string
	botToken   string
	httpClient *resty.Client
}

// NewNotifier creates a Telegram notifier.
func NewNotifier(apiURL, botToken string) *Notifier {
	return &Notifier{
		apiURL:     apiURL,
		botToken:   botToken,
		httpClient: resty.New().SetTimeout(10 * time.Second),
	}
}

type sendMessageRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send delivers an HTML message to the user.
func (n *Notifier) Send(ctx context.Context, userID int64, message string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", n.apiURL, n.botToken)

	body := sendMessageRequest{
		ChatID:                userID,
		Text:                  message,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	}

	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(url)
	if err != nil {
		return fmt.Errorf("sendMessage request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode())
	}

	var out sendMessageResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return fmt.Errorf("failed to decode telegram response: %w", err)
	}
	if !out.OK {
		return fmt.Errorf("telegram rejected message: %s", out.Description)
	}
	return nil
}
