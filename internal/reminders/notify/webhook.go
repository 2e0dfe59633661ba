package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Channel delivers rendered content to one recipient.
type Channel interface {
	Send(ctx context.Context, recipient, content string) error
}

type webhookPayload struct {
	To      string      `json:"to"`
	MsgType string      `json:"msgtype"`
	Text    webhookText `json:"text"`
}

type webhookText struct {
	Content string `json:"content"`
}

// WebhookChannel posts messages to a WhatsApp gateway webhook.
type WebhookChannel struct {
	url    string
	token  string
	client *http.Client
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// WithToken sets a bearer token sent on every request.
func WithToken(token string) WebhookOption {
	return func(ch *WebhookChannel) {
		ch.token = token
	}
}

// WithTimeout overrides the request timeout.
func WithTimeout(timeout time.Duration) WebhookOption {
	return func(ch *WebhookChannel) {
		if timeout > 0 {
			ch.client = &http.Client{Timeout: timeout}
		}
	}
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("webhook channel: empty url")
	}
	channel := &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

// Send posts the content for recipient.
func (w *WebhookChannel) Send(ctx context.Context, recipient, content string) error {
	if w == nil || w.url == "" {
		return errors.New("webhook channel: empty url")
	}
	if recipient == "" {
		return errors.New("webhook channel: empty recipient")
	}
	payload := webhookPayload{
		To:      recipient,
		MsgType: "text",
		Text:    webhookText{Content: content},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook channel: non-2xx response %d", resp.StatusCode)
	}
	return nil
}

// LogChannel writes messages to a logger instead of delivering them.
type LogChannel struct {
	Logf func(format string, args ...any)
}

// Send logs the message.
func (c LogChannel) Send(_ context.Context, recipient, content string) error {
	if c.Logf != nil {
		c.Logf("reminder (dry run): to=%s content=%q", recipient, content)
	}
	return nil
}
