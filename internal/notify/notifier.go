// Package notify delivers best-effort operational messages (settled
// payments, daily summaries) to the restaurant's chat channels. Delivery
// failures are logged, never propagated into the payment path.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Notifier sends one plain-text message to a channel.
type Notifier interface {
	Send(ctx context.Context, message string) error
}

// Nop is the disabled notifier.
type Nop struct{}

func (Nop) Send(context.Context, string) error { return nil }

// Multi fans a message out to several channels. Every channel is
// attempted; the last error wins.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, message string) error {
	var lastErr error
	for _, n := range m {
		if err := n.Send(ctx, message); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// TelegramNotifier posts messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	client   *http.Client
}

func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Send(ctx context.Context, message string) error {
	body, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    message,
	})
	if err != nil {
		return fmt.Errorf("marshal telegram message: %w", err)
	}

	url := "https://api.telegram.org/bot" + t.botToken + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("telegram returned %d", resp.StatusCode)
	}
	return nil
}

// WhatsAppNotifier posts messages through a WhatsApp HTTP relay.
type WhatsAppNotifier struct {
	apiURL    string
	token     string
	recipient string
	client    *http.Client
}

func NewWhatsAppNotifier(apiURL, token, recipient string) *WhatsAppNotifier {
	return &WhatsAppNotifier{
		apiURL:    apiURL,
		token:     token,
		recipient: recipient,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WhatsAppNotifier) Send(ctx context.Context, message string) error {
	body, err := json.Marshal(map[string]string{
		"to":      w.recipient,
		"message": message,
	})
	if err != nil {
		return fmt.Errorf("marshal whatsapp message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build whatsapp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.token)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send whatsapp message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("whatsapp relay returned %d", resp.StatusCode)
	}
	return nil
}
