package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookNotifier posts administrator alerts as JSON to an HTTP endpoint.
// Identity messages carry one-time codes and are never forwarded.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

type webhookPayload struct {
	Event       string            `json:"event"`
	TriggeredAt time.Time         `json:"triggered_at"`
	Subject     string            `json:"subject"`
	Body        string            `json:"body"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Image       string            `json:"image,omitempty"`
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (n *WebhookNotifier) Name() string { return "webhook" }

func (n *WebhookNotifier) Send(ctx context.Context, msg Message) error {
	if msg.Audience != AudienceAdmin {
		return nil
	}

	body, err := json.Marshal(webhookPayload{
		Event:       msg.Kind,
		TriggeredAt: msg.CreatedAt,
		Subject:     msg.Subject,
		Body:        msg.Body,
		Metadata:    msg.Metadata,
		Image:       msg.Image,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Parlourguard-Event", msg.Kind)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
