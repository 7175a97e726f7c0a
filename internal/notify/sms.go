package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SMSGatewayNotifier hands phone-channel identity messages to an SMS gateway over HTTP.
// The gateway resolves the identity to a phone number; everything else is ignored.
type SMSGatewayNotifier struct {
	url    string
	client *http.Client
}

type smsPayload struct {
	Identity    string `json:"identity"`
	Text        string `json:"text"`
	ChallengeID string `json:"challenge_id,omitempty"`
}

func NewSMSGatewayNotifier(url string, timeout time.Duration) *SMSGatewayNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SMSGatewayNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (n *SMSGatewayNotifier) Name() string { return "sms" }

func (n *SMSGatewayNotifier) Send(ctx context.Context, msg Message) error {
	if !msg.OnPhone() {
		return nil
	}
	if msg.To == "" {
		return fmt.Errorf("phone message without recipient")
	}

	body, err := json.Marshal(smsPayload{
		Identity:    msg.To,
		Text:        msg.Body,
		ChallengeID: msg.Metadata["challenge_id"],
	})
	if err != nil {
		return fmt.Errorf("failed to marshal sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}
	return nil
}
