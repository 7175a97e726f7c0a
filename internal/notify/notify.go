// Package notify delivers out-of-band messages (verification codes, administrator alerts)
// without ever blocking the authentication path.
package notify

import (
	"context"
	"errors"
	"time"
)

// Audience decides who receives a message
type Audience string

const (
	// AudienceIdentity messages go to Message.To
	AudienceIdentity Audience = "identity"
	// AudienceAdmin messages go to the configured administrator channel
	AudienceAdmin Audience = "admin"
)

// Delivery channels for identity messages
const (
	ChannelEmail = "email"
	ChannelPhone = "phone"
)

// Message is one notification. Channel routes identity messages (empty means email).
// Image is an optional PNG data URL, see QRCodeDataURL.
type Message struct {
	Audience  Audience          `json:"audience"`
	Kind      string            `json:"kind"`
	Channel   string            `json:"channel,omitempty"`
	To        string            `json:"to,omitempty"`
	Subject   string            `json:"subject"`
	Body      string            `json:"body"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Image     string            `json:"image,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// OnPhone reports whether an identity message must go out by phone
func (m Message) OnPhone() bool {
	return m.Audience == AudienceIdentity && m.Channel == ChannelPhone
}

// Message kinds
const (
	KindChallengeCode = "challenge_code"
	KindAdminApproval = "admin_approval_required"
	KindCriticalEvent = "critical_security_event"
)

// Notifier delivers a message synchronously
type Notifier interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// MultiNotifier fans a message out to every notifier and joins their errors
type MultiNotifier []Notifier

func (m MultiNotifier) Name() string { return "multi" }

func (m MultiNotifier) Send(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
