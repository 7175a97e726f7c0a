// Package verifier checks answers for each challenge type.
//
// Each challenge type has one Verifier. Prepare runs once when a challenge is created and
// returns what has to be delivered to the identity out of band. Verify evaluates a
// single submitted answer. A Verifier error means a dependency failed; callers treat it as a
// wrong answer.
package verifier

import (
	"context"
	"fmt"

	"github.com/BradenHooton/parlourguard/internal/models"
)

// Delivery is what the identity must receive out of band to answer a challenge.
// It is only ever handed to the notification queue, never to the caller that created the challenge.
type Delivery struct {
	// Channel is ChannelEmail or ChannelPhone
	Channel string
	// Subject and Body are sent through the notification queue; empty Body means nothing to send
	Subject string
	Body    string
}

// Verifier prepares and checks one challenge type
type Verifier interface {
	Prepare(ctx context.Context, challenge *models.Challenge) (Delivery, error)
	Verify(ctx context.Context, challenge *models.Challenge, answer string) (bool, error)
}

// Registry maps every challenge type to its verifier
type Registry struct {
	captcha  Verifier
	email    Verifier
	phone    Verifier
	approval Verifier
}

// NewRegistry builds a registry; every verifier is required
func NewRegistry(captcha, email, phone, approval Verifier) *Registry {
	return &Registry{
		captcha:  captcha,
		email:    email,
		phone:    phone,
		approval: approval,
	}
}

// For returns the verifier for the given type
func (r *Registry) For(t models.ChallengeType) (Verifier, error) {
	switch t {
	case models.ChallengeTypeCaptcha:
		return r.captcha, nil
	case models.ChallengeTypeEmailVerification:
		return r.email, nil
	case models.ChallengeTypePhoneVerification:
		return r.phone, nil
	case models.ChallengeTypeAdminApproval:
		return r.approval, nil
	}
	return nil, fmt.Errorf("no verifier for challenge type %q: %w", t, models.ErrBadRequest)
}
