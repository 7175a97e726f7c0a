package verifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"

	"github.com/BradenHooton/parlourguard/internal/models"
	"github.com/BradenHooton/parlourguard/internal/notify"
)

// Channels an OTP verifier delivers through
const (
	ChannelEmail = notify.ChannelEmail
	ChannelPhone = notify.ChannelPhone
)

// Each challenge gets a fresh secret, so the code is always the one at counter 0
const otpCounter = 0

// OTPVerifier issues a six-digit HMAC one-time code per challenge. The code travels only
// through the delivery channel; the secret stays on the challenge row.
type OTPVerifier struct {
	issuer  string
	channel string
	cipher  *SecretCipher
}

// NewOTPVerifier creates a verifier for the given channel. cipher may be nil, in which case
// secrets are stored unsealed.
func NewOTPVerifier(issuer, channel string, cipher *SecretCipher) *OTPVerifier {
	return &OTPVerifier{
		issuer:  issuer,
		channel: channel,
		cipher:  cipher,
	}
}

func (v *OTPVerifier) Prepare(ctx context.Context, challenge *models.Challenge) (Delivery, error) {
	key, err := hotp.Generate(hotp.GenerateOpts{
		Issuer:      v.issuer,
		AccountName: challenge.Email,
		SecretSize:  20,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return Delivery{}, fmt.Errorf("failed to generate one-time secret: %w", err)
	}

	code, err := hotp.GenerateCode(key.Secret(), otpCounter)
	if err != nil {
		return Delivery{}, fmt.Errorf("failed to generate one-time code: %w", err)
	}

	stored := key.Secret()
	if v.cipher != nil {
		if stored, err = v.cipher.Seal(stored); err != nil {
			return Delivery{}, err
		}
	}
	challenge.OTPSecret = &stored

	if v.channel == ChannelPhone {
		// SMS length
		return Delivery{
			Channel: ChannelPhone,
			Body:    fmt.Sprintf("%s code: %s", v.issuer, code),
		}, nil
	}

	return Delivery{
		Channel: ChannelEmail,
		Subject: "Your verification code",
		Body:    fmt.Sprintf("Your %s verification code is %s. It expires at %s.", v.issuer, code, challenge.ExpiresAt.UTC().Format("15:04 MST")),
	}, nil
}

func (v *OTPVerifier) Verify(ctx context.Context, challenge *models.Challenge, answer string) (bool, error) {
	if challenge.OTPSecret == nil {
		return false, fmt.Errorf("challenge %s has no one-time secret", challenge.ID)
	}

	secret := *challenge.OTPSecret
	if v.cipher != nil {
		var err error
		if secret, err = v.cipher.Open(secret); err != nil {
			return false, err
		}
	}

	valid, err := hotp.ValidateCustom(answer, otpCounter, secret, hotp.ValidateOpts{
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if errors.Is(err, otp.ErrValidateInputInvalidLength) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to validate one-time code: %w", err)
	}
	return valid, nil
}
