package models

import (
	"fmt"
	"time"
)

// ChallengeType is the secondary factor demanded from the caller, ordered by strength
type ChallengeType string

const (
	ChallengeTypeCaptcha           ChallengeType = "CAPTCHA"
	ChallengeTypeEmailVerification ChallengeType = "EMAIL_VERIFICATION"
	ChallengeTypePhoneVerification ChallengeType = "PHONE_VERIFICATION"
	ChallengeTypeAdminApproval     ChallengeType = "ADMIN_APPROVAL"
)

// Strength orders challenge types from weakest (1) to strongest (4). Unknown types are 0.
func (t ChallengeType) Strength() int {
	switch t {
	case ChallengeTypeCaptcha:
		return 1
	case ChallengeTypeEmailVerification:
		return 2
	case ChallengeTypePhoneVerification:
		return 3
	case ChallengeTypeAdminApproval:
		return 4
	}
	return 0
}

func (t ChallengeType) Valid() bool {
	return t.Strength() > 0
}

// Stronger returns whichever of the two types demands more from the caller
func (t ChallengeType) Stronger(other ChallengeType) ChallengeType {
	if other.Strength() > t.Strength() {
		return other
	}
	return t
}

// ParseChallengeType accepts an upper-case type name; the empty string yields "" with no error
func ParseChallengeType(s string) (ChallengeType, error) {
	if s == "" {
		return "", nil
	}
	t := ChallengeType(s)
	if !t.Valid() {
		return "", NewValidationError("type_hint", fmt.Sprintf("unknown challenge type %q", s))
	}
	return t, nil
}

// ChallengeState is the lifecycle state of a challenge. Only PENDING is non-terminal.
type ChallengeState string

const (
	ChallengeStatePending   ChallengeState = "PENDING"
	ChallengeStateCompleted ChallengeState = "COMPLETED"
	ChallengeStateFailed    ChallengeState = "FAILED"
	ChallengeStateExpired   ChallengeState = "EXPIRED"
)

func (s ChallengeState) Terminal() bool {
	switch s {
	case ChallengeStateCompleted, ChallengeStateFailed, ChallengeStateExpired:
		return true
	case ChallengeStatePending:
		return false
	}
	return false
}

// ChallengePurpose distinguishes login-time challenges from step-up on an existing session
type ChallengePurpose string

const (
	ChallengePurposeLogin  ChallengePurpose = "LOGIN"
	ChallengePurposeStepUp ChallengePurpose = "STEP_UP"
)

// DefaultChallengeTTL and DefaultMaxChallengeAttempts are the lifecycle bounds of a challenge
const (
	DefaultChallengeTTL         = 30 * time.Minute
	DefaultMaxChallengeAttempts = 3
)

// ChallengeContext is the request-side signal set a challenge is scored against
type ChallengeContext struct {
	DeviceFingerprint *string
	Geolocation       *string
	IPAddress         string
	UserAgent         string
}

// Challenge is a single step-up verification instance
type Challenge struct {
	ID            string           `db:"id"`
	Email         string           `db:"email"`
	ChallengeType ChallengeType    `db:"challenge_type"`
	Purpose       ChallengePurpose `db:"purpose"`
	State         ChallengeState   `db:"state"`
	TokenHash     string           `db:"token_hash"`
	OTPSecret     *string          `db:"otp_secret"`
	AttemptCount  int              `db:"attempt_count"`
	MaxAttempts   int              `db:"max_attempts"`
	RiskScore     float64          `db:"risk_score"`
	CreatedAt     time.Time        `db:"created_at"`
	ExpiresAt     time.Time        `db:"expires_at"`
	CompletedAt   *time.Time       `db:"completed_at"`
	ChallengeContext
}

// IsLive reports whether the challenge still blocks creation of another one for the same identity
func (c *Challenge) IsLive(now time.Time) bool {
	return c.State == ChallengeStatePending && !now.After(c.ExpiresAt)
}

// AttemptsRemaining never goes negative
func (c *Challenge) AttemptsRemaining() int {
	if remaining := c.MaxAttempts - c.AttemptCount; remaining > 0 {
		return remaining
	}
	return 0
}

// ChallengeApproval records an administrator's sign-off on an ADMIN_APPROVAL challenge
type ChallengeApproval struct {
	ChallengeID string    `db:"challenge_id"`
	ApprovedBy  string    `db:"approved_by"`
	ApprovedAt  time.Time `db:"approved_at"`
}

// VerificationResult is what verify returns for answered or already-resolved challenges
type VerificationResult struct {
	ChallengeID       string           `json:"challenge_id"`
	Success           bool             `json:"success"`
	State             ChallengeState   `json:"state"`
	AttemptsRemaining int              `json:"attempts_remaining"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty"`
	Email             string           `json:"-"`
	Purpose           ChallengePurpose `json:"-"`
	// Resolved is true when the call changed nothing because the challenge was already terminal
	Resolved bool `json:"-"`
}
