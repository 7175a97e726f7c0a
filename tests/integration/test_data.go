//go:build integration

package integration

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/parlourguard/internal/models"
)

// TestIdentity generates unique test credentials using timestamp
func TestIdentity(suffix string) (email, password string) {
	ts := time.Now().UnixNano()
	email = fmt.Sprintf("test-%d-%s@example.com", ts, suffix)
	password = "Parlour-Test-Pass-91"
	return
}

// PendingChallenge builds a PENDING challenge created at now
func PendingChallenge(email string, now time.Time) *models.Challenge {
	return &models.Challenge{
		ID:            uuid.NewString(),
		Email:         email,
		ChallengeType: models.ChallengeTypeEmailVerification,
		Purpose:       models.ChallengePurposeLogin,
		State:         models.ChallengeStatePending,
		TokenHash:     "hash",
		MaxAttempts:   models.DefaultMaxChallengeAttempts,
		RiskScore:     0.5,
		CreatedAt:     now,
		ExpiresAt:     now.Add(models.DefaultChallengeTTL),
	}
}

// ExtractCodeFromBody pulls the six digit code out of a challenge notification body
func ExtractCodeFromBody(body string) string {
	for i := 0; i+6 <= len(body); i++ {
		ok := true
		for j := i; j < i+6; j++ {
			if body[j] < '0' || body[j] > '9' {
				ok = false
				break
			}
		}
		if ok && (i+6 == len(body) || body[i+6] < '0' || body[i+6] > '9') && (i == 0 || body[i-1] < '0' || body[i-1] > '9') {
			return body[i : i+6]
		}
	}
	return ""
}
