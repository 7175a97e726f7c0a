package services

import (
	"context"
	"strings"
	"time"

	"github.com/BradenHooton/parlourguard/internal/models"
	"github.com/BradenHooton/parlourguard/internal/notify"
)

// ChallengeRepository defines the storage operations of the challenge state machine
type ChallengeRepository interface {
	Create(ctx context.Context, c *models.Challenge) error
	GetByID(ctx context.Context, id string) (*models.Challenge, error)
	GetPendingByEmail(ctx context.Context, email string) (*models.Challenge, error)
	CompareAndSwap(ctx context.Context, c *models.Challenge, expectedAttempts int) error
	ExpireOverdue(ctx context.Context, now time.Time) ([]*models.Challenge, error)
	CreateApproval(ctx context.Context, a *models.ChallengeApproval) error
	GetApproval(ctx context.Context, challengeID string) (*models.ChallengeApproval, error)
}

// LockoutRepository applies lockout changes atomically per identity
type LockoutRepository interface {
	RecordFailure(ctx context.Context, email string, now time.Time, policy models.LockoutPolicy) (*models.AccountLockout, bool, error)
	Get(ctx context.Context, email string) (*models.AccountLockout, error)
	Reset(ctx context.Context, email string) error
	ClearExpired(ctx context.Context, now time.Time) (int64, error)
}

// SessionRepository defines the storage operations of the session registry
type SessionRepository interface {
	CreateWithCap(ctx context.Context, s *models.Session, maxActive int, now time.Time) ([]*models.Session, error)
	GetByID(ctx context.Context, sessionID string) (*models.Session, error)
	Revoke(ctx context.Context, sessionID, reason string, now time.Time) (bool, error)
	RevokeAllForEmail(ctx context.Context, email, reason string, now time.Time) ([]string, error)
	Touch(ctx context.Context, sessionID string, now time.Time) error
	ListActive(ctx context.Context, email string) ([]*models.Session, error)
	SweepExpired(ctx context.Context, idleBefore, now time.Time) ([]string, error)
}

// AuditRepository is append-only
type AuditRepository interface {
	Create(ctx context.Context, rec *models.AuditRecord) error
	ListRange(ctx context.Context, start, end time.Time) ([]*models.AuditRecord, error)
}

// AuditReader is the read half of the audit store
type AuditReader interface {
	ListRange(ctx context.Context, start, end time.Time) ([]*models.AuditRecord, error)
}

// CredentialRepository reads primary credentials
type CredentialRepository interface {
	GetByEmail(ctx context.Context, email string) (*models.Credential, error)
	Upsert(ctx context.Context, c *models.Credential) error
}

// Notifier queues out-of-band messages without blocking
type Notifier interface {
	Enqueue(msg notify.Message) bool
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
