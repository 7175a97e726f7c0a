package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/parlourguard/internal/metrics"
	"github.com/BradenHooton/parlourguard/internal/models"
	pkglogger "github.com/BradenHooton/parlourguard/pkg/logger"
)

// LockoutService tracks failed primary-factor logins and locks identities that exceed the
// policy. Expired locks are cleared lazily on read and eagerly by ClearExpired.
type LockoutService struct {
	repo   LockoutRepository
	audit  *AuditService
	policy models.LockoutPolicy
	logger *slog.Logger
	now    func() time.Time
}

// NewLockoutService creates a new LockoutService
func NewLockoutService(repo LockoutRepository, audit *AuditService, policy models.LockoutPolicy, logger *slog.Logger) *LockoutService {
	return &LockoutService{
		repo:   repo,
		audit:  audit,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
}

// Policy returns the configured threshold and lock length
func (s *LockoutService) Policy() models.LockoutPolicy {
	return s.policy
}

// RecordFailedLogin counts one failed attempt under the given policy. When the count reaches
// maxAttempts the identity is locked for the policy duration and ACCOUNT_LOCKED is audited.
func (s *LockoutService) RecordFailedLogin(ctx context.Context, email string, policy models.LockoutPolicy) (*models.AccountLockout, error) {
	if policy.MaxAttempts <= 0 || policy.Duration <= 0 {
		return nil, models.NewValidationError("policy", "maxAttempts and duration must be positive")
	}

	email = normalizeEmail(email)
	now := s.now()

	row, engaged, err := s.repo.RecordFailure(ctx, email, now, policy)
	if err != nil {
		return nil, fmt.Errorf("failed to record failed login: %w", err)
	}

	if engaged {
		metrics.AccountLockoutsTotal.Inc()
		s.logger.WarnContext(ctx, "account locked",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Int("failed_attempts", row.FailedAttempts),
			slog.Time("locked_until", *row.LockedUntil),
		)
		s.audit.Append(ctx, &models.AuditRecord{
			Email:        email,
			EventType:    models.AuditEventAccountLocked,
			Severity:     models.AuditSeverityCritical,
			Status:       models.AuditStatusBlocked,
			Action:       models.AuditActionLock,
			ResourceType: models.StringPtr(models.AuditResourceTypeAccount),
			ResourceID:   models.StringPtr(email),
			Details:      fmt.Sprintf("locked after %d failed attempts", row.FailedAttempts),
			Metadata: models.AuditMetadata{
				"failed_attempts": row.FailedAttempts,
				"locked_until":    row.LockedUntil.UTC().Format(time.RFC3339),
			},
		})
	}

	return row, nil
}

// RecordFailure counts a failed attempt under the configured policy
func (s *LockoutService) RecordFailure(ctx context.Context, email string) (*models.AccountLockout, error) {
	return s.RecordFailedLogin(ctx, email, s.policy)
}

// RecordSuccessfulLogin clears the failure count and any lock
func (s *LockoutService) RecordSuccessfulLogin(ctx context.Context, email string) error {
	if err := s.repo.Reset(ctx, normalizeEmail(email)); err != nil {
		return fmt.Errorf("failed to reset lockout: %w", err)
	}
	return nil
}

// IsCurrentlyLocked reports whether the identity is inside an unexpired lock
func (s *LockoutService) IsCurrentlyLocked(ctx context.Context, email string) (bool, error) {
	row, err := s.repo.Get(ctx, normalizeEmail(email))
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return row.ActiveAt(s.now()), nil
}

// Check returns *models.AccountLockedError while the identity is locked.
// A failing lockout store does not block logins; the failure is logged.
func (s *LockoutService) Check(ctx context.Context, email string) error {
	email = normalizeEmail(email)

	row, err := s.repo.Get(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "lockout check unavailable", slog.Any("error", err))
		return nil
	}

	now := s.now()
	if row.ActiveAt(now) {
		return row.LockedError(now)
	}
	return nil
}

// Status returns the identity's current row; unseen identities get an empty, unlocked row
func (s *LockoutService) Status(ctx context.Context, email string) (*models.AccountLockout, error) {
	email = normalizeEmail(email)

	row, err := s.repo.Get(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		return &models.AccountLockout{Email: email}, nil
	}
	return row, err
}

// ClearExpired physically resets locks that have lapsed. Safe to run repeatedly.
func (s *LockoutService) ClearExpired(ctx context.Context) (int64, error) {
	cleared, err := s.repo.ClearExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired lockouts: %w", err)
	}
	return cleared, nil
}
