package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/parlourguard/internal/metrics"
	"github.com/BradenHooton/parlourguard/internal/models"
	pkglogger "github.com/BradenHooton/parlourguard/pkg/logger"
)

// SessionConfig bounds the session registry
type SessionConfig struct {
	MaxConcurrent     int
	TTL               time.Duration
	InactivityTimeout time.Duration
}

// SessionService owns the session registry: creation under a per-identity cap, revocation,
// activity tracking and the expiry sweep
type SessionService struct {
	repo   SessionRepository
	audit  *AuditService
	config SessionConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewSessionService creates a new SessionService
func NewSessionService(repo SessionRepository, audit *AuditService, config SessionConfig, logger *slog.Logger) *SessionService {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = models.DefaultMaxConcurrentSessions
	}
	if config.TTL <= 0 {
		config.TTL = 12 * time.Hour
	}
	if config.InactivityTimeout <= 0 {
		config.InactivityTimeout = 30 * time.Minute
	}
	return &SessionService{
		repo:   repo,
		audit:  audit,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// CreateSessionInput describes a session to open
type CreateSessionInput struct {
	Email     string
	Role      string
	IPAddress string
	UserAgent string
	// TTL overrides the configured lifetime when positive
	TTL time.Duration
}

// CreateSession opens a session. If the identity now has more active sessions than allowed,
// the oldest ones are revoked with reason "max sessions exceeded" in the same atomic step.
func (s *SessionService) CreateSession(ctx context.Context, in CreateSessionInput) (*models.Session, error) {
	email := normalizeEmail(in.Email)
	if email == "" {
		return nil, models.NewValidationError("email", "required")
	}

	ttl := in.TTL
	if ttl <= 0 {
		ttl = s.config.TTL
	}
	role := in.Role
	if role == "" {
		role = models.RoleMember
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	session := &models.Session{
		SessionID:    uuid.NewString(),
		Email:        email,
		Role:         role,
		IPAddress:    in.IPAddress,
		UserAgent:    in.UserAgent,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(ttl),
		IsActive:     true,
	}

	evicted, err := s.repo.CreateWithCap(ctx, session, s.config.MaxConcurrent, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.audit.Append(ctx, &models.AuditRecord{
		Email:        email,
		EventType:    models.AuditEventSessionCreated,
		Severity:     models.AuditSeverityInfo,
		Status:       models.AuditStatusSuccess,
		Action:       models.AuditActionCreate,
		IPAddress:    in.IPAddress,
		UserAgent:    in.UserAgent,
		ResourceType: models.StringPtr(models.AuditResourceTypeSession),
		ResourceID:   models.StringPtr(session.SessionID),
	})

	for _, old := range evicted {
		metrics.SessionsEvictedTotal.WithLabelValues(models.RevocationReasonMaxSessions).Inc()
		s.auditRevocation(ctx, old, models.RevocationReasonMaxSessions)
	}
	if len(evicted) > 0 {
		s.logger.InfoContext(ctx, "sessions evicted by concurrency cap",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Int("evicted", len(evicted)),
		)
	}

	return session, nil
}

// Revoke deactivates a session. Revoking an inactive or unknown session is a no-op.
func (s *SessionService) Revoke(ctx context.Context, sessionID, reason string) error {
	session, err := s.repo.GetByID(ctx, sessionID)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	changed, err := s.repo.Revoke(ctx, sessionID, reason, s.now())
	if err != nil {
		return err
	}
	if changed {
		metrics.SessionsEvictedTotal.WithLabelValues(reason).Inc()
		s.auditRevocation(ctx, session, reason)
	}
	return nil
}

// RevokeOwn revokes a session that must belong to email; another identity's session is NotFound
func (s *SessionService) RevokeOwn(ctx context.Context, email, sessionID string) error {
	session, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Email != normalizeEmail(email) {
		return models.ErrNotFound
	}
	return s.Revoke(ctx, sessionID, models.RevocationReasonUser)
}

// RevokeAll deactivates every active session of the identity and returns how many changed
func (s *SessionService) RevokeAll(ctx context.Context, email, reason string) (int, error) {
	email = normalizeEmail(email)

	ids, err := s.repo.RevokeAllForEmail(ctx, email, reason, s.now())
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		metrics.SessionsEvictedTotal.WithLabelValues(reason).Inc()
		s.auditRevocation(ctx, &models.Session{SessionID: id, Email: email}, reason)
	}
	return len(ids), nil
}

// Touch records activity on an active session; inactive sessions are left alone
func (s *SessionService) Touch(ctx context.Context, sessionID string) error {
	return s.repo.Touch(ctx, sessionID, s.now())
}

// Validate returns the session when it can still carry requests.
// A session found idle past the inactivity timeout is revoked on the spot.
func (s *SessionService) Validate(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := s.repo.GetByID(ctx, sessionID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !session.Usable(now) {
		return nil, models.ErrUnauthorized
	}
	if now.Sub(session.LastActivity) > s.config.InactivityTimeout {
		if err := s.Revoke(ctx, sessionID, models.RevocationReasonExpired); err != nil {
			s.logger.WarnContext(ctx, "failed to revoke idle session", slog.Any("error", err))
		}
		return nil, models.ErrUnauthorized
	}
	return session, nil
}

// IsActive reports whether the session can still carry requests
func (s *SessionService) IsActive(ctx context.Context, sessionID string) (bool, error) {
	_, err := s.Validate(ctx, sessionID)
	if errors.Is(err, models.ErrUnauthorized) {
		return false, nil
	}
	return err == nil, err
}

func (s *SessionService) ListActive(ctx context.Context, email string) ([]*models.Session, error) {
	return s.repo.ListActive(ctx, normalizeEmail(email))
}

// SweepExpired revokes sessions that are idle past the inactivity timeout or past expiry.
// Safe to run repeatedly.
func (s *SessionService) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()

	ids, err := s.repo.SweepExpired(ctx, now.Add(-s.config.InactivityTimeout), now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	if len(ids) > 0 {
		metrics.SessionsEvictedTotal.WithLabelValues(models.RevocationReasonExpired).Add(float64(len(ids)))
	}
	return len(ids), nil
}

func (s *SessionService) auditRevocation(ctx context.Context, session *models.Session, reason string) {
	s.audit.Append(ctx, &models.AuditRecord{
		Email:        session.Email,
		EventType:    models.AuditEventSessionRevoked,
		Severity:     models.AuditSeverityInfo,
		Status:       models.AuditStatusSuccess,
		Action:       models.AuditActionRevoke,
		ResourceType: models.StringPtr(models.AuditResourceTypeSession),
		ResourceID:   models.StringPtr(session.SessionID),
		Details:      reason,
	})
}
