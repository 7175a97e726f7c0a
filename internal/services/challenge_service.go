package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/BradenHooton/parlourguard/internal/keylock"
	"github.com/BradenHooton/parlourguard/internal/metrics"
	"github.com/BradenHooton/parlourguard/internal/models"
	"github.com/BradenHooton/parlourguard/internal/notify"
	"github.com/BradenHooton/parlourguard/internal/risk"
	"github.com/BradenHooton/parlourguard/internal/tracing"
	"github.com/BradenHooton/parlourguard/internal/verifier"
	pkgauth "github.com/BradenHooton/parlourguard/pkg/auth"
	pkglogger "github.com/BradenHooton/parlourguard/pkg/logger"
)

// RiskAssessor is the part of the scoring engine the challenge lifecycle depends on
type RiskAssessor interface {
	Assess(ctx context.Context, email string, cc models.ChallengeContext, attemptCount int) models.RiskAssessment
	RecordOutcome(ctx context.Context, email string, success bool, cc models.ChallengeContext)
}

// VerifierRegistry resolves the verifier for a challenge type
type VerifierRegistry interface {
	For(t models.ChallengeType) (verifier.Verifier, error)
}

// ChallengeConfig bounds every challenge's lifetime.
// ApprovalConsoleURL, when set, is the admin console page for pending approvals; the challenge
// id is appended to it in administrator notifications.
type ChallengeConfig struct {
	TTL                time.Duration
	MaxAttempts        int
	ApprovalConsoleURL string
}

// CreateChallengeInput describes a challenge request
type CreateChallengeInput struct {
	Email    string
	TypeHint models.ChallengeType
	Purpose  models.ChallengePurpose
	Context  models.ChallengeContext
}

// CreatedChallenge is returned once; Token is never readable again.
// It never carries anything that answers the challenge.
type CreatedChallenge struct {
	ChallengeID          string               `json:"challenge_id"`
	Token                string               `json:"token"`
	Type                 models.ChallengeType `json:"type"`
	RiskScore            float64              `json:"risk_score"`
	SecurityLevel        models.SecurityLevel `json:"security_level"`
	RequiresVerification bool                 `json:"requires_verification"`
	ExpiresAt            time.Time            `json:"expires_at"`
	Factors              []models.RiskFactor  `json:"factors,omitempty"`
}

// VerifyInput is one submitted answer
type VerifyInput struct {
	ChallengeID string
	Token       string
	Answer      string
}

// ChallengeService runs the challenge state machine.
// Every transition out of PENDING is a single compare-and-swap on (state, attempt_count), made
// while holding the identity's in-process lock; the CAS also covers other instances.
type ChallengeService struct {
	repo      ChallengeRepository
	risk      RiskAssessor
	verifiers VerifierRegistry
	audit     *AuditService
	notifier  Notifier
	locks     *keylock.Locker
	config    ChallengeConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewChallengeService creates a new ChallengeService. notifier may be nil.
func NewChallengeService(
	repo ChallengeRepository,
	riskEngine RiskAssessor,
	verifiers VerifierRegistry,
	audit *AuditService,
	notifier Notifier,
	locks *keylock.Locker,
	config ChallengeConfig,
	logger *slog.Logger,
) *ChallengeService {
	if config.TTL <= 0 {
		config.TTL = models.DefaultChallengeTTL
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = models.DefaultMaxChallengeAttempts
	}
	if locks == nil {
		locks = keylock.New(0)
	}
	return &ChallengeService{
		repo:      repo,
		risk:      riskEngine,
		verifiers: verifiers,
		audit:     audit,
		notifier:  notifier,
		locks:     locks,
		config:    config,
		logger:    logger,
		now:       time.Now,
	}
}

// Create issues a PENDING challenge for the identity. At most one live challenge exists per
// identity; a second request while one is live is models.ErrConflict.
func (s *ChallengeService) Create(ctx context.Context, in CreateChallengeInput) (*CreatedChallenge, error) {
	email := normalizeEmail(in.Email)
	if email == "" {
		return nil, models.NewValidationError("email", "required")
	}
	if in.TypeHint != "" && !in.TypeHint.Valid() {
		return nil, models.NewValidationError("type_hint", fmt.Sprintf("unknown challenge type %q", in.TypeHint))
	}
	if in.Purpose == "" {
		in.Purpose = models.ChallengePurposeLogin
	}

	ctx, span := tracing.StartSpan(ctx, "challenge.create", attribute.String("challenge.purpose", string(in.Purpose)))
	defer span.End()

	unlock := s.locks.Lock(email)
	defer unlock()

	now := s.now().UTC().Truncate(time.Microsecond)

	if err := s.retireStale(ctx, email, now); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// A new challenge has no attempts of its own yet
	assessment := s.risk.Assess(ctx, email, in.Context, 0)
	challengeType := assessment.ChallengeType.Stronger(in.TypeHint)

	token, err := pkgauth.GenerateOpaqueToken()
	if err != nil {
		return nil, err
	}

	c := &models.Challenge{
		ID:               uuid.NewString(),
		Email:            email,
		ChallengeType:    challengeType,
		Purpose:          in.Purpose,
		State:            models.ChallengeStatePending,
		TokenHash:        pkgauth.HashOpaqueToken(token),
		MaxAttempts:      s.config.MaxAttempts,
		RiskScore:        assessment.Score,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.config.TTL),
		ChallengeContext: in.Context,
	}

	v, err := s.verifiers.For(challengeType)
	if err != nil {
		return nil, err
	}
	delivery, err := v.Prepare(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare %s challenge: %w", challengeType, err)
	}

	if err := s.repo.Create(ctx, c); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to create challenge: %w", err)
	}

	span.SetAttributes(
		attribute.String("challenge.type", string(challengeType)),
		attribute.Float64("risk.score", assessment.Score),
	)
	metrics.ChallengesCreatedTotal.WithLabelValues(string(challengeType)).Inc()

	severity := models.AuditSeverityInfo
	if challengeType == models.ChallengeTypeAdminApproval {
		severity = models.AuditSeverityWarning
	}
	rec := challengeRecord(c, models.AuditEventChallengeCreated, severity, models.AuditStatusPending,
		fmt.Sprintf("%s challenge issued at risk %.2f", challengeType, assessment.Score))
	rec.Action = models.AuditActionCreate
	rec.Metadata["purpose"] = string(c.Purpose)
	rec.Metadata["security_level"] = string(assessment.Level)
	s.audit.Append(ctx, rec)

	s.deliver(ctx, c, delivery)

	return &CreatedChallenge{
		ChallengeID:          c.ID,
		Token:                token,
		Type:                 challengeType,
		RiskScore:            assessment.Score,
		SecurityLevel:        assessment.Level,
		RequiresVerification: challengeType.Strength() > models.ChallengeTypeCaptcha.Strength(),
		ExpiresAt:            c.ExpiresAt,
		Factors:              assessment.Factors,
	}, nil
}

// retireStale expires the identity's pending challenge if it is overdue and reports
// models.ErrConflict if it is still live
func (s *ChallengeService) retireStale(ctx context.Context, email string, now time.Time) error {
	pending, err := s.repo.GetPendingByEmail(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read pending challenge: %w", err)
	}
	if pending.IsLive(now) {
		return fmt.Errorf("%w: a challenge is already pending for this identity", models.ErrConflict)
	}

	expected := pending.AttemptCount
	pending.State = models.ChallengeStateExpired
	err = s.repo.CompareAndSwap(ctx, pending, expected)
	if errors.Is(err, models.ErrConflict) {
		// Resolved concurrently by another instance
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to expire stale challenge: %w", err)
	}
	s.recordTerminal(ctx, pending, models.AuditEventChallengeExpired, models.AuditStatusFailure, "challenge expired before it was answered")
	return nil
}

// Verify evaluates one answer. Each call on a PENDING challenge consumes exactly one attempt.
// Calls on an already resolved challenge change nothing and return the same outcome.
func (s *ChallengeService) Verify(ctx context.Context, in VerifyInput) (*models.VerificationResult, error) {
	ctx, span := tracing.StartSpan(ctx, "challenge.verify", attribute.String("challenge.id", in.ChallengeID))
	defer span.End()

	c, err := s.repo.GetByID(ctx, in.ChallengeID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(c.Email)
	defer unlock()

	// Re-read under the lock; the first read only located the identity
	if c, err = s.repo.GetByID(ctx, in.ChallengeID); err != nil {
		return nil, err
	}

	if c.State.Terminal() {
		return resolvedOutcome(c)
	}

	now := s.now().UTC().Truncate(time.Microsecond)

	if now.After(c.ExpiresAt) {
		if err := s.terminate(ctx, c, models.ChallengeStateExpired); err != nil {
			return nil, err
		}
		s.recordTerminal(ctx, c, models.AuditEventChallengeExpired, models.AuditStatusFailure, "verification attempted after expiry")
		return nil, models.ErrChallengeExpired
	}

	if c.AttemptCount >= c.MaxAttempts {
		if err := s.terminate(ctx, c, models.ChallengeStateFailed); err != nil {
			return nil, err
		}
		s.recordTerminal(ctx, c, models.AuditEventChallengeFailed, models.AuditStatusBlocked, "attempt budget exhausted")
		return nil, models.ErrAttemptsExceeded
	}

	success := s.evaluate(ctx, c, in)

	// Nothing is written once the caller has gone away
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	expected := c.AttemptCount
	c.AttemptCount++
	switch {
	case success:
		completedAt := now
		c.State = models.ChallengeStateCompleted
		c.CompletedAt = &completedAt
	case c.AttemptCount >= c.MaxAttempts:
		c.State = models.ChallengeStateFailed
	default:
		c.State = models.ChallengeStatePending
	}

	if err := s.repo.CompareAndSwap(ctx, c, expected); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// The transition is committed; its side effects must not be cut short by the caller
	bg := context.WithoutCancel(ctx)
	s.risk.RecordOutcome(bg, c.Email, success, c.ChallengeContext)

	switch c.State {
	case models.ChallengeStateCompleted:
		s.recordTerminal(bg, c, models.AuditEventChallengeCompleted, models.AuditStatusSuccess, "challenge answered correctly")
	case models.ChallengeStateFailed:
		s.audit.Append(bg, challengeRecord(c, models.AuditEventChallengeFailedAttempt, models.AuditSeverityWarning, models.AuditStatusFailure, "wrong answer"))
		s.recordTerminal(bg, c, models.AuditEventChallengeFailed, models.AuditStatusBlocked, "attempt budget exhausted")
	default:
		s.audit.Append(bg, challengeRecord(c, models.AuditEventChallengeFailedAttempt, models.AuditSeverityWarning, models.AuditStatusFailure, "wrong answer"))
	}

	span.SetAttributes(attribute.String("challenge.state", string(c.State)))
	return verificationResult(c, false), nil
}

// evaluate checks the token and, when it matches, the answer. A verifier failure counts as a wrong answer.
func (s *ChallengeService) evaluate(ctx context.Context, c *models.Challenge, in VerifyInput) bool {
	if !pkgauth.OpaqueTokenMatches(in.Token, c.TokenHash) {
		return false
	}

	v, err := s.verifiers.For(c.ChallengeType)
	if err != nil {
		s.logger.ErrorContext(ctx, "no verifier for challenge type", slog.String("type", string(c.ChallengeType)))
		return false
	}

	ok, err := v.Verify(ctx, c, in.Answer)
	if err != nil {
		s.logger.WarnContext(ctx, "verifier unavailable, counting attempt as failed",
			slog.String("challenge_id", c.ID),
			slog.String("type", string(c.ChallengeType)),
			slog.Any("error", err),
		)
		return false
	}
	return ok
}

// Approve records an administrator's sign-off on a pending ADMIN_APPROVAL challenge.
// The identity still has to call verify to complete it.
func (s *ChallengeService) Approve(ctx context.Context, challengeID, adminEmail string) (*models.ChallengeApproval, error) {
	c, err := s.repo.GetByID(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if c.ChallengeType != models.ChallengeTypeAdminApproval {
		return nil, models.NewValidationError("challenge_id", "challenge does not require administrator approval")
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	switch {
	case c.State == models.ChallengeStatePending && now.After(c.ExpiresAt):
		return nil, models.ErrChallengeExpired
	case c.State == models.ChallengeStateExpired:
		return nil, models.ErrChallengeExpired
	case c.State.Terminal():
		return nil, fmt.Errorf("%w: challenge is already %s", models.ErrConflict, c.State)
	}

	approval := &models.ChallengeApproval{
		ChallengeID: c.ID,
		ApprovedBy:  normalizeEmail(adminEmail),
		ApprovedAt:  now,
	}
	if err := s.repo.CreateApproval(ctx, approval); err != nil {
		return nil, err
	}

	rec := challengeRecord(c, models.AuditEventAdminApprovalGranted, models.AuditSeverityWarning, models.AuditStatusSuccess,
		fmt.Sprintf("approved by %s", approval.ApprovedBy))
	rec.Action = models.AuditActionUpdate
	rec.Metadata["approved_by"] = approval.ApprovedBy
	s.audit.Append(ctx, rec)

	return approval, nil
}

// ExpireStale marks every overdue PENDING challenge EXPIRED. Safe to run repeatedly.
func (s *ChallengeService) ExpireStale(ctx context.Context) (int, error) {
	expired, err := s.repo.ExpireOverdue(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to expire challenges: %w", err)
	}
	for _, c := range expired {
		s.recordTerminal(ctx, c, models.AuditEventChallengeExpired, models.AuditStatusFailure, "challenge expired before it was answered")
	}
	return len(expired), nil
}

// terminate moves a PENDING challenge to a terminal state without consuming an attempt
func (s *ChallengeService) terminate(ctx context.Context, c *models.Challenge, state models.ChallengeState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.State = state
	return s.repo.CompareAndSwap(ctx, c, c.AttemptCount)
}

func (s *ChallengeService) recordTerminal(ctx context.Context, c *models.Challenge, event models.AuditEventType, status models.AuditStatus, details string) {
	metrics.ChallengesResolvedTotal.WithLabelValues(string(c.ChallengeType), string(c.State)).Inc()

	severity := models.AuditSeverityInfo
	if c.State == models.ChallengeStateFailed {
		severity = models.AuditSeverityWarning
	}
	s.audit.Append(ctx, challengeRecord(c, event, severity, status, details))
}

func (s *ChallengeService) deliver(ctx context.Context, c *models.Challenge, d verifier.Delivery) {
	if s.notifier == nil {
		return
	}

	if d.Body != "" {
		if !s.notifier.Enqueue(notify.Message{
			Audience: notify.AudienceIdentity,
			Kind:     notify.KindChallengeCode,
			Channel:  d.Channel,
			To:       c.Email,
			Subject:  d.Subject,
			Body:     d.Body,
			Metadata: map[string]string{"challenge_id": c.ID},
		}) {
			s.logger.WarnContext(ctx, "challenge code not queued",
				slog.String("challenge_id", c.ID),
				slog.String("email", pkglogger.SanitizedEmail(c.Email)),
			)
		}
	}

	if c.ChallengeType == models.ChallengeTypeAdminApproval {
		s.notifier.Enqueue(s.approvalMessage(ctx, c))
	}
}

// approvalMessage asks administrators to review c. With a console URL configured it links the
// review page, also as a QR code for a phone at the front desk. The page needs an admin login.
func (s *ChallengeService) approvalMessage(ctx context.Context, c *models.Challenge) notify.Message {
	msg := notify.Message{
		Audience: notify.AudienceAdmin,
		Kind:     notify.KindAdminApproval,
		Subject:  "Sign-in awaiting approval",
		Body: fmt.Sprintf("%s is waiting for approval of challenge %s (risk %.2f) until %s.",
			pkglogger.SanitizedEmail(c.Email), c.ID, c.RiskScore, c.ExpiresAt.UTC().Format(time.RFC3339)),
		Metadata: map[string]string{"challenge_id": c.ID},
	}

	if s.config.ApprovalConsoleURL == "" {
		return msg
	}
	link := strings.TrimRight(s.config.ApprovalConsoleURL, "/") + "/" + url.PathEscape(c.ID)
	msg.Body += " Review: " + link
	msg.Metadata["approval_url"] = link

	image, err := notify.QRCodeDataURL(link)
	if err != nil {
		s.logger.WarnContext(ctx, "approval QR code not rendered", slog.Any("error", err))
		return msg
	}
	msg.Image = image
	return msg
}

// resolvedOutcome replays the outcome of a terminal challenge
func resolvedOutcome(c *models.Challenge) (*models.VerificationResult, error) {
	switch c.State {
	case models.ChallengeStateExpired:
		return nil, models.ErrChallengeExpired
	case models.ChallengeStateFailed:
		return nil, models.ErrAttemptsExceeded
	}
	return verificationResult(c, true), nil
}

func verificationResult(c *models.Challenge, resolved bool) *models.VerificationResult {
	return &models.VerificationResult{
		ChallengeID:       c.ID,
		Success:           c.State == models.ChallengeStateCompleted,
		State:             c.State,
		AttemptsRemaining: c.AttemptsRemaining(),
		CompletedAt:       c.CompletedAt,
		Email:             c.Email,
		Purpose:           c.Purpose,
		Resolved:          resolved,
	}
}

var _ RiskAssessor = (*risk.Engine)(nil)
