package services

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/parlourguard/internal/models"
	"github.com/BradenHooton/parlourguard/internal/notify"
	"github.com/BradenHooton/parlourguard/internal/verifier"
)

// MockChallengeRepository implements ChallengeRepository for testing
type MockChallengeRepository struct {
	CreateFunc            func(ctx context.Context, c *models.Challenge) error
	GetByIDFunc           func(ctx context.Context, id string) (*models.Challenge, error)
	GetPendingByEmailFunc func(ctx context.Context, email string) (*models.Challenge, error)
	CompareAndSwapFunc    func(ctx context.Context, c *models.Challenge, expectedAttempts int) error
	ExpireOverdueFunc     func(ctx context.Context, now time.Time) ([]*models.Challenge, error)
	CreateApprovalFunc    func(ctx context.Context, a *models.ChallengeApproval) error
	GetApprovalFunc       func(ctx context.Context, challengeID string) (*models.ChallengeApproval, error)
}

func (m *MockChallengeRepository) Create(ctx context.Context, c *models.Challenge) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, c)
	}
	return nil
}

func (m *MockChallengeRepository) GetByID(ctx context.Context, id string) (*models.Challenge, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockChallengeRepository) GetPendingByEmail(ctx context.Context, email string) (*models.Challenge, error) {
	if m.GetPendingByEmailFunc != nil {
		return m.GetPendingByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockChallengeRepository) CompareAndSwap(ctx context.Context, c *models.Challenge, expectedAttempts int) error {
	if m.CompareAndSwapFunc != nil {
		return m.CompareAndSwapFunc(ctx, c, expectedAttempts)
	}
	return nil
}

func (m *MockChallengeRepository) ExpireOverdue(ctx context.Context, now time.Time) ([]*models.Challenge, error) {
	if m.ExpireOverdueFunc != nil {
		return m.ExpireOverdueFunc(ctx, now)
	}
	return nil, nil
}

func (m *MockChallengeRepository) CreateApproval(ctx context.Context, a *models.ChallengeApproval) error {
	if m.CreateApprovalFunc != nil {
		return m.CreateApprovalFunc(ctx, a)
	}
	return nil
}

func (m *MockChallengeRepository) GetApproval(ctx context.Context, challengeID string) (*models.ChallengeApproval, error) {
	if m.GetApprovalFunc != nil {
		return m.GetApprovalFunc(ctx, challengeID)
	}
	return nil, models.ErrNotFound
}

// MockLockoutRepository implements LockoutRepository for testing
type MockLockoutRepository struct {
	RecordFailureFunc func(ctx context.Context, email string, now time.Time, policy models.LockoutPolicy) (*models.AccountLockout, bool, error)
	GetFunc           func(ctx context.Context, email string) (*models.AccountLockout, error)
	ResetFunc         func(ctx context.Context, email string) error
	ClearExpiredFunc  func(ctx context.Context, now time.Time) (int64, error)
}

func (m *MockLockoutRepository) RecordFailure(ctx context.Context, email string, now time.Time, policy models.LockoutPolicy) (*models.AccountLockout, bool, error) {
	if m.RecordFailureFunc != nil {
		return m.RecordFailureFunc(ctx, email, now, policy)
	}
	return &models.AccountLockout{Email: email, FailedAttempts: 1}, false, nil
}

func (m *MockLockoutRepository) Get(ctx context.Context, email string) (*models.AccountLockout, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockLockoutRepository) Reset(ctx context.Context, email string) error {
	if m.ResetFunc != nil {
		return m.ResetFunc(ctx, email)
	}
	return nil
}

func (m *MockLockoutRepository) ClearExpired(ctx context.Context, now time.Time) (int64, error) {
	if m.ClearExpiredFunc != nil {
		return m.ClearExpiredFunc(ctx, now)
	}
	return 0, nil
}

// MockSessionRepository implements SessionRepository for testing
type MockSessionRepository struct {
	CreateWithCapFunc     func(ctx context.Context, s *models.Session, maxActive int, now time.Time) ([]*models.Session, error)
	GetByIDFunc           func(ctx context.Context, sessionID string) (*models.Session, error)
	RevokeFunc            func(ctx context.Context, sessionID, reason string, now time.Time) (bool, error)
	RevokeAllForEmailFunc func(ctx context.Context, email, reason string, now time.Time) ([]string, error)
	TouchFunc             func(ctx context.Context, sessionID string, now time.Time) error
	ListActiveFunc        func(ctx context.Context, email string) ([]*models.Session, error)
	SweepExpiredFunc      func(ctx context.Context, idleBefore, now time.Time) ([]string, error)
}

func (m *MockSessionRepository) CreateWithCap(ctx context.Context, s *models.Session, maxActive int, now time.Time) ([]*models.Session, error) {
	if m.CreateWithCapFunc != nil {
		return m.CreateWithCapFunc(ctx, s, maxActive, now)
	}
	return nil, nil
}

func (m *MockSessionRepository) GetByID(ctx context.Context, sessionID string) (*models.Session, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, sessionID)
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionRepository) Revoke(ctx context.Context, sessionID, reason string, now time.Time) (bool, error) {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, sessionID, reason, now)
	}
	return false, nil
}

func (m *MockSessionRepository) RevokeAllForEmail(ctx context.Context, email, reason string, now time.Time) ([]string, error) {
	if m.RevokeAllForEmailFunc != nil {
		return m.RevokeAllForEmailFunc(ctx, email, reason, now)
	}
	return nil, nil
}

func (m *MockSessionRepository) Touch(ctx context.Context, sessionID string, now time.Time) error {
	if m.TouchFunc != nil {
		return m.TouchFunc(ctx, sessionID, now)
	}
	return nil
}

func (m *MockSessionRepository) ListActive(ctx context.Context, email string) ([]*models.Session, error) {
	if m.ListActiveFunc != nil {
		return m.ListActiveFunc(ctx, email)
	}
	return []*models.Session{}, nil
}

func (m *MockSessionRepository) SweepExpired(ctx context.Context, idleBefore, now time.Time) ([]string, error) {
	if m.SweepExpiredFunc != nil {
		return m.SweepExpiredFunc(ctx, idleBefore, now)
	}
	return nil, nil
}

// MockAuditRepository implements AuditRepository for testing
type MockAuditRepository struct {
	CreateFunc    func(ctx context.Context, rec *models.AuditRecord) error
	ListRangeFunc func(ctx context.Context, start, end time.Time) ([]*models.AuditRecord, error)
}

func (m *MockAuditRepository) Create(ctx context.Context, rec *models.AuditRecord) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, rec)
	}
	return nil
}

func (m *MockAuditRepository) ListRange(ctx context.Context, start, end time.Time) ([]*models.AuditRecord, error) {
	if m.ListRangeFunc != nil {
		return m.ListRangeFunc(ctx, start, end)
	}
	return []*models.AuditRecord{}, nil
}

// MockCredentialRepository implements CredentialRepository for testing
type MockCredentialRepository struct {
	GetByEmailFunc func(ctx context.Context, email string) (*models.Credential, error)
	UpsertFunc     func(ctx context.Context, c *models.Credential) error
}

func (m *MockCredentialRepository) GetByEmail(ctx context.Context, email string) (*models.Credential, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockCredentialRepository) Upsert(ctx context.Context, c *models.Credential) error {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, c)
	}
	return nil
}

// MockNotifier records every enqueued message
type MockNotifier struct {
	mu       sync.Mutex
	Messages []notify.Message
	// Full makes Enqueue report a dropped message
	Full bool
}

func (m *MockNotifier) Enqueue(msg notify.Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Full {
		return false
	}
	m.Messages = append(m.Messages, msg)
	return true
}

// ByKind returns the recorded messages of one kind
func (m *MockNotifier) ByKind(kind string) []notify.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []notify.Message
	for _, msg := range m.Messages {
		if msg.Kind == kind {
			out = append(out, msg)
		}
	}
	return out
}

// MockVerifier implements verifier.Verifier for testing.
// Without VerifyFunc the answer "correct" passes and anything else fails.
type MockVerifier struct {
	PrepareFunc func(ctx context.Context, c *models.Challenge) (verifier.Delivery, error)
	VerifyFunc  func(ctx context.Context, c *models.Challenge, answer string) (bool, error)
}

func (m *MockVerifier) Prepare(ctx context.Context, c *models.Challenge) (verifier.Delivery, error) {
	if m.PrepareFunc != nil {
		return m.PrepareFunc(ctx, c)
	}
	return verifier.Delivery{}, nil
}

func (m *MockVerifier) Verify(ctx context.Context, c *models.Challenge, answer string) (bool, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, c, answer)
	}
	return answer == "correct", nil
}

// MockRiskAssessor returns a fixed assessment and records outcomes
type MockRiskAssessor struct {
	mu         sync.Mutex
	AssessFunc func(ctx context.Context, email string, cc models.ChallengeContext, attemptCount int) models.RiskAssessment
	Outcomes   []bool
}

func (m *MockRiskAssessor) Assess(ctx context.Context, email string, cc models.ChallengeContext, attemptCount int) models.RiskAssessment {
	if m.AssessFunc != nil {
		return m.AssessFunc(ctx, email, cc, attemptCount)
	}
	return models.RiskAssessment{
		Score:         models.DefaultBaseRiskScore,
		Level:         models.SecurityLevelLow,
		ChallengeType: models.ChallengeTypeCaptcha,
	}
}

func (m *MockRiskAssessor) RecordOutcome(ctx context.Context, email string, success bool, cc models.ChallengeContext) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Outcomes = append(m.Outcomes, success)
}
