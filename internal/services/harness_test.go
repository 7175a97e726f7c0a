package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/parlourguard/internal/auth"
	"github.com/BradenHooton/parlourguard/internal/keylock"
	"github.com/BradenHooton/parlourguard/internal/models"
	"github.com/BradenHooton/parlourguard/internal/risk"
	"github.com/BradenHooton/parlourguard/internal/store/memory"
	"github.com/BradenHooton/parlourguard/internal/verifier"
)

// noon keeps the suspicious-hour rule out of the way
var noon = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// harness wires every service to the in-memory stores and a shared fake clock
type harness struct {
	clock *testClock

	challengeStore  *memory.ChallengeStore
	lockoutStore    *memory.LockoutStore
	sessionStore    *memory.SessionStore
	auditStore      *memory.AuditStore
	credentialStore *memory.CredentialStore

	notifier *MockNotifier
	verifier *MockVerifier
	engine   *risk.Engine
	tm       *auth.TokenManager

	audit      *AuditService
	challenges *ChallengeService
	lockouts   *LockoutService
	sessions   *SessionService
	auth       *AuthService
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := discardLogger()

	h := &harness{
		clock:           &testClock{now: noon},
		challengeStore:  memory.NewChallengeStore(),
		lockoutStore:    memory.NewLockoutStore(),
		sessionStore:    memory.NewSessionStore(),
		auditStore:      memory.NewAuditStore(),
		credentialStore: memory.NewCredentialStore(),
		notifier:        &MockNotifier{},
		verifier:        &MockVerifier{},
	}

	h.engine = risk.NewEngine(risk.NewStore(4, nil, logger), risk.EngineConfig{Location: time.UTC}, logger)
	h.engine.SetClock(h.clock.Now)

	h.audit = NewAuditService(h.auditStore, h.notifier, logger)
	h.audit.now = h.clock.Now

	registry := verifier.NewRegistry(h.verifier, h.verifier, h.verifier, verifier.NewApprovalVerifier(h.challengeStore))
	h.challenges = NewChallengeService(h.challengeStore, h.engine, registry, h.audit, h.notifier, keylock.New(16),
		ChallengeConfig{TTL: 30 * time.Minute, MaxAttempts: 3}, logger)
	h.challenges.now = h.clock.Now

	h.lockouts = NewLockoutService(h.lockoutStore, h.audit, models.LockoutPolicy{MaxAttempts: 5, Duration: 15 * time.Minute}, logger)
	h.lockouts.now = h.clock.Now

	h.sessions = NewSessionService(h.sessionStore, h.audit, SessionConfig{
		MaxConcurrent:     3,
		TTL:               12 * time.Hour,
		InactivityTimeout: 30 * time.Minute,
	}, logger)
	h.sessions.now = h.clock.Now

	h.tm = auth.NewTokenManager("test-secret-32-characters-long!!", "parlourguard-test", 15*time.Minute)
	h.tm.SetClock(h.clock.Now)
	h.auth = NewAuthService(h.credentialStore, h.lockouts, h.sessions, h.challenges, h.engine, h.audit, h.tm,
		auth.NewTimingDelay(auth.TimingConfig{}), AuthConfig{}, logger)
	h.auth.now = h.clock.Now

	return h
}

// records returns every audit record appended so far, oldest first
func (h *harness) records(t *testing.T) []*models.AuditRecord {
	t.Helper()
	out, err := h.auditStore.ListRange(context.Background(), time.Time{}, time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ListRange() = %v", err)
	}
	return out
}

func (h *harness) recordsOfType(t *testing.T, event models.AuditEventType) []*models.AuditRecord {
	t.Helper()
	var out []*models.AuditRecord
	for _, r := range h.records(t) {
		if r.EventType == event {
			out = append(out, r)
		}
	}
	return out
}

func strPtr(s string) *string { return &s }
