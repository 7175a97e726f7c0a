package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/parlourguard/internal/models"
)

func TestSessionService_CapEvictsOldest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		s, err := h.sessions.CreateSession(ctx, CreateSessionInput{Email: "ana@example.com", IPAddress: "10.0.0.1"})
		require.NoError(t, err)
		ids = append(ids, s.SessionID)
		h.clock.Advance(time.Second)
	}

	active, err := h.sessions.ListActive(ctx, "ana@example.com")
	require.NoError(t, err)
	require.Len(t, active, 3)
	for i, s := range active {
		assert.Equal(t, ids[i+1], s.SessionID)
	}

	first, err := h.sessionStore.GetByID(ctx, ids[0])
	require.NoError(t, err)
	assert.False(t, first.IsActive)
	require.NotNil(t, first.RevocationReason)
	assert.Equal(t, models.RevocationReasonMaxSessions, *first.RevocationReason)

	assert.Len(t, h.recordsOfType(t, models.AuditEventSessionCreated), 4)
	revoked := h.recordsOfType(t, models.AuditEventSessionRevoked)
	require.Len(t, revoked, 1)
	assert.Equal(t, ids[0], *revoked[0].ResourceID)
}

func TestSessionService_NewSessionSurvivesTiedTimestamps(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// The clock never moves, so every session shares createdAt
	for i := 0; i < 10; i++ {
		s, err := h.sessions.CreateSession(ctx, CreateSessionInput{Email: "bo@example.com"})
		require.NoError(t, err)

		_, err = h.sessions.Validate(ctx, s.SessionID)
		require.NoError(t, err, "session %d evicted itself", i)
	}

	active, err := h.sessions.ListActive(ctx, "bo@example.com")
	require.NoError(t, err)
	assert.Len(t, active, 3)
}

func TestSessionService_CreateDefaults(t *testing.T) {
	h := newHarness(t)

	s, err := h.sessions.CreateSession(context.Background(), CreateSessionInput{Email: " Cy@Example.com "})
	require.NoError(t, err)
	assert.Equal(t, "cy@example.com", s.Email)
	assert.Equal(t, models.RoleMember, s.Role)
	assert.Equal(t, noon.Add(12*time.Hour), s.ExpiresAt)
	assert.True(t, s.IsActive)

	custom, err := h.sessions.CreateSession(context.Background(), CreateSessionInput{Email: "cy@example.com", TTL: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, noon.Add(time.Hour), custom.ExpiresAt)

	_, err = h.sessions.CreateSession(context.Background(), CreateSessionInput{})
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestSessionService_RevokeIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s, err := h.sessions.CreateSession(ctx, CreateSessionInput{Email: "dee@example.com"})
	require.NoError(t, err)

	require.NoError(t, h.sessions.Revoke(ctx, s.SessionID, models.RevocationReasonLogout))
	require.NoError(t, h.sessions.Revoke(ctx, s.SessionID, models.RevocationReasonLogout))
	require.NoError(t, h.sessions.Revoke(ctx, "unknown", models.RevocationReasonLogout))

	assert.Len(t, h.recordsOfType(t, models.AuditEventSessionRevoked), 1)

	active, err := h.sessions.IsActive(ctx, s.SessionID)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestSessionService_RevokeOwn(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	mine, err := h.sessions.CreateSession(ctx, CreateSessionInput{Email: "eve@example.com"})
	require.NoError(t, err)
	theirs, err := h.sessions.CreateSession(ctx, CreateSessionInput{Email: "fay@example.com"})
	require.NoError(t, err)

	assert.ErrorIs(t, h.sessions.RevokeOwn(ctx, "eve@example.com", theirs.SessionID), models.ErrNotFound)
	require.NoError(t, h.sessions.RevokeOwn(ctx, "eve@example.com", mine.SessionID))

	stored, err := h.sessionStore.GetByID(ctx, mine.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.RevocationReasonUser, *stored.RevocationReason)

	stillActive, err := h.sessions.IsActive(ctx, theirs.SessionID)
	require.NoError(t, err)
	assert.True(t, stillActive)
}

func TestSessionService_RevokeAll(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.sessions.CreateSession(ctx, CreateSessionInput{Email: "gus@example.com"})
		require.NoError(t, err)
	}

	n, err := h.sessions.RevokeAll(ctx, "gus@example.com", models.RevocationReasonUser)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = h.sessions.RevokeAll(ctx, "gus@example.com", models.RevocationReasonUser)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSessionService_ValidateAndTouch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s, err := h.sessions.CreateSession(ctx, CreateSessionInput{Email: "hal@example.com"})
	require.NoError(t, err)

	// Activity every 20 minutes keeps the session alive past the 30 minute idle timeout
	for i := 0; i < 3; i++ {
		h.clock.Advance(20 * time.Minute)
		_, err := h.sessions.Validate(ctx, s.SessionID)
		require.NoError(t, err)
		require.NoError(t, h.sessions.Touch(ctx, s.SessionID))
	}

	h.clock.Advance(31 * time.Minute)
	_, err = h.sessions.Validate(ctx, s.SessionID)
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	stored, err := h.sessionStore.GetByID(ctx, s.SessionID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive, "an idle session is revoked when found")
	assert.Equal(t, models.RevocationReasonExpired, *stored.RevocationReason)

	_, err = h.sessions.Validate(ctx, "unknown")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestSessionService_ValidateRejectsExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s, err := h.sessions.CreateSession(ctx, CreateSessionInput{Email: "ida@example.com", TTL: 10 * time.Minute})
	require.NoError(t, err)

	h.clock.Advance(10 * time.Minute)
	_, err = h.sessions.Validate(ctx, s.SessionID)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestSessionService_ValidateStorageError(t *testing.T) {
	repo := &MockSessionRepository{
		GetByIDFunc: func(ctx context.Context, sessionID string) (*models.Session, error) {
			return nil, errors.New("connection reset")
		},
	}
	svc := NewSessionService(repo, NewAuditService(&MockAuditRepository{}, nil, discardLogger()), SessionConfig{}, discardLogger())

	_, err := svc.Validate(context.Background(), "s-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrUnauthorized)
}

func TestSessionService_SweepExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	idle, err := h.sessions.CreateSession(ctx, CreateSessionInput{Email: "jo@example.com"})
	require.NoError(t, err)
	short, err := h.sessions.CreateSession(ctx, CreateSessionInput{Email: "kai@example.com", TTL: 10 * time.Minute})
	require.NoError(t, err)
	busy, err := h.sessions.CreateSession(ctx, CreateSessionInput{Email: "lee@example.com"})
	require.NoError(t, err)

	h.clock.Advance(25 * time.Minute)
	require.NoError(t, h.sessions.Touch(ctx, busy.SessionID))
	h.clock.Advance(10 * time.Minute)

	n, err := h.sessions.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = h.sessions.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	for id, want := range map[string]bool{idle.SessionID: false, short.SessionID: false, busy.SessionID: true} {
		stored, err := h.sessionStore.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, stored.IsActive, id)
	}
}
