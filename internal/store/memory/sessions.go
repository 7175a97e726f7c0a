package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/parlourguard/internal/models"
)

// SessionStore keeps sessions in a map; the cap check and insert share one critical section
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*models.Session)}
}

func copySession(s *models.Session) *models.Session {
	out := *s
	if s.RevocationReason != nil {
		r := *s.RevocationReason
		out.RevocationReason = &r
	}
	if s.RevokedAt != nil {
		t := *s.RevokedAt
		out.RevokedAt = &t
	}
	return &out
}

func (s *SessionStore) revokeLocked(sess *models.Session, reason string, now time.Time) {
	revokedAt := now
	sess.IsActive = false
	sess.RevocationReason = &reason
	sess.RevokedAt = &revokedAt
}

func (s *SessionStore) activeLocked(email string) []*models.Session {
	active := make([]*models.Session, 0)
	for _, sess := range s.sessions {
		if sess.Email == email && sess.IsActive {
			active = append(active, sess)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].SessionID < active[j].SessionID
		}
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	return active
}

func (s *SessionStore) CreateWithCap(ctx context.Context, sess *models.Session, maxActive int, now time.Time) ([]*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.SessionID]; ok {
		return nil, models.ErrConflict
	}
	active := s.activeLocked(sess.Email)
	stored := copySession(sess)
	stored.IsActive = true
	s.sessions[sess.SessionID] = stored

	excess := len(active) + 1 - maxActive
	if excess <= 0 {
		return nil, nil
	}

	evicted := make([]*models.Session, 0, excess)
	for _, old := range active[:excess] {
		s.revokeLocked(old, models.RevocationReasonMaxSessions, now)
		evicted = append(evicted, copySession(old))
	}
	return evicted, nil
}

func (s *SessionStore) GetByID(ctx context.Context, sessionID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copySession(sess), nil
}

func (s *SessionStore) Revoke(ctx context.Context, sessionID, reason string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || !sess.IsActive {
		return false, nil
	}
	s.revokeLocked(sess, reason, now)
	return true, nil
}

func (s *SessionStore) RevokeAllForEmail(ctx context.Context, email, reason string, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0)
	for _, sess := range s.activeLocked(email) {
		s.revokeLocked(sess, reason, now)
		ids = append(ids, sess.SessionID)
	}
	return ids, nil
}

func (s *SessionStore) Touch(ctx context.Context, sessionID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[sessionID]; ok && sess.IsActive {
		sess.LastActivity = now
	}
	return nil
}

func (s *SessionStore) ListActive(ctx context.Context, email string) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := s.activeLocked(email)
	out := make([]*models.Session, 0, len(active))
	for _, sess := range active {
		out = append(out, copySession(sess))
	}
	return out, nil
}

func (s *SessionStore) SweepExpired(ctx context.Context, idleBefore, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0)
	for _, sess := range s.sessions {
		if !sess.IsActive {
			continue
		}
		if sess.LastActivity.Before(idleBefore) || !now.Before(sess.ExpiresAt) {
			s.revokeLocked(sess, models.RevocationReasonExpired, now)
			ids = append(ids, sess.SessionID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
