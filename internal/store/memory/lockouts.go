package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/parlourguard/internal/keylock"
	"github.com/BradenHooton/parlourguard/internal/models"
)

// LockoutStore applies failures under a per-identity stripe lock
type LockoutStore struct {
	locks *keylock.Locker

	mu   sync.RWMutex
	rows map[string]*models.AccountLockout
}

func NewLockoutStore() *LockoutStore {
	return &LockoutStore{
		locks: keylock.New(0),
		rows:  make(map[string]*models.AccountLockout),
	}
}

func copyLockout(l *models.AccountLockout) *models.AccountLockout {
	out := *l
	if l.LockedUntil != nil {
		t := *l.LockedUntil
		out.LockedUntil = &t
	}
	if l.LastFailedAttempt != nil {
		t := *l.LastFailedAttempt
		out.LastFailedAttempt = &t
	}
	return &out
}

func (s *LockoutStore) load(email string) *models.AccountLockout {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if row, ok := s.rows[email]; ok {
		return copyLockout(row)
	}
	return &models.AccountLockout{Email: email}
}

func (s *LockoutStore) store(row *models.AccountLockout) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[row.Email] = copyLockout(row)
}

func (s *LockoutStore) RecordFailure(ctx context.Context, email string, now time.Time, policy models.LockoutPolicy) (*models.AccountLockout, bool, error) {
	unlock := s.locks.Lock(email)
	defer unlock()

	row := s.load(email)
	engaged := row.ApplyFailure(now, policy)
	s.store(row)
	return row, engaged, nil
}

func (s *LockoutStore) Get(ctx context.Context, email string) (*models.AccountLockout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[email]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyLockout(row), nil
}

func (s *LockoutStore) Reset(ctx context.Context, email string) error {
	unlock := s.locks.Lock(email)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[email]; ok {
		row.Reset()
	}
	return nil
}

func (s *LockoutStore) ClearExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cleared int64
	for _, row := range s.rows {
		if row.IsLocked && !row.ActiveAt(now) {
			row.Reset()
			cleared++
		}
	}
	return cleared, nil
}
