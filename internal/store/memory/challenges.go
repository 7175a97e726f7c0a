package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/parlourguard/internal/models"
)

// ChallengeStore keeps challenges and approvals in maps
type ChallengeStore struct {
	mu         sync.RWMutex
	challenges map[string]*models.Challenge
	approvals  map[string]*models.ChallengeApproval
}

func NewChallengeStore() *ChallengeStore {
	return &ChallengeStore{
		challenges: make(map[string]*models.Challenge),
		approvals:  make(map[string]*models.ChallengeApproval),
	}
}

func copyChallenge(c *models.Challenge) *models.Challenge {
	out := *c
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

func (s *ChallengeStore) Create(ctx context.Context, c *models.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.challenges[c.ID]; ok {
		return models.ErrConflict
	}
	if c.State == models.ChallengeStatePending {
		for _, existing := range s.challenges {
			if existing.Email == c.Email && existing.State == models.ChallengeStatePending {
				return models.ErrConflict
			}
		}
	}
	s.challenges[c.ID] = copyChallenge(c)
	return nil
}

func (s *ChallengeStore) GetByID(ctx context.Context, id string) (*models.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.challenges[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyChallenge(c), nil
}

func (s *ChallengeStore) GetPendingByEmail(ctx context.Context, email string) (*models.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.challenges {
		if c.Email == email && c.State == models.ChallengeStatePending {
			return copyChallenge(c), nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *ChallengeStore) CompareAndSwap(ctx context.Context, c *models.Challenge, expectedAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.challenges[c.ID]
	if !ok || stored.State != models.ChallengeStatePending || stored.AttemptCount != expectedAttempts {
		return models.ErrConflict
	}

	stored.State = c.State
	stored.AttemptCount = c.AttemptCount
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		stored.CompletedAt = &t
	} else {
		stored.CompletedAt = nil
	}
	return nil
}

func (s *ChallengeStore) ExpireOverdue(ctx context.Context, now time.Time) ([]*models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := make([]*models.Challenge, 0)
	for _, c := range s.challenges {
		if c.State == models.ChallengeStatePending && now.After(c.ExpiresAt) {
			c.State = models.ChallengeStateExpired
			expired = append(expired, copyChallenge(c))
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].CreatedAt.Before(expired[j].CreatedAt) })
	return expired, nil
}

func (s *ChallengeStore) CreateApproval(ctx context.Context, a *models.ChallengeApproval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.challenges[a.ChallengeID]; !ok {
		return models.ErrBadRequest
	}
	if _, ok := s.approvals[a.ChallengeID]; ok {
		return models.ErrConflict
	}
	cp := *a
	s.approvals[a.ChallengeID] = &cp
	return nil
}

func (s *ChallengeStore) GetApproval(ctx context.Context, challengeID string) (*models.ChallengeApproval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.approvals[challengeID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *a
	return &cp, nil
}
