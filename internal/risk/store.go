package risk

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/BradenHooton/parlourguard/internal/models"
)

// DefaultShards is the number of independently locked partitions of the store
const DefaultShards = 64

// Persister is the durable side of the store. Load returns models.ErrNotFound for unseen identities.
type Persister interface {
	Load(ctx context.Context, email string) (*models.RiskProfile, error)
	Save(ctx context.Context, profile *models.RiskProfile) error
}

// Store holds risk profiles in memory, partitioned by a hash of the identity.
// Updates for one identity are serialised by a per-entry mutex; distinct identities never
// contend beyond the brief shard map lookup.
//
// With a persister the stored row is authoritative: every read and update re-reads it under the
// entry lock, and the in-memory copy only answers while the persister is failing. An update is
// saved only when the re-read in the same call succeeded, so a failed read never writes a
// default profile over a real one.
type Store struct {
	shards    []*shard
	persister Persister
	logger    *slog.Logger
	now       func() time.Time
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	mu      sync.Mutex
	profile *models.RiskProfile
}

// NewStore creates a profile store. persister may be nil for a purely in-memory store.
func NewStore(shards int, persister Persister, logger *slog.Logger) *Store {
	if shards <= 0 {
		shards = DefaultShards
	}
	s := &Store{
		shards:    make([]*shard, shards),
		persister: persister,
		logger:    logger,
		now:       time.Now,
	}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return s
}

// Snapshot returns a copy of the identity's profile, creating the default one when absent
func (s *Store) Snapshot(ctx context.Context, email string) *models.RiskProfile {
	e := s.entry(email)

	e.mu.Lock()
	defer e.mu.Unlock()
	s.refresh(ctx, email, e)
	return e.profile.Clone()
}

// Update applies fn to the identity's profile under its lock and persists the result.
// Save failures are logged and the in-memory profile keeps the change. When the stored
// profile cannot be read the change stays in memory only.
func (s *Store) Update(ctx context.Context, email string, fn func(p *models.RiskProfile)) *models.RiskProfile {
	e := s.entry(email)

	e.mu.Lock()
	defer e.mu.Unlock()

	current := s.refresh(ctx, email, e)
	fn(e.profile)
	e.profile.UpdatedAt = s.now()
	out := e.profile.Clone()

	if s.persister != nil && current {
		if err := s.persister.Save(ctx, out); err != nil {
			s.logger.WarnContext(ctx, "failed to persist risk profile", slog.String("error", err.Error()))
		}
	}

	return out
}

// Len reports the number of profiles held in memory
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

func (s *Store) entry(email string) *entry {
	sh := s.shards[xxhash.Sum64String(email)%uint64(len(s.shards))]

	sh.mu.RLock()
	e, ok := sh.entries[email]
	sh.mu.RUnlock()
	if ok {
		return e
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.entries[email]; ok {
		return e
	}
	e = &entry{profile: models.NewRiskProfile(email)}
	sh.entries[email] = e
	return e
}

// refresh replaces the entry's profile with the stored one. It must be called with e.mu held and
// reports whether the entry now matches the store. A missing row keeps the in-memory profile.
func (s *Store) refresh(ctx context.Context, email string, e *entry) bool {
	if s.persister == nil {
		return true
	}

	profile, err := s.persister.Load(ctx, email)
	switch {
	case err == nil:
		if profile.KnownDevices == nil {
			profile.KnownDevices = make(map[string]int)
		}
		if profile.KnownLocations == nil {
			profile.KnownLocations = make(map[string]int)
		}
		e.profile = profile
		return true
	case errors.Is(err, models.ErrNotFound):
		return true
	default:
		s.logger.WarnContext(ctx, "failed to load risk profile, using in-memory copy", slog.String("error", err.Error()))
		return false
	}
}
