package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/parlourguard/internal/models"
)

// AuditStore is an append-only slice of records
type AuditStore struct {
	mu      sync.RWMutex
	records []models.AuditRecord
}

func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

func (s *AuditStore) Create(ctx context.Context, rec *models.AuditRecord) error {
	cp := *rec
	if rec.Metadata != nil {
		cp.Metadata = make(models.AuditMetadata, len(rec.Metadata))
		for k, v := range rec.Metadata {
			cp.Metadata[k] = v
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, cp)
	return nil
}

// ListRange returns records with start <= createdAt < end in chronological order
func (s *AuditStore) ListRange(ctx context.Context, start, end time.Time) ([]*models.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.AuditRecord, 0)
	for i := range s.records {
		rec := s.records[i]
		if rec.CreatedAt.Before(start) || !rec.CreatedAt.Before(end) {
			continue
		}
		out = append(out, &rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Len reports the number of records appended so far
func (s *AuditStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
