package risk

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/Muneeb-Masood/EC-ML/internal/pagination"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]*AuditRecord // transaction id → records, oldest first
}

// NewMemoryStore creates an in-memory verdict store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]*AuditRecord)}
}

func (s *MemoryStore) Record(ctx context.Context, rec *AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.TransactionID] = append(s.records[rec.TransactionID], cloneRecord(rec))
	return nil
}

func (s *MemoryStore) GetByTransaction(ctx context.Context, txID string) (*AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.records[txID]
	if len(all) == 0 {
		return nil, ErrNotFound
	}
	return cloneRecord(all[len(all)-1]), nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string, after *pagination.Cursor, limit int) ([]*AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*AuditRecord
	for _, recs := range s.records {
		for _, rec := range recs {
			if rec.UserID == userID && after.Before(rec.EvaluatedAt, rec.ID) {
				out = append(out, rec)
			}
		}
	}
	slices.SortFunc(out, func(a, b *AuditRecord) int {
		if c := b.EvaluatedAt.Compare(a.EvaluatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	for i, rec := range out {
		out[i] = cloneRecord(rec)
	}
	return out, nil
}

func cloneRecord(rec *AuditRecord) *AuditRecord {
	c := *rec
	c.Reasons = slices.Clone(rec.Reasons)
	c.Response = slices.Clone(rec.Response)
	if rec.MLScore != nil {
		score := *rec.MLScore
		c.MLScore = &score
	}
	return &c
}
