package archive

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps records in process for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string][]Record)}
}

func (s *InMemoryStore) Save(_ context.Context, record Record) error {
	fillDefaults(&record)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.CitizenID] = append(s.records[record.CitizenID], record)
	return nil
}

func (s *InMemoryStore) Recent(_ context.Context, citizenID string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.records[citizenID]
	if len(arr) == 0 {
		return nil, nil
	}
	limit = normalizeLimit(limit)
	if limit > len(arr) {
		limit = len(arr)
	}
	out := make([]Record, limit)
	copy(out, arr[len(arr)-limit:])
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }

func fillDefaults(r *Record) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
}
