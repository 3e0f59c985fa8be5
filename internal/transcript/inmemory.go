package transcript

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps transcripts in process for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string][]Record)}
}

func (s *InMemoryStore) SaveTurn(_ context.Context, record Record) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.CallID] = append(s.records[record.CallID], record)
	return nil
}

// ListTurns returns a call's turns ordered by sequence.
func (s *InMemoryStore) ListTurns(_ context.Context, callID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr, ok := s.records[callID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]Record, len(arr))
	copy(out, arr)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
