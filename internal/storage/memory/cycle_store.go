package memory

import (
	"context"
	"sort"
	"sync"

	"vault-keeper/internal/domain"
	"vault-keeper/internal/storage"
)

// CycleStore is an in-memory implementation of storage.CycleStore.
type CycleStore struct {
	mu   sync.RWMutex
	data map[string]*domain.CycleReport // keyed by cycle_id
}

// NewCycleStore creates a new in-memory cycle store.
func NewCycleStore() *CycleStore {
	return &CycleStore{
		data: make(map[string]*domain.CycleReport),
	}
}

// Insert adds a cycle report. Returns ErrDuplicateKey if cycle_id exists.
func (s *CycleStore) Insert(_ context.Context, r *domain.CycleReport) error {
	if r == nil || r.CycleID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.CycleID]; exists {
		return storage.ErrDuplicateKey
	}

	reportCopy := *r
	s.data[r.CycleID] = &reportCopy
	return nil
}

// GetByID retrieves a report by cycle ID. Returns ErrNotFound if not exists.
func (s *CycleStore) GetByID(_ context.Context, cycleID string) (*domain.CycleReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[cycleID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	reportCopy := *r
	return &reportCopy, nil
}

// GetLatest retrieves the most recently started cycle. Returns ErrNotFound if empty.
func (s *CycleStore) GetLatest(ctx context.Context) (*domain.CycleReport, error) {
	recent, err := s.ListRecent(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(recent) == 0 {
		return nil, storage.ErrNotFound
	}
	return recent[0], nil
}

// ListRecent retrieves up to limit reports, ordered by started_at DESC.
func (s *CycleStore) ListRecent(_ context.Context, limit int) ([]*domain.CycleReport, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.CycleReport, 0, len(s.data))
	for _, r := range s.data {
		reportCopy := *r
		result = append(result, &reportCopy)
	}

	// Sort by started_at DESC, cycle_id DESC for ties
	sort.Slice(result, func(i, j int) bool {
		if result[i].StartedAt != result[j].StartedAt {
			return result[i].StartedAt > result[j].StartedAt
		}
		return result[i].CycleID > result[j].CycleID
	})

	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.CycleStore = (*CycleStore)(nil)
