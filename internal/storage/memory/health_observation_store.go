package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"vault-keeper/internal/domain"
	"vault-keeper/internal/storage"
)

// HealthObservationStore is an in-memory implementation of storage.HealthObservationStore.
type HealthObservationStore struct {
	mu   sync.RWMutex
	data map[common.Address][]*domain.HealthObservation // keyed by owner
	keys map[outcomeKey]struct{}
}

// NewHealthObservationStore creates a new in-memory observation store.
func NewHealthObservationStore() *HealthObservationStore {
	return &HealthObservationStore{
		data: make(map[common.Address][]*domain.HealthObservation),
		keys: make(map[outcomeKey]struct{}),
	}
}

// InsertBulk adds observations. Fails entire batch on duplicate (cycle_id, owner).
func (s *HealthObservationStore) InsertBulk(_ context.Context, observations []*domain.HealthObservation) error {
	if len(observations) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[outcomeKey]struct{}, len(observations))
	for _, o := range observations {
		if o == nil || o.CycleID == "" {
			return storage.ErrInvalidInput
		}
		k := outcomeKey{o.CycleID, o.Owner}
		if _, exists := s.keys[k]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	for _, o := range observations {
		s.keys[outcomeKey{o.CycleID, o.Owner}] = struct{}{}
		s.data[o.Owner] = append(s.data[o.Owner], copyObservation(o))
	}
	return nil
}

// GetByOwner retrieves observations for owner within [start, end] (inclusive), ordered by observed_at ASC.
func (s *HealthObservationStore) GetByOwner(_ context.Context, owner common.Address, start, end int64) ([]*domain.HealthObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.HealthObservation
	for _, o := range s.data[owner] {
		if o.ObservedAt >= start && o.ObservedAt <= end {
			result = append(result, copyObservation(o))
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ObservedAt < result[j].ObservedAt
	})

	return result, nil
}

func copyObservation(o *domain.HealthObservation) *domain.HealthObservation {
	c := *o
	c.CollateralValue = copyInt(o.CollateralValue)
	c.DebtAmount = copyInt(o.DebtAmount)
	c.HealthFactor = copyInt(o.HealthFactor)
	return &c
}

// Verify interface compliance at compile time.
var _ storage.HealthObservationStore = (*HealthObservationStore)(nil)
