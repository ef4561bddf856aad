package memory

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"vault-keeper/internal/domain"
	"vault-keeper/internal/storage"
)

type outcomeKey struct {
	cycleID string
	owner   common.Address
}

// OutcomeStore is an in-memory implementation of storage.OutcomeStore.
type OutcomeStore struct {
	mu   sync.RWMutex
	data map[outcomeKey]*domain.Outcome
}

// NewOutcomeStore creates a new in-memory outcome store.
func NewOutcomeStore() *OutcomeStore {
	return &OutcomeStore{
		data: make(map[outcomeKey]*domain.Outcome),
	}
}

// InsertBulk adds outcomes atomically. Fails entire batch on duplicate (cycle_id, owner).
func (s *OutcomeStore) InsertBulk(_ context.Context, outcomes []*domain.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate the whole batch before writing anything
	seen := make(map[outcomeKey]struct{}, len(outcomes))
	for _, o := range outcomes {
		if o == nil || o.CycleID == "" {
			return storage.ErrInvalidInput
		}
		k := outcomeKey{o.CycleID, o.Owner}
		if _, exists := s.data[k]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	for _, o := range outcomes {
		s.data[outcomeKey{o.CycleID, o.Owner}] = copyOutcome(o)
	}
	return nil
}

// GetByCycleID retrieves all outcomes of a cycle, ordered by processed_at ASC.
func (s *OutcomeStore) GetByCycleID(_ context.Context, cycleID string) ([]*domain.Outcome, error) {
	return s.filter(func(o *domain.Outcome) bool { return o.CycleID == cycleID }), nil
}

// GetByOwner retrieves all outcomes for a vault owner, ordered by processed_at ASC.
func (s *OutcomeStore) GetByOwner(_ context.Context, owner common.Address) ([]*domain.Outcome, error) {
	return s.filter(func(o *domain.Outcome) bool { return o.Owner == owner }), nil
}

func (s *OutcomeStore) filter(match func(*domain.Outcome) bool) []*domain.Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Outcome
	for _, o := range s.data {
		if match(o) {
			result = append(result, copyOutcome(o))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].ProcessedAt != result[j].ProcessedAt {
			return result[i].ProcessedAt < result[j].ProcessedAt
		}
		return result[i].Owner.Cmp(result[j].Owner) < 0
	})

	return result
}

// copyOutcome copies o including its big integers.
func copyOutcome(o *domain.Outcome) *domain.Outcome {
	c := *o
	c.CollateralValue = copyInt(o.CollateralValue)
	c.DebtAmount = copyInt(o.DebtAmount)
	c.HealthFactor = copyInt(o.HealthFactor)
	return &c
}

// copyInt returns a copy of n, or nil for nil.
func copyInt(n *big.Int) *big.Int {
	if n == nil {
		return nil
	}
	return new(big.Int).Set(n)
}

// Verify interface compliance at compile time.
var _ storage.OutcomeStore = (*OutcomeStore)(nil)
