// Package storage defines the keeper's audit stores. Nothing read back from
// these stores influences eligibility decisions; they serve operators only.
package storage

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"vault-keeper/internal/domain"
)

// CycleStore provides access to keeper_cycles storage.
type CycleStore interface {
	// Insert adds a cycle report. Returns ErrDuplicateKey if cycle_id exists.
	Insert(ctx context.Context, r *domain.CycleReport) error

	// GetByID retrieves a report by cycle ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, cycleID string) (*domain.CycleReport, error)

	// GetLatest retrieves the most recently started cycle. Returns ErrNotFound if empty.
	GetLatest(ctx context.Context) (*domain.CycleReport, error)

	// ListRecent retrieves up to limit reports, ordered by started_at DESC.
	ListRecent(ctx context.Context, limit int) ([]*domain.CycleReport, error)
}

// OutcomeStore provides access to repayment_outcomes storage.
type OutcomeStore interface {
	// InsertBulk adds outcomes atomically. Fails entire batch on duplicate (cycle_id, owner).
	InsertBulk(ctx context.Context, outcomes []*domain.Outcome) error

	// GetByCycleID retrieves all outcomes of a cycle, ordered by processed_at ASC.
	GetByCycleID(ctx context.Context, cycleID string) ([]*domain.Outcome, error)

	// GetByOwner retrieves all outcomes for a vault owner, ordered by processed_at ASC.
	GetByOwner(ctx context.Context, owner common.Address) ([]*domain.Outcome, error)
}

// HealthObservationStore provides access to health_observations storage.
type HealthObservationStore interface {
	// InsertBulk adds observations. Fails entire batch on duplicate (cycle_id, owner).
	InsertBulk(ctx context.Context, observations []*domain.HealthObservation) error

	// GetByOwner retrieves observations for owner within [start, end] (inclusive), ordered by observed_at ASC.
	GetByOwner(ctx context.Context, owner common.Address, start, end int64) ([]*domain.HealthObservation, error)
}
