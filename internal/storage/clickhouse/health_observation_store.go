package clickhouse

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/ethereum/go-ethereum/common"

	"vault-keeper/internal/domain"
	"vault-keeper/internal/storage"
)

// HealthObservationStore implements storage.HealthObservationStore using ClickHouse.
type HealthObservationStore struct {
	conn *Conn
}

// NewHealthObservationStore creates a new HealthObservationStore.
func NewHealthObservationStore(conn *Conn) *HealthObservationStore {
	return &HealthObservationStore{conn: conn}
}

var _ storage.HealthObservationStore = (*HealthObservationStore)(nil)

// InsertBulk adds observations. Fails entire batch on duplicate (cycle_id, owner).
// MergeTree does not enforce keys, so duplicates are checked before the insert.
func (s *HealthObservationStore) InsertBulk(ctx context.Context, observations []*domain.HealthObservation) error {
	if len(observations) == 0 {
		return nil
	}

	type key struct {
		cycleID string
		owner   common.Address
	}
	seen := make(map[key]struct{}, len(observations))
	for _, o := range observations {
		if o == nil || o.CycleID == "" {
			return storage.ErrInvalidInput
		}
		k := key{o.CycleID, o.Owner}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	for _, o := range observations {
		exists, err := s.exists(ctx, o.CycleID, o.Owner)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO health_observations (
			cycle_id, owner, collateral_asset,
			collateral_value, debt_amount, health_factor, observed_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, o := range observations {
		err = batch.Append(
			o.CycleID, o.Owner.Hex(), o.CollateralAsset.Hex(),
			orZero(o.CollateralValue), orZero(o.DebtAmount), orZero(o.HealthFactor),
			uint64(o.ObservedAt),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByOwner retrieves observations for owner within [start, end] (inclusive), ordered by observed_at ASC.
func (s *HealthObservationStore) GetByOwner(ctx context.Context, owner common.Address, start, end int64) ([]*domain.HealthObservation, error) {
	query := `
		SELECT cycle_id, owner, collateral_asset,
		       collateral_value, debt_amount, health_factor, observed_at
		FROM health_observations
		WHERE owner = ? AND observed_at >= ? AND observed_at <= ?
		ORDER BY observed_at ASC
	`

	rows, err := s.conn.Query(ctx, query, owner.Hex(), clampMillis(start), clampMillis(end))
	if err != nil {
		return nil, fmt.Errorf("query by owner: %w", err)
	}
	defer rows.Close()

	return scanHealthObservations(rows)
}

func (s *HealthObservationStore) exists(ctx context.Context, cycleID string, owner common.Address) (bool, error) {
	query := `
		SELECT count(*) FROM health_observations
		WHERE cycle_id = ? AND owner = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, cycleID, owner.Hex()).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func scanHealthObservations(rows driver.Rows) ([]*domain.HealthObservation, error) {
	var observations []*domain.HealthObservation

	for rows.Next() {
		var (
			o                   domain.HealthObservation
			owner, asset        string
			value, debt, health big.Int
			observedAt          uint64
		)

		err := rows.Scan(
			&o.CycleID, &owner, &asset,
			&value, &debt, &health, &observedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan health observation row: %w", err)
		}

		o.Owner = common.HexToAddress(owner)
		o.CollateralAsset = common.HexToAddress(asset)
		o.CollateralValue = &value
		o.DebtAmount = &debt
		o.HealthFactor = &health
		o.ObservedAt = int64(observedAt)
		observations = append(observations, &o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return observations, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func clampMillis(ms int64) uint64 {
	if ms < 0 {
		return 0
	}
	return uint64(ms)
}
