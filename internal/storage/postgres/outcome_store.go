package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"vault-keeper/internal/domain"
	"vault-keeper/internal/storage"
)

// OutcomeStore implements storage.OutcomeStore using PostgreSQL.
type OutcomeStore struct {
	pool *Pool
}

// NewOutcomeStore creates a new OutcomeStore.
func NewOutcomeStore(pool *Pool) *OutcomeStore {
	return &OutcomeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.OutcomeStore = (*OutcomeStore)(nil)

const outcomeColumns = `
	cycle_id, owner, collateral_asset, state, collateral_value::text, debt_amount::text,
	health_factor::text, tx_hash, error, processed_at
`

// InsertBulk adds outcomes atomically. Fails entire batch on duplicate (cycle_id, owner).
func (s *OutcomeStore) InsertBulk(ctx context.Context, outcomes []*domain.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	for _, o := range outcomes {
		if o == nil || o.CycleID == "" {
			return storage.ErrInvalidInput
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO repayment_outcomes (
			cycle_id, owner, collateral_asset, state, collateral_value, debt_amount,
			health_factor, tx_hash, error, processed_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8, $9, $10)
	`

	batch := &pgx.Batch{}
	for _, o := range outcomes {
		batch.Queue(query,
			o.CycleID,
			o.Owner.Hex(),
			o.CollateralAsset.Hex(),
			string(o.State),
			nullableNumericArg(o.CollateralValue),
			numericArg(o.DebtAmount),
			nullableNumericArg(o.HealthFactor),
			nullableText(o.TxHash),
			nullableText(o.Error),
			o.ProcessedAt,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for range outcomes {
		if _, err := results.Exec(); err != nil {
			results.Close()
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert outcome: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetByCycleID retrieves all outcomes of a cycle, ordered by processed_at ASC.
func (s *OutcomeStore) GetByCycleID(ctx context.Context, cycleID string) ([]*domain.Outcome, error) {
	query := `SELECT ` + outcomeColumns + `
		FROM repayment_outcomes
		WHERE cycle_id = $1
		ORDER BY processed_at ASC, owner ASC
	`

	rows, err := s.pool.Query(ctx, query, cycleID)
	if err != nil {
		return nil, fmt.Errorf("get outcomes by cycle: %w", err)
	}
	defer rows.Close()

	return scanOutcomes(rows)
}

// GetByOwner retrieves all outcomes for a vault owner, ordered by processed_at ASC.
func (s *OutcomeStore) GetByOwner(ctx context.Context, owner common.Address) ([]*domain.Outcome, error) {
	query := `SELECT ` + outcomeColumns + `
		FROM repayment_outcomes
		WHERE owner = $1
		ORDER BY processed_at ASC, cycle_id ASC
	`

	rows, err := s.pool.Query(ctx, query, owner.Hex())
	if err != nil {
		return nil, fmt.Errorf("get outcomes by owner: %w", err)
	}
	defer rows.Close()

	return scanOutcomes(rows)
}

// scanOutcomes scans multiple rows into a slice of Outcome.
func scanOutcomes(rows pgx.Rows) ([]*domain.Outcome, error) {
	var outcomes []*domain.Outcome

	for rows.Next() {
		var o domain.Outcome
		var owner, asset, state, debt string
		var value, hf, txHash, errText *string

		err := rows.Scan(
			&o.CycleID,
			&owner,
			&asset,
			&state,
			&value,
			&debt,
			&hf,
			&txHash,
			&errText,
			&o.ProcessedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan outcome row: %w", err)
		}

		o.Owner = common.HexToAddress(owner)
		o.CollateralAsset = common.HexToAddress(asset)
		o.State = domain.State(state)
		o.TxHash = textOrEmpty(txHash)
		o.Error = textOrEmpty(errText)

		if o.CollateralValue, err = parseNullableNumeric(value); err != nil {
			return nil, err
		}
		if o.DebtAmount, err = parseNumeric(debt); err != nil {
			return nil, err
		}
		if o.HealthFactor, err = parseNullableNumeric(hf); err != nil {
			return nil, err
		}

		outcomes = append(outcomes, &o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcome rows: %w", err)
	}

	return outcomes, nil
}
