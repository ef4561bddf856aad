package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"vault-keeper/internal/domain"
	"vault-keeper/internal/storage"
)

// CycleStore implements storage.CycleStore using PostgreSQL.
type CycleStore struct {
	pool *Pool
}

// NewCycleStore creates a new CycleStore.
func NewCycleStore(pool *Pool) *CycleStore {
	return &CycleStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CycleStore = (*CycleStore)(nil)

const cycleColumns = `
	cycle_id, started_at, finished_at, vault_count, candidates, skipped, scan_errors,
	executed, failed, deferred, errors, min_yield_threshold::text, dry_run, status, error
`

// Insert adds a cycle report. Returns ErrDuplicateKey if cycle_id exists.
func (s *CycleStore) Insert(ctx context.Context, r *domain.CycleReport) error {
	if r == nil || r.CycleID == "" {
		return storage.ErrInvalidInput
	}

	threshold := r.MinYieldThreshold
	if threshold == "" {
		threshold = "0"
	}

	query := `
		INSERT INTO keeper_cycles (
			cycle_id, started_at, finished_at, vault_count, candidates, skipped, scan_errors,
			executed, failed, deferred, errors, min_yield_threshold, dry_run, status, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::numeric, $13, $14, $15)
	`

	_, err := s.pool.Exec(ctx, query,
		r.CycleID,
		r.StartedAt,
		r.FinishedAt,
		r.VaultCount,
		r.Candidates,
		r.Skipped,
		r.ScanErrors,
		r.Executed,
		r.Failed,
		r.Deferred,
		r.Errors,
		threshold,
		r.DryRun,
		string(r.Status),
		nullableText(r.Error),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

// GetByID retrieves a report by cycle ID. Returns ErrNotFound if not exists.
func (s *CycleStore) GetByID(ctx context.Context, cycleID string) (*domain.CycleReport, error) {
	query := `SELECT ` + cycleColumns + ` FROM keeper_cycles WHERE cycle_id = $1`

	r, err := scanCycle(s.pool.QueryRow(ctx, query, cycleID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get cycle by id: %w", err)
	}
	return r, nil
}

// GetLatest retrieves the most recently started cycle. Returns ErrNotFound if empty.
func (s *CycleStore) GetLatest(ctx context.Context) (*domain.CycleReport, error) {
	query := `SELECT ` + cycleColumns + ` FROM keeper_cycles ORDER BY started_at DESC, cycle_id DESC LIMIT 1`

	r, err := scanCycle(s.pool.QueryRow(ctx, query))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get latest cycle: %w", err)
	}
	return r, nil
}

// ListRecent retrieves up to limit reports, ordered by started_at DESC.
func (s *CycleStore) ListRecent(ctx context.Context, limit int) ([]*domain.CycleReport, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	query := `SELECT ` + cycleColumns + ` FROM keeper_cycles ORDER BY started_at DESC, cycle_id DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent cycles: %w", err)
	}
	defer rows.Close()

	var reports []*domain.CycleReport
	for rows.Next() {
		r, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cycle row: %w", err)
		}
		reports = append(reports, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cycle rows: %w", err)
	}

	return reports, nil
}

// scanCycle scans a single row into a CycleReport.
func scanCycle(row pgx.Row) (*domain.CycleReport, error) {
	var r domain.CycleReport
	var status string
	var errText *string

	err := row.Scan(
		&r.CycleID,
		&r.StartedAt,
		&r.FinishedAt,
		&r.VaultCount,
		&r.Candidates,
		&r.Skipped,
		&r.ScanErrors,
		&r.Executed,
		&r.Failed,
		&r.Deferred,
		&r.Errors,
		&r.MinYieldThreshold,
		&r.DryRun,
		&status,
		&errText,
	)
	if err != nil {
		return nil, err
	}

	r.Status = domain.CycleStatus(status)
	r.Error = textOrEmpty(errText)
	return &r, nil
}
