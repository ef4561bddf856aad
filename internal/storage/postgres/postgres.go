// Package postgres stores keeper cycle reports and repayment outcomes in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// NewPool creates a new Postgres connection pool and verifies it with a ping.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() {
	p.Pool.Close()
}

// PostgreSQL error codes
const (
	pgErrUniqueViolation = "23505" // unique_violation
)

// isDuplicateKeyError checks if error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}

	return false
}

// isNotFoundError checks if error indicates no rows found.
func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// Amounts are uint256 on chain. They travel as decimal text and are cast
// with ::numeric on write and ::text on read.

// numericArg returns n as decimal text. nil maps to "0".
func numericArg(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}

// nullableNumericArg returns n as decimal text, or nil for SQL NULL.
func nullableNumericArg(n *big.Int) *string {
	if n == nil {
		return nil
	}
	s := n.String()
	return &s
}

// parseNumeric parses decimal text produced by a ::text cast.
func parseNumeric(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse numeric %q", s)
	}
	return n, nil
}

// parseNullableNumeric parses optional decimal text.
func parseNullableNumeric(s *string) (*big.Int, error) {
	if s == nil {
		return nil, nil
	}
	return parseNumeric(*s)
}

// nullableText maps "" to SQL NULL.
func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// textOrEmpty maps SQL NULL to "".
func textOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
