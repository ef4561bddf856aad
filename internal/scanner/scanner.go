// Package scanner pages through the vault registry and keeps the vaults
// that pass the cheap, price-free eligibility filter.
package scanner

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vault-keeper/internal/domain"
	"vault-keeper/internal/ledger"
)

// DefaultBatchSize is the page size used when none is configured.
const DefaultBatchSize = 100

// Options for creating a Scanner.
type Options struct {
	Ledger    ledger.Reader
	BatchSize int // Default: 100. Also the per-page read concurrency.
	Logger    *zap.Logger
}

// Scanner produces the candidate list for one cycle.
type Scanner struct {
	ledger    ledger.Reader
	batchSize int
	logger    *zap.Logger
}

// New creates a new Scanner.
func New(opts Options) *Scanner {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scanner{
		ledger:    opts.Ledger,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Result is the output of one scan.
type Result struct {
	VaultCount        uint64
	MinYieldThreshold *big.Int
	Candidates        []*domain.Candidate
	Skipped           int // read fine, rejected by the cheap filter
	ScanErrors        int // failed page reads plus failed owner reads
}

// verdict is the per-owner result of inspect.
type verdict struct {
	candidate *domain.Candidate
	skipped   bool
	err       error
}

// Scan reads every vault once and returns the survivors of the cheap filter in registry order.
// Only the vault count and threshold reads can fail the scan; page and owner failures are counted.
// The price gateway is never consulted.
func (s *Scanner) Scan(ctx context.Context) (*Result, error) {
	count, err := s.ledger.VaultCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("read vault count: %w", err)
	}

	result := &Result{VaultCount: count, MinYieldThreshold: new(big.Int)}
	if count == 0 {
		s.logger.Info("no vaults registered", zap.String("op", "scanner.Scan"))
		return result, nil
	}

	threshold, err := s.ledger.MinYieldThreshold(ctx)
	if err != nil {
		return nil, fmt.Errorf("read min yield threshold: %w", err)
	}
	result.MinYieldThreshold = threshold

	batch := uint64(s.batchSize)
	for start := uint64(0); start < count; start += batch {
		size := batch
		if count-start < size {
			size = count - start
		}

		owners, err := s.ledger.VaultOwners(ctx, start, size)
		if err != nil {
			s.logger.Warn("page read failed",
				zap.String("op", "scanner.Scan"),
				zap.Uint64("start", start),
				zap.Uint64("count", size),
				zap.Error(err))
			result.ScanErrors++
			continue
		}

		for _, v := range s.inspectPage(ctx, owners, threshold) {
			switch {
			case v.err != nil:
				result.ScanErrors++
			case v.skipped:
				result.Skipped++
			case v.candidate != nil:
				result.Candidates = append(result.Candidates, v.candidate)
			}
		}
	}

	s.logger.Info("scan completed",
		zap.String("op", "scanner.Scan"),
		zap.Uint64("vaults", result.VaultCount),
		zap.Int("candidates", len(result.Candidates)),
		zap.Int("skipped", result.Skipped),
		zap.Int("scan_errors", result.ScanErrors))

	return result, nil
}

// inspectPage reads every owner of a page concurrently and waits for all of them.
// Verdicts keep the page order.
func (s *Scanner) inspectPage(ctx context.Context, owners []common.Address, threshold *big.Int) []verdict {
	verdicts := make([]verdict, len(owners))

	var g errgroup.Group
	g.SetLimit(s.batchSize)

	for i, owner := range owners {
		g.Go(func() error {
			verdicts[i] = s.inspect(ctx, owner, threshold)
			return nil
		})
	}
	_ = g.Wait()

	return verdicts
}

// inspect reads one vault and, only if it passes the cheap filter, its collateral asset.
func (s *Scanner) inspect(ctx context.Context, owner common.Address, threshold *big.Int) (v verdict) {
	defer func() {
		if r := recover(); r != nil {
			v = verdict{err: fmt.Errorf("panic: %v", r)}
			s.logger.Error("vault read panicked",
				zap.String("op", "scanner.inspect"),
				zap.Stringer("owner", owner),
				zap.Any("panic", r))
		}
	}()

	vault, err := s.ledger.Vault(ctx, owner)
	if err != nil {
		s.logger.Warn("vault read failed",
			zap.String("op", "scanner.inspect"),
			zap.Stringer("owner", owner),
			zap.Error(err))
		return verdict{err: err}
	}

	if !domain.PassesCheapFilter(vault, threshold) {
		return verdict{skipped: true}
	}

	asset, err := s.ledger.VaultCollateralAsset(ctx, owner)
	if err != nil {
		s.logger.Warn("collateral asset read failed",
			zap.String("op", "scanner.inspect"),
			zap.Stringer("owner", owner),
			zap.Error(err))
		return verdict{err: err}
	}
	vault.CollateralAsset = asset

	return verdict{candidate: domain.NewCandidate(vault)}
}
