// Package keeper runs the scan -> validate -> execute cycle on a fixed schedule.
package keeper

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vault-keeper/internal/domain"
	"vault-keeper/internal/executor"
	"vault-keeper/internal/observability"
	"vault-keeper/internal/scanner"
)

// Scanner finds the candidates of one cycle.
type Scanner interface {
	Scan(ctx context.Context) (*scanner.Result, error)
}

// Executor validates and submits the candidates of one cycle.
type Executor interface {
	Execute(ctx context.Context, cycleID string, candidates []*domain.Candidate) *executor.Result
}

// CycleOptions for creating a Cycle.
type CycleOptions struct {
	Scanner  Scanner
	Executor Executor
	Recorder *Recorder
	Metrics  *observability.Metrics
	DryRun   bool
	Now      func() time.Time
	NewID    func() string
	Logger   *zap.Logger
}

// Cycle coordinates one pass: scan -> execute -> record.
type Cycle struct {
	scanner  Scanner
	executor Executor
	recorder *Recorder
	metrics  *observability.Metrics
	dryRun   bool
	now      func() time.Time
	newID    func() string
	logger   *zap.Logger
}

// NewCycle creates a new Cycle.
func NewCycle(opts CycleOptions) *Cycle {
	c := &Cycle{
		scanner:  opts.Scanner,
		executor: opts.Executor,
		recorder: opts.Recorder,
		metrics:  opts.Metrics,
		dryRun:   opts.DryRun,
		now:      opts.Now,
		newID:    opts.NewID,
		logger:   opts.Logger,
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.recorder == nil {
		c.recorder = NewRecorder(RecorderOptions{Metrics: opts.Metrics, Logger: c.logger})
	}
	return c
}

// Run executes one cycle and returns its report. A scan failure or a panic
// aborts the cycle: the report is still recorded with status FAILED and the
// error is returned.
func (c *Cycle) Run(ctx context.Context) (report *domain.CycleReport, err error) {
	started := c.now()
	report = &domain.CycleReport{
		CycleID:   c.newID(),
		StartedAt: started.UnixMilli(),
		DryRun:    c.dryRun,
		Status:    domain.CycleCompleted,
	}
	logger := c.logger.With(zap.String("cycle_id", report.CycleID))

	c.metrics.CycleStarted()
	logger.Info("cycle started", zap.Bool("dry_run", c.dryRun))

	finishing := false
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err = fmt.Errorf("cycle panic: %v", r)
		report.Status = domain.CycleFailed
		report.Error = err.Error()
		logger.Error("cycle panicked", zap.Any("panic", r), zap.Stack("stack"))
		if finishing {
			// The recorder itself panicked; close the cycle without recording again.
			finished := c.now()
			report.FinishedAt = finished.UnixMilli()
			c.metrics.CycleFinished(string(report.Status), finished.Sub(started), finished)
			return
		}
		c.finish(ctx, logger, report, started, nil, nil)
	}()

	scan, err := c.scanner.Scan(ctx)
	if err != nil {
		err = fmt.Errorf("scan: %w", err)
		report.Status = domain.CycleFailed
		report.Error = err.Error()
		finishing = true
		c.finish(ctx, logger, report, started, nil, nil)
		return report, err
	}

	report.VaultCount = int64(scan.VaultCount)
	report.Candidates = len(scan.Candidates)
	report.Skipped = scan.Skipped
	report.ScanErrors = scan.ScanErrors
	if scan.MinYieldThreshold != nil {
		report.MinYieldThreshold = scan.MinYieldThreshold.String()
	}
	c.metrics.RecordScan(scan.VaultCount, len(scan.Candidates), scan.Skipped, scan.ScanErrors)

	logger.Info("scan complete",
		zap.Uint64("vaults", scan.VaultCount),
		zap.Int("candidates", len(scan.Candidates)),
		zap.Int("skipped", scan.Skipped),
		zap.Int("scan_errors", scan.ScanErrors),
	)

	var result *executor.Result
	if len(scan.Candidates) > 0 {
		result = c.executor.Execute(ctx, report.CycleID, scan.Candidates)
	} else {
		result = &executor.Result{}
	}
	report.Tally(result.Outcomes)

	finishing = true
	c.finish(ctx, logger, report, started, result.Outcomes, result.Observations)
	return report, nil
}

func (c *Cycle) finish(ctx context.Context, logger *zap.Logger, report *domain.CycleReport, started time.Time, outcomes []*domain.Outcome, observations []*domain.HealthObservation) {
	finished := c.now()
	report.FinishedAt = finished.UnixMilli()
	duration := finished.Sub(started)

	c.recorder.Record(ctx, report, outcomes, observations)
	c.metrics.CycleFinished(string(report.Status), duration, finished)

	fields := []zap.Field{
		zap.String("status", string(report.Status)),
		zap.Duration("duration", duration),
		zap.Int("candidates", report.Candidates),
		zap.Int("executed", report.Executed),
		zap.Int("failed", report.Failed),
		zap.Int("deferred", report.Deferred),
		zap.Int("skipped", report.Skipped),
		zap.Int("errors", report.Errors),
	}
	if report.Status == domain.CycleFailed {
		logger.Error("cycle failed", append(fields, zap.String("error", report.Error))...)
		return
	}
	logger.Info("cycle finished", fields...)
}
