// Package executor revalidates candidates against a live price and submits
// repayments for the healthy ones, one candidate at a time.
package executor

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"vault-keeper/internal/domain"
	"vault-keeper/internal/ledger"
	"vault-keeper/internal/price"
)

// Defaults.
const (
	DefaultMinHealthFactor = 150
	DefaultPacingDelay     = 500 * time.Millisecond
)

// Options for creating an Executor.
type Options struct {
	Ledger ledger.Writer
	Price  price.Gateway

	MinHealthFactor int64         // Default: 150 (percent)
	PacingDelay     time.Duration // Default: 500ms, after each submission

	// DryRun validates without submitting. Healthy candidates end as ELIGIBLE.
	DryRun bool

	// Sleep waits between submissions. Default: context-aware timer.
	Sleep func(ctx context.Context, d time.Duration)
	// Now is the clock for outcome timestamps. Default: time.Now.
	Now func() time.Time

	Logger *zap.Logger
}

// Executor processes candidates strictly sequentially.
type Executor struct {
	ledger          ledger.Writer
	price           price.Gateway
	minHealthFactor *big.Int
	pacingDelay     time.Duration
	dryRun          bool
	sleep           func(ctx context.Context, d time.Duration)
	now             func() time.Time
	logger          *zap.Logger
}

// New creates a new Executor.
func New(opts Options) *Executor {
	minHF := opts.MinHealthFactor
	if minHF <= 0 {
		minHF = DefaultMinHealthFactor
	}
	pacing := opts.PacingDelay
	if pacing < 0 {
		pacing = 0
	} else if pacing == 0 {
		pacing = DefaultPacingDelay
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Executor{
		ledger:          opts.Ledger,
		price:           opts.Price,
		minHealthFactor: big.NewInt(minHF),
		pacingDelay:     pacing,
		dryRun:          opts.DryRun,
		sleep:           sleep,
		now:             now,
		logger:          logger,
	}
}

// Result contains one outcome per candidate, in candidate order,
// and one observation per computed health factor.
type Result struct {
	Outcomes     []*domain.Outcome
	Observations []*domain.HealthObservation
}

// Execute processes every candidate. A failure on one candidate never stops the others.
func (e *Executor) Execute(ctx context.Context, cycleID string, candidates []*domain.Candidate) *Result {
	result := &Result{
		Outcomes: make([]*domain.Outcome, 0, len(candidates)),
	}

	for i, c := range candidates {
		outcome, observation := e.process(ctx, cycleID, c)
		result.Outcomes = append(result.Outcomes, outcome)
		if observation != nil {
			result.Observations = append(result.Observations, observation)
		}

		submitted := outcome.State == domain.StateSubmittedSuccess || outcome.State == domain.StateSubmittedFailed
		if submitted && e.pacingDelay > 0 && i < len(candidates)-1 {
			e.sleep(ctx, e.pacingDelay)
		}
	}

	return result
}

// process drives one candidate to a terminal state. Panics become ERROR outcomes.
func (e *Executor) process(ctx context.Context, cycleID string, c *domain.Candidate) (outcome *domain.Outcome, observation *domain.HealthObservation) {
	outcome = &domain.Outcome{
		CycleID:         cycleID,
		Owner:           c.Owner,
		CollateralAsset: c.CollateralAsset,
		DebtAmount:      c.DebtAmount,
	}

	defer func() {
		if r := recover(); r != nil {
			outcome.State = domain.StateError
			outcome.Error = fmt.Sprintf("panic: %v", r)
			e.logger.Error("candidate processing panicked",
				zap.String("op", "executor.process"),
				zap.Stringer("owner", c.Owner),
				zap.Any("panic", r))
		}
		outcome.ProcessedAt = e.now().UnixMilli()
		e.logOutcome(outcome)
	}()

	if c.DebtAmount == nil || c.DebtAmount.Sign() == 0 {
		outcome.State = domain.StateZeroDebt
		return outcome, nil
	}

	value, err := e.price.ValueOf(ctx, c.CollateralAsset, c.CollateralAmount)
	if err != nil {
		outcome.State = domain.StateError
		outcome.Error = fmt.Sprintf("price lookup: %v", err)
		return outcome, nil
	}
	outcome.CollateralValue = value

	if value == nil || value.Sign() == 0 {
		outcome.State = domain.StatePriceUnavailable
		return outcome, nil
	}

	hf := HealthFactor(value, c.DebtAmount)
	outcome.HealthFactor = hf
	observation = &domain.HealthObservation{
		CycleID:         cycleID,
		Owner:           c.Owner,
		CollateralAsset: c.CollateralAsset,
		CollateralValue: value,
		DebtAmount:      c.DebtAmount,
		HealthFactor:    hf,
		ObservedAt:      e.now().UnixMilli(),
	}

	if hf.Cmp(e.minHealthFactor) < 0 {
		outcome.State = domain.StateLowHealth
		return outcome, observation
	}

	if e.dryRun {
		outcome.State = domain.StateEligible
		return outcome, observation
	}

	receipt, err := e.ledger.SubmitRepayment(ctx, c.Owner)
	if receipt != nil {
		outcome.TxHash = receipt.TxHash.Hex()
	}
	if err != nil {
		outcome.State = domain.StateSubmittedFailed
		outcome.Error = err.Error()
		return outcome, observation
	}
	if !receipt.Succeeded() {
		outcome.State = domain.StateSubmittedFailed
		outcome.Error = ledger.ErrReverted.Error()
		return outcome, observation
	}

	outcome.State = domain.StateSubmittedSuccess
	return outcome, observation
}

func (e *Executor) logOutcome(o *domain.Outcome) {
	fields := []zap.Field{
		zap.String("op", "executor.process"),
		zap.Stringer("owner", o.Owner),
		zap.String("state", string(o.State)),
	}
	if o.HealthFactor != nil {
		fields = append(fields, zap.Stringer("health_factor", o.HealthFactor))
	}
	if o.TxHash != "" {
		fields = append(fields, zap.String("tx", o.TxHash))
	}

	switch {
	case o.State.IsFailure():
		e.logger.Warn("candidate failed", append(fields, zap.String("error", o.Error))...)
	case o.State == domain.StateSubmittedSuccess:
		e.logger.Info("repayment executed", fields...)
	default:
		e.logger.Debug("candidate processed", fields...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
