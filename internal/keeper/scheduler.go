package keeper

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"vault-keeper/internal/domain"
	"vault-keeper/internal/observability"
)

const (
	DefaultInterval        = 30 * time.Minute
	DefaultShutdownTimeout = 5 * time.Minute
)

// Authorizer checks keeper authorization on the ledger.
type Authorizer interface {
	IsKeeper(ctx context.Context, account common.Address) (bool, error)
}

// CycleRunner runs one keeper cycle.
type CycleRunner interface {
	Run(ctx context.Context) (*domain.CycleReport, error)
}

// SchedulerOptions for creating a Scheduler.
type SchedulerOptions struct {
	Ledger          Authorizer
	Keeper          common.Address
	Cycle           CycleRunner
	Interval        time.Duration
	ShutdownTimeout time.Duration
	Metrics         *observability.Metrics
	Logger          *zap.Logger
}

// Scheduler runs cycles on a fixed wall-clock cadence. A cycle that outlasts
// the interval keeps running while the next one starts.
type Scheduler struct {
	ledger          Authorizer
	keeper          common.Address
	cycle           CycleRunner
	interval        time.Duration
	shutdownTimeout time.Duration
	metrics         *observability.Metrics
	logger          *zap.Logger

	cron       *cron.Cron
	job        cron.Job
	authorized atomic.Bool
	started    atomic.Bool
	inflight   sync.WaitGroup
	baseCtx    context.Context
}

// NewScheduler creates a new Scheduler.
func NewScheduler(opts SchedulerOptions) *Scheduler {
	s := &Scheduler{
		ledger:          opts.Ledger,
		keeper:          opts.Keeper,
		cycle:           opts.Cycle,
		interval:        opts.Interval,
		shutdownTimeout: opts.ShutdownTimeout,
		metrics:         opts.Metrics,
		logger:          opts.Logger,
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = DefaultShutdownTimeout
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	cronLogger := NewCronLogger(s.logger)
	s.cron = cron.New(cron.WithLogger(cronLogger))
	// The immediate run bypasses cron, so recovery wraps the job itself.
	s.job = cron.NewChain(cron.Recover(cronLogger)).Then(cron.FuncJob(s.runCycle))
	return s
}

// Authorize verifies that the keeper address may submit repayments.
// An unreadable answer counts as unauthorized.
func (s *Scheduler) Authorize(ctx context.Context) error {
	ok, err := s.ledger.IsKeeper(ctx, s.keeper)
	if err != nil {
		s.metrics.SetAuthorized(false)
		return fmt.Errorf("%w: check %s: %v", ErrNotAuthorized, s.keeper.Hex(), err)
	}
	if !ok {
		s.metrics.SetAuthorized(false)
		return fmt.Errorf("%w: %s", ErrNotAuthorized, s.keeper.Hex())
	}

	s.authorized.Store(true)
	s.metrics.SetAuthorized(true)
	s.logger.Info("keeper authorized", zap.Stringer("keeper", s.keeper))
	return nil
}

// Authorized reports whether Authorize succeeded.
func (s *Scheduler) Authorized() bool {
	return s.authorized.Load()
}

// Start authorizes the keeper, runs one cycle immediately and schedules the rest.
// Cycles run on a context detached from ctx cancellation; use Stop to shut down.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("scheduler already started")
	}
	if err := s.Authorize(ctx); err != nil {
		return err
	}

	s.baseCtx = context.WithoutCancel(ctx)

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.job.Run()
	}()

	s.cron.Schedule(cron.Every(s.interval), s.job)
	s.cron.Start()

	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
	return nil
}

// RunOnce authorizes the keeper and runs a single cycle in the foreground.
func (s *Scheduler) RunOnce(ctx context.Context) (*domain.CycleReport, error) {
	if err := s.Authorize(ctx); err != nil {
		return nil, err
	}
	return s.cycle.Run(context.WithoutCancel(ctx))
}

// Stop stops scheduling and waits for in-flight cycles, up to the shutdown timeout.
func (s *Scheduler) Stop() error {
	if !s.started.Load() {
		return nil
	}

	cronDone := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		<-cronDone.Done()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-time.After(s.shutdownTimeout):
		return fmt.Errorf("in-flight cycles did not finish within %s", s.shutdownTimeout)
	}
}

func (s *Scheduler) runCycle() {
	ctx := s.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := s.cycle.Run(ctx); err != nil {
		s.logger.Error("cycle failed", zap.Error(err))
	}
}

// cronLogger adapts zap to cron.Logger. Routine scheduler chatter goes to debug.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

// NewCronLogger returns a cron.Logger backed by logger.
func NewCronLogger(logger *zap.Logger) cron.Logger {
	return cronLogger{sugar: logger.Named("cron").Sugar()}
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
