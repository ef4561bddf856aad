package keeper

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"vault-keeper/internal/domain"
	"vault-keeper/internal/executor"
	ledgerstub "vault-keeper/internal/ledger/stub"
	"vault-keeper/internal/observability"
	pricestub "vault-keeper/internal/price/stub"
	"vault-keeper/internal/scanner"
	"vault-keeper/internal/storage/memory"
)

var (
	keeperAddr = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	assetX     = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	vaultA     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	vaultB     = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	vaultC     = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

type fixture struct {
	ledger       *ledgerstub.Ledger
	price        *pricestub.Gateway
	cycles       *memory.CycleStore
	outcomes     *memory.OutcomeStore
	observations *memory.HealthObservationStore
	metrics      *observability.Metrics
}

// newFixture builds the three-vault scenario: A is repayable at 200% health,
// B has too little yield and C carries no debt.
func newFixture() *fixture {
	l := ledgerstub.New(keeperAddr)
	l.SetThreshold(big.NewInt(100))
	l.AddVault(&domain.Vault{
		Owner: vaultA, CollateralAmount: big.NewInt(2), DebtAmount: big.NewInt(100),
		PendingYield: big.NewInt(150), CollateralAsset: assetX, Active: true, ReadyForCheck: true,
	})
	l.AddVault(&domain.Vault{
		Owner: vaultB, CollateralAmount: big.NewInt(2), DebtAmount: big.NewInt(50),
		PendingYield: big.NewInt(99), CollateralAsset: assetX, Active: true, ReadyForCheck: true,
	})
	l.AddVault(&domain.Vault{
		Owner: vaultC, CollateralAmount: big.NewInt(2), DebtAmount: big.NewInt(0),
		PendingYield: big.NewInt(150), CollateralAsset: assetX, Active: true, ReadyForCheck: true,
	})

	p := pricestub.New()
	p.SetValue(assetX, big.NewInt(200))

	return &fixture{
		ledger:       l,
		price:        p,
		cycles:       memory.NewCycleStore(),
		outcomes:     memory.NewOutcomeStore(),
		observations: memory.NewHealthObservationStore(),
		metrics:      observability.NewMetrics(prometheus.NewRegistry(), "test"),
	}
}

func (f *fixture) cycle(t *testing.T, dryRun bool) *Cycle {
	logger := zaptest.NewLogger(t)
	return NewCycle(CycleOptions{
		Scanner: scanner.New(scanner.Options{Ledger: f.ledger, BatchSize: 2, Logger: logger}),
		Executor: executor.New(executor.Options{
			Ledger:      f.ledger,
			Price:       f.price,
			PacingDelay: -1,
			DryRun:      dryRun,
			Logger:      logger,
		}),
		Recorder: NewRecorder(RecorderOptions{
			Cycles:       f.cycles,
			Outcomes:     f.outcomes,
			Observations: f.observations,
			Metrics:      f.metrics,
			Logger:       logger,
		}),
		Metrics: f.metrics,
		DryRun:  dryRun,
		NewID:   func() string { return "cycle-1" },
		Logger:  logger,
	})
}

func TestCycle_EndToEnd(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	report, err := f.cycle(t, false).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.CycleCompleted, report.Status)
	assert.Equal(t, int64(3), report.VaultCount)
	assert.Equal(t, 1, report.Candidates)
	assert.Equal(t, 1, report.Executed)
	assert.Equal(t, 0, report.Deferred)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 0, report.Errors)
	assert.Equal(t, "100", report.MinYieldThreshold)
	assert.GreaterOrEqual(t, report.FinishedAt, report.StartedAt)

	assert.Equal(t, []common.Address{vaultA}, f.ledger.Submitted())
	assert.Equal(t, []common.Address{assetX}, f.price.Calls(), "price is fetched for A only")

	stored, err := f.cycles.GetByID(ctx, "cycle-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Executed)

	outcomes, err := f.outcomes.GetByCycleID(ctx, "cycle-1")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, vaultA, outcomes[0].Owner)
	assert.Equal(t, domain.StateSubmittedSuccess, outcomes[0].State)
	assert.Equal(t, "200", outcomes[0].HealthFactor.String())

	observations, err := f.observations.GetByOwner(ctx, vaultA, 0, time.Now().Add(time.Hour).UnixMilli())
	require.NoError(t, err)
	assert.Len(t, observations, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CyclesTotal.WithLabelValues("COMPLETED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OutcomesTotal.WithLabelValues("SUBMITTED_SUCCESS")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.VaultsSkipped))
}

func TestCycle_SecondPassFindsNothing(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.cycle(t, false).Run(ctx)
	require.NoError(t, err)

	// The repayment consumed A's yield.
	c := f.cycle(t, false)
	c.newID = func() string { return "cycle-2" }
	report, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Candidates)
	assert.Equal(t, 3, report.Skipped)
	assert.Len(t, f.ledger.Submitted(), 1)
}

func TestCycle_DryRun(t *testing.T) {
	f := newFixture()

	report, err := f.cycle(t, true).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.Equal(t, 0, report.Executed)
	assert.Empty(t, f.ledger.Submitted())

	outcomes, err := f.outcomes.GetByCycleID(context.Background(), "cycle-1")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.StateEligible, outcomes[0].State)
}

func TestCycle_ScanFailureIsRecorded(t *testing.T) {
	f := newFixture()
	f.ledger.CountErr = errors.New("rpc down")

	report, err := f.cycle(t, false).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc down")

	assert.Equal(t, domain.CycleFailed, report.Status)
	assert.Contains(t, report.Error, "rpc down")

	stored, err := f.cycles.GetByID(context.Background(), "cycle-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CycleFailed, stored.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CyclesTotal.WithLabelValues("FAILED")))
}

type failingCycleStore struct {
	*memory.CycleStore
}

func (failingCycleStore) Insert(context.Context, *domain.CycleReport) error {
	return errors.New("disk full")
}

func TestCycle_RecordingFailureDoesNotFailCycle(t *testing.T) {
	f := newFixture()
	c := f.cycle(t, false)
	c.recorder.cycles = failingCycleStore{memory.NewCycleStore()}

	report, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Executed)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RecordErrors.WithLabelValues(sinkCycles)))

	// Outcomes are still written.
	outcomes, err := f.outcomes.GetByCycleID(context.Background(), "cycle-1")
	require.NoError(t, err)
	assert.Len(t, outcomes, 1)
}

type panickingScanner struct{}

func (panickingScanner) Scan(context.Context) (*scanner.Result, error) {
	panic("owner page decode")
}

func TestCycle_ScanPanicIsRecordedAsFailure(t *testing.T) {
	f := newFixture()
	c := f.cycle(t, false)
	c.scanner = panickingScanner{}

	report, err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "owner page decode")
	require.NotNil(t, report)
	assert.Equal(t, domain.CycleFailed, report.Status)
	assert.NotZero(t, report.FinishedAt)

	stored, err := f.cycles.GetByID(context.Background(), "cycle-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CycleFailed, stored.Status)

	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.CyclesInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CyclesTotal.WithLabelValues("FAILED")))
	assert.Empty(t, f.ledger.Submitted())
}

type panickingCycleStore struct {
	*memory.CycleStore
}

func (panickingCycleStore) Insert(context.Context, *domain.CycleReport) error {
	panic("driver bug")
}

func TestCycle_RecorderPanicReleasesInFlight(t *testing.T) {
	f := newFixture()
	c := f.cycle(t, false)
	c.recorder.cycles = panickingCycleStore{memory.NewCycleStore()}

	report, err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "driver bug")
	assert.Equal(t, domain.CycleFailed, report.Status)

	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.CyclesInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CyclesTotal.WithLabelValues("FAILED")))
}

// countingRunner records runs and optionally panics or blocks.
type countingRunner struct {
	mu      sync.Mutex
	runs    int
	panics  int // number of leading runs that panic
	block   chan struct{}
	started chan struct{}
}

func newCountingRunner() *countingRunner {
	return &countingRunner{started: make(chan struct{}, 16)}
}

func (r *countingRunner) Run(context.Context) (*domain.CycleReport, error) {
	r.mu.Lock()
	r.runs++
	n := r.runs
	r.mu.Unlock()

	r.started <- struct{}{}
	if r.block != nil {
		<-r.block
	}
	if n <= r.panics {
		panic("boom")
	}
	return &domain.CycleReport{Status: domain.CycleCompleted}, nil
}

func (r *countingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

func newScheduler(t *testing.T, l *ledgerstub.Ledger, runner CycleRunner, interval time.Duration) *Scheduler {
	return NewScheduler(SchedulerOptions{
		Ledger:          l,
		Keeper:          keeperAddr,
		Cycle:           runner,
		Interval:        interval,
		ShutdownTimeout: time.Second,
		Logger:          zaptest.NewLogger(t),
	})
}

func TestScheduler_Unauthorized(t *testing.T) {
	l := ledgerstub.New(keeperAddr)
	runner := newCountingRunner()
	s := newScheduler(t, l, runner, time.Hour)

	err := s.Start(context.Background())
	assert.True(t, errors.Is(err, ErrNotAuthorized))
	assert.False(t, s.Authorized())
	assert.Equal(t, 0, runner.count())
	assert.NoError(t, s.Stop())
}

func TestScheduler_AuthorizationReadError(t *testing.T) {
	l := ledgerstub.New(keeperAddr)
	l.Authorize(keeperAddr)
	l.AuthErr = errors.New("rpc down")

	_, err := newScheduler(t, l, newCountingRunner(), time.Hour).RunOnce(context.Background())
	assert.True(t, errors.Is(err, ErrNotAuthorized))
}

func TestScheduler_RunsImmediately(t *testing.T) {
	l := ledgerstub.New(keeperAddr)
	l.Authorize(keeperAddr)
	runner := newCountingRunner()
	s := newScheduler(t, l, runner, time.Hour)

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.Authorized())

	select {
	case <-runner.started:
	case <-time.After(time.Second):
		t.Fatal("first cycle did not start immediately")
	}
	require.NoError(t, s.Stop())
	assert.Equal(t, 1, runner.count())
}

func TestScheduler_CancelledContextDoesNotCancelCycles(t *testing.T) {
	l := ledgerstub.New(keeperAddr)
	l.Authorize(keeperAddr)

	var got context.Context
	done := make(chan struct{})
	runner := runnerFunc(func(ctx context.Context) (*domain.CycleReport, error) {
		got = ctx
		close(done)
		return &domain.CycleReport{}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	s := newScheduler(t, l, runner, time.Hour)
	require.NoError(t, s.Start(ctx))
	<-done
	cancel()

	assert.NoError(t, got.Err())
	require.NoError(t, s.Stop())
}

func TestScheduler_PanicIsContained(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a scheduled tick")
	}

	l := ledgerstub.New(keeperAddr)
	l.Authorize(keeperAddr)
	runner := newCountingRunner()
	runner.panics = 1
	s := newScheduler(t, l, runner, time.Second)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	// The panicking first cycle must not stop the schedule.
	assert.Eventually(t, func() bool { return runner.count() >= 2 }, 5*time.Second, 50*time.Millisecond)
}

func TestScheduler_OverlappingCycles(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a scheduled tick")
	}

	l := ledgerstub.New(keeperAddr)
	l.Authorize(keeperAddr)
	runner := newCountingRunner()
	runner.block = make(chan struct{})
	s := newScheduler(t, l, runner, time.Second)

	require.NoError(t, s.Start(context.Background()))

	<-runner.started
	// The first cycle is still blocked; the next tick must start another one.
	select {
	case <-runner.started:
	case <-time.After(3 * time.Second):
		t.Fatal("tick did not start a cycle while the previous one was running")
	}
	assert.GreaterOrEqual(t, runner.count(), 2)

	close(runner.block)
	require.NoError(t, s.Stop())
}

func TestScheduler_StopTimeout(t *testing.T) {
	l := ledgerstub.New(keeperAddr)
	l.Authorize(keeperAddr)
	runner := newCountingRunner()
	runner.block = make(chan struct{})

	s := NewScheduler(SchedulerOptions{
		Ledger:          l,
		Keeper:          keeperAddr,
		Cycle:           runner,
		Interval:        time.Hour,
		ShutdownTimeout: 50 * time.Millisecond,
		Logger:          zaptest.NewLogger(t),
	})
	require.NoError(t, s.Start(context.Background()))
	<-runner.started

	assert.Error(t, s.Stop())
	close(runner.block)
}

func TestNewScheduler_Defaults(t *testing.T) {
	s := NewScheduler(SchedulerOptions{})
	assert.Equal(t, DefaultInterval, s.interval)
	assert.Equal(t, DefaultShutdownTimeout, s.shutdownTimeout)
}

type runnerFunc func(ctx context.Context) (*domain.CycleReport, error)

func (f runnerFunc) Run(ctx context.Context) (*domain.CycleReport, error) { return f(ctx) }
