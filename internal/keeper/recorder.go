package keeper

import (
	"context"
	"math/big"
	"time"

	"go.uber.org/zap"

	"vault-keeper/internal/domain"
	"vault-keeper/internal/events"
	"vault-keeper/internal/observability"
	"vault-keeper/internal/storage"
)

// Sink names used in logs and the record metrics.
const (
	sinkCycles       = "cycles"
	sinkOutcomes     = "outcomes"
	sinkObservations = "observations"
	sinkEvents       = "events"
)

// RecorderOptions for creating a Recorder. Nil stores are skipped.
type RecorderOptions struct {
	Cycles       storage.CycleStore
	Outcomes     storage.OutcomeStore
	Observations storage.HealthObservationStore
	Publisher    events.Publisher
	Metrics      *observability.Metrics
	Logger       *zap.Logger
}

// Recorder hands finished cycles to the audit stores, the event bus and metrics.
// Recording is best effort: failures are logged and counted, never returned.
type Recorder struct {
	cycles       storage.CycleStore
	outcomes     storage.OutcomeStore
	observations storage.HealthObservationStore
	publisher    events.Publisher
	metrics      *observability.Metrics
	logger       *zap.Logger
}

// NewRecorder creates a new Recorder.
func NewRecorder(opts RecorderOptions) *Recorder {
	r := &Recorder{
		cycles:       opts.Cycles,
		outcomes:     opts.Outcomes,
		observations: opts.Observations,
		publisher:    opts.Publisher,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
	}
	if r.publisher == nil {
		r.publisher = events.Noop{}
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// Record persists and publishes one cycle.
func (r *Recorder) Record(ctx context.Context, report *domain.CycleReport, outcomes []*domain.Outcome, observations []*domain.HealthObservation) {
	for _, o := range outcomes {
		r.metrics.RecordOutcome(string(o.State))
	}
	for _, o := range observations {
		if o.HealthFactor != nil {
			percent, _ := new(big.Float).SetInt(o.HealthFactor).Float64()
			r.metrics.RecordHealthFactor(percent)
		}
	}

	if r.cycles != nil {
		r.write(sinkCycles, report.CycleID, func() error { return r.cycles.Insert(ctx, report) })
	}
	if r.outcomes != nil && len(outcomes) > 0 {
		r.write(sinkOutcomes, report.CycleID, func() error { return r.outcomes.InsertBulk(ctx, outcomes) })
	}
	if r.observations != nil && len(observations) > 0 {
		r.write(sinkObservations, report.CycleID, func() error { return r.observations.InsertBulk(ctx, observations) })
	}

	r.write(sinkEvents, report.CycleID, func() error {
		for _, o := range outcomes {
			if o.State != domain.StateSubmittedSuccess && o.State != domain.StateSubmittedFailed {
				continue
			}
			if err := r.publisher.PublishRepayment(ctx, o); err != nil {
				return err
			}
		}
		return r.publisher.PublishCycle(ctx, report)
	})
}

func (r *Recorder) write(sink, cycleID string, fn func() error) {
	start := time.Now()
	err := fn()
	r.metrics.RecordSink(sink, time.Since(start), err)
	if err != nil {
		r.logger.Error("failed to record cycle",
			zap.String("sink", sink),
			zap.String("cycle_id", cycleID),
			zap.Error(err),
		)
	}
}
