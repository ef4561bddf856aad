// Package events publishes keeper cycle reports and repayment submissions to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"vault-keeper/internal/domain"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "vault_keeper"

// Publisher emits cycle and repayment events.
type Publisher interface {
	PublishCycle(ctx context.Context, r *domain.CycleReport) error
	PublishRepayment(ctx context.Context, o *domain.Outcome) error
	Close() error
}

// CycleEvent is the payload published on <prefix>.cycle.
type CycleEvent struct {
	CycleID           string `json:"cycle_id"`
	StartedAt         int64  `json:"started_at"`
	FinishedAt        int64  `json:"finished_at"`
	VaultCount        int64  `json:"vault_count"`
	Candidates        int    `json:"candidates"`
	Skipped           int    `json:"skipped"`
	Executed          int    `json:"executed"`
	Failed            int    `json:"failed"`
	Deferred          int    `json:"deferred"`
	Errors            int    `json:"errors"`
	MinYieldThreshold string `json:"min_yield_threshold"`
	DryRun            bool   `json:"dry_run"`
	Status            string `json:"status"`
	Error             string `json:"error,omitempty"`
}

// RepaymentEvent is the payload published on <prefix>.repayment.
// Amounts are decimal strings.
type RepaymentEvent struct {
	CycleID         string `json:"cycle_id"`
	Owner           string `json:"owner"`
	CollateralAsset string `json:"collateral_asset"`
	State           string `json:"state"`
	CollateralValue string `json:"collateral_value,omitempty"`
	DebtAmount      string `json:"debt_amount,omitempty"`
	HealthFactor    string `json:"health_factor,omitempty"`
	TxHash          string `json:"tx_hash,omitempty"`
	Error           string `json:"error,omitempty"`
	ProcessedAt     int64  `json:"processed_at"`
}

// NewCycleEvent converts a report into its wire form.
func NewCycleEvent(r *domain.CycleReport) CycleEvent {
	return CycleEvent{
		CycleID:           r.CycleID,
		StartedAt:         r.StartedAt,
		FinishedAt:        r.FinishedAt,
		VaultCount:        r.VaultCount,
		Candidates:        r.Candidates,
		Skipped:           r.Skipped,
		Executed:          r.Executed,
		Failed:            r.Failed,
		Deferred:          r.Deferred,
		Errors:            r.Errors,
		MinYieldThreshold: r.MinYieldThreshold,
		DryRun:            r.DryRun,
		Status:            string(r.Status),
		Error:             r.Error,
	}
}

// NewRepaymentEvent converts an outcome into its wire form.
func NewRepaymentEvent(o *domain.Outcome) RepaymentEvent {
	e := RepaymentEvent{
		CycleID:         o.CycleID,
		Owner:           o.Owner.Hex(),
		CollateralAsset: o.CollateralAsset.Hex(),
		State:           string(o.State),
		TxHash:          o.TxHash,
		Error:           o.Error,
		ProcessedAt:     o.ProcessedAt,
	}
	if o.CollateralValue != nil {
		e.CollateralValue = o.CollateralValue.String()
	}
	if o.DebtAmount != nil {
		e.DebtAmount = o.DebtAmount.String()
	}
	if o.HealthFactor != nil {
		e.HealthFactor = o.HealthFactor.String()
	}
	return e
}

// NATSPublisher publishes events with NATS core pub/sub.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
}

// Connect dials NATS and returns a publisher for subjects under prefix.
func Connect(url, prefix string, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("vault-keeper"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	return NewNATSPublisher(nc, prefix, logger), nil
}

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logger: logger}
}

var _ Publisher = (*NATSPublisher)(nil)

// CycleSubject returns the subject cycle reports are published on.
func (p *NATSPublisher) CycleSubject() string { return p.prefix + ".cycle" }

// RepaymentSubject returns the subject repayment submissions are published on.
func (p *NATSPublisher) RepaymentSubject() string { return p.prefix + ".repayment" }

// PublishCycle publishes a cycle report.
func (p *NATSPublisher) PublishCycle(_ context.Context, r *domain.CycleReport) error {
	return p.publish(p.CycleSubject(), NewCycleEvent(r))
}

// PublishRepayment publishes a submitted repayment.
func (p *NATSPublisher) PublishRepayment(_ context.Context, o *domain.Outcome) error {
	return p.publish(p.RepaymentSubject(), NewRepaymentEvent(o))
}

func (p *NATSPublisher) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}

// Noop discards all events. Used when no NATS URL is configured.
type Noop struct{}

var _ Publisher = Noop{}

func (Noop) PublishCycle(context.Context, *domain.CycleReport) error { return nil }
func (Noop) PublishRepayment(context.Context, *domain.Outcome) error { return nil }
func (Noop) Close() error                                            { return nil }
