package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"vault-keeper/internal/chain"
	"vault-keeper/internal/config"
	"vault-keeper/internal/events"
	"vault-keeper/internal/executor"
	"vault-keeper/internal/keeper"
	"vault-keeper/internal/ledger"
	"vault-keeper/internal/logging"
	"vault-keeper/internal/observability"
	"vault-keeper/internal/price"
	"vault-keeper/internal/scanner"
)

// app holds every wired component of the keeper process.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics

	contract  *ledger.Contract
	oracle    *price.Oracle
	stores    *stores
	publisher events.Publisher

	closers []func()
}

// appOptions selects which optional parts newApp wires.
type appOptions struct {
	requireSigner bool // fail without ledger.private_key
	withStores    bool // open audit stores and the event bus
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Level:      cfg.App.LogLevel,
		Format:     cfg.App.LogFormat,
		OutputFile: cfg.App.LogFile,
	})
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts appOptions) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = observability.NewMetrics(a.registry, "")

	if err := a.wireChain(ctx, opts.requireSigner); err != nil {
		a.close()
		return nil, err
	}

	if opts.withStores {
		s, cleanup, err := createStores(ctx, cfg.Storage, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		a.stores = s
		a.closers = append(a.closers, cleanup)

		if err := a.wireEvents(); err != nil {
			a.close()
			return nil, err
		}
	}

	return a, nil
}

func (a *app) wireChain(ctx context.Context, requireSigner bool) error {
	cfg := a.cfg.Ledger

	rpc := chain.NewHTTPClient(cfg.RPCURL,
		chain.WithTimeout(cfg.RequestTimeout),
		chain.WithMaxRetries(cfg.MaxRetries),
		chain.WithObserver(a.metrics.RecordRPC),
	)

	var signer *ledger.Signer
	if a.cfg.CanSign() {
		chainID, err := a.chainID(ctx, rpc)
		if err != nil {
			return err
		}
		signer, err = ledger.NewSigner(cfg.PrivateKey, chainID)
		if err != nil {
			return fmt.Errorf("load keeper key: %w", err)
		}
		a.logger.Info("keeper signer loaded",
			zap.Stringer("keeper", signer.Address()),
			zap.Stringer("chain_id", chainID),
		)
	} else if requireSigner {
		return errors.New("ledger.private_key is required for submitting repayments")
	}

	confirmer := ledger.NewConfirmer(ledger.ConfirmerOptions{
		RPC:          rpc,
		Heads:        a.subscribeHeads(ctx),
		PollInterval: cfg.ReceiptPollInterval,
		Timeout:      cfg.ConfirmTimeout,
		Logger:       a.logger.Named("confirmer"),
	})

	contract, err := ledger.NewContract(ledger.ContractOptions{
		RPC:       rpc,
		Address:   common.HexToAddress(cfg.ContractAddress),
		Signer:    signer,
		Confirmer: confirmer,
		GasLimit:  cfg.GasLimit,
		Logger:    a.logger.Named("ledger"),
	})
	if err != nil {
		return fmt.Errorf("ledger contract: %w", err)
	}
	a.contract = contract

	priceRPC := chain.RPCClient(rpc)
	if a.cfg.Price.RPCURL != cfg.RPCURL {
		priceRPC = chain.NewHTTPClient(a.cfg.Price.RPCURL,
			chain.WithTimeout(cfg.RequestTimeout),
			chain.WithMaxRetries(cfg.MaxRetries),
			chain.WithObserver(a.metrics.RecordRPC),
		)
	}
	oracle, err := price.NewOracle(priceRPC, common.HexToAddress(a.cfg.Price.OracleAddress))
	if err != nil {
		return fmt.Errorf("price oracle: %w", err)
	}
	a.oracle = oracle

	return nil
}

func (a *app) chainID(ctx context.Context, rpc chain.RPCClient) (*big.Int, error) {
	if a.cfg.Ledger.ChainID > 0 {
		return big.NewInt(a.cfg.Ledger.ChainID), nil
	}
	id, err := rpc.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("read chain id: %w", err)
	}
	return id, nil
}

// subscribeHeads opens the optional new-head subscription. Without it the
// confirmer falls back to polling, so failures are only logged.
func (a *app) subscribeHeads(ctx context.Context) <-chan chain.Head {
	if a.cfg.Ledger.WSURL == "" {
		return nil
	}

	wsConfig := chain.DefaultWSConfig()
	ws, err := chain.NewWSClient(context.WithoutCancel(ctx), a.cfg.Ledger.WSURL, &wsConfig)
	if err != nil {
		a.logger.Warn("websocket unavailable, polling for receipts", zap.Error(err))
		return nil
	}
	a.closers = append(a.closers, func() { _ = ws.Close() })

	heads, err := ws.SubscribeNewHeads(ctx)
	if err != nil {
		a.logger.Warn("newHeads subscription failed, polling for receipts", zap.Error(err))
		return nil
	}
	return heads
}

func (a *app) wireEvents() error {
	if a.cfg.Events.NATSURL == "" {
		a.publisher = events.Noop{}
		return nil
	}

	publisher, err := events.Connect(a.cfg.Events.NATSURL, a.cfg.Events.SubjectPrefix, a.logger.Named("events"))
	if err != nil {
		return err
	}
	a.publisher = publisher
	a.closers = append(a.closers, func() {
		if err := publisher.Close(); err != nil {
			a.logger.Warn("close nats", zap.Error(err))
		}
	})
	a.logger.Info("publishing events", zap.String("subject", publisher.CycleSubject()))
	return nil
}

// newCycle wires scanner, executor and recorder into one cycle runner.
func (a *app) newCycle(dryRun bool) *keeper.Cycle {
	recorderOpts := keeper.RecorderOptions{
		Metrics: a.metrics,
		Logger:  a.logger.Named("recorder"),
	}
	if a.stores != nil {
		recorderOpts.Cycles = a.stores.cycles
		recorderOpts.Outcomes = a.stores.outcomes
		recorderOpts.Observations = a.stores.observations
		recorderOpts.Publisher = a.publisher
	}

	return keeper.NewCycle(keeper.CycleOptions{
		Scanner: scanner.New(scanner.Options{
			Ledger:    a.contract,
			BatchSize: a.cfg.Keeper.ScanBatchSize,
			Logger:    a.logger.Named("scanner"),
		}),
		Executor: executor.New(executor.Options{
			Ledger:          a.contract,
			Price:           a.oracle,
			MinHealthFactor: a.cfg.Keeper.MinHealthFactor,
			PacingDelay:     a.cfg.Keeper.PacingDelay,
			DryRun:          dryRun,
			Logger:          a.logger.Named("executor"),
		}),
		Recorder: keeper.NewRecorder(recorderOpts),
		Metrics:  a.metrics,
		DryRun:   dryRun,
		Logger:   a.logger.Named("keeper"),
	})
}

func (a *app) newScheduler(cycle keeper.CycleRunner) *keeper.Scheduler {
	return keeper.NewScheduler(keeper.SchedulerOptions{
		Ledger:          a.contract,
		Keeper:          a.contract.KeeperAddress(),
		Cycle:           cycle,
		Interval:        a.cfg.Keeper.Interval,
		ShutdownTimeout: a.cfg.App.ShutdownTimeout,
		Metrics:         a.metrics,
		Logger:          a.logger.Named("scheduler"),
	})
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
