// Command vault-keeper scans lending vaults and repays debt from accrued yield.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"vault-keeper/internal/config"
	"vault-keeper/internal/events"
	"vault-keeper/internal/keeper"
)

func main() {
	cmd := &cli.Command{
		Name:   "vault-keeper",
		Usage:  "Repays vault debt from accrued yield on a fixed schedule",
		Action: runCommand,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML config file (optional, KEEPER_* env vars always apply)",
				Sources: cli.EnvVars("KEEPER_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the keeper service (default)",
				Action: runCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "once", Usage: "Run a single cycle and exit"},
				},
			},
			{
				Name:   "scan",
				Usage:  "Run one dry-run cycle and print the report; nothing is submitted",
				Action: scanCommand,
			},
			{
				Name:   "check-auth",
				Usage:  "Verify that the keeper address is authorized on the ledger",
				Action: checkAuthCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "address", Usage: "Address to check instead of the configured key"},
				},
			},
			{
				Name:   "repay-batch",
				Usage:  "Repay the given vaults with batch transactions",
				Action: repayBatchCommand,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "owner", Usage: "Vault owner address (repeatable)", Required: true},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "vault-keeper: %v\n", err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the logger and app.
func setup(ctx context.Context, cmd *cli.Command, opts appOptions) (*app, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a, err := newApp(ctx, cfg, logger, opts)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

func runCommand(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(ctx, cmd, appOptions{requireSigner: true, withStores: true})
	if err != nil {
		return err
	}
	defer a.logger.Sync() //nolint:errcheck
	defer a.close()

	if a.cfg.Keeper.DryRun {
		a.logger.Warn("dry run enabled: eligible vaults are reported, not repaid")
	}
	scheduler := a.newScheduler(a.newCycle(a.cfg.Keeper.DryRun))

	if cmd.Bool("once") {
		report, err := scheduler.RunOnce(ctx)
		if err != nil {
			return err
		}
		return printJSON(events.NewCycleEvent(report))
	}

	return serve(ctx, a, scheduler)
}

func scanCommand(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(ctx, cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.logger.Sync() //nolint:errcheck
	defer a.close()

	report, err := a.newCycle(true).Run(ctx)
	if err != nil {
		return err
	}
	return printJSON(events.NewCycleEvent(report))
}

func checkAuthCommand(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(ctx, cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.logger.Sync() //nolint:errcheck
	defer a.close()

	account := a.contract.KeeperAddress()
	if raw := cmd.String("address"); raw != "" {
		if !common.IsHexAddress(raw) {
			return fmt.Errorf("invalid address %q", raw)
		}
		account = common.HexToAddress(raw)
	}
	if account == (common.Address{}) {
		return fmt.Errorf("no keeper address: set ledger.private_key or pass --address")
	}

	ok, err := a.contract.IsKeeper(ctx, account)
	if err != nil {
		return fmt.Errorf("%w: %v", keeper.ErrNotAuthorized, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", keeper.ErrNotAuthorized, account.Hex())
	}
	fmt.Printf("%s is an authorized keeper\n", account.Hex())

	advertised, err := a.contract.CheckInterval(ctx)
	if err != nil {
		a.logger.Warn("read check interval", zap.Error(err))
		return nil
	}
	fmt.Printf("ledger check interval %s, configured cycle interval %s\n", advertised, a.cfg.Keeper.Interval)
	if a.cfg.Keeper.Interval < advertised {
		a.logger.Warn("cycle interval is shorter than the ledger check interval",
			zap.Duration("configured", a.cfg.Keeper.Interval),
			zap.Duration("ledger", advertised),
		)
	}
	return nil
}

func repayBatchCommand(ctx context.Context, cmd *cli.Command) error {
	owners, err := parseOwners(cmd.StringSlice("owner"))
	if err != nil {
		return err
	}

	a, err := setup(ctx, cmd, appOptions{requireSigner: true})
	if err != nil {
		return err
	}
	defer a.logger.Sync() //nolint:errcheck
	defer a.close()

	scheduler := a.newScheduler(nil)
	if err := scheduler.Authorize(ctx); err != nil {
		return err
	}

	var failed int
	for _, chunk := range chunkOwners(owners, a.cfg.Keeper.ProcessBatchSize) {
		receipt, err := a.contract.SubmitBatchRepayment(ctx, chunk)
		if err != nil {
			failed += len(chunk)
			a.logger.Error("batch repayment failed", zap.Int("owners", len(chunk)), zap.Error(err))
			continue
		}
		a.logger.Info("batch repayment confirmed",
			zap.Int("owners", len(chunk)),
			zap.Stringer("tx", receipt.TxHash),
			zap.Uint64("block", receipt.BlockNumber),
		)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d owners were not repaid", failed, len(owners))
	}
	return nil
}

func parseOwners(raw []string) ([]common.Address, error) {
	owners := make([]common.Address, 0, len(raw))
	seen := make(map[common.Address]struct{}, len(raw))
	for _, s := range raw {
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid owner address %q", s)
		}
		owner := common.HexToAddress(s)
		if _, dup := seen[owner]; dup {
			continue
		}
		seen[owner] = struct{}{}
		owners = append(owners, owner)
	}
	return owners, nil
}

// chunkOwners splits owners into consecutive chunks of at most size.
func chunkOwners(owners []common.Address, size int) [][]common.Address {
	if size <= 0 {
		size = len(owners)
	}
	var chunks [][]common.Address
	for start := 0; start < len(owners); start += size {
		end := min(start+size, len(owners))
		chunks = append(chunks, owners[start:end])
	}
	return chunks
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
