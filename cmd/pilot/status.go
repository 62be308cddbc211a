package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"liquidityPilot/internal/chain"
	"liquidityPilot/internal/config"
	"liquidityPilot/internal/ledger"
	ledgerpg "liquidityPilot/internal/ledger/postgres"
)

// runStatus prints a job record as JSON. It opens only the ledger; no chain
// connection is needed to inspect a job.
func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := stageContext()
	defer stop()

	jobs, closeLedger, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLedger()

	job, err := jobs.Get(ctx, cfg.JobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s not found", cfg.JobID)
	}

	out, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(out))
	return nil
}

func openLedger(ctx context.Context, cfg config.Config) (ledger.Ledger, func(), error) {
	if cfg.PGDSN == "" {
		return ledger.NewFileLedger(cfg.LedgerFile), func() {}, nil
	}
	store, err := ledgerpg.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect job ledger: %w", err)
	}
	return store, store.Close, nil
}

// runBalances prints native and token balances of the signing wallet on both
// chains, in base units.
func runBalances(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := stageContext()
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	sender := a.srcSubmit.From()
	fmt.Fprintf(os.Stdout, "wallet %s\n", sender.Hex())

	printSide := func(label string, c *chain.Client, token string) error {
		native, err := c.BalanceAt(ctx, sender)
		if err != nil {
			return fmt.Errorf("%s native balance: %w", label, err)
		}
		fmt.Fprintf(os.Stdout, "%s chain %d native: %s\n", label, c.ChainID().Uint64(), native.String())
		if common.IsHexAddress(token) {
			bal, err := c.TokenBalance(ctx, common.HexToAddress(token), sender)
			if err != nil {
				return fmt.Errorf("%s token balance: %w", label, err)
			}
			fmt.Fprintf(os.Stdout, "%s chain %d token %s: %s\n", label, c.ChainID().Uint64(), token, bal.String())
		}
		return nil
	}

	if err := printSide("source", a.source, cfg.SourceStable); err != nil {
		return err
	}
	if err := printSide("dest", a.dest, cfg.DestStable); err != nil {
		return err
	}
	if common.IsHexAddress(cfg.TargetToken) {
		bal, err := a.dest.TokenBalance(ctx, common.HexToAddress(cfg.TargetToken), sender)
		if err != nil {
			return fmt.Errorf("dest target balance: %w", err)
		}
		fmt.Fprintf(os.Stdout, "dest chain %d token %s: %s\n", a.dest.ChainID().Uint64(), cfg.TargetToken, bal.String())
	}
	return nil
}
