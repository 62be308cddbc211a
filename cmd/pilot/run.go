package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"liquidityPilot/internal/pipeline"
)

func runPipeline(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.bridgeOut == nil {
		return fmt.Errorf("bridge-api is required")
	}
	if a.swapper == nil {
		return fmt.Errorf("swap-api is required")
	}
	if a.builder == nil {
		return fmt.Errorf("position-manager is required")
	}

	runCfg, err := a.runConfig()
	if err != nil {
		return err
	}

	logger.Info("pipeline start",
		zap.String("job", runCfg.JobID),
		zap.Uint64("source_chain", runCfg.SourceChainID),
		zap.Uint64("dest_chain", runCfg.DestChainID),
		zap.String("amount", runCfg.AmountIn.String()),
		zap.Bool("dry_run", runCfg.DryRun),
	)

	runner := pipeline.NewRunner(runCfg, a.jobs, a.bridgeOut, a.bridgeBack, a.swapper, a.builder, a.source, a.dest, logger.Named("pipeline"))
	if err := runner.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "pipeline failed: %v\n", err)
		return err
	}
	return nil
}
