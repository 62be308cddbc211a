package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"liquidityPilot/internal/amm"
	"liquidityPilot/internal/bridge"
	"liquidityPilot/internal/model"
	"liquidityPilot/internal/swap"
)

// The stage commands run one pipeline step in isolation, for operators
// recovering from a partial run or testing a leg before committing to the
// whole pipeline. They log outcomes but do not touch the job ledger; only
// `pilot run` owns job records.

func stageContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runBridgeStage(cmd *cobra.Command, _ []string) error {
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

	if a.bridgeOut == nil {
		return fmt.Errorf("bridge-api is required")
	}
	if !common.IsHexAddress(cfg.SourceStable) || !common.IsHexAddress(cfg.DestStable) {
		return fmt.Errorf("source-stable and dest-stable addresses are required")
	}
	if cfg.AmountIn == nil {
		return fmt.Errorf("amount-usdc is required")
	}

	req := bridge.Request{
		SourceChainID: a.source.ChainID().Uint64(),
		DestChainID:   a.dest.ChainID().Uint64(),
		SourceAsset:   common.HexToAddress(cfg.SourceStable),
		DestAsset:     common.HexToAddress(cfg.DestStable),
		Amount:        cfg.AmountIn,
		Recipient:     a.srcSubmit.From(),
		SlippageBps:   cfg.SlippageBps,
	}

	if cfg.DryRun {
		_, err := a.bridgeOut.Preview(ctx, req)
		return err
	}
	res, err := a.bridgeOut.Bridge(ctx, req)
	if err != nil {
		if !model.IsSoft(err) || res == nil {
			fmt.Fprintf(os.Stderr, "bridge failed: %v\n", err)
			return err
		}
		logger.Warn("settlement pending, re-poll with the source tx", zap.Error(err))
	}
	logger.Info("bridge done",
		zap.String("source_tx", res.SourceTxHash.Hex()),
		zap.String("dest_tx", res.DestTxRef),
		zap.Bool("settled", res.Settled),
	)
	return nil
}

func runSwapStage(cmd *cobra.Command, _ []string) error {
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

	if a.swapper == nil {
		return fmt.Errorf("swap-api is required")
	}
	if !common.IsHexAddress(cfg.DestStable) || !common.IsHexAddress(cfg.TargetToken) {
		return fmt.Errorf("dest-stable and target-token addresses are required")
	}
	if cfg.AmountIn == nil {
		return fmt.Errorf("amount-usdc is required")
	}

	req := swap.Request{
		TokenIn:     common.HexToAddress(cfg.DestStable),
		TokenOut:    common.HexToAddress(cfg.TargetToken),
		Amount:      cfg.AmountIn,
		SlippageBps: cfg.SlippageBps,
	}

	if cfg.DryRun {
		_, err := a.swapper.Preview(ctx, req)
		return err
	}
	res, err := a.swapper.Swap(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "swap failed: %v\n", err)
		return err
	}
	logger.Info("swap done", zap.String("tx", res.TxHash.Hex()))
	return nil
}

func runLiquidityStage(cmd *cobra.Command, _ []string) error {
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

	if a.builder == nil {
		return fmt.Errorf("position-manager is required")
	}
	if !common.IsHexAddress(cfg.Pool) || !common.IsHexAddress(cfg.DestStable) || !common.IsHexAddress(cfg.TargetToken) {
		return fmt.Errorf("pool, dest-stable and target-token addresses are required")
	}

	// Deposits come from what the wallet actually holds on the destination
	// chain; the standalone command does not assume a prior bridge or swap.
	sender := a.dstSubmit.From()
	depositA, err := a.dest.TokenBalance(ctx, common.HexToAddress(cfg.DestStable), sender)
	if err != nil {
		return fmt.Errorf("read stable balance: %w", err)
	}
	depositB, err := a.dest.TokenBalance(ctx, common.HexToAddress(cfg.TargetToken), sender)
	if err != nil {
		return fmt.Errorf("read target balance: %w", err)
	}
	if cfg.AmountIn != nil && depositA.Cmp(cfg.AmountIn) > 0 {
		depositA = cfg.AmountIn
	}

	plan, err := a.builder.Plan(ctx, amm.PlanRequest{
		Pool:     common.HexToAddress(cfg.Pool),
		RangeBps: cfg.RangeBps,
		DepositA: depositA,
		DepositB: depositB,
	})
	if err != nil {
		return err
	}
	if cfg.DryRun {
		return nil
	}

	pos, err := a.builder.Execute(ctx, plan)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open position failed: %v\n", err)
		return err
	}
	logger.Info("position ready",
		zap.String("identity", pos.Identity.Hex()),
		zap.String("open_tx", pos.OpenTxHash.Hex()),
	)
	return nil
}

func runWithdrawStage(cmd *cobra.Command, _ []string) error {
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

	if a.builder == nil {
		return fmt.Errorf("position-manager is required")
	}
	if cfg.WithdrawBps <= 0 {
		return fmt.Errorf("withdraw-bps must be positive")
	}

	job, err := a.jobs.Get(ctx, cfg.JobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s not found", cfg.JobID)
	}
	pos, err := positionFromJob(job)
	if err != nil {
		return err
	}

	if cfg.DryRun {
		logger.Info("dry run, not withdrawing",
			zap.String("identity", pos.Identity.Hex()),
			zap.Int64("withdraw_bps", cfg.WithdrawBps),
		)
		return nil
	}
	receipt, err := a.builder.Withdraw(ctx, pos, cfg.WithdrawBps)
	if err != nil {
		fmt.Fprintf(os.Stderr, "withdraw failed: %v\n", err)
		return err
	}
	logger.Info("withdraw done", zap.String("tx", receipt.TxHash.Hex()))
	return nil
}

// runRepollStage resumes settlement detection for a transfer whose dest leg
// was not observed before the original timeout. The source transaction hash
// recorded by the bridge stage is the correlation key.
func runRepollStage(cmd *cobra.Command, _ []string) error {
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

	if a.bridgeOut == nil {
		return fmt.Errorf("bridge-api is required")
	}

	job, err := a.jobs.Get(ctx, cfg.JobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s not found", cfg.JobID)
	}
	result, ok := job.StageResults()[model.StepBridge].(map[string]any)
	if !ok {
		return fmt.Errorf("job %s has no bridge stage result", job.ID)
	}
	sourceTx, _ := result["source_tx"].(string)
	if sourceTx == "" {
		return fmt.Errorf("job %s bridge result carries no source tx", job.ID)
	}
	if settled, _ := result["settled"].(bool); settled {
		logger.Info("transfer already settled", zap.String("source_tx", sourceTx))
		return nil
	}

	destRef, err := a.bridgeOut.Repoll(ctx, sourceTx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "repoll failed: %v\n", err)
		return err
	}
	err = a.jobs.Update(ctx, cfg.JobID, model.JobPatch{
		Meta: map[string]any{
			"stages": map[string]any{
				model.StepBridge: map[string]any{"dest_tx": destRef, "settled": true},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("record settlement: %w", err)
	}
	logger.Info("transfer settled",
		zap.String("source_tx", sourceTx),
		zap.String("dest_tx", destRef),
	)
	return nil
}

// positionFromJob rebuilds the opened position from a job's liquidity stage
// result.
func positionFromJob(job *model.Job) (*amm.Position, error) {
	stages := job.StageResults()
	result, ok := stages[model.StepLiquidity].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("job %s has no liquidity stage result", job.ID)
	}
	identity, _ := result["identity"].(string)
	liquidity, _ := result["liquidity"].(string)
	if identity == "" || liquidity == "" {
		return nil, fmt.Errorf("job %s liquidity result is incomplete", job.ID)
	}
	value, ok := new(big.Int).SetString(liquidity, 10)
	if !ok {
		return nil, fmt.Errorf("job %s has bad liquidity %q", job.ID, liquidity)
	}
	return &amm.Position{
		Identity:  common.HexToAddress(identity),
		Liquidity: value,
	}, nil
}
