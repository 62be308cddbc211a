package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"liquidityPilot/internal/amm"
	"liquidityPilot/internal/bridge"
	"liquidityPilot/internal/chain"
	"liquidityPilot/internal/config"
	"liquidityPilot/internal/ledger"
	ledgerpg "liquidityPilot/internal/ledger/postgres"
	"liquidityPilot/internal/pipeline"
	"liquidityPilot/internal/poll"
	"liquidityPilot/internal/route"
	"liquidityPilot/internal/submit"
	"liquidityPilot/internal/swap"
)

// app holds the wired components for one CLI invocation.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	source *chain.Client
	dest   *chain.Client

	srcSubmit *submit.Submitter
	dstSubmit *submit.Submitter

	bridgeOut  *bridge.Orchestrator
	bridgeBack *bridge.Orchestrator
	swapper    *swap.Swapper
	builder    *amm.Builder

	jobs    ledger.Ledger
	cleanup []func()
}

func loadConfig(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	if cfg.JobID == "" {
		cfg.JobID = fmt.Sprintf("run-%d", time.Now().Unix())
	}
	return cfg, logger, nil
}

// newApp dials both chains and wires every pipeline component.
func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	for _, required := range []struct{ name, value string }{
		{"source-rpc", cfg.SourceRPCURL},
		{"dest-rpc", cfg.DestRPCURL},
		{"private-key", cfg.PrivateKey},
	} {
		if required.value == "" {
			return nil, fmt.Errorf("%s is required", required.name)
		}
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	a.source, err = chain.NewClient(ctx, cfg.SourceRPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect source rpc: %w", err)
	}
	a.cleanup = append(a.cleanup, a.source.Close)

	a.dest, err = chain.NewClient(ctx, cfg.DestRPCURL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("connect dest rpc: %w", err)
	}
	a.cleanup = append(a.cleanup, a.dest.Close)

	submitCfg := submit.Config{
		MaxAttempts:   cfg.MaxAttempts,
		HardFeeCap:    cfg.MaxFeeWei,
		Confirmations: cfg.Confirmations,
		Confirm:       poll.Config{Interval: 3 * time.Second, Timeout: cfg.PollTimeout},
	}
	a.srcSubmit = submit.New(a.source, key, submitCfg, logger.Named("submit.source"))
	a.dstSubmit = submit.New(a.dest, key, submitCfg, logger.Named("submit.dest"))

	settle := poll.Config{Interval: cfg.PollInterval, Timeout: cfg.PollTimeout}
	if cfg.BridgeAPIURL != "" {
		bridgeRoutes := route.NewClient(cfg.BridgeAPIURL, 30*time.Second, logger.Named("route.bridge"))
		a.bridgeOut = bridge.New(bridgeRoutes, a.source, a.srcSubmit, bridge.Config{SettlePoll: settle}, logger.Named("bridge"))
		a.bridgeBack = bridge.New(bridgeRoutes, a.dest, a.dstSubmit, bridge.Config{SettlePoll: settle}, logger.Named("rebridge"))
	}
	if cfg.SwapAPIURL != "" {
		swapRoutes := route.NewClient(cfg.SwapAPIURL, 30*time.Second, logger.Named("route.swap"))
		a.swapper = swap.New(swapRoutes, a.dest, a.dstSubmit, a.dest.ChainID().Uint64(), logger.Named("swap"))
	}
	if cfg.PositionManager != "" {
		if !common.IsHexAddress(cfg.PositionManager) {
			return nil, fmt.Errorf("invalid position-manager address: %s", cfg.PositionManager)
		}
		program := amm.NewProgram(common.HexToAddress(cfg.PositionManager), a.dest)
		a.builder = amm.NewBuilder(program, a.dstSubmit, 0, logger.Named("amm"))
	}

	if cfg.PGDSN != "" {
		store, err := ledgerpg.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect job ledger: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			a.Close()
			return nil, err
		}
		a.cleanup = append(a.cleanup, store.Close)
		a.jobs = store
	} else {
		a.jobs = ledger.NewFileLedger(cfg.LedgerFile)
	}

	return a, nil
}

// Close releases chain and ledger connections.
func (a *app) Close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
}

// runConfig assembles the pipeline run parameters from config plus the
// chain ids read from the live clients.
func (a *app) runConfig() (pipeline.RunConfig, error) {
	addrs := map[string]string{
		"source-stable": a.cfg.SourceStable,
		"dest-stable":   a.cfg.DestStable,
		"target-token":  a.cfg.TargetToken,
		"pool":          a.cfg.Pool,
	}
	for name, value := range addrs {
		if !common.IsHexAddress(value) {
			return pipeline.RunConfig{}, fmt.Errorf("invalid or missing %s address: %q", name, value)
		}
	}
	if a.cfg.AmountIn == nil {
		return pipeline.RunConfig{}, fmt.Errorf("amount-usdc is required")
	}

	return pipeline.RunConfig{
		JobID:          a.cfg.JobID,
		DryRun:         a.cfg.DryRun,
		SourceChainID:  a.source.ChainID().Uint64(),
		DestChainID:    a.dest.ChainID().Uint64(),
		SourceStable:   common.HexToAddress(a.cfg.SourceStable),
		DestStable:     common.HexToAddress(a.cfg.DestStable),
		TargetToken:    common.HexToAddress(a.cfg.TargetToken),
		Pool:           common.HexToAddress(a.cfg.Pool),
		Sender:         a.srcSubmit.From(),
		AmountIn:       a.cfg.AmountIn,
		MaxSpend:       a.cfg.MaxSpend,
		SlippageBps:    a.cfg.SlippageBps,
		RangeBps:       a.cfg.RangeBps,
		SwapPortionBps: a.cfg.SwapPortionBps,
		WithdrawBps:    a.cfg.WithdrawBps,
		Rebridge:       a.cfg.Rebridge,
	}, nil
}
