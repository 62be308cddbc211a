package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "pilot",
		Short:        "Cross-chain liquidity provisioning pipeline",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline: bridge, swap, open liquidity position",
		RunE:  runPipeline,
	}
	addPipelineFlags(runCmd)
	root.AddCommand(runCmd)

	bridgeCmd := &cobra.Command{
		Use:   "bridge",
		Short: "Bridge the stable from the source chain to the destination chain",
		RunE:  runBridgeStage,
	}
	addPipelineFlags(bridgeCmd)
	root.AddCommand(bridgeCmd)

	swapCmd := &cobra.Command{
		Use:   "swap",
		Short: "Swap stable into the target token on the destination chain",
		RunE:  runSwapStage,
	}
	addPipelineFlags(swapCmd)
	root.AddCommand(swapCmd)

	liquidityCmd := &cobra.Command{
		Use:   "liquidity",
		Short: "Open a concentrated-liquidity position on the destination chain",
		RunE:  runLiquidityStage,
	}
	addPipelineFlags(liquidityCmd)
	root.AddCommand(liquidityCmd)

	withdrawCmd := &cobra.Command{
		Use:   "withdraw",
		Short: "Withdraw part of an opened position's liquidity",
		RunE:  runWithdrawStage,
	}
	addPipelineFlags(withdrawCmd)
	root.AddCommand(withdrawCmd)

	repollCmd := &cobra.Command{
		Use:   "repoll",
		Short: "Resume settlement tracking for a job's bridge transfer",
		RunE:  runRepollStage,
	}
	addPipelineFlags(repollCmd)
	root.AddCommand(repollCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print a job's status and per-stage results",
		RunE:  runStatus,
	}
	addPipelineFlags(statusCmd)
	root.AddCommand(statusCmd)

	balancesCmd := &cobra.Command{
		Use:   "balances",
		Short: "Print native and token balances on both chains",
		RunE:  runBalances,
	}
	addPipelineFlags(balancesCmd)
	root.AddCommand(balancesCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addPipelineFlags(cmd *cobra.Command) {
	cmd.Flags().String("source-rpc", "", "source chain RPC URL")
	cmd.Flags().String("dest-rpc", "", "destination chain RPC URL")
	cmd.Flags().String("bridge-api", "", "bridge route service base URL")
	cmd.Flags().String("swap-api", "", "swap route service base URL")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN for the job ledger (file ledger when empty)")
	cmd.Flags().String("ledger-file", "./data/jobs.json", "job ledger file path")
	cmd.Flags().String("job-id", "", "job id (time-derived when empty)")
	cmd.Flags().String("source-stable", "", "stable token address on the source chain")
	cmd.Flags().String("dest-stable", "", "stable token address on the destination chain")
	cmd.Flags().String("target-token", "", "target token address on the destination chain")
	cmd.Flags().String("pool", "", "pool address for the position")
	cmd.Flags().String("position-manager", "", "position manager program address")
	cmd.Flags().Int32("stable-decimals", 6, "stable token decimals")
	cmd.Flags().String("amount-usdc", "", "stable amount to bridge, human units")
	cmd.Flags().String("max-spend-usdc", "", "hard spend ceiling, human units")
	cmd.Flags().String("max-fee-gwei", "100", "hard per-gas fee cap in gwei")
	cmd.Flags().Int64("slippage-bps", 50, "max tolerated slippage in basis points")
	cmd.Flags().String("tick-range-pct", "5", "liquidity band around the current tick, percent")
	cmd.Flags().Int64("swap-portion-bps", 5000, "share of bridged stable swapped into the target")
	cmd.Flags().Int64("withdraw-bps", 0, "liquidity share to withdraw after opening (0 disables)")
	cmd.Flags().Bool("rebridge", false, "bridge leftover stable back to the source chain")
	cmd.Flags().Uint64("confirmations", 1, "confirmations to wait for")
	cmd.Flags().Int("max-attempts", 4, "max broadcast attempts per transaction")
	cmd.Flags().Duration("poll-interval", 10*time.Second, "settlement poll interval")
	cmd.Flags().Duration("poll-timeout", 5*time.Minute, "settlement poll timeout")
	cmd.Flags().Bool("dry-run", false, "compute and log every step without broadcasting")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
