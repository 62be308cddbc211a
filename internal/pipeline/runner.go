package pipeline

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"liquidityPilot/internal/amm"
	"liquidityPilot/internal/bridge"
	"liquidityPilot/internal/ledger"
	"liquidityPilot/internal/model"
	"liquidityPilot/internal/swap"
)

// Bridger moves an asset across chains.
type Bridger interface {
	Bridge(ctx context.Context, req bridge.Request) (*bridge.Result, error)
	Preview(ctx context.Context, req bridge.Request) (*model.Quote, error)
}

// SwapExecutor swaps on one chain.
type SwapExecutor interface {
	Swap(ctx context.Context, req swap.Request) (*swap.Result, error)
	Preview(ctx context.Context, req swap.Request) (*model.Quote, error)
}

// PositionManager plans and executes concentrated-liquidity positions.
type PositionManager interface {
	Plan(ctx context.Context, req amm.PlanRequest) (*amm.Plan, error)
	Execute(ctx context.Context, plan *amm.Plan) (*amm.Position, error)
	Withdraw(ctx context.Context, pos *amm.Position, pctBps int64) (*types.Receipt, error)
	IdentityExists(ctx context.Context, identity common.Address) (bool, error)
}

// BalanceReader reads balances on one chain.
type BalanceReader interface {
	TokenBalance(ctx context.Context, token, account common.Address) (*big.Int, error)
}

// RunConfig holds one pipeline run's parameters, all in base units.
type RunConfig struct {
	JobID string
	// DryRun quotes and plans every stage without broadcasting. The job
	// ledger is read for resume context but never written, so a later real
	// run with the same id starts from whatever the real runs left behind.
	DryRun bool

	SourceChainID uint64
	DestChainID   uint64
	SourceStable  common.Address
	DestStable    common.Address
	TargetToken   common.Address
	Pool          common.Address
	Sender        common.Address

	AmountIn *big.Int // stable bridged from the source chain
	MaxSpend *big.Int // hard spend ceiling, checked before any stage

	SlippageBps    int64
	RangeBps       int64
	SwapPortionBps int64 // share of the bridged stable swapped into the target
	WithdrawBps    int64 // 0 disables the withdraw stage
	Rebridge       bool
}

// Runner sequences the pipeline: sanity checks, bridge, swap, liquidity,
// optional partial withdraw, optional reverse bridge. It is the only
// component that turns stage failures into job-ledger writes.
type Runner struct {
	cfg        RunConfig
	jobs       ledger.Ledger
	bridgeOut  Bridger
	bridgeBack Bridger
	swapper    SwapExecutor
	positions  PositionManager
	source     BalanceReader
	dest       BalanceReader
	logger     *zap.Logger
}

// NewRunner builds a Runner with its dependencies. bridgeBack may be nil
// when the rebridge stage is disabled.
func NewRunner(cfg RunConfig, jobs ledger.Ledger, bridgeOut, bridgeBack Bridger, swapper SwapExecutor, positions PositionManager, source, dest BalanceReader, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SwapPortionBps <= 0 || cfg.SwapPortionBps > 10000 {
		cfg.SwapPortionBps = 5000
	}
	return &Runner{
		cfg:        cfg,
		jobs:       jobs,
		bridgeOut:  bridgeOut,
		bridgeBack: bridgeBack,
		swapper:    swapper,
		positions:  positions,
		source:     source,
		dest:       dest,
		logger:     logger,
	}
}

type stage struct {
	name string
	fn   func(ctx context.Context, results map[string]any) (map[string]any, error)
}

// Run executes the pipeline for the configured job id. A job that already
// reached completed is a no-op; a partial job resumes after its last
// recorded stage.
func (r *Runner) Run(ctx context.Context) error {
	job, err := r.jobs.Get(ctx, r.cfg.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", r.cfg.JobID, err)
	}
	if job != nil && job.Status == model.JobCompleted {
		r.logger.Info("job already completed, nothing to do", zap.String("job", r.cfg.JobID))
		return nil
	}
	if job == nil {
		job = &model.Job{
			ID:     r.cfg.JobID,
			Status: model.JobPending,
			Metadata: map[string]any{
				"config": r.configSnapshot(),
			},
		}
		if !r.cfg.DryRun {
			if err := r.jobs.Create(ctx, job); err != nil {
				return fmt.Errorf("create job %s: %w", r.cfg.JobID, err)
			}
		}
	} else {
		r.logger.Info("resuming job",
			zap.String("job", job.ID),
			zap.String("last_step", job.Step),
		)
	}

	results := make(map[string]any)
	for name, value := range job.StageResults() {
		results[name] = value
	}

	for _, st := range r.stages() {
		if _, done := results[st.name]; done {
			r.logger.Info("stage already done, skipping", zap.String("stage", st.name))
			continue
		}

		if err := r.markStage(ctx, st.name); err != nil {
			return err
		}
		r.logger.Info("stage start", zap.String("stage", st.name), zap.Bool("dry_run", r.cfg.DryRun))

		result, err := st.fn(ctx, results)
		if err != nil {
			r.failJob(ctx, st.name, err)
			return fmt.Errorf("stage %s: %w", st.name, err)
		}
		results[st.name] = result

		if !r.cfg.DryRun {
			if err := r.jobs.Update(ctx, r.cfg.JobID, model.JobPatch{
				Meta: map[string]any{"stages": map[string]any{st.name: result}},
			}); err != nil {
				return fmt.Errorf("record stage %s: %w", st.name, err)
			}
		}
		r.logger.Info("stage done", zap.String("stage", st.name))
	}

	if r.cfg.DryRun {
		r.logger.Info("dry run finished, job ledger untouched", zap.String("job", r.cfg.JobID))
		return nil
	}

	completed := model.JobCompleted
	step := model.StepCompleted
	if err := r.jobs.Update(ctx, r.cfg.JobID, model.JobPatch{Status: &completed, Step: &step}); err != nil {
		return fmt.Errorf("complete job %s: %w", r.cfg.JobID, err)
	}
	r.logger.Info("pipeline completed", zap.String("job", r.cfg.JobID))
	return nil
}

func (r *Runner) stages() []stage {
	stages := []stage{
		{model.StepSanityChecks, r.runSanityChecks},
		{model.StepBridge, r.runBridge},
		{model.StepSwap, r.runSwap},
		{model.StepLiquidity, r.runLiquidity},
	}
	if r.cfg.WithdrawBps > 0 {
		stages = append(stages, stage{model.StepWithdraw, r.runWithdraw})
	}
	if r.cfg.Rebridge {
		stages = append(stages, stage{model.StepRebridge, r.runRebridge})
	}
	return stages
}

func (r *Runner) markStage(ctx context.Context, name string) error {
	if r.cfg.DryRun {
		return nil
	}
	inProgress := model.JobInProgress
	if err := r.jobs.Update(ctx, r.cfg.JobID, model.JobPatch{Status: &inProgress, Step: &name}); err != nil {
		return fmt.Errorf("mark stage %s: %w", name, err)
	}
	return nil
}

func (r *Runner) failJob(ctx context.Context, stageName string, stageErr error) {
	if r.cfg.DryRun {
		return
	}
	failed := model.JobFailed
	step := model.StepError
	err := r.jobs.Update(ctx, r.cfg.JobID, model.JobPatch{
		Status: &failed,
		Step:   &step,
		Meta: map[string]any{
			"error":        stageErr.Error(),
			"failed_stage": stageName,
		},
	})
	if err != nil {
		r.logger.Error("failed to record job failure", zap.Error(err))
	}
}

func (r *Runner) configSnapshot() map[string]any {
	return map[string]any{
		"source_chain":     r.cfg.SourceChainID,
		"dest_chain":       r.cfg.DestChainID,
		"source_stable":    r.cfg.SourceStable.Hex(),
		"dest_stable":      r.cfg.DestStable.Hex(),
		"target_token":     r.cfg.TargetToken.Hex(),
		"pool":             r.cfg.Pool.Hex(),
		"amount_in":        r.cfg.AmountIn.String(),
		"slippage_bps":     r.cfg.SlippageBps,
		"range_bps":        r.cfg.RangeBps,
		"swap_portion_bps": r.cfg.SwapPortionBps,
		"withdraw_bps":     r.cfg.WithdrawBps,
		"rebridge":         r.cfg.Rebridge,
		"dry_run":          r.cfg.DryRun,
	}
}
