package pipeline

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"liquidityPilot/internal/amm"
	"liquidityPilot/internal/bridge"
	"liquidityPilot/internal/model"
	"liquidityPilot/internal/swap"
)

func (r *Runner) runSanityChecks(ctx context.Context, _ map[string]any) (map[string]any, error) {
	if r.cfg.AmountIn == nil || r.cfg.AmountIn.Sign() <= 0 {
		return nil, model.Fatalf("bridge amount must be positive")
	}
	if r.cfg.MaxSpend != nil && r.cfg.AmountIn.Cmp(r.cfg.MaxSpend) > 0 {
		return nil, model.Fatalf("amount %s exceeds max spend %s", r.cfg.AmountIn, r.cfg.MaxSpend)
	}
	if r.cfg.RangeBps <= 0 {
		return nil, model.Fatalf("tick range must be positive")
	}

	balance, err := r.source.TokenBalance(ctx, r.cfg.SourceStable, r.cfg.Sender)
	if err != nil {
		return nil, fmt.Errorf("read source balance: %w", err)
	}
	if balance.Cmp(r.cfg.AmountIn) < 0 {
		return nil, model.Fatalf("insufficient balance: have %s, need %s", balance, r.cfg.AmountIn)
	}

	r.logger.Info("sanity checks passed",
		zap.String("amount", r.cfg.AmountIn.String()),
		zap.String("balance", balance.String()),
	)
	return map[string]any{
		"amount":  r.cfg.AmountIn.String(),
		"balance": balance.String(),
	}, nil
}

func (r *Runner) runBridge(ctx context.Context, _ map[string]any) (map[string]any, error) {
	req := bridge.Request{
		SourceChainID: r.cfg.SourceChainID,
		DestChainID:   r.cfg.DestChainID,
		SourceAsset:   r.cfg.SourceStable,
		DestAsset:     r.cfg.DestStable,
		Amount:        r.cfg.AmountIn,
		Recipient:     r.cfg.Sender,
		SlippageBps:   r.cfg.SlippageBps,
	}

	if r.cfg.DryRun {
		quote, err := r.bridgeOut.Preview(ctx, req)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"dry_run":    true,
			"in_amount":  quote.InAmount.String(),
			"out_amount": quote.OutAmount.String(),
		}, nil
	}

	res, err := r.bridgeOut.Bridge(ctx, req)
	if err != nil {
		if !model.IsSoft(err) || res == nil {
			return nil, err
		}
		// Funds are accounted for; only settlement tracking timed out. The
		// unsettled result goes on record and the repoll command picks it up.
		r.logger.Warn("continuing with unsettled transfer", zap.Error(err))
	}
	return map[string]any{
		"in_amount":  res.Quote.InAmount.String(),
		"out_amount": res.Quote.OutAmount.String(),
		"source_tx":  res.SourceTxHash.Hex(),
		"dest_tx":    res.DestTxRef,
		"settled":    res.Settled,
	}, nil
}

func (r *Runner) runSwap(ctx context.Context, results map[string]any) (map[string]any, error) {
	bridged, err := stageAmount(results, model.StepBridge, "out_amount")
	if err != nil {
		return nil, err
	}

	swapIn := new(big.Int).Mul(bridged, big.NewInt(r.cfg.SwapPortionBps))
	swapIn.Div(swapIn, big.NewInt(10000))
	if swapIn.Sign() <= 0 {
		return nil, model.Fatalf("swap portion of %s rounds to zero", bridged)
	}

	req := swap.Request{
		TokenIn:     r.cfg.DestStable,
		TokenOut:    r.cfg.TargetToken,
		Amount:      swapIn,
		SlippageBps: r.cfg.SlippageBps,
	}

	if r.cfg.DryRun {
		quote, err := r.swapper.Preview(ctx, req)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"dry_run":    true,
			"in_amount":  quote.InAmount.String(),
			"out_amount": quote.OutAmount.String(),
		}, nil
	}

	res, err := r.swapper.Swap(ctx, req)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"in_amount":  res.Quote.InAmount.String(),
		"out_amount": res.Quote.OutAmount.String(),
		"min_out":    res.Quote.MinOutAmount.String(),
		"tx":         res.TxHash.Hex(),
	}, nil
}

func (r *Runner) runLiquidity(ctx context.Context, results map[string]any) (map[string]any, error) {
	bridged, err := stageAmount(results, model.StepBridge, "out_amount")
	if err != nil {
		return nil, err
	}
	swapIn, err := stageAmount(results, model.StepSwap, "in_amount")
	if err != nil {
		return nil, err
	}
	swapOut, err := stageAmount(results, model.StepSwap, "out_amount")
	if err != nil {
		return nil, err
	}

	depositA := new(big.Int).Sub(bridged, swapIn) // remaining stable
	depositB := swapOut                           // target token

	req := amm.PlanRequest{
		Pool:     r.cfg.Pool,
		RangeBps: r.cfg.RangeBps,
		DepositA: depositA,
		DepositB: depositB,
	}

	// A prior run may have paid for the identity account and died before the
	// open confirmed; reuse it instead of abandoning it.
	if identityHex := r.pendingIdentity(ctx); identityHex != "" {
		identity := common.HexToAddress(identityHex)
		exists, err := r.positions.IdentityExists(ctx, identity)
		if err != nil {
			return nil, fmt.Errorf("check pending identity: %w", err)
		}
		if exists {
			r.logger.Info("reusing identity from interrupted run", zap.String("identity", identity.Hex()))
			req.ReuseIdentity = &identity
		}
	}

	plan, err := r.positions.Plan(ctx, req)
	if err != nil {
		return nil, err
	}

	if r.cfg.DryRun {
		return map[string]any{
			"dry_run":     true,
			"tick_lower":  plan.Range.Lower,
			"tick_upper":  plan.Range.Upper,
			"liquidity":   plan.Liquidity.String(),
			"token_max_a": plan.TokenMaxA.String(),
			"token_max_b": plan.TokenMaxB.String(),
		}, nil
	}

	// Persist the identity before any broadcast so a crash between the two
	// transactions leaves a resumable trail.
	if err := r.jobs.Update(ctx, r.cfg.JobID, model.JobPatch{
		Meta: map[string]any{"position_identity": plan.Identity.Hex()},
	}); err != nil {
		return nil, fmt.Errorf("record position identity: %w", err)
	}

	pos, err := r.positions.Execute(ctx, plan)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"identity":    pos.Identity.Hex(),
		"position":    pos.PositionAddr.Hex(),
		"holder":      pos.HolderAddr.Hex(),
		"tick_lower":  pos.Range.Lower,
		"tick_upper":  pos.Range.Upper,
		"liquidity":   pos.Liquidity.String(),
		"create_tx":   pos.CreateTxHash.Hex(),
		"open_tx":     pos.OpenTxHash.Hex(),
		"token_max_a": plan.TokenMaxA.String(),
		"token_max_b": plan.TokenMaxB.String(),
	}, nil
}

func (r *Runner) runWithdraw(ctx context.Context, results map[string]any) (map[string]any, error) {
	if r.cfg.DryRun {
		return map[string]any{"dry_run": true, "withdraw_bps": r.cfg.WithdrawBps}, nil
	}

	pos, err := positionFromResults(results)
	if err != nil {
		return nil, err
	}
	receipt, err := r.positions.Withdraw(ctx, pos, r.cfg.WithdrawBps)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"withdraw_bps": r.cfg.WithdrawBps,
		"tx":           receipt.TxHash.Hex(),
	}, nil
}

func (r *Runner) runRebridge(ctx context.Context, _ map[string]any) (map[string]any, error) {
	balance, err := r.dest.TokenBalance(ctx, r.cfg.DestStable, r.cfg.Sender)
	if err != nil {
		return nil, fmt.Errorf("read destination balance: %w", err)
	}
	if balance.Sign() <= 0 {
		r.logger.Info("no stable left on destination chain, skipping rebridge")
		return map[string]any{"skipped": true}, nil
	}

	req := bridge.Request{
		SourceChainID: r.cfg.DestChainID,
		DestChainID:   r.cfg.SourceChainID,
		SourceAsset:   r.cfg.DestStable,
		DestAsset:     r.cfg.SourceStable,
		Amount:        balance,
		Recipient:     r.cfg.Sender,
		SlippageBps:   r.cfg.SlippageBps,
	}

	if r.cfg.DryRun {
		quote, err := r.bridgeBack.Preview(ctx, req)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"dry_run":    true,
			"in_amount":  quote.InAmount.String(),
			"out_amount": quote.OutAmount.String(),
		}, nil
	}

	res, err := r.bridgeBack.Bridge(ctx, req)
	if err != nil {
		if !model.IsSoft(err) || res == nil {
			return nil, err
		}
		r.logger.Warn("continuing with unsettled rebridge transfer", zap.Error(err))
	}
	return map[string]any{
		"in_amount":  res.Quote.InAmount.String(),
		"out_amount": res.Quote.OutAmount.String(),
		"source_tx":  res.SourceTxHash.Hex(),
		"dest_tx":    res.DestTxRef,
		"settled":    res.Settled,
	}, nil
}

// pendingIdentity returns the identity recorded by an interrupted liquidity
// stage, if any.
func (r *Runner) pendingIdentity(ctx context.Context) string {
	job, err := r.jobs.Get(ctx, r.cfg.JobID)
	if err != nil || job == nil || job.Metadata == nil {
		return ""
	}
	identity, _ := job.Metadata["position_identity"].(string)
	return identity
}

func stageAmount(results map[string]any, stageName, key string) (*big.Int, error) {
	stageResult, ok := results[stageName].(map[string]any)
	if !ok {
		return nil, model.Fatalf("missing %s stage result", stageName)
	}
	raw, ok := stageResult[key].(string)
	if !ok {
		return nil, model.Fatalf("missing %s in %s stage result", key, stageName)
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() < 0 {
		return nil, model.Fatalf("bad %s in %s stage result: %q", key, stageName, raw)
	}
	return value, nil
}

func positionFromResults(results map[string]any) (*amm.Position, error) {
	stageResult, ok := results[model.StepLiquidity].(map[string]any)
	if !ok {
		return nil, model.Fatalf("missing liquidity stage result")
	}
	identity, _ := stageResult["identity"].(string)
	if identity == "" {
		return nil, model.Fatalf("liquidity stage result carries no identity")
	}
	liquidity, err := stageAmount(results, model.StepLiquidity, "liquidity")
	if err != nil {
		return nil, err
	}
	pos := &amm.Position{
		Identity:  common.HexToAddress(identity),
		Liquidity: liquidity,
		Range: amm.TickRange{
			Lower: metaInt32(stageResult["tick_lower"]),
			Upper: metaInt32(stageResult["tick_upper"]),
		},
	}
	return pos, nil
}

// metaInt32 reads a tick from stage metadata, which is an int32 in-process
// but a float64 after a JSON round trip.
func metaInt32(value any) int32 {
	switch typed := value.(type) {
	case int32:
		return typed
	case int:
		return int32(typed)
	case int64:
		return int32(typed)
	case float64:
		return int32(typed)
	default:
		return 0
	}
}
