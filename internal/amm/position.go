package amm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"liquidityPilot/internal/model"
	"liquidityPilot/internal/submit"
)

// TxSubmitter lands one transaction and returns its confirmed receipt.
type TxSubmitter interface {
	Submit(ctx context.Context, req submit.Request) (*types.Receipt, error)
	From() common.Address
}

// Builder plans and executes concentrated-liquidity position opens.
type Builder struct {
	program   *Program
	submitter TxSubmitter
	gasLimit  uint64
	logger    *zap.Logger
}

// NewBuilder wires a Builder to the program and a destination-chain submitter.
func NewBuilder(program *Program, submitter TxSubmitter, gasLimit uint64, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gasLimit == 0 {
		gasLimit = 1_500_000
	}
	return &Builder{program: program, submitter: submitter, gasLimit: gasLimit, logger: logger}
}

// IdentityExists reports whether an identity account is already registered
// on chain. Resume logic uses this to decide between reusing a paid-for
// identity and creating a fresh one.
func (b *Builder) IdentityExists(ctx context.Context, identity common.Address) (bool, error) {
	return b.program.PositionExists(ctx, identity)
}

// PlanRequest describes the position to open.
type PlanRequest struct {
	Pool     common.Address
	RangeBps int64
	DepositA *big.Int
	DepositB *big.Int

	// ReuseIdentity resumes a half-completed open: the identity account was
	// already created on chain, so phase one is skipped.
	ReuseIdentity *common.Address
}

// Plan is the fully derived two-transaction sequence for one position open.
// It performs no side effects until Execute.
type Plan struct {
	Pool  common.Address
	Range TickRange

	Liquidity *big.Int
	TokenMaxA *big.Int
	TokenMaxB *big.Int

	Identity     common.Address
	PositionAddr common.Address
	HolderAddr   common.Address

	LowerArrayStart int32
	UpperArrayStart int32
	LowerArray      common.Address
	UpperArray      common.Address
	InitLowerArray  bool
	InitUpperArray  bool

	identityKey *ecdsa.PrivateKey // nil in reuse mode
}

// ReusesIdentity reports whether the plan resumes an existing identity.
func (p *Plan) ReusesIdentity() bool {
	return p.identityKey == nil
}

// Position is one opened concentrated-liquidity deposit.
type Position struct {
	Identity     common.Address `json:"identity"`
	PositionAddr common.Address `json:"position"`
	HolderAddr   common.Address `json:"holder"`
	Range        TickRange      `json:"range"`
	Liquidity    *big.Int       `json:"liquidity"`
	CreateTxHash common.Hash    `json:"create_tx"`
	OpenTxHash   common.Hash    `json:"open_tx"`
}

// Plan reads live pool state, aligns the tick range, sizes the deposit with
// integer-only math, and derives every sub-account the open will touch.
func (b *Builder) Plan(ctx context.Context, req PlanRequest) (*Plan, error) {
	sqrtPrice, centerTick, tickSpacing, err := b.program.PoolState(ctx, req.Pool)
	if err != nil {
		return nil, fmt.Errorf("pool state: %w", err)
	}

	rng, err := AlignTickRange(centerTick, tickSpacing, req.RangeBps)
	if err != nil {
		return nil, model.Fatal(fmt.Errorf("align range around tick %d: %w", centerTick, err))
	}

	sqrtLower, err := SqrtRatioAtTick(rng.Lower)
	if err != nil {
		return nil, err
	}
	sqrtUpper, err := SqrtRatioAtTick(rng.Upper)
	if err != nil {
		return nil, err
	}

	liquidity := LiquidityForAmounts(sqrtPrice, sqrtLower, sqrtUpper, req.DepositA, req.DepositB)
	if liquidity.Sign() <= 0 {
		return nil, model.Fatalf("deposit too small for range [%d, %d]", rng.Lower, rng.Upper)
	}
	needA, needB := AmountsForLiquidity(sqrtPrice, sqrtLower, sqrtUpper, liquidity)
	// Never pull more than the caller deposited, whatever the rounding says.
	tokenMaxA := minBig(needA, req.DepositA)
	tokenMaxB := minBig(needB, req.DepositB)

	plan := &Plan{
		Pool:            req.Pool,
		Range:           rng,
		Liquidity:       liquidity,
		TokenMaxA:       tokenMaxA,
		TokenMaxB:       tokenMaxB,
		LowerArrayStart: TickArrayStartIndex(rng.Lower, tickSpacing),
		UpperArrayStart: TickArrayStartIndex(rng.Upper, tickSpacing),
	}
	plan.LowerArray = DeriveTickArray(b.program.Address(), req.Pool, plan.LowerArrayStart)
	plan.UpperArray = DeriveTickArray(b.program.Address(), req.Pool, plan.UpperArrayStart)

	lowerInit, err := b.program.IsTickArrayInitialized(ctx, req.Pool, plan.LowerArrayStart)
	if err != nil {
		return nil, fmt.Errorf("check lower tick array: %w", err)
	}
	plan.InitLowerArray = !lowerInit
	if plan.UpperArrayStart != plan.LowerArrayStart {
		upperInit, err := b.program.IsTickArrayInitialized(ctx, req.Pool, plan.UpperArrayStart)
		if err != nil {
			return nil, fmt.Errorf("check upper tick array: %w", err)
		}
		plan.InitUpperArray = !upperInit
	}

	if req.ReuseIdentity != nil {
		plan.Identity = *req.ReuseIdentity
	} else {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate identity key: %w", err)
		}
		plan.identityKey = key
		plan.Identity = crypto.PubkeyToAddress(key.PublicKey)
	}
	plan.PositionAddr = DerivePosition(b.program.Address(), plan.Identity)
	plan.HolderAddr = DeriveHolder(plan.Identity, b.submitter.From())

	b.logger.Info("position plan",
		zap.Int32("center_tick", centerTick),
		zap.Int32("lower", rng.Lower),
		zap.Int32("upper", rng.Upper),
		zap.String("liquidity", liquidity.String()),
		zap.String("token_max_a", tokenMaxA.String()),
		zap.String("token_max_b", tokenMaxB.String()),
		zap.String("identity", plan.Identity.Hex()),
		zap.Bool("reuse_identity", plan.ReusesIdentity()),
		zap.Bool("init_lower_array", plan.InitLowerArray),
		zap.Bool("init_upper_array", plan.InitUpperArray),
	)
	return plan, nil
}

// Execute runs the two-transaction open. The identity-creation transaction
// must confirm before the open transaction is even constructed; the position
// account is a hard dependency of the open. In reuse mode the identity is
// verified on chain instead.
func (b *Builder) Execute(ctx context.Context, plan *Plan) (*Position, error) {
	programAddr := b.program.Address()
	pos := &Position{
		Identity:     plan.Identity,
		PositionAddr: plan.PositionAddr,
		HolderAddr:   plan.HolderAddr,
		Range:        plan.Range,
		Liquidity:    plan.Liquidity,
	}

	if plan.ReusesIdentity() {
		exists, err := b.program.PositionExists(ctx, plan.Identity)
		if err != nil {
			return nil, fmt.Errorf("verify identity %s: %w", plan.Identity.Hex(), err)
		}
		if !exists {
			return nil, model.Fatalf("identity %s not found on chain, cannot reuse", plan.Identity.Hex())
		}
		b.logger.Info("reusing existing position identity", zap.String("identity", plan.Identity.Hex()))
	} else {
		data, err := CreatePositionIdentityCalldata(plan.Identity, plan.HolderAddr)
		if err != nil {
			return nil, err
		}
		receipt, err := b.submitter.Submit(ctx, submit.Request{
			To:       &programAddr,
			Data:     data,
			GasLimit: b.gasLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("create position identity: %w", err)
		}
		pos.CreateTxHash = receipt.TxHash
	}

	calls := make([][]byte, 0, 3)
	if plan.InitLowerArray {
		data, err := InitializeTickArrayCalldata(plan.Pool, plan.LowerArrayStart)
		if err != nil {
			return nil, err
		}
		calls = append(calls, data)
	}
	if plan.InitUpperArray && plan.UpperArrayStart != plan.LowerArrayStart {
		data, err := InitializeTickArrayCalldata(plan.Pool, plan.UpperArrayStart)
		if err != nil {
			return nil, err
		}
		calls = append(calls, data)
	}
	openData, err := OpenPositionCalldata(plan.Pool, plan.Identity, plan.Range, plan.Liquidity, plan.TokenMaxA, plan.TokenMaxB)
	if err != nil {
		return nil, err
	}
	calls = append(calls, openData)

	batch, err := MulticallCalldata(calls)
	if err != nil {
		return nil, err
	}
	receipt, err := b.submitter.Submit(ctx, submit.Request{
		To:       &programAddr,
		Data:     batch,
		GasLimit: b.gasLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("open position %s: %w", plan.Identity.Hex(), err)
	}
	pos.OpenTxHash = receipt.TxHash

	b.logger.Info("position opened",
		zap.String("identity", pos.Identity.Hex()),
		zap.String("position", pos.PositionAddr.Hex()),
		zap.String("open_tx", pos.OpenTxHash.Hex()),
	)
	return pos, nil
}

// Withdraw removes pctBps basis points of the position's liquidity, rounded
// down. A zero-liquidity withdrawal is rejected before touching the network.
func (b *Builder) Withdraw(ctx context.Context, pos *Position, pctBps int64) (*types.Receipt, error) {
	if pctBps <= 0 || pctBps > 10000 {
		return nil, model.Fatalf("withdraw fraction must be in (0, 10000] bps, got %d", pctBps)
	}
	part := new(big.Int).Mul(pos.Liquidity, big.NewInt(pctBps))
	part.Div(part, big.NewInt(10000))
	if part.Sign() <= 0 {
		return nil, model.Fatalf("withdraw of %d bps rounds to zero liquidity", pctBps)
	}

	data, err := DecreaseLiquidityCalldata(pos.Identity, part, big.NewInt(0), big.NewInt(0))
	if err != nil {
		return nil, err
	}
	programAddr := b.program.Address()
	receipt, err := b.submitter.Submit(ctx, submit.Request{
		To:       &programAddr,
		Data:     data,
		GasLimit: b.gasLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("decrease liquidity: %w", err)
	}

	b.logger.Info("liquidity withdrawn",
		zap.String("identity", pos.Identity.Hex()),
		zap.String("liquidity", part.String()),
		zap.Int64("bps", pctBps),
		zap.String("tx", receipt.TxHash.Hex()),
	)
	return receipt, nil
}
