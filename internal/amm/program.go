package amm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// ContractCaller is the read-only chain surface the program wrapper needs.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Program wraps the on-chain position-manager program: typed views plus
// calldata packing for its mutating entry points.
type Program struct {
	addr   common.Address
	caller ContractCaller
}

// NewProgram binds the program at addr to a chain reader.
func NewProgram(addr common.Address, caller ContractCaller) *Program {
	return &Program{addr: addr, caller: caller}
}

// Address returns the program address.
func (p *Program) Address() common.Address {
	return p.addr
}

// PoolState reads the pool's live sqrt price, current tick, and tick spacing.
func (p *Program) PoolState(ctx context.Context, pool common.Address) (sqrtPrice *big.Int, tick, tickSpacing int32, err error) {
	parsed, err := PositionManagerABI()
	if err != nil {
		return nil, 0, 0, err
	}
	data, err := parsed.Pack("poolState", pool)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("pack poolState: %w", err)
	}
	out, err := p.caller.CallContract(ctx, ethereum.CallMsg{To: &p.addr, Data: data}, nil)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("call poolState: %w", err)
	}
	values, err := parsed.Unpack("poolState", out)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("unpack poolState: %w", err)
	}
	if len(values) != 3 {
		return nil, 0, 0, fmt.Errorf("unpack poolState: unexpected output arity %d", len(values))
	}
	sqrtPrice, ok := values[0].(*big.Int)
	if !ok {
		return nil, 0, 0, fmt.Errorf("unpack poolState: unexpected sqrt price type %T", values[0])
	}
	tickBig, ok := values[1].(*big.Int)
	if !ok {
		return nil, 0, 0, fmt.Errorf("unpack poolState: unexpected tick type %T", values[1])
	}
	spacingBig, ok := values[2].(*big.Int)
	if !ok {
		return nil, 0, 0, fmt.Errorf("unpack poolState: unexpected tick spacing type %T", values[2])
	}
	return sqrtPrice, int32(tickBig.Int64()), int32(spacingBig.Int64()), nil
}

// IsTickArrayInitialized reports whether the tick array starting at
// startTick exists for the pool.
func (p *Program) IsTickArrayInitialized(ctx context.Context, pool common.Address, startTick int32) (bool, error) {
	return p.callBool(ctx, "isTickArrayInitialized", pool, big.NewInt(int64(startTick)))
}

// PositionExists reports whether a position is registered for the identity.
func (p *Program) PositionExists(ctx context.Context, identity common.Address) (bool, error) {
	return p.callBool(ctx, "positionExists", identity)
}

func (p *Program) callBool(ctx context.Context, method string, args ...any) (bool, error) {
	parsed, err := PositionManagerABI()
	if err != nil {
		return false, err
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return false, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := p.caller.CallContract(ctx, ethereum.CallMsg{To: &p.addr, Data: data}, nil)
	if err != nil {
		return false, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, out)
	if err != nil {
		return false, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return false, fmt.Errorf("unpack %s: unexpected output arity %d", method, len(values))
	}
	value, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("unpack %s: unexpected output type %T", method, values[0])
	}
	return value, nil
}

// CreatePositionIdentityCalldata packs createPositionIdentity(identity, holder).
func CreatePositionIdentityCalldata(identity, holder common.Address) ([]byte, error) {
	return packCall("createPositionIdentity", identity, holder)
}

// InitializeTickArrayCalldata packs initializeTickArray(pool, startTick).
func InitializeTickArrayCalldata(pool common.Address, startTick int32) ([]byte, error) {
	return packCall("initializeTickArray", pool, big.NewInt(int64(startTick)))
}

// OpenPositionCalldata packs openPosition for the planned range and bounds.
func OpenPositionCalldata(pool, identity common.Address, rng TickRange, liquidity, amountAMax, amountBMax *big.Int) ([]byte, error) {
	return packCall("openPosition",
		pool,
		identity,
		big.NewInt(int64(rng.Lower)),
		big.NewInt(int64(rng.Upper)),
		liquidity,
		amountAMax,
		amountBMax,
	)
}

// DecreaseLiquidityCalldata packs decreaseLiquidity(identity, liquidity, minA, minB).
func DecreaseLiquidityCalldata(identity common.Address, liquidity, amountAMin, amountBMin *big.Int) ([]byte, error) {
	return packCall("decreaseLiquidity", identity, liquidity, amountAMin, amountBMin)
}

// MulticallCalldata packs a batch of program calls into one transaction.
func MulticallCalldata(calls [][]byte) ([]byte, error) {
	return packCall("multicall", calls)
}

func packCall(method string, args ...any) ([]byte, error) {
	parsed, err := PositionManagerABI()
	if err != nil {
		return nil, err
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	return data, nil
}
