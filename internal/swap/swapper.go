package swap

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"liquidityPilot/internal/chain"
	"liquidityPilot/internal/model"
	"liquidityPilot/internal/route"
	"liquidityPilot/internal/submit"
)

// RouteProvider is the swap-quoting surface the swapper consumes.
type RouteProvider interface {
	Quote(ctx context.Context, req route.QuoteRequest) (*model.Quote, error)
	BuildTransaction(ctx context.Context, quote *model.Quote, sender common.Address) (*model.TxPayload, error)
}

// TokenReader reads ERC-20 allowances.
type TokenReader interface {
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
}

// TxSubmitter lands one transaction and returns its confirmed receipt.
type TxSubmitter interface {
	Submit(ctx context.Context, req submit.Request) (*types.Receipt, error)
	From() common.Address
}

// Swapper executes a same-chain swap through the route provider. Unlike a
// bridge there is no settlement leg; the confirmed receipt is the result.
type Swapper struct {
	routes          RouteProvider
	tokens          TokenReader
	submitter       TxSubmitter
	chainID         uint64
	approveGasLimit uint64
	logger          *zap.Logger
}

// New wires a Swapper for one chain.
func New(routes RouteProvider, tokens TokenReader, submitter TxSubmitter, chainID uint64, logger *zap.Logger) *Swapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Swapper{
		routes:          routes,
		tokens:          tokens,
		submitter:       submitter,
		chainID:         chainID,
		approveGasLimit: 80_000,
		logger:          logger,
	}
}

// Request describes one swap.
type Request struct {
	TokenIn     common.Address
	TokenOut    common.Address
	Amount      *big.Int
	SlippageBps int64
}

// Result is the outcome of a confirmed swap.
type Result struct {
	Quote  *model.Quote
	TxHash common.Hash
}

// Preview fetches and logs a quote without broadcasting anything.
func (s *Swapper) Preview(ctx context.Context, req Request) (*model.Quote, error) {
	quote, err := s.routes.Quote(ctx, route.QuoteRequest{
		SourceChainID: s.chainID,
		DestChainID:   s.chainID,
		SourceAsset:   req.TokenIn,
		DestAsset:     req.TokenOut,
		Amount:        req.Amount,
		Sender:        s.submitter.From(),
		Recipient:     s.submitter.From(),
		SlippageBps:   req.SlippageBps,
	})
	if err != nil {
		return nil, fmt.Errorf("swap quote: %w", err)
	}
	s.logger.Info("swap quote",
		zap.String("kind", string(quote.Kind)),
		zap.String("in", quote.InAmount.String()),
		zap.String("out", quote.OutAmount.String()),
		zap.String("min_out", quote.MinOutAmount.String()),
		zap.Int64("price_impact_bps", quote.PriceImpactBps),
		zap.Int("hops", len(quote.Hops)),
	)
	return quote, nil
}

// Swap quotes, approves when needed, and lands the swap transaction.
func (s *Swapper) Swap(ctx context.Context, req Request) (*Result, error) {
	quote, err := s.Preview(ctx, req)
	if err != nil {
		return nil, err
	}

	owner := s.submitter.From()
	allowance, err := s.tokens.Allowance(ctx, req.TokenIn, owner, quote.Spender)
	if err != nil {
		return nil, fmt.Errorf("read allowance: %w", err)
	}
	if allowance.Cmp(quote.InAmount) < 0 {
		data, err := chain.ApproveCalldata(quote.Spender, quote.InAmount)
		if err != nil {
			return nil, err
		}
		receipt, err := s.submitter.Submit(ctx, submit.Request{
			To:       &req.TokenIn,
			Data:     data,
			GasLimit: s.approveGasLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("approve swap spend: %w", err)
		}
		s.logger.Info("swap spend approved", zap.String("tx", receipt.TxHash.Hex()))
	} else {
		s.logger.Info("allowance sufficient, skipping approve")
	}

	payload, err := s.routes.BuildTransaction(ctx, quote, owner)
	if err != nil {
		return nil, fmt.Errorf("build swap transaction: %w", err)
	}
	receipt, err := s.submitter.Submit(ctx, submit.Request{
		To:       &payload.To,
		Data:     payload.Data,
		Value:    payload.Value,
		GasLimit: payload.GasLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("submit swap transaction: %w", err)
	}

	s.logger.Info("swap confirmed", zap.String("tx", receipt.TxHash.Hex()))
	return &Result{Quote: quote, TxHash: receipt.TxHash}, nil
}
