package bridge

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"liquidityPilot/internal/chain"
	"liquidityPilot/internal/model"
	"liquidityPilot/internal/poll"
	"liquidityPilot/internal/route"
	"liquidityPilot/internal/submit"
)

// RouteProvider is the quote-service surface the orchestrator consumes.
type RouteProvider interface {
	Quote(ctx context.Context, req route.QuoteRequest) (*model.Quote, error)
	BuildTransaction(ctx context.Context, quote *model.Quote, sender common.Address) (*model.TxPayload, error)
	Status(ctx context.Context, sourceTxRef string) (*route.SettlementState, error)
}

// TokenReader reads ERC-20 allowances on the source chain.
type TokenReader interface {
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
}

// TxSubmitter lands one transaction and returns its confirmed receipt.
type TxSubmitter interface {
	Submit(ctx context.Context, req submit.Request) (*types.Receipt, error)
	From() common.Address
}

// Config bounds the cross-chain settlement poll.
type Config struct {
	SettlePoll      poll.Config
	ApproveGasLimit uint64
}

// Orchestrator moves an asset across chains: quote, approve, submit, then
// watch the bridge for the matching destination transaction.
type Orchestrator struct {
	routes    RouteProvider
	source    TokenReader
	submitter TxSubmitter
	cfg       Config
	logger    *zap.Logger
}

// New wires an Orchestrator. source reads allowances on the sending chain;
// submitter signs and lands transactions there.
func New(routes RouteProvider, source TokenReader, submitter TxSubmitter, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SettlePoll.Interval <= 0 {
		cfg.SettlePoll.Interval = 10 * time.Second
	}
	if cfg.SettlePoll.Timeout <= 0 {
		cfg.SettlePoll.Timeout = 5 * time.Minute
	}
	if cfg.ApproveGasLimit == 0 {
		cfg.ApproveGasLimit = 80_000
	}
	return &Orchestrator{
		routes:    routes,
		source:    source,
		submitter: submitter,
		cfg:       cfg,
		logger:    logger,
	}
}

// Request describes one bridge transfer.
type Request struct {
	SourceChainID uint64
	DestChainID   uint64
	SourceAsset   common.Address
	DestAsset     common.Address
	Amount        *big.Int
	Recipient     common.Address
	SlippageBps   int64
}

// Result is the outcome of a bridge transfer. Settled is false when the
// source leg confirmed but the destination reference was not observed in
// time; the transfer is then un-tracked, not lost, and may be re-polled with
// the source transaction hash as correlation key. Bridge reports that case
// with a model.SoftError alongside the result.
type Result struct {
	Quote        *model.Quote
	SourceTxHash common.Hash
	DestTxRef    string
	Settled      bool
}

// Preview fetches and logs a quote without touching the network beyond the
// quote provider. Used by dry runs.
func (o *Orchestrator) Preview(ctx context.Context, req Request) (*model.Quote, error) {
	quote, err := o.routes.Quote(ctx, route.QuoteRequest{
		SourceChainID: req.SourceChainID,
		DestChainID:   req.DestChainID,
		SourceAsset:   req.SourceAsset,
		DestAsset:     req.DestAsset,
		Amount:        req.Amount,
		Sender:        o.submitter.From(),
		Recipient:     req.Recipient,
		SlippageBps:   req.SlippageBps,
	})
	if err != nil {
		return nil, fmt.Errorf("bridge quote: %w", err)
	}
	o.logger.Info("bridge quote",
		zap.String("kind", string(quote.Kind)),
		zap.String("in", quote.InAmount.String()),
		zap.String("out", quote.OutAmount.String()),
		zap.Int64("price_impact_bps", quote.PriceImpactBps),
		zap.Int("hops", len(quote.Hops)),
	)
	return quote, nil
}

// Bridge executes the transfer end to end.
func (o *Orchestrator) Bridge(ctx context.Context, req Request) (*Result, error) {
	quote, err := o.Preview(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := o.ensureAllowance(ctx, req.SourceAsset, quote.Spender, quote.InAmount); err != nil {
		return nil, err
	}

	payload, err := o.routes.BuildTransaction(ctx, quote, o.submitter.From())
	if err != nil {
		return nil, fmt.Errorf("build bridge transaction: %w", err)
	}

	receipt, err := o.submitter.Submit(ctx, submit.Request{
		To:       &payload.To,
		Data:     payload.Data,
		Value:    payload.Value,
		GasLimit: payload.GasLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("submit bridge transaction: %w", err)
	}

	result := &Result{Quote: quote, SourceTxHash: receipt.TxHash}
	o.logger.Info("bridge source leg confirmed", zap.String("tx", receipt.TxHash.Hex()))

	destRef, err := o.awaitSettlement(ctx, receipt.TxHash.Hex())
	if err != nil {
		if errors.Is(err, poll.ErrTimeout) {
			// The source leg is durably confirmed; only tracking is lost.
			o.logger.Warn("destination confirmation not observed before timeout",
				zap.String("source_tx", receipt.TxHash.Hex()),
			)
			return result, model.Softf("transfer %s unsettled after %s, re-poll with the source tx hash",
				receipt.TxHash.Hex(), o.cfg.SettlePoll.Timeout)
		}
		return nil, err
	}

	result.DestTxRef = destRef
	result.Settled = true
	o.logger.Info("bridge settled",
		zap.String("source_tx", receipt.TxHash.Hex()),
		zap.String("dest_tx", destRef),
	)
	return result, nil
}

// Repoll resumes settlement detection for an earlier transfer, using the
// confirmed source transaction reference as correlation key.
func (o *Orchestrator) Repoll(ctx context.Context, sourceTxRef string) (string, error) {
	return o.awaitSettlement(ctx, sourceTxRef)
}

func (o *Orchestrator) ensureAllowance(ctx context.Context, token, spender common.Address, required *big.Int) error {
	owner := o.submitter.From()
	current, err := o.source.Allowance(ctx, token, owner, spender)
	if err != nil {
		return fmt.Errorf("read allowance: %w", err)
	}
	if current.Cmp(required) >= 0 {
		o.logger.Info("allowance sufficient, skipping approve",
			zap.String("current", current.String()),
			zap.String("required", required.String()),
		)
		return nil
	}

	data, err := chain.ApproveCalldata(spender, required)
	if err != nil {
		return err
	}
	receipt, err := o.submitter.Submit(ctx, submit.Request{
		To:       &token,
		Data:     data,
		GasLimit: o.cfg.ApproveGasLimit,
	})
	if err != nil {
		return fmt.Errorf("approve %s for %s: %w", required, spender.Hex(), err)
	}
	o.logger.Info("spend approved",
		zap.String("spender", spender.Hex()),
		zap.String("amount", required.String()),
		zap.String("tx", receipt.TxHash.Hex()),
	)
	return nil
}

func (o *Orchestrator) awaitSettlement(ctx context.Context, sourceTxRef string) (string, error) {
	return poll.Until(ctx, o.cfg.SettlePoll, o.logger, func(ctx context.Context) (string, bool, error) {
		state, err := o.routes.Status(ctx, sourceTxRef)
		if err != nil {
			return "", false, err
		}
		if state.Failed() {
			return "", false, model.Fatalf("bridge reports transfer %s failed", sourceTxRef)
		}
		if state.Settled() && state.DestTxRef != "" {
			return state.DestTxRef, true, nil
		}
		return "", false, nil
	})
}
