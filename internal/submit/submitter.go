package submit

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"liquidityPilot/internal/model"
	"liquidityPilot/internal/poll"
)

// Backend is the part of the chain client the submitter depends on.
type Backend interface {
	ChainID() *big.Int
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestFees(ctx context.Context) (feeCap, tipCap *big.Int, err error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Config bounds the escalation loop.
type Config struct {
	MaxAttempts   int           // attempts per logical submission, default 4
	HardFeeCap    *big.Int      // wei per gas; exceeding it is fatal, never raised
	Confirmations uint64        // blocks on top of inclusion, default 1
	Confirm       poll.Config   // receipt wait bounds
	BackoffMin    time.Duration // jittered sleep between retries
	BackoffMax    time.Duration
}

// Request is one logical transaction to land on chain.
type Request struct {
	To       *common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
}

// Submitter lands transactions with adaptive fee escalation. One submitter
// serves one sender on one chain; Submit serializes so at most one broadcast
// is in flight for that sender's sequence number.
type Submitter struct {
	backend Backend
	key     *ecdsa.PrivateKey
	from    common.Address
	cfg     Config
	logger  *zap.Logger

	mu sync.Mutex
}

// New builds a Submitter signing with key.
func New(backend Backend, key *ecdsa.PrivateKey, cfg Config, logger *zap.Logger) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.Confirmations == 0 {
		cfg.Confirmations = 1
	}
	if cfg.Confirm.Interval <= 0 {
		cfg.Confirm.Interval = 2 * time.Second
	}
	if cfg.Confirm.Timeout <= 0 {
		cfg.Confirm.Timeout = 3 * time.Minute
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = 3 * time.Second
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = cfg.BackoffMin + 2*time.Second
	}
	return &Submitter{
		backend: backend,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		cfg:     cfg,
		logger:  logger,
	}
}

// From returns the sender address.
func (s *Submitter) From() common.Address {
	return s.from
}

// Submit signs and broadcasts the request, escalating fees on underpriced or
// sequence-number conflicts up to MaxAttempts. The pending nonce is re-read
// on every attempt; fee parameters only ever go up. A fee cap violation and
// any non-conflict broadcast failure are fatal.
func (s *Submitter) Submit(ctx context.Context, req Request) (*types.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	feeCap, tipCap, err := s.backend.SuggestFees(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest fees: %w", err)
	}
	fees := FeeState{GasFeeCap: feeCap, GasTipCap: tipCap}

	chainID := s.backend.ChainID()
	signer := types.LatestSignerForChainID(chainID)

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if s.cfg.HardFeeCap != nil && fees.GasFeeCap.Cmp(s.cfg.HardFeeCap) > 0 {
			return nil, model.Fatalf("fee cap exceeded: need %s wei/gas, cap %s", fees.GasFeeCap, s.cfg.HardFeeCap)
		}

		nonce, err := s.backend.PendingNonceAt(ctx, s.from)
		if err != nil {
			return nil, fmt.Errorf("pending nonce: %w", err)
		}

		signed, err := types.SignNewTx(s.key, signer, &types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: fees.GasTipCap,
			GasFeeCap: fees.GasFeeCap,
			Gas:       req.GasLimit,
			To:        req.To,
			Value:     req.Value,
			Data:      req.Data,
		})
		if err != nil {
			return nil, model.Fatal(fmt.Errorf("sign transaction: %w", err))
		}

		s.logger.Info("broadcast",
			zap.Int("attempt", attempt),
			zap.Uint64("nonce", nonce),
			zap.String("fee_cap", fees.GasFeeCap.String()),
			zap.String("tip_cap", fees.GasTipCap.String()),
			zap.String("tx", signed.Hash().Hex()),
		)

		err = s.backend.SendTransaction(ctx, signed)
		if err == nil {
			return s.awaitReceipt(ctx, signed.Hash())
		}
		if !isFeeConflict(err) {
			return nil, model.Fatal(fmt.Errorf("broadcast: %w", err))
		}

		lastErr = err
		s.logger.Warn("broadcast conflict, escalating fees",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt < s.cfg.MaxAttempts {
			if err := s.backoff(ctx); err != nil {
				return nil, err
			}
			fees = fees.Bumped(attempt)
		}
	}

	return nil, fmt.Errorf("submit: %d attempts exhausted: %w", s.cfg.MaxAttempts, lastErr)
}

func (s *Submitter) awaitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	receipt, err := poll.Until(ctx, s.cfg.Confirm, s.logger, func(ctx context.Context) (*types.Receipt, bool, error) {
		receipt, err := s.backend.TransactionReceipt(ctx, txHash)
		if errors.Is(err, ethereum.NotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		return receipt, true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("await receipt %s: %w", txHash.Hex(), err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return nil, model.Fatalf("transaction reverted: %s", txHash.Hex())
	}

	if s.cfg.Confirmations > 1 {
		target := receipt.BlockNumber.Uint64() + s.cfg.Confirmations - 1
		_, err := poll.Until(ctx, s.cfg.Confirm, s.logger, func(ctx context.Context) (struct{}, bool, error) {
			head, err := s.backend.BlockNumber(ctx)
			if err != nil {
				return struct{}{}, false, err
			}
			return struct{}{}, head >= target, nil
		})
		if err != nil {
			return nil, fmt.Errorf("await confirmations for %s: %w", txHash.Hex(), err)
		}
	}

	s.logger.Info("confirmed",
		zap.String("tx", txHash.Hex()),
		zap.Uint64("block", receipt.BlockNumber.Uint64()),
		zap.Uint64("gas_used", receipt.GasUsed),
	)
	return receipt, nil
}

func (s *Submitter) backoff(ctx context.Context) error {
	window := s.cfg.BackoffMax - s.cfg.BackoffMin
	sleep := s.cfg.BackoffMin
	if window > 0 {
		sleep += time.Duration(rand.Int63n(int64(window)))
	}
	timer := time.NewTimer(sleep)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isFeeConflict reports whether the broadcast failure is a fee or sequence
// number conflict worth a bumped retry. Error bodies come over JSON-RPC as
// strings, so this is substring matching by necessity.
func isFeeConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"underpriced",
		"replacement transaction",
		"nonce too low",
		"already known",
		"could not replace",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
