package submit

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"liquidityPilot/internal/model"
	"liquidityPilot/internal/poll"
)

// fakeBackend scripts broadcast outcomes and serves receipts for whatever
// was accepted.
type fakeBackend struct {
	nonce        uint64
	nonceStep    uint64 // pending-nonce advance per read, simulating traffic
	sendErrs     []error // consumed one per SendTransaction call
	sent         []*types.Transaction
	receipts     map[common.Hash]*types.Receipt
	receiptDelay int // NotFound responses before a receipt appears
	failReceipts bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{receipts: map[common.Hash]*types.Receipt{}}
}

func (b *fakeBackend) ChainID() *big.Int { return big.NewInt(1337) }

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	nonce := b.nonce
	b.nonce += b.nonceStep
	return nonce, nil
}

func (b *fakeBackend) SuggestFees(context.Context) (*big.Int, *big.Int, error) {
	return big.NewInt(2_000_000_000), big.NewInt(1_000_000_000), nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.sent = append(b.sent, tx)
	if len(b.sendErrs) > 0 {
		err := b.sendErrs[0]
		b.sendErrs = b.sendErrs[1:]
		if err != nil {
			return err
		}
	}
	status := types.ReceiptStatusSuccessful
	if b.failReceipts {
		status = types.ReceiptStatusFailed
	}
	b.receipts[tx.Hash()] = &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		BlockNumber: big.NewInt(100),
	}
	return nil
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	if b.receiptDelay > 0 {
		b.receiptDelay--
		return nil, ethereum.NotFound
	}
	receipt, ok := b.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (b *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	return 200, nil
}

func newTestSubmitter(t *testing.T, backend Backend, cfg Config) *Submitter {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if cfg.BackoffMin == 0 {
		cfg.BackoffMin = time.Millisecond
		cfg.BackoffMax = 2 * time.Millisecond
	}
	if cfg.Confirm.Interval == 0 {
		cfg.Confirm = poll.Config{Interval: time.Millisecond, Timeout: time.Second}
	}
	return New(backend, key, cfg, nil)
}

func testRequest() Request {
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	return Request{To: &to, Data: []byte{0x01}, GasLimit: 21000}
}

func TestSubmitFirstAttempt(t *testing.T) {
	backend := newFakeBackend()
	backend.nonce = 7
	backend.receiptDelay = 2
	s := newTestSubmitter(t, backend, Config{})

	receipt, err := s.Submit(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		t.Fatalf("unexpected receipt status %d", receipt.Status)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("expected a single broadcast, got %d", len(backend.sent))
	}
	if backend.sent[0].Nonce() != 7 {
		t.Fatalf("nonce = %d, want 7", backend.sent[0].Nonce())
	}
}

func TestNewDefaultsReceiptWaitBounds(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	s := New(newFakeBackend(), key, Config{}, nil)

	// An unset receipt wait must not poll forever.
	if s.cfg.Confirm.Timeout <= 0 {
		t.Fatalf("receipt wait timeout not defaulted: %v", s.cfg.Confirm.Timeout)
	}
	if s.cfg.Confirm.Interval <= 0 {
		t.Fatalf("receipt wait interval not defaulted: %v", s.cfg.Confirm.Interval)
	}
	if s.cfg.MaxAttempts != 4 || s.cfg.Confirmations != 1 {
		t.Fatalf("attempt defaults wrong: %+v", s.cfg)
	}
	if s.cfg.BackoffMax < s.cfg.BackoffMin || s.cfg.BackoffMin <= 0 {
		t.Fatalf("backoff defaults wrong: %+v", s.cfg)
	}
}

func TestSubmitEscalatesOnConflict(t *testing.T) {
	backend := newFakeBackend()
	backend.sendErrs = []error{
		errors.New("replacement transaction underpriced"),
		errors.New("nonce too low"),
	}
	s := newTestSubmitter(t, backend, Config{})

	if _, err := s.Submit(context.Background(), testRequest()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(backend.sent) != 3 {
		t.Fatalf("expected 3 broadcasts, got %d", len(backend.sent))
	}
	for i := 1; i < len(backend.sent); i++ {
		prev, cur := backend.sent[i-1], backend.sent[i]
		if cur.GasFeeCap().Cmp(prev.GasFeeCap()) <= 0 {
			t.Fatalf("fee cap did not escalate on attempt %d: %s <= %s", i+1, cur.GasFeeCap(), prev.GasFeeCap())
		}
		if cur.GasTipCap().Cmp(prev.GasTipCap()) < 0 {
			t.Fatalf("tip cap decreased on attempt %d", i+1)
		}
	}
	// 2 gwei bumped by 25% then 30%.
	if got := backend.sent[2].GasFeeCap(); got.Cmp(big.NewInt(3_250_000_000)) != 0 {
		t.Fatalf("final fee cap = %s, want 3250000000", got)
	}
}

func TestSubmitRefreshesNonce(t *testing.T) {
	backend := newFakeBackend()
	backend.nonce = 3
	// A competing transaction of ours confirms between the first broadcast
	// and the bumped retry.
	backend.nonceStep = 1
	backend.sendErrs = []error{errors.New("already known")}
	s := newTestSubmitter(t, backend, Config{})

	if _, err := s.Submit(context.Background(), testRequest()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(backend.sent) != 2 {
		t.Fatalf("expected 2 broadcasts, got %d", len(backend.sent))
	}
	if backend.sent[0].Nonce() != 3 || backend.sent[1].Nonce() != 4 {
		t.Fatalf("nonces = %d, %d, want 3 then 4", backend.sent[0].Nonce(), backend.sent[1].Nonce())
	}
}

func TestSubmitHardFeeCapFatal(t *testing.T) {
	backend := newFakeBackend()
	backend.sendErrs = []error{
		errors.New("transaction underpriced"),
		errors.New("transaction underpriced"),
		errors.New("transaction underpriced"),
		errors.New("transaction underpriced"),
	}
	s := newTestSubmitter(t, backend, Config{HardFeeCap: big.NewInt(2_000_000_000)})

	_, err := s.Submit(context.Background(), testRequest())
	if !model.IsFatal(err) {
		t.Fatalf("expected fatal fee cap error, got %v", err)
	}
	// The suggested fee fits the cap; only the first bump exceeds it.
	if len(backend.sent) != 1 {
		t.Fatalf("expected 1 broadcast before hitting the cap, got %d", len(backend.sent))
	}
}

func TestSubmitNonConflictErrorFatal(t *testing.T) {
	backend := newFakeBackend()
	backend.sendErrs = []error{errors.New("insufficient funds for gas * price + value")}
	s := newTestSubmitter(t, backend, Config{})

	_, err := s.Submit(context.Background(), testRequest())
	if !model.IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("non-retryable failures must not be retried, got %d broadcasts", len(backend.sent))
	}
}

func TestSubmitAttemptsExhausted(t *testing.T) {
	backend := newFakeBackend()
	backend.sendErrs = []error{
		errors.New("already known"),
		errors.New("already known"),
	}
	s := newTestSubmitter(t, backend, Config{MaxAttempts: 2})

	_, err := s.Submit(context.Background(), testRequest())
	if err == nil {
		t.Fatalf("expected error after exhausting attempts")
	}
	if model.IsFatal(err) {
		t.Fatalf("exhaustion is retryable by the operator, not fatal: %v", err)
	}
	if len(backend.sent) != 2 {
		t.Fatalf("expected 2 broadcasts, got %d", len(backend.sent))
	}
}

func TestSubmitRevertedReceiptFatal(t *testing.T) {
	backend := newFakeBackend()
	backend.failReceipts = true
	s := newTestSubmitter(t, backend, Config{})

	_, err := s.Submit(context.Background(), testRequest())
	if !model.IsFatal(err) {
		t.Fatalf("expected fatal error for reverted transaction, got %v", err)
	}
}

func TestIsFeeConflict(t *testing.T) {
	if !isFeeConflict(errors.New("replacement transaction underpriced")) {
		t.Fatalf("underpriced must be a conflict")
	}
	if !isFeeConflict(errors.New("Nonce too low")) {
		t.Fatalf("nonce conflicts must be retryable")
	}
	if isFeeConflict(errors.New("execution reverted")) {
		t.Fatalf("reverts are not fee conflicts")
	}
	if isFeeConflict(nil) {
		t.Fatalf("nil is not a conflict")
	}
}

func TestFeeStateBumped(t *testing.T) {
	fees := FeeState{GasFeeCap: big.NewInt(1000), GasTipCap: big.NewInt(100)}

	first := fees.Bumped(1)
	if first.GasFeeCap.Int64() != 1250 || first.GasTipCap.Int64() != 125 {
		t.Fatalf("first bump = %s/%s, want 1250/125", first.GasFeeCap, first.GasTipCap)
	}
	second := first.Bumped(2)
	if second.GasFeeCap.Int64() != 1625 || second.GasTipCap.Int64() != 162 {
		t.Fatalf("second bump = %s/%s, want 1625/162", second.GasFeeCap, second.GasTipCap)
	}

	// Tiny values must still make progress.
	tiny := FeeState{GasFeeCap: big.NewInt(1), GasTipCap: big.NewInt(0)}.Bumped(1)
	if tiny.GasFeeCap.Int64() != 2 {
		t.Fatalf("tiny fee cap did not progress: %s", tiny.GasFeeCap)
	}
	if tiny.GasTipCap.Cmp(tiny.GasFeeCap) > 0 {
		t.Fatalf("tip cap exceeds fee cap")
	}
}
