package bridge

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"liquidityPilot/internal/model"
	"liquidityPilot/internal/poll"
	"liquidityPilot/internal/route"
	"liquidityPilot/internal/submit"
)

var (
	testToken     = common.HexToAddress("0x0000000000000000000000000000000000000001")
	testDestToken = common.HexToAddress("0x0000000000000000000000000000000000000002")
	testSpender   = common.HexToAddress("0x0000000000000000000000000000000000000009")
	testSender    = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

type fakeRoutes struct {
	quote       *model.Quote
	payload     *model.TxPayload
	states      []*route.SettlementState // consumed per Status call; last repeats
	statusCalls int
}

func (f *fakeRoutes) Quote(context.Context, route.QuoteRequest) (*model.Quote, error) {
	return f.quote, nil
}

func (f *fakeRoutes) BuildTransaction(context.Context, *model.Quote, common.Address) (*model.TxPayload, error) {
	return f.payload, nil
}

func (f *fakeRoutes) Status(context.Context, string) (*route.SettlementState, error) {
	f.statusCalls++
	idx := f.statusCalls - 1
	if idx >= len(f.states) {
		idx = len(f.states) - 1
	}
	return f.states[idx], nil
}

type fakeTokens struct {
	allowance *big.Int
}

func (f *fakeTokens) Allowance(context.Context, common.Address, common.Address, common.Address) (*big.Int, error) {
	return f.allowance, nil
}

type fakeSubmitter struct {
	requests []submit.Request
}

func (f *fakeSubmitter) Submit(_ context.Context, req submit.Request) (*types.Receipt, error) {
	f.requests = append(f.requests, req)
	return &types.Receipt{
		Status: types.ReceiptStatusSuccessful,
		TxHash: common.BigToHash(big.NewInt(int64(len(f.requests)))),
	}, nil
}

func (f *fakeSubmitter) From() common.Address { return testSender }

func testQuote() *model.Quote {
	return &model.Quote{
		ID:           "q-1",
		Kind:         model.QuoteDirect,
		InAmount:     big.NewInt(1_000_000),
		OutAmount:    big.NewInt(998_000),
		MinOutAmount: big.NewInt(993_000),
		Spender:      testSpender,
	}
}

func testPayload() *model.TxPayload {
	return &model.TxPayload{
		To:       testSpender,
		Data:     []byte{0xde, 0xad},
		Value:    big.NewInt(0),
		GasLimit: 250_000,
	}
}

func testRequest() Request {
	return Request{
		SourceChainID: 1,
		DestChainID:   42161,
		SourceAsset:   testToken,
		DestAsset:     testDestToken,
		Amount:        big.NewInt(1_000_000),
		Recipient:     testSender,
		SlippageBps:   50,
	}
}

func fastPoll() Config {
	return Config{SettlePoll: poll.Config{Interval: time.Millisecond, Timeout: 50 * time.Millisecond}}
}

func TestBridgeApprovesWhenAllowanceShort(t *testing.T) {
	routes := &fakeRoutes{
		quote:   testQuote(),
		payload: testPayload(),
		states:  []*route.SettlementState{{Status: "settled", DestTxRef: "0xdest"}},
	}
	sub := &fakeSubmitter{}
	o := New(routes, &fakeTokens{allowance: big.NewInt(0)}, sub, fastPoll(), nil)

	result, err := o.Bridge(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("bridge: %v", err)
	}
	if len(sub.requests) != 2 {
		t.Fatalf("expected approve plus bridge, got %d transactions", len(sub.requests))
	}
	if *sub.requests[0].To != testToken {
		t.Fatalf("approve must target the token, got %s", sub.requests[0].To.Hex())
	}
	if *sub.requests[1].To != testSpender {
		t.Fatalf("bridge tx must target the payload address, got %s", sub.requests[1].To.Hex())
	}
	if !result.Settled || result.DestTxRef != "0xdest" {
		t.Fatalf("result mismatch: %+v", result)
	}
}

func TestBridgeSkipsApproveWhenAllowanceSufficient(t *testing.T) {
	routes := &fakeRoutes{
		quote:   testQuote(),
		payload: testPayload(),
		states:  []*route.SettlementState{{Status: "settled", DestTxRef: "0xdest"}},
	}
	sub := &fakeSubmitter{}
	o := New(routes, &fakeTokens{allowance: big.NewInt(2_000_000)}, sub, fastPoll(), nil)

	if _, err := o.Bridge(context.Background(), testRequest()); err != nil {
		t.Fatalf("bridge: %v", err)
	}
	if len(sub.requests) != 1 {
		t.Fatalf("expected the bridge transaction only, got %d", len(sub.requests))
	}
}

func TestBridgeSettlementTimeoutIsAdvisory(t *testing.T) {
	routes := &fakeRoutes{
		quote:   testQuote(),
		payload: testPayload(),
		states:  []*route.SettlementState{{Status: "pending"}},
	}
	sub := &fakeSubmitter{}
	o := New(routes, &fakeTokens{allowance: big.NewInt(2_000_000)}, sub, fastPoll(), nil)

	result, err := o.Bridge(context.Background(), testRequest())
	if !model.IsSoft(err) {
		t.Fatalf("timeout must surface as a soft error, got %v", err)
	}
	if model.IsFatal(err) {
		t.Fatalf("timeout must not be fatal: %v", err)
	}
	if result == nil {
		t.Fatalf("result must accompany the soft error")
	}
	if result.Settled || result.DestTxRef != "" {
		t.Fatalf("unsettled result expected, got %+v", result)
	}
	if result.SourceTxHash == (common.Hash{}) {
		t.Fatalf("source tx hash must survive the timeout")
	}
}

func TestBridgeProviderFailureIsFatal(t *testing.T) {
	routes := &fakeRoutes{
		quote:   testQuote(),
		payload: testPayload(),
		states:  []*route.SettlementState{{Status: "failed"}},
	}
	sub := &fakeSubmitter{}
	o := New(routes, &fakeTokens{allowance: big.NewInt(2_000_000)}, sub, fastPoll(), nil)

	_, err := o.Bridge(context.Background(), testRequest())
	if !model.IsFatal(err) {
		t.Fatalf("expected fatal error for a failed transfer, got %v", err)
	}
}

func TestRepoll(t *testing.T) {
	routes := &fakeRoutes{
		states: []*route.SettlementState{
			{Status: "pending"},
			{Status: "pending"},
			{Status: "settled", DestTxRef: "0xdest"},
		},
	}
	o := New(routes, &fakeTokens{}, &fakeSubmitter{}, fastPoll(), nil)

	destRef, err := o.Repoll(context.Background(), "0xsource")
	if err != nil {
		t.Fatalf("repoll: %v", err)
	}
	if destRef != "0xdest" {
		t.Fatalf("dest ref = %q, want 0xdest", destRef)
	}
	if routes.statusCalls != 3 {
		t.Fatalf("expected 3 status polls, got %d", routes.statusCalls)
	}
}
