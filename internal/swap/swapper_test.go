package swap

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"liquidityPilot/internal/model"
	"liquidityPilot/internal/route"
	"liquidityPilot/internal/submit"
)

var (
	testTokenIn  = common.HexToAddress("0x0000000000000000000000000000000000000002")
	testTokenOut = common.HexToAddress("0x0000000000000000000000000000000000000003")
	testSpender  = common.HexToAddress("0x0000000000000000000000000000000000000009")
	testSender   = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

type fakeRoutes struct {
	quote   *model.Quote
	payload *model.TxPayload
	lastReq route.QuoteRequest
}

func (f *fakeRoutes) Quote(_ context.Context, req route.QuoteRequest) (*model.Quote, error) {
	f.lastReq = req
	return f.quote, nil
}

func (f *fakeRoutes) BuildTransaction(context.Context, *model.Quote, common.Address) (*model.TxPayload, error) {
	return f.payload, nil
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
		InAmount:     big.NewInt(500_000),
		OutAmount:    big.NewInt(120_000),
		MinOutAmount: big.NewInt(119_400),
		Spender:      testSpender,
	}
}

func testPayload() *model.TxPayload {
	return &model.TxPayload{
		To:       testSpender,
		Data:     []byte{0xbe, 0xef},
		Value:    big.NewInt(0),
		GasLimit: 300_000,
	}
}

func TestSwapApprovesWhenAllowanceShort(t *testing.T) {
	routes := &fakeRoutes{quote: testQuote(), payload: testPayload()}
	sub := &fakeSubmitter{}
	s := New(routes, &fakeTokens{allowance: big.NewInt(0)}, sub, 42161, nil)

	result, err := s.Swap(context.Background(), Request{
		TokenIn:     testTokenIn,
		TokenOut:    testTokenOut,
		Amount:      big.NewInt(500_000),
		SlippageBps: 50,
	})
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if len(sub.requests) != 2 {
		t.Fatalf("expected approve plus swap, got %d transactions", len(sub.requests))
	}
	if *sub.requests[0].To != testTokenIn {
		t.Fatalf("approve must target the input token, got %s", sub.requests[0].To.Hex())
	}
	if result.TxHash == (common.Hash{}) {
		t.Fatalf("swap tx hash missing")
	}

	// Same-chain quote: both sides of the request carry the swapper's chain.
	if routes.lastReq.SourceChainID != 42161 || routes.lastReq.DestChainID != 42161 {
		t.Fatalf("quote request chains = %d/%d, want 42161/42161",
			routes.lastReq.SourceChainID, routes.lastReq.DestChainID)
	}
}

func TestSwapSkipsApproveWhenAllowanceSufficient(t *testing.T) {
	routes := &fakeRoutes{quote: testQuote(), payload: testPayload()}
	sub := &fakeSubmitter{}
	s := New(routes, &fakeTokens{allowance: big.NewInt(1_000_000)}, sub, 42161, nil)

	if _, err := s.Swap(context.Background(), Request{
		TokenIn:     testTokenIn,
		TokenOut:    testTokenOut,
		Amount:      big.NewInt(500_000),
		SlippageBps: 50,
	}); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if len(sub.requests) != 1 {
		t.Fatalf("expected the swap transaction only, got %d", len(sub.requests))
	}
}

func TestPreviewDoesNotBroadcast(t *testing.T) {
	routes := &fakeRoutes{quote: testQuote()}
	sub := &fakeSubmitter{}
	s := New(routes, &fakeTokens{allowance: big.NewInt(0)}, sub, 42161, nil)

	quote, err := s.Preview(context.Background(), Request{
		TokenIn:  testTokenIn,
		TokenOut: testTokenOut,
		Amount:   big.NewInt(500_000),
	})
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if quote.ID != "q-1" {
		t.Fatalf("quote mismatch: %+v", quote)
	}
	if len(sub.requests) != 0 {
		t.Fatalf("preview must not broadcast, got %d transactions", len(sub.requests))
	}
}
