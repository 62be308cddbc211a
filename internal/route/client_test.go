package route

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"liquidityPilot/internal/model"
)

func quoteReq() QuoteRequest {
	return QuoteRequest{
		SourceChainID: 1,
		DestChainID:   42161,
		SourceAsset:   common.HexToAddress("0x0000000000000000000000000000000000000001"),
		DestAsset:     common.HexToAddress("0x0000000000000000000000000000000000000002"),
		Amount:        big.NewInt(1_000_000),
		Sender:        common.HexToAddress("0x0000000000000000000000000000000000000003"),
		Recipient:     common.HexToAddress("0x0000000000000000000000000000000000000003"),
		SlippageBps:   50,
	}
}

func TestQuoteDirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quote" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("amount"); got != "1000000" {
			t.Errorf("amount param = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":             "q-1",
			"kind":           "direct",
			"in_amount":      "1000000",
			"out_amount":     "998000",
			"min_out_amount": "993010",
			"spender":        "0x0000000000000000000000000000000000000009",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0, nil)
	quote, err := c.Quote(context.Background(), quoteReq())
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.Kind != model.QuoteDirect {
		t.Fatalf("kind = %s, want direct", quote.Kind)
	}
	if quote.OutAmount.Int64() != 998000 || quote.MinOutAmount.Int64() != 993010 {
		t.Fatalf("amounts mismatch: %+v", quote)
	}
	if len(quote.Hops) != 0 {
		t.Fatalf("direct quote must not carry hops")
	}
}

func TestQuoteMultiHop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":         "q-2",
			"kind":       "multi_hop",
			"in_amount":  "1000000",
			"out_amount": "997000",
			"hops": []map[string]any{
				{
					"venue":      "venue-a",
					"token_in":   "0x0000000000000000000000000000000000000001",
					"token_out":  "0x0000000000000000000000000000000000000004",
					"amount_in":  "1000000",
					"amount_out": "999000",
				},
				{
					"venue":      "venue-b",
					"token_in":   "0x0000000000000000000000000000000000000004",
					"token_out":  "0x0000000000000000000000000000000000000002",
					"amount_in":  "999000",
					"amount_out": "997000",
				},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0, nil)
	quote, err := c.Quote(context.Background(), quoteReq())
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.Kind != model.QuoteMultiHop {
		t.Fatalf("kind = %s, want multi_hop", quote.Kind)
	}
	if len(quote.Hops) != 2 {
		t.Fatalf("expected 2 hops, got %d", len(quote.Hops))
	}
	if quote.Hops[1].AmountOut.Int64() != 997000 {
		t.Fatalf("hop amounts mismatch: %+v", quote.Hops)
	}
	// Absent min_out falls back to the quoted out amount.
	if quote.MinOutAmount.Cmp(quote.OutAmount) != 0 {
		t.Fatalf("min out = %s, want %s", quote.MinOutAmount, quote.OutAmount)
	}
}

func TestQuoteMalformedIsFatal(t *testing.T) {
	cases := []map[string]any{
		{"id": "q", "kind": "mystery", "in_amount": "1", "out_amount": "1"},
		{"id": "q", "kind": "multi_hop", "in_amount": "1", "out_amount": "1"},
		{"id": "q", "kind": "direct", "in_amount": "1", "out_amount": "1",
			"hops": []map[string]any{{"venue": "x", "amount_in": "1", "amount_out": "1"}}},
		{"id": "q", "kind": "direct", "in_amount": "not-a-number", "out_amount": "1"},
	}
	for i, body := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(body)
		}))
		c := NewClient(srv.URL, 0, nil)
		_, err := c.Quote(context.Background(), quoteReq())
		srv.Close()
		if !model.IsFatal(err) {
			t.Fatalf("case %d: expected fatal error, got %v", i, err)
		}
	}
}

func TestQuoteRejectsNonPositiveAmount(t *testing.T) {
	c := NewClient("http://unused.invalid", 0, nil)
	req := quoteReq()
	req.Amount = big.NewInt(0)
	if _, err := c.Quote(context.Background(), req); !model.IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestBuildTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/build" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["quote_id"] != "q-1" {
			t.Errorf("quote_id = %v", body["quote_id"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"to":        "0x0000000000000000000000000000000000000009",
			"data":      "0xdeadbeef",
			"value":     "0",
			"gas_limit": 250000,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0, nil)
	payload, err := c.BuildTransaction(context.Background(), &model.Quote{ID: "q-1"}, common.Address{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(payload.Data) != 4 || payload.GasLimit != 250000 {
		t.Fatalf("payload mismatch: %+v", payload)
	}
}

func TestBuildTransactionEmptyCalldataFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"to":        "0x0000000000000000000000000000000000000009",
			"data":      "0x",
			"gas_limit": 250000,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0, nil)
	if _, err := c.BuildTransaction(context.Background(), &model.Quote{ID: "q-1"}, common.Address{}); !model.IsFatal(err) {
		t.Fatalf("expected fatal error for empty calldata, got %v", err)
	}
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status/0xsource" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "settled", "dest_tx_ref": "0xdest"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0, nil)
	state, err := c.Status(context.Background(), "0xsource")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !state.Settled() || state.Failed() {
		t.Fatalf("state mismatch: %+v", state)
	}
	if state.DestTxRef != "0xdest" {
		t.Fatalf("dest ref = %q", state.DestTxRef)
	}
}

func TestHTTPErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream busy", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0, nil)
	_, err := c.Status(context.Background(), "ref")
	if err == nil {
		t.Fatalf("expected error for 502")
	}
	if model.IsFatal(err) {
		t.Fatalf("transport-level failures must stay retryable: %v", err)
	}
}
