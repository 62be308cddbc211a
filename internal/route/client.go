package route

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"liquidityPilot/internal/model"
)

// Client talks to a route-quoting service (bridge or swap flavor). The
// service prices a source/destination asset pair, builds executable
// transaction payloads, and, for bridges, tracks cross-chain settlement.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a Client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// QuoteRequest describes the transfer or swap to price.
type QuoteRequest struct {
	SourceChainID uint64
	DestChainID   uint64
	SourceAsset   common.Address
	DestAsset     common.Address
	Amount        *big.Int
	Sender        common.Address
	Recipient     common.Address
	SlippageBps   int64
}

type quoteResponse struct {
	ID             string         `json:"id"`
	Kind           string         `json:"kind"`
	InAmount       string         `json:"in_amount"`
	OutAmount      string         `json:"out_amount"`
	MinOutAmount   string         `json:"min_out_amount"`
	PriceImpactBps int64          `json:"price_impact_bps"`
	Spender        common.Address `json:"spender"`
	Hops           []hopResponse  `json:"hops"`
}

type hopResponse struct {
	Venue     string         `json:"venue"`
	TokenIn   common.Address `json:"token_in"`
	TokenOut  common.Address `json:"token_out"`
	AmountIn  string         `json:"amount_in"`
	AmountOut string         `json:"amount_out"`
}

// Quote fetches and validates a route quote. A quote the client cannot
// interpret is a fatal error; stale quotes must be re-fetched, never patched.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (*model.Quote, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, model.Fatalf("quote amount must be positive")
	}

	params := url.Values{}
	params.Set("source_chain", fmt.Sprintf("%d", req.SourceChainID))
	params.Set("dest_chain", fmt.Sprintf("%d", req.DestChainID))
	params.Set("source_asset", req.SourceAsset.Hex())
	params.Set("dest_asset", req.DestAsset.Hex())
	params.Set("amount", req.Amount.String())
	params.Set("sender", req.Sender.Hex())
	params.Set("recipient", req.Recipient.Hex())
	params.Set("slippage_bps", fmt.Sprintf("%d", req.SlippageBps))

	var resp quoteResponse
	if err := c.getJSON(ctx, "/quote?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	return decodeQuote(resp)
}

func decodeQuote(resp quoteResponse) (*model.Quote, error) {
	var kind model.QuoteKind
	switch resp.Kind {
	case string(model.QuoteDirect):
		kind = model.QuoteDirect
	case string(model.QuoteMultiHop):
		kind = model.QuoteMultiHop
	default:
		return nil, model.Fatalf("malformed quote: unknown kind %q", resp.Kind)
	}

	inAmount, err := parseAmount(resp.InAmount, "in_amount")
	if err != nil {
		return nil, err
	}
	outAmount, err := parseAmount(resp.OutAmount, "out_amount")
	if err != nil {
		return nil, err
	}
	minOut := outAmount
	if resp.MinOutAmount != "" {
		minOut, err = parseAmount(resp.MinOutAmount, "min_out_amount")
		if err != nil {
			return nil, err
		}
	}

	quote := &model.Quote{
		ID:             resp.ID,
		Kind:           kind,
		InAmount:       inAmount,
		OutAmount:      outAmount,
		MinOutAmount:   minOut,
		PriceImpactBps: resp.PriceImpactBps,
		Spender:        resp.Spender,
	}

	if kind == model.QuoteMultiHop {
		if len(resp.Hops) == 0 {
			return nil, model.Fatalf("malformed quote: multi_hop quote without hops")
		}
		for _, hop := range resp.Hops {
			amountIn, err := parseAmount(hop.AmountIn, "hop amount_in")
			if err != nil {
				return nil, err
			}
			amountOut, err := parseAmount(hop.AmountOut, "hop amount_out")
			if err != nil {
				return nil, err
			}
			quote.Hops = append(quote.Hops, model.RouteHop{
				Venue:     hop.Venue,
				TokenIn:   hop.TokenIn,
				TokenOut:  hop.TokenOut,
				AmountIn:  amountIn,
				AmountOut: amountOut,
			})
		}
	} else if len(resp.Hops) != 0 {
		return nil, model.Fatalf("malformed quote: direct quote carries hops")
	}

	return quote, nil
}

type buildRequest struct {
	QuoteID string         `json:"quote_id"`
	Sender  common.Address `json:"sender"`
}

type buildResponse struct {
	To       common.Address `json:"to"`
	Data     hexutil.Bytes  `json:"data"`
	Value    string         `json:"value"`
	GasLimit uint64         `json:"gas_limit"`
}

// BuildTransaction asks the provider for the executable payload of a quote.
func (c *Client) BuildTransaction(ctx context.Context, quote *model.Quote, sender common.Address) (*model.TxPayload, error) {
	if quote == nil || quote.ID == "" {
		return nil, model.Fatalf("cannot build transaction without a quote id")
	}

	var resp buildResponse
	if err := c.postJSON(ctx, "/build", buildRequest{QuoteID: quote.ID, Sender: sender}, &resp); err != nil {
		return nil, err
	}
	value := big.NewInt(0)
	if resp.Value != "" {
		var err error
		value, err = parseAmount(resp.Value, "value")
		if err != nil {
			return nil, err
		}
	}
	if len(resp.Data) == 0 {
		return nil, model.Fatalf("malformed payload: empty calldata for quote %s", quote.ID)
	}
	return &model.TxPayload{
		To:       resp.To,
		Data:     resp.Data,
		Value:    value,
		GasLimit: resp.GasLimit,
	}, nil
}

// SettlementState is the provider's view of a cross-chain transfer keyed by
// its source transaction reference.
type SettlementState struct {
	Status    string `json:"status"` // pending | settled | failed
	DestTxRef string `json:"dest_tx_ref"`
}

// Settled reports terminal success.
func (s *SettlementState) Settled() bool { return s.Status == "settled" }

// Failed reports terminal failure on the provider side.
func (s *SettlementState) Failed() bool { return s.Status == "failed" }

// Status fetches the settlement state for a source transaction reference.
func (c *Client) Status(ctx context.Context, sourceTxRef string) (*SettlementState, error) {
	var state SettlementState
	if err := c.getJSON(ctx, "/status/"+url.PathEscape(sourceTxRef), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(string(payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("route request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("route response %s: %w", req.URL.Path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("route %s: status %d: %s", req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return model.Fatal(fmt.Errorf("route %s: decode response: %w", req.URL.Path, err))
	}
	return nil
}

func parseAmount(s, field string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(s, 10)
	if !ok || value.Sign() < 0 {
		return nil, model.Fatalf("malformed quote: bad %s %q", field, s)
	}
	return value, nil
}
