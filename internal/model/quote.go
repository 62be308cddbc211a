package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// QuoteKind tags the shape of a route quote.
type QuoteKind string

const (
	QuoteDirect   QuoteKind = "direct"
	QuoteMultiHop QuoteKind = "multi_hop"
)

// RouteHop is one leg of a multi-hop route.
type RouteHop struct {
	Venue     string         `json:"venue"`
	TokenIn   common.Address `json:"token_in"`
	TokenOut  common.Address `json:"token_out"`
	AmountIn  *big.Int       `json:"amount_in"`
	AmountOut *big.Int       `json:"amount_out"`
}

// Quote is a priced route from an external provider. It carries no identity
// beyond the provider's quote id and must be re-fetched when stale.
// Hops is populated only when Kind is QuoteMultiHop.
type Quote struct {
	ID             string
	Kind           QuoteKind
	InAmount       *big.Int
	OutAmount      *big.Int
	MinOutAmount   *big.Int
	PriceImpactBps int64
	Spender        common.Address
	Hops           []RouteHop
}

// TxPayload is an executable transaction built by a route provider.
type TxPayload struct {
	To       common.Address `json:"to"`
	Data     hexutil.Bytes  `json:"data"`
	Value    *big.Int       `json:"value"`
	GasLimit uint64         `json:"gas_limit"`
}
