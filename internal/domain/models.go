package domain

import (
	"fmt"
	"math/big"
	"strings"
)

// Token identifies an ERC-20 (or the native asset) on a single chain.
type Token struct {
	Symbol   string `json:"symbol" yaml:"symbol"`
	Address  string `json:"address" yaml:"address"`
	Decimals int    `json:"decimals" yaml:"decimals"`
}

// Key returns the lower-case symbol used to index a PriceTable.
func (t Token) Key() string {
	return strings.ToLower(t.Symbol)
}

// SameAddress reports whether both tokens point at the same contract.
func (t Token) SameAddress(other Token) bool {
	return strings.EqualFold(t.Address, other.Address)
}

// CallDescriptor is one unsigned on-chain call. It is the atomic unit the
// engine produces; signing and broadcasting happen elsewhere.
type CallDescriptor struct {
	To      string `json:"to"`
	Data    string `json:"data"`
	Value   string `json:"value,omitempty"` // wei, base 10
	ChainID int    `json:"chainId"`
}

// ProgressFunc receives checkpoint notifications and the realized trading
// gain (positive) or loss (negative) attributed to that checkpoint.
// It may be called from several goroutines at once.
type ProgressFunc func(checkpointID string, tradingLoss float64)

// Report invokes the callback if one is set.
func (p ProgressFunc) Report(checkpointID string, tradingLoss float64) {
	if p != nil {
		p(checkpointID, tradingLoss)
	}
}

// PriceTable maps a lower-case token symbol to its USD price.
type PriceTable map[string]float64

// Get returns the price for a symbol, case-insensitively.
func (p PriceTable) Get(symbol string) (float64, bool) {
	price, ok := p[strings.ToLower(symbol)]
	return price, ok
}

// Require returns the price for a symbol or ErrMissingPrice naming it.
func (p PriceTable) Require(symbol string) (float64, error) {
	price, ok := p.Get(symbol)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingPrice, strings.ToLower(symbol))
	}
	return price, nil
}

// Clone returns a shallow copy safe to extend without touching the original.
func (p PriceTable) Clone() PriceTable {
	out := make(PriceTable, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// RewardBalance is an unclaimed reward position for a single token.
type RewardBalance struct {
	Symbol              string   `json:"symbol"`
	Balance             *big.Int `json:"balance"`
	USDDenominatedValue float64  `json:"usdDenominatedValue"`
	Decimals            int      `json:"decimals"`
}

// SwapRequest describes a single token pair conversion.
type SwapRequest struct {
	ChainID  int
	Owner    string
	From     Token
	To       Token
	Amount   *big.Int // raw units of From
	Slippage float64  // percent
	Prices   PriceTable

	// CheckpointPrefix is usually the protocol unique id; the swap reports
	// "{prefix}-{from}-{to}-swap" through Progress.
	CheckpointPrefix string
	Progress         ProgressFunc
}

// SwapResult is the outcome of a routed swap.
type SwapResult struct {
	Provider    string           `json:"provider"`
	Calls       []CallDescriptor `json:"calls"`
	MinToAmount *big.Int         `json:"minToAmount"`
	TradingLoss float64          `json:"tradingLoss"`
}

// ZapInParams carries the inputs of a single protocol deposit.
type ZapInParams struct {
	Owner    string
	TokenIn  Token
	Amount   *big.Int
	Slippage float64
	Prices   PriceTable
	Progress ProgressFunc
}

// ZapOutParams carries the inputs of a single protocol withdrawal.
type ZapOutParams struct {
	Owner      string
	Percentage float64 // fraction of the position, 0..1
	TokenOut   Token
	Slippage   float64
	Prices     PriceTable
	Progress   ProgressFunc
}

// TransferParams moves a fraction of a position to another wallet.
type TransferParams struct {
	Owner      string
	Recipient  string
	Percentage float64
	Progress   ProgressFunc
}

// StakeParams stakes idle position assets sitting in the wallet.
type StakeParams struct {
	Owner    string
	Prices   PriceTable
	Progress ProgressFunc
}

// ClaimParams claims pending rewards and converts them to TokenOut.
type ClaimParams struct {
	Owner    string
	TokenOut Token
	Slippage float64
	Prices   PriceTable
	Progress ProgressFunc
}
