// Package bridge moves value between chains through the cheapest
// available bridge.
package bridge

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/aristath/rebalancer/internal/domain"
)

// CanonicalBridgeToken is what non bridge-safe inputs are swapped into
// before leaving the chain.
const CanonicalBridgeToken = "usdc"

// BridgeSafeTokens can be bridged as-is.
var BridgeSafeTokens = map[string]bool{
	"usdc": true,
	"usdt": true,
	"dai":  true,
	"weth": true,
}

// IsBridgeSafe reports whether symbol can be bridged without a pre-swap.
func IsBridgeSafe(symbol string) bool {
	return BridgeSafeTokens[strings.ToLower(symbol)]
}

// Request describes one cross-chain transfer.
type Request struct {
	Owner       string
	FromChainID int
	ToChainID   int
	FromToken   domain.Token
	ToToken     domain.Token
	Amount      *big.Int
	// TokenPriceUSD prices FromToken for fee accounting.
	TokenPriceUSD float64
}

// Validate rejects requests no bridge could serve.
func (r Request) Validate() error {
	if r.Amount == nil || r.Amount.Sign() <= 0 {
		return fmt.Errorf("bridge amount must be positive")
	}
	if r.FromChainID == r.ToChainID {
		return fmt.Errorf("bridge source and destination are both chain %d", r.FromChainID)
	}
	return nil
}

// CheckpointID names the progress checkpoint of a bridge transfer.
func CheckpointID(fromChainID, toChainID int) string {
	return fmt.Sprintf("bridge-%d-%d", fromChainID, toChainID)
}

// Bridge is one cross-chain transport.
type Bridge interface {
	Name() string
	// FeeUSD quotes the total cost of the transfer.
	FeeUSD(ctx context.Context, req Request) (float64, error)
	// BuildCalls returns [approve, bridge] and reports the fee as a loss.
	BuildCalls(ctx context.Context, req Request, progress domain.ProgressFunc) ([]domain.CallDescriptor, error)
}
