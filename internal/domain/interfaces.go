package domain

import (
	"context"
	"math/big"
	"time"
)

// ProtocolAdapter is the capability set every yield protocol integration
// exposes. Orchestration code depends only on this interface.
type ProtocolAdapter interface {
	// UniqueID is "{chain}/{protocol}/{version}/{symbols}".
	UniqueID() string
	// Kind names the adapter family, e.g. "erc4626".
	Kind() string
	Chain() string
	ChainID() int
	// Mode is "single" or "LP".
	Mode() string
	// Asset is the token the protocol accepts on deposit.
	Asset() Token
	RewardTokens() []Token

	// USDBalanceOf may return NaN when the position cannot be valued.
	USDBalanceOf(ctx context.Context, owner string, prices PriceTable) (float64, error)
	// AssetBalanceOf returns the raw share/receipt balance of the position.
	AssetBalanceOf(ctx context.Context, owner string) (*big.Int, error)
	// PendingRewards is keyed by reward token address.
	PendingRewards(ctx context.Context, owner string, prices PriceTable, progress ProgressFunc) (map[string]RewardBalance, error)
	LockUpPeriod(ctx context.Context, owner string) (time.Duration, error)

	ZapIn(ctx context.Context, params ZapInParams) ([]CallDescriptor, error)
	ZapOut(ctx context.Context, params ZapOutParams) ([]CallDescriptor, error)
	Stake(ctx context.Context, params StakeParams) ([]CallDescriptor, error)
	Transfer(ctx context.Context, params TransferParams) ([]CallDescriptor, error)
	ClaimAndSwap(ctx context.Context, params ClaimParams) ([]CallDescriptor, error)

	// FlowChartSteps lists the steps the adapter emits for an action in
	// execution order. token is the action input (zapIn) or output token.
	FlowChartSteps(action ActionName, token Token) []FlowStep
}

// FlowStep is one node of an adapter's flow chart. The node id is
// "{uniqueId}-{Suffix}".
type FlowStep struct {
	Suffix string
	Name   string
}

// Swapper routes a token conversion through the best available aggregator.
// A nil result with a nil error means no swap was needed.
type Swapper interface {
	Swap(ctx context.Context, req SwapRequest) (*SwapResult, error)
}

// PriceProvider resolves the full price table, usually through a cache.
type PriceProvider interface {
	Prices(ctx context.Context) (PriceTable, error)
}

// ReferralLookup resolves the referrer of a wallet, or "" when there is none.
type ReferralLookup interface {
	GetReferrer(ctx context.Context, owner string) (string, error)
}
