// Package protocols implements the single-asset yield adapters the engine
// ships with. Each adapter embeds Base, which owns identity, swaps into and
// out of the underlying asset and flow chart steps.
package protocols

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/evm"
	"github.com/aristath/rebalancer/internal/modules/chains"
	"github.com/rs/zerolog"
)

// ModeSingle marks an adapter that holds one asset, as opposed to an LP pair.
const ModeSingle = "single"

// ChainReader performs read-only contract calls on one chain.
// *rpc.Client satisfies it.
type ChainReader interface {
	CallUint256(ctx context.Context, to string, calldata []byte) (*big.Int, error)
	BalanceOf(ctx context.Context, token, account string) (*big.Int, error)
}

// Base carries what every single-asset adapter shares.
type Base struct {
	protocol string
	version  string
	chain    string
	chainID  int
	asset    domain.Token
	rewards  []domain.Token
	reader   ChainReader
	swapper  domain.Swapper
	log      zerolog.Logger
}

// NewBase resolves the chain and validates the asset.
func NewBase(chain, protocol, version string, asset domain.Token, rewards []domain.Token, reader ChainReader, swapper domain.Swapper, log zerolog.Logger) (Base, error) {
	chainID, err := chains.ChainID(chain)
	if err != nil {
		return Base{}, err
	}
	if asset.Address == "" || asset.Symbol == "" {
		return Base{}, fmt.Errorf("%s adapter on %s: asset address and symbol are required", protocol, chain)
	}
	if reader == nil {
		return Base{}, fmt.Errorf("%s adapter on %s: no rpc endpoint configured", protocol, chain)
	}
	if version == "" {
		version = "v1"
	}

	b := Base{
		protocol: strings.ToLower(protocol),
		version:  version,
		chain:    chains.NormalizeChainName(chain),
		chainID:  chainID,
		asset:    asset,
		rewards:  rewards,
		reader:   reader,
		swapper:  swapper,
	}
	b.log = log.With().Str("component", "protocol").Str("protocol", b.UniqueID()).Logger()
	return b, nil
}

// UniqueID is "{chain}/{protocol}/{version}/{symbols}". Single-asset
// adapters have exactly one symbol.
func (b Base) UniqueID() string {
	return fmt.Sprintf("%s/%s/%s/%s", b.chain, b.protocol, b.version, strings.Join(b.symbols(), "-"))
}

func (b Base) symbols() []string {
	return []string{b.asset.Key()}
}

func (b Base) Chain() string                { return b.chain }
func (b Base) ChainID() int                 { return b.chainID }
func (b Base) Mode() string                 { return ModeSingle }
func (b Base) Asset() domain.Token          { return b.asset }
func (b Base) RewardTokens() []domain.Token { return b.rewards }

// checkpoint builds "{uniqueId}-{step}".
func (b Base) checkpoint(step string) string {
	return b.UniqueID() + "-" + step
}

// assetUSD prices a raw asset amount. An unpriced asset yields NaN so the
// weight calculator can keep the position without counting it.
func (b Base) assetUSD(raw *big.Int, prices domain.PriceTable) float64 {
	price, ok := prices.Get(b.asset.Symbol)
	if !ok {
		return math.NaN()
	}
	return evm.USDValue(raw, b.asset.Decimals, price)
}

// swapIn converts the deposit token into the asset. It returns the swap
// calls and the asset amount to deposit.
func (b Base) swapIn(ctx context.Context, p domain.ZapInParams) ([]domain.CallDescriptor, *big.Int, error) {
	if p.TokenIn.SameAddress(b.asset) {
		return nil, p.Amount, nil
	}
	if b.swapper == nil {
		return nil, nil, fmt.Errorf("%s: no swapper configured", b.UniqueID())
	}

	res, err := b.swapper.Swap(ctx, domain.SwapRequest{
		ChainID:          b.chainID,
		Owner:            p.Owner,
		From:             p.TokenIn,
		To:               b.asset,
		Amount:           p.Amount,
		Slippage:         p.Slippage,
		Prices:           p.Prices,
		CheckpointPrefix: b.UniqueID(),
		Progress:         p.Progress,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to swap %s into %s: %w", p.TokenIn.Symbol, b.asset.Symbol, err)
	}
	if res == nil {
		return nil, p.Amount, nil
	}
	return res.Calls, res.MinToAmount, nil
}

// swapOut converts a withdrawn asset amount into the requested output token.
func (b Base) swapOut(ctx context.Context, p domain.ZapOutParams, amount *big.Int) ([]domain.CallDescriptor, error) {
	if p.TokenOut.Address == "" || p.TokenOut.SameAddress(b.asset) || amount.Sign() <= 0 {
		return nil, nil
	}
	if b.swapper == nil {
		return nil, fmt.Errorf("%s: no swapper configured", b.UniqueID())
	}

	res, err := b.swapper.Swap(ctx, domain.SwapRequest{
		ChainID:          b.chainID,
		Owner:            p.Owner,
		From:             b.asset,
		To:               p.TokenOut,
		Amount:           amount,
		Slippage:         p.Slippage,
		Prices:           p.Prices,
		CheckpointPrefix: b.UniqueID(),
		Progress:         p.Progress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to swap %s into %s: %w", b.asset.Symbol, p.TokenOut.Symbol, err)
	}
	if res == nil {
		return nil, nil
	}
	return res.Calls, nil
}

// PendingRewards is empty for receipt tokens that accrue yield in place.
func (b Base) PendingRewards(ctx context.Context, owner string, prices domain.PriceTable, progress domain.ProgressFunc) (map[string]domain.RewardBalance, error) {
	return map[string]domain.RewardBalance{}, nil
}

// LockUpPeriod is zero: deposits can be withdrawn at any time.
func (b Base) LockUpPeriod(ctx context.Context, owner string) (time.Duration, error) {
	return 0, nil
}

// Stake is a no-op since the receipt token earns without staking.
func (b Base) Stake(ctx context.Context, p domain.StakeParams) ([]domain.CallDescriptor, error) {
	return nil, nil
}

// ClaimAndSwap only marks the claim checkpoint; there is nothing to claim.
func (b Base) ClaimAndSwap(ctx context.Context, p domain.ClaimParams) ([]domain.CallDescriptor, error) {
	p.Progress.Report(b.checkpoint("claim"), 0)
	return nil, nil
}

// FlowChartSteps mirrors the calls the adapter emits for action.
func (b Base) FlowChartSteps(action domain.ActionName, token domain.Token) []domain.FlowStep {
	needsSwap := token.Address != "" && !token.SameAddress(b.asset)

	switch action {
	case domain.ActionZapIn:
		var steps []domain.FlowStep
		if needsSwap {
			steps = append(steps, swapStep(token, b.asset))
		}
		return append(steps,
			domain.FlowStep{Suffix: "approve", Name: "Approve"},
			domain.FlowStep{Suffix: "deposit", Name: "Deposit " + strings.Join(b.symbols(), " ")},
		)
	case domain.ActionZapOut:
		steps := []domain.FlowStep{{Suffix: "withdraw", Name: "Withdraw " + strings.Join(b.symbols(), " ")}}
		if needsSwap {
			steps = append(steps, swapStep(b.asset, token))
		}
		return steps
	case domain.ActionClaimAndSwap:
		return []domain.FlowStep{{Suffix: "claim", Name: "Claim Rewards"}}
	case domain.ActionStake:
		return []domain.FlowStep{{Suffix: "stake", Name: "Stake"}}
	case domain.ActionTransfer:
		return []domain.FlowStep{{Suffix: "transfer", Name: "Transfer"}}
	}
	return nil
}

func swapStep(from, to domain.Token) domain.FlowStep {
	return domain.FlowStep{
		Suffix: fmt.Sprintf("%s-%s-swap", from.Key(), to.Key()),
		Name:   fmt.Sprintf("Swap %s to %s", from.Symbol, to.Symbol),
	}
}
