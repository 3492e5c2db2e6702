package orchestrator

import (
	"context"
	"fmt"
	"math/big"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/evm"
	"github.com/aristath/rebalancer/internal/modules/chains"
	"github.com/aristath/rebalancer/internal/modules/strategy"
	"github.com/aristath/rebalancer/internal/utils"
)

// ActionDiversify deposits into the current chain category by category.
const ActionDiversify domain.ActionName = "diversify"

// SlippageLadder is the slippage, in percent, of each diversify attempt.
var SlippageLadder = []float64{1, 3, 5}

// Diversify deposits params.Amount into every category on params.Chain. A
// category that fails is retried with the next slippage on the ladder.
func (o *Orchestrator) Diversify(ctx context.Context, params ActionParams) (*ActionResult, error) {
	return o.execute(ctx, ActionDiversify, params, o.diversify)
}

func (o *Orchestrator) diversify(ctx context.Context, r *run) ([]domain.CallDescriptor, error) {
	pre, tokenIn, net, err := o.prepareDeposit(ctx, r)
	if err != nil {
		return nil, err
	}

	derivative := 1.0
	if w := o.strategy.ChainWeight(r.chain); w > 0 {
		derivative = 1 / w
	}

	calls := pre
	deposited := false
	for _, category := range o.strategy.Categories() {
		entries := categoryEntries(o.strategy, category.Name, r.chain)
		if len(entries) == 0 {
			continue
		}
		catCalls, err := utils.Retry(ctx, func(ctx context.Context, attempt int) ([]domain.CallDescriptor, error) {
			slippage := SlippageLadder[min(attempt, len(SlippageLadder)-1)]
			o.log.Debug().
				Str("category", category.Name).
				Int("attempt", attempt).
				Float64("slippage", slippage).
				Msg("Diversifying into category")
			return o.zapInChain(ctx, r, entries, tokenIn, net, derivative, slippage)
		}, utils.RetryOptions{Retries: len(SlippageLadder), Delay: o.retryDelay})
		if err != nil {
			return nil, fmt.Errorf("failed to diversify into %s: %w", category.Name, err)
		}
		if len(catCalls) > 0 {
			deposited = true
		}
		calls = append(calls, catCalls...)
	}

	if !deposited {
		return nil, domain.ErrEmptyBatch
	}
	return calls, nil
}

// prepareDeposit wraps a native input and charges the platform fee. It
// returns the leading calls, the token actually deposited and the amount
// left after the fee.
func (o *Orchestrator) prepareDeposit(ctx context.Context, r *run) ([]domain.CallDescriptor, domain.Token, *big.Int, error) {
	p := r.params
	tokenIn := p.TokenIn
	amount := new(big.Int).Set(p.Amount)

	var pre []domain.CallDescriptor
	if evm.IsNative(tokenIn.Address) {
		weth, err := chains.Wrapped(r.chain)
		if err != nil {
			return nil, domain.Token{}, nil, err
		}
		pre = append(pre, evm.WrapNative(r.chainID, weth.Address, amount))
		tokenIn = weth
	}

	fee := platformFee(amount)
	pre = append(pre, o.feeCalls(ctx, r.chainID, p.Owner, tokenIn, fee)...)
	return pre, tokenIn, new(big.Int).Sub(amount, fee), nil
}

func categoryEntries(s *strategy.Strategy, category, chain string) []strategy.Entry {
	var out []strategy.Entry
	for _, e := range s.Entries() {
		if e.Category == category && e.Chain == chain {
			out = append(out, e)
		}
	}
	return out
}
