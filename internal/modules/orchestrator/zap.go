package orchestrator

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/evm"
	"github.com/aristath/rebalancer/internal/modules/bridge"
	"github.com/aristath/rebalancer/internal/modules/chains"
	"github.com/aristath/rebalancer/internal/modules/strategy"
	"golang.org/x/sync/errgroup"
)

// MinZapOutUSD is the smallest withdrawal per position.
const MinZapOutUSD = 1.0

// shareBasisPoints floors a fraction to four decimals.
func shareBasisPoints(fraction float64) int64 {
	if fraction <= 0 {
		return 0
	}
	return int64(math.Floor(fraction*10000 + 1e-9))
}

func (o *Orchestrator) zapIn(ctx context.Context, r *run) ([]domain.CallDescriptor, error) {
	p := r.params
	pre, tokenIn, net, err := o.prepareDeposit(ctx, r)
	if err != nil {
		return nil, err
	}

	derivative := 1.0
	if p.OnlyThisChain {
		if w := o.strategy.ChainWeight(r.chain); w > 0 {
			derivative = 1 / w
		}
	}

	var protocolCalls, stakeCalls, bridgeCalls []domain.CallDescriptor
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		protocolCalls, err = o.zapInChain(gctx, r, o.strategy.PositionsOn(r.chain), tokenIn, net, derivative, p.Slippage)
		if err != nil {
			return err
		}
		stakeCalls, err = o.stakeDust(gctx, r)
		return err
	})
	if !p.OnlyThisChain {
		g.Go(func() error {
			var err error
			bridgeCalls, err = o.bridgeOut(gctx, r, tokenIn, net)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Bridging alone never completes a deposit.
	if len(protocolCalls) == 0 {
		return nil, domain.ErrEmptyBatch
	}

	calls := append(pre, protocolCalls...)
	calls = append(calls, stakeCalls...)
	return append(calls, bridgeCalls...), nil
}

// zapInChain deposits each weighted entry's share of amount.
func (o *Orchestrator) zapInChain(ctx context.Context, r *run, entries []strategy.Entry, tokenIn domain.Token, amount *big.Int, derivative, slippage float64) ([]domain.CallDescriptor, error) {
	var tasks []Task
	for _, e := range entries {
		weight := e.Position.Weight()
		if weight <= 0 {
			continue
		}
		share := evm.MulRatio(amount, shareBasisPoints(weight*derivative), 10000)
		if share.Sign() == 0 {
			continue
		}
		adapter := e.Position.Adapter()
		tasks = append(tasks, func(ctx context.Context) ([]domain.CallDescriptor, error) {
			calls, err := adapter.ZapIn(ctx, domain.ZapInParams{
				Owner:    r.params.Owner,
				TokenIn:  tokenIn,
				Amount:   share,
				Slippage: slippage,
				Prices:   r.prices,
				Progress: r.progress(),
			})
			if err != nil {
				return nil, fmt.Errorf("failed to zap into %s: %w", adapter.UniqueID(), err)
			}
			return calls, nil
		})
	}
	return FailFast(ctx, tasks)
}

// bridgeOut sends every other chain its weight's share of amount.
func (o *Orchestrator) bridgeOut(ctx context.Context, r *run, tokenIn domain.Token, amount *big.Int) ([]domain.CallDescriptor, error) {
	var tasks []Task
	for _, chain := range o.strategy.Chains() {
		if chain == r.chain {
			continue
		}
		share := evm.MulRatio(amount, shareBasisPoints(o.strategy.ChainWeight(chain)), 10000)
		if share.Sign() == 0 {
			continue
		}
		tasks = append(tasks, func(ctx context.Context) ([]domain.CallDescriptor, error) {
			return o.bridgeTo(ctx, r, chain, tokenIn, share)
		})
	}
	return FailFast(ctx, tasks)
}

// bridgeTo moves amount of token to chain, swapping into the canonical
// bridge token first when token cannot be bridged as-is.
func (o *Orchestrator) bridgeTo(ctx context.Context, r *run, chain string, token domain.Token, amount *big.Int) ([]domain.CallDescriptor, error) {
	toChainID, err := chains.ChainID(chain)
	if err != nil {
		return nil, err
	}

	var calls []domain.CallDescriptor
	if !bridge.IsBridgeSafe(token.Symbol) {
		canonical, err := chains.Token(bridge.CanonicalBridgeToken, r.chain)
		if err != nil {
			return nil, err
		}
		res, err := o.swapper.Swap(ctx, domain.SwapRequest{
			ChainID:          r.chainID,
			Owner:            r.params.Owner,
			From:             token,
			To:               canonical,
			Amount:           amount,
			Slippage:         r.params.Slippage,
			Prices:           r.prices,
			CheckpointPrefix: bridge.CheckpointID(r.chainID, toChainID),
			Progress:         r.progress(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to swap %s before bridging to %s: %w", token.Symbol, chain, err)
		}
		if res != nil {
			calls = append(calls, res.Calls...)
			amount = res.MinToAmount
		}
		token = canonical
	}

	toToken, err := chains.Token(token.Symbol, chain)
	if err != nil {
		return nil, fmt.Errorf("failed to bridge to %s: %w", chain, err)
	}
	price, err := r.prices.Require(token.Symbol)
	if err != nil {
		return nil, err
	}

	bridgeCalls, err := o.bridges.BridgeCalls(ctx, bridge.Request{
		Owner:         r.params.Owner,
		FromChainID:   r.chainID,
		ToChainID:     toChainID,
		FromToken:     token,
		ToToken:       toToken,
		Amount:        amount,
		TokenPriceUSD: price,
	}, r.progress())
	if err != nil {
		return nil, fmt.Errorf("failed to bridge to %s: %w", chain, err)
	}
	return append(calls, bridgeCalls...), nil
}

// stakeDust lets every weighted position on the chain stake assets left
// idle in the wallet.
func (o *Orchestrator) stakeDust(ctx context.Context, r *run) ([]domain.CallDescriptor, error) {
	var tasks []Task
	for _, e := range o.strategy.PositionsOn(r.chain) {
		if e.Position.Weight() <= 0 {
			continue
		}
		adapter := e.Position.Adapter()
		tasks = append(tasks, func(ctx context.Context) ([]domain.CallDescriptor, error) {
			calls, err := adapter.Stake(ctx, domain.StakeParams{
				Owner:    r.params.Owner,
				Prices:   r.prices,
				Progress: r.progress(),
			})
			if err != nil {
				return nil, fmt.Errorf("failed to stake %s: %w", adapter.UniqueID(), err)
			}
			return calls, nil
		})
	}
	return FailFast(ctx, tasks)
}

func (o *Orchestrator) zapOut(ctx context.Context, r *run) ([]domain.CallDescriptor, error) {
	p := r.params
	entries := o.strategy.PositionsOn(r.chain)
	balances := make([]float64, len(entries))

	tasks := make([]Task, len(entries))
	for i, e := range entries {
		adapter := e.Position.Adapter()
		tasks[i] = func(ctx context.Context) ([]domain.CallDescriptor, error) {
			usd, err := adapter.USDBalanceOf(ctx, p.Owner, r.prices)
			if err != nil {
				return nil, fmt.Errorf("failed to read balance of %s: %w", adapter.UniqueID(), err)
			}
			if math.IsNaN(usd) || usd <= 0 {
				return nil, nil
			}
			balances[i] = usd

			pct := p.Percentage
			if usd*pct < MinZapOutUSD {
				pct = math.Min(1, MinZapOutUSD/usd)
			}
			calls, err := adapter.ZapOut(ctx, domain.ZapOutParams{
				Owner:      p.Owner,
				Percentage: pct,
				TokenOut:   p.TokenOut,
				Slippage:   p.Slippage,
				Prices:     r.prices,
				Progress:   r.progress(),
			})
			if err != nil {
				return nil, fmt.Errorf("failed to zap out of %s: %w", adapter.UniqueID(), err)
			}
			return calls, nil
		}
	}

	calls, err := FailFast(ctx, tasks)
	if err != nil {
		return nil, err
	}
	if len(calls) == 0 {
		return nil, domain.ErrEmptyBatch
	}

	// Nothing executes between the withdrawals and the fee, so the balances
	// read above are the post-phase balances.
	total := 0.0
	for _, b := range balances {
		total += b
	}
	price, err := r.prices.Require(p.TokenOut.Symbol)
	if err != nil {
		return nil, err
	}
	fee := evm.RawFromUSD(total*p.Percentage*SwapFeeRate, price, p.TokenOut.Decimals)
	return append(calls, o.feeCalls(ctx, r.chainID, p.Owner, p.TokenOut, fee)...), nil
}

func (o *Orchestrator) transfer(ctx context.Context, r *run) ([]domain.CallDescriptor, error) {
	p := r.params
	var tasks []Task
	for _, e := range o.strategy.PositionsOn(r.chain) {
		adapter := e.Position.Adapter()
		tasks = append(tasks, func(ctx context.Context) ([]domain.CallDescriptor, error) {
			bal, err := adapter.AssetBalanceOf(ctx, p.Owner)
			if err != nil {
				return nil, fmt.Errorf("failed to read balance of %s: %w", adapter.UniqueID(), err)
			}
			if bal.Sign() <= 0 {
				return nil, nil
			}
			calls, err := adapter.Transfer(ctx, domain.TransferParams{
				Owner:      p.Owner,
				Recipient:  p.Recipient,
				Percentage: p.Percentage,
				Progress:   r.progress(),
			})
			if err != nil {
				return nil, fmt.Errorf("failed to transfer %s: %w", adapter.UniqueID(), err)
			}
			return calls, nil
		})
	}
	return nonEmpty(FailFast(ctx, tasks))
}

func (o *Orchestrator) stake(ctx context.Context, r *run) ([]domain.CallDescriptor, error) {
	return nonEmpty(o.stakeDust(ctx, r))
}

func (o *Orchestrator) claimAndSwap(ctx context.Context, r *run) ([]domain.CallDescriptor, error) {
	p := r.params
	var tasks []Task
	for _, e := range o.strategy.PositionsOn(r.chain) {
		adapter := e.Position.Adapter()
		tasks = append(tasks, func(ctx context.Context) ([]domain.CallDescriptor, error) {
			calls, err := adapter.ClaimAndSwap(ctx, domain.ClaimParams{
				Owner:    p.Owner,
				TokenOut: p.TokenOut,
				Slippage: p.Slippage,
				Prices:   r.prices,
				Progress: r.progress(),
			})
			if err != nil {
				return nil, fmt.Errorf("failed to claim %s: %w", adapter.UniqueID(), err)
			}
			return calls, nil
		})
	}
	return nonEmpty(FailFast(ctx, tasks))
}

func nonEmpty(calls []domain.CallDescriptor, err error) ([]domain.CallDescriptor, error) {
	if err != nil {
		return nil, err
	}
	if len(calls) == 0 {
		return nil, domain.ErrEmptyBatch
	}
	return calls, nil
}
