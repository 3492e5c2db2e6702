package orchestrator

import (
	"context"
	"math"
	"sort"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/evm"
	"github.com/aristath/rebalancer/internal/modules/rebalancing"
	"github.com/aristath/rebalancer/internal/modules/strategy"
	"golang.org/x/sync/errgroup"
)

// Rebalance constants.
const (
	// RewardSlippage discounts pending rewards that will be swapped into
	// the middle token.
	RewardSlippage = 0.8
	// MinBridgeUSD is the smallest remainder worth bridging to a chain.
	MinBridgeUSD = 10.0
	// StableDustUSD is the smallest fill when the middle token is a
	// stablecoin.
	StableDustUSD = 1.0
	// VolatileDustUnits is the smallest fill, in middle token units, when
	// the middle token is volatile.
	VolatileDustUnits = 0.0001
)

// fill is the USD amount planned for one position.
type fill struct {
	entry strategy.Entry
	usd   float64
}

// chainBridge is the USD amount planned for another chain.
type chainBridge struct {
	chain string
	usd   float64
}

func (o *Orchestrator) rebalance(ctx context.Context, r *run) ([]domain.CallDescriptor, error) {
	p := r.params
	snap, err := o.calc.ComputeWithPrices(ctx, p.Owner, r.prices, nil)
	if err != nil {
		return nil, err
	}

	action := r.action
	if action == domain.ActionRebalance {
		resolved, ok := snap.Metadata.ActionFor(r.chain)
		if !ok {
			o.log.Info().Str("chain", r.chain).Msg("Chain within threshold, nothing to rebalance")
			return nil, nil
		}
		action = resolved
	}

	middle, err := o.vault.Denomination.MiddleToken(r.chain)
	if err != nil {
		return nil, err
	}
	middlePrice, err := r.prices.Require(middle.Symbol)
	if err != nil {
		return nil, err
	}
	afterSlippage := (100 - p.Slippage) / 100

	var tasks []Task
	zappedOut := 0.0
	for _, e := range o.strategy.PositionsOn(r.chain) {
		adapter := e.Position.Adapter()
		b, ok := snap.Get(adapter)
		if !ok || !b.Valued() || b.USDBalance <= 0 || b.ZapOutPercentage <= 0 {
			continue
		}
		pct := math.Min(1, b.ZapOutPercentage)
		zappedOut += b.USDBalance * pct * afterSlippage

		share := 0.0
		if snap.Metadata.PositiveWeightDiffSum > 0 {
			share = math.Max(b.WeightDiff, 0) / snap.Metadata.PositiveWeightDiffSum
		}
		o.log.Debug().
			Str("position", adapter.UniqueID()).
			Float64("zap_out_pct", pct).
			Float64("usd_share", share).
			Msg("Zapping out of overweight position")

		tasks = append(tasks, func(ctx context.Context) ([]domain.CallDescriptor, error) {
			return adapter.ZapOut(ctx, domain.ZapOutParams{
				Owner:      p.Owner,
				Percentage: pct,
				TokenOut:   middle,
				Slippage:   p.Slippage,
				Prices:     r.prices,
				Progress:   r.progress(),
			})
		})
	}

	outCalls, err := FailFast(ctx, tasks)
	if err != nil {
		return nil, err
	}
	r.state.progress(rebalancing.EndOfZapOutCheckpoint(r.chain), 0)

	if zappedOut == 0 && action == domain.ActionCrossChainRebalance {
		return outCalls, nil
	}

	budget := zappedOut*afterSlippage + snap.PendingRewards.USDBalance*RewardSlippage
	fee := budget * SwapFeeRate
	budget -= 2 * fee
	if budget <= 0 {
		return outCalls, nil
	}
	feeCalls := o.feeCalls(ctx, r.chainID, p.Owner, middle, evm.RawFromUSD(2*fee, middlePrice, middle.Decimals))

	dust := StableDustUSD
	if !o.vault.Denomination.IsStable() {
		dust = VolatileDustUnits * middlePrice
	}
	fills, remaining := planFills(o.strategy.PositionsOn(r.chain), snap, budget, dust)
	bridges := planBridges(snap, r.chain, remaining)
	if len(bridges) == 0 && remaining > dust {
		fills = topUp(fills, o.strategy.PositionsOn(r.chain), snap, remaining)
	}

	var inCalls, bridgeCalls []domain.CallDescriptor
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var tasks []Task
		for _, f := range fills {
			adapter := f.entry.Position.Adapter()
			amount := evm.RawFromUSD(f.usd, middlePrice, middle.Decimals)
			if amount.Sign() == 0 {
				continue
			}
			tasks = append(tasks, func(ctx context.Context) ([]domain.CallDescriptor, error) {
				return adapter.ZapIn(ctx, domain.ZapInParams{
					Owner:    p.Owner,
					TokenIn:  middle,
					Amount:   amount,
					Slippage: p.Slippage,
					Prices:   r.prices,
					Progress: r.progress(),
				})
			})
		}
		var err error
		inCalls, err = FailFast(gctx, tasks)
		return err
	})
	g.Go(func() error {
		var tasks []Task
		for _, b := range bridges {
			amount := evm.RawFromUSD(b.usd, middlePrice, middle.Decimals)
			tasks = append(tasks, func(ctx context.Context) ([]domain.CallDescriptor, error) {
				return o.bridgeTo(ctx, r, b.chain, middle, amount)
			})
		}
		var err error
		bridgeCalls, err = FailFast(gctx, tasks)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	calls := append(outCalls, feeCalls...)
	calls = append(calls, inCalls...)
	return append(calls, bridgeCalls...), nil
}

// planFills spends budget on underweight positions, smallest deviation
// first, each up to its USD gap. Fills below dust are skipped.
func planFills(entries []strategy.Entry, snap *rebalancing.Snapshot, budget, dust float64) ([]fill, float64) {
	type candidate struct {
		entry strategy.Entry
		diff  float64
	}
	var candidates []candidate
	for _, e := range entries {
		if e.Position.Weight() <= 0 {
			continue
		}
		b, ok := snap.Get(e.Position.Adapter())
		if !ok || b.WeightDiff >= 0 {
			continue
		}
		candidates = append(candidates, candidate{entry: e, diff: -b.WeightDiff})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].diff < candidates[j].diff
	})

	remaining := budget
	var fills []fill
	for _, c := range candidates {
		usd := math.Min(c.diff*snap.TotalUSDBalance, remaining)
		if usd < dust {
			continue
		}
		fills = append(fills, fill{entry: c.entry, usd: usd})
		remaining -= usd
	}
	return fills, remaining
}

// planBridges splits remaining across the other underweight chains in
// proportion to their deviation. Chains below MinBridgeUSD are skipped.
func planBridges(snap *rebalancing.Snapshot, current string, remaining float64) []chainBridge {
	if remaining <= 0 {
		return nil
	}

	var targets []string
	total := 0.0
	for chain, d := range snap.Metadata.WeightDiffGroupByChain {
		if chain == current || d >= 0 {
			continue
		}
		targets = append(targets, chain)
		total += -d
	}
	if total == 0 {
		return nil
	}
	sort.Strings(targets)

	var out []chainBridge
	for _, chain := range targets {
		usd := remaining * -snap.Metadata.WeightDiffGroupByChain[chain] / total
		if usd < MinBridgeUSD {
			continue
		}
		out = append(out, chainBridge{chain: chain, usd: usd})
	}
	return out
}

// topUp spreads remaining over the chain's weighted positions in proportion
// to their deviation, or their weight when none is underweight.
func topUp(fills []fill, entries []strategy.Entry, snap *rebalancing.Snapshot, remaining float64) []fill {
	shares := make([]float64, len(entries))
	total := 0.0
	for i, e := range entries {
		if e.Position.Weight() <= 0 {
			continue
		}
		if b, ok := snap.Get(e.Position.Adapter()); ok && b.WeightDiff < 0 {
			shares[i] = -b.WeightDiff
			total += shares[i]
		}
	}
	if total == 0 {
		for i, e := range entries {
			shares[i] = e.Position.Weight()
			total += shares[i]
		}
	}
	if total == 0 {
		return fills
	}

	for i, e := range entries {
		if shares[i] == 0 {
			continue
		}
		usd := remaining * shares[i] / total
		merged := false
		for j := range fills {
			if fills[j].entry.UniqueID() == e.UniqueID() {
				fills[j].usd += usd
				merged = true
				break
			}
		}
		if !merged {
			fills = append(fills, fill{entry: e, usd: usd})
		}
	}
	return fills
}
