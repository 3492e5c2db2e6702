package rebalancing

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/strategy"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Calculator computes balance snapshots for a strategy.
type Calculator struct {
	strategy *strategy.Strategy
	prices   domain.PriceProvider
	log      zerolog.Logger
}

// NewCalculator creates a weight diff calculator.
func NewCalculator(s *strategy.Strategy, prices domain.PriceProvider, log zerolog.Logger) *Calculator {
	return &Calculator{
		strategy: s,
		prices:   prices,
		log:      log.With().Str("service", "weight_diff").Logger(),
	}
}

// Compute resolves prices and builds a fresh snapshot for owner. aprs maps a
// unique id to a fractional APR and may be nil.
func (c *Calculator) Compute(ctx context.Context, owner string, aprs map[string]float64) (*Snapshot, error) {
	prices, err := c.prices.Prices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve prices: %w", err)
	}
	return c.ComputeWithPrices(ctx, owner, prices, aprs)
}

// ComputeWithPrices builds a snapshot against an already resolved price
// table so an action can share one table across all of its steps.
func (c *Calculator) ComputeWithPrices(ctx context.Context, owner string, prices domain.PriceTable, aprs map[string]float64) (*Snapshot, error) {
	entries := c.strategy.Entries()
	balances := make([]float64, len(entries))
	rewards := make([]map[string]domain.RewardBalance, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	for i, e := range entries {
		adapter := e.Position.Adapter()
		g.Go(func() error {
			usd, err := adapter.USDBalanceOf(gctx, owner, prices)
			if err != nil {
				return fmt.Errorf("failed to read balance of %s: %w", adapter.UniqueID(), err)
			}
			balances[i] = usd
			return nil
		})
		if e.Position.Weight() == 0 {
			continue
		}
		g.Go(func() error {
			r, err := adapter.PendingRewards(gctx, owner, prices, nil)
			if err != nil {
				return fmt.Errorf("failed to read pending rewards of %s: %w", adapter.UniqueID(), err)
			}
			rewards[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return build(entries, balances, rewards, aprs), nil
}

// build is the pure part of the calculation.
func build(entries []strategy.Entry, balances []float64, rewards []map[string]domain.RewardBalance, aprs map[string]float64) *Snapshot {
	s := &Snapshot{
		Balances: make([]ProtocolBalance, len(entries)),
		PendingRewards: PendingRewards{
			Rewards: make(map[string]domain.RewardBalance),
		},
		Metadata: Metadata{
			WeightDiffGroupByChain: make(map[string]float64),
		},
		index: make(map[string]int, len(entries)),
	}

	for _, r := range rewards {
		mergeRewards(s.PendingRewards.Rewards, r)
	}
	for _, r := range s.PendingRewards.Rewards {
		s.PendingRewards.USDBalance += r.USDDenominatedValue
	}

	total := s.PendingRewards.USDBalance
	for _, b := range balances {
		if !math.IsNaN(b) {
			total += b
		}
	}
	s.TotalUSDBalance = total

	for i, e := range entries {
		adapter := e.Position.Adapter()
		usd := balances[i]
		weight := e.Position.Weight()

		current := 0.0
		if !math.IsNaN(usd) && total > 0 {
			current = usd / total
		}
		diff := current - weight

		b := ProtocolBalance{
			Key:             BalanceKey(adapter),
			UniqueID:        adapter.UniqueID(),
			Category:        e.Category,
			Chain:           e.Chain,
			USDBalance:      usd,
			Weight:          weight,
			CurrentWeight:   current,
			WeightDiff:      diff,
			TotalUSDBalance: total,
			APR:             aprs[adapter.UniqueID()] * 100,
		}
		b.ZapOutPercentage = zapOutPercentage(b)

		if diff < 0 {
			s.Metadata.NegativeWeightDiffSum += -diff
		} else {
			s.Metadata.PositiveWeightDiffSum += diff
		}
		s.Metadata.WeightDiffGroupByChain[e.Chain] += diff

		s.Balances[i] = b
		s.index[b.Key] = i
	}

	s.Metadata.RebalanceActionsByChain = classifyChains(s.Metadata.WeightDiffGroupByChain)
	return s
}

// zapOutPercentage fully exits deprecated positions and trims overweight
// ones back to target.
func zapOutPercentage(b ProtocolBalance) float64 {
	switch {
	case b.Weight == 0 && b.USDBalance > 0:
		return 1
	case b.WeightDiff > RebalanceThreshold:
		return b.WeightDiff * b.TotalUSDBalance / b.USDBalance
	default:
		return 0
	}
}

// classifyChains marks overweight chains for a cross-chain rebalance.
// Underweight chains get a local rebalance when they are past the threshold
// themselves or when capital is inbound from some cross-chain rebalance.
func classifyChains(diffs map[string]float64) []ChainAction {
	needsCross := false
	for _, d := range diffs {
		if d > RebalanceThreshold {
			needsCross = true
			break
		}
	}

	var out []ChainAction
	for chain, d := range diffs {
		switch {
		case d > RebalanceThreshold:
			out = append(out, ChainAction{Chain: chain, ActionName: domain.ActionCrossChainRebalance, Diff: d})
		case d < 0 && (math.Abs(d) > RebalanceThreshold || needsCross):
			out = append(out, ChainAction{Chain: chain, ActionName: domain.ActionLocalRebalance, Diff: d})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Diff != out[j].Diff {
			return out[i].Diff > out[j].Diff
		}
		return out[i].Chain < out[j].Chain
	})
	return out
}

// CrossChainInvestmentAmount is the share of every deposit that lands on
// chain: its total target weight.
func CrossChainInvestmentAmount(s *strategy.Strategy, chain string) float64 {
	return s.ChainWeight(chain)
}
