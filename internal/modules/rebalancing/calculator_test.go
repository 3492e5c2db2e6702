package rebalancing

import (
	"context"
	"errors"
	"math"
	"math/big"
	"math/rand"
	"testing"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/strategy"
	testingpkg "github.com/aristath/rebalancer/internal/testing"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	adapter *testingpkg.MockAdapter
	weight  float64
}

func newStrategy(t *testing.T, chainFixtures map[string][]fixture, order ...string) *strategy.Strategy {
	t.Helper()
	var allocations []strategy.ChainAllocation
	for _, chain := range order {
		ca := strategy.ChainAllocation{Chain: chain}
		for _, f := range chainFixtures[chain] {
			ca.Positions = append(ca.Positions, strategy.NewPosition(f.adapter, f.weight, ""))
		}
		allocations = append(allocations, ca)
	}
	s, err := strategy.New([]strategy.Category{{Name: "stablecoin", Chains: allocations}})
	require.NoError(t, err)
	return s
}

func newCalculator(s *strategy.Strategy) *Calculator {
	return NewCalculator(s, testingpkg.NewMockPriceProvider(testingpkg.NewPriceFixtures()), zerolog.Nop())
}

func TestCompute_TwoPositionsOneChain(t *testing.T) {
	a := testingpkg.NewMockAdapterFixture("arbitrum", "aave", "usdc").SetUSDBalance(60)
	b := testingpkg.NewMockAdapterFixture("arbitrum", "morpho", "usdc").SetUSDBalance(20)
	s := newStrategy(t, map[string][]fixture{"arbitrum": {{a, 0.6}, {b, 0.4}}}, "arbitrum")

	snap, err := newCalculator(s).Compute(context.Background(), testingpkg.TestOwner, nil)
	require.NoError(t, err)

	assert.InDelta(t, 80, snap.TotalUSDBalance, 1e-9)

	first, ok := snap.Get(a)
	require.True(t, ok)
	assert.Equal(t, "arbitrum/aave/v1/usdc/mock", first.Key)
	assert.InDelta(t, 0.75, first.CurrentWeight, 1e-9)
	assert.InDelta(t, 0.15, first.WeightDiff, 1e-9)
	assert.InDelta(t, 0.2, first.ZapOutPercentage, 1e-9)

	second, ok := snap.Get(b)
	require.True(t, ok)
	assert.InDelta(t, 0.25, second.CurrentWeight, 1e-9)
	assert.InDelta(t, -0.15, second.WeightDiff, 1e-9)
	assert.Zero(t, second.ZapOutPercentage)

	assert.InDelta(t, 0.15, snap.Metadata.PositiveWeightDiffSum, 1e-9)
	assert.InDelta(t, 0.15, snap.Metadata.NegativeWeightDiffSum, 1e-9)
	assert.InDelta(t, 0, snap.Metadata.WeightDiffGroupByChain["arbitrum"], 1e-9)
	assert.Empty(t, snap.Metadata.RebalanceActionsByChain)
}

func TestCompute_DeprecatedPositionExitsFully(t *testing.T) {
	live := testingpkg.NewMockAdapterFixture("arbitrum", "aave", "usdc").SetUSDBalance(100)
	dust := testingpkg.NewMockAdapterFixture("arbitrum", "old", "usdc").SetUSDBalance(0.5)
	empty := testingpkg.NewMockAdapterFixture("arbitrum", "gone", "usdc")
	s := newStrategy(t, map[string][]fixture{"arbitrum": {{live, 1}, {dust, 0}, {empty, 0}}}, "arbitrum")

	snap, err := newCalculator(s).Compute(context.Background(), testingpkg.TestOwner, nil)
	require.NoError(t, err)

	d, _ := snap.Get(dust)
	assert.Equal(t, 1.0, d.ZapOutPercentage)
	e, _ := snap.Get(empty)
	assert.Zero(t, e.ZapOutPercentage)
}

func TestCompute_NaNBalanceIsKeptButNotCounted(t *testing.T) {
	a := testingpkg.NewMockAdapterFixture("arbitrum", "aave", "usdc").SetUSDBalance(50)
	b := testingpkg.NewMockAdapterFixture("arbitrum", "morpho", "usdc").SetUSDBalance(math.NaN())
	s := newStrategy(t, map[string][]fixture{"arbitrum": {{a, 0.5}, {b, 0.5}}}, "arbitrum")

	snap, err := newCalculator(s).Compute(context.Background(), testingpkg.TestOwner, nil)
	require.NoError(t, err)

	assert.InDelta(t, 50, snap.TotalUSDBalance, 1e-9)
	nanEntry, _ := snap.Get(b)
	assert.True(t, math.IsNaN(nanEntry.USDBalance))
	assert.False(t, nanEntry.Valued())
	assert.Zero(t, nanEntry.CurrentWeight)
	assert.InDelta(t, -0.5, nanEntry.WeightDiff, 1e-9)
	assert.Zero(t, nanEntry.ZapOutPercentage)

	data, err := json.Marshal(nanEntry)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"usdBalance":null`)
	assert.Contains(t, string(data), `"uniqueId":"arbitrum/morpho/v1/usdc"`)

	valued, _ := snap.Get(a)
	data, err = json.Marshal(valued)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"usdBalance":50`)
}

func TestCompute_PendingRewardsAggregated(t *testing.T) {
	arbToken := "0x912ce59144191c1204e64559fe8253a0e49e6548"
	a := testingpkg.NewMockAdapterFixture("arbitrum", "aave", "usdc").SetUSDBalance(40).
		SetPendingRewards(map[string]domain.RewardBalance{
			arbToken: {Symbol: "arb", Balance: big.NewInt(10), USDDenominatedValue: 5, Decimals: 18},
		})
	b := testingpkg.NewMockAdapterFixture("arbitrum", "morpho", "usdc").SetUSDBalance(40).
		SetPendingRewards(map[string]domain.RewardBalance{
			arbToken: {Symbol: "arb", Balance: big.NewInt(30), USDDenominatedValue: 15, Decimals: 18},
		})
	dust := testingpkg.NewMockAdapterFixture("arbitrum", "old", "usdc").
		SetPendingRewards(map[string]domain.RewardBalance{
			arbToken: {Symbol: "arb", Balance: big.NewInt(1000), USDDenominatedValue: 500, Decimals: 18},
		})
	s := newStrategy(t, map[string][]fixture{"arbitrum": {{a, 0.5}, {b, 0.5}, {dust, 0}}}, "arbitrum")

	snap, err := newCalculator(s).Compute(context.Background(), testingpkg.TestOwner, nil)
	require.NoError(t, err)

	r := snap.PendingRewards.Rewards[arbToken]
	assert.Equal(t, big.NewInt(40), r.Balance)
	assert.InDelta(t, 20, r.USDDenominatedValue, 1e-9)
	assert.Equal(t, "arb", r.Symbol)
	assert.InDelta(t, 20, snap.PendingRewards.USDBalance, 1e-9)
	assert.InDelta(t, 100, snap.TotalUSDBalance, 1e-9)

	first, _ := snap.Get(a)
	assert.InDelta(t, 0.4, first.CurrentWeight, 1e-9)
}

func TestCompute_ZapOutPercentageWithinBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 50; round++ {
		var fixtures []fixture
		weights := []float64{0.1, 0.2, 0.3, 0.4, 0}
		for i, w := range weights {
			adapter := testingpkg.NewMockAdapterFixture("arbitrum", string(rune('a'+i)), "usdc").
				SetUSDBalance(rng.Float64() * 1000)
			fixtures = append(fixtures, fixture{adapter, w})
		}
		s := newStrategy(t, map[string][]fixture{"arbitrum": fixtures}, "arbitrum")

		snap, err := newCalculator(s).Compute(context.Background(), testingpkg.TestOwner, nil)
		require.NoError(t, err)

		for _, b := range snap.Balances {
			if b.USDBalance > 0 {
				assert.GreaterOrEqual(t, b.ZapOutPercentage, 0.0)
				assert.LessOrEqual(t, b.ZapOutPercentage, 1.0+1e-12)
			}
		}
	}
}

func TestCompute_Idempotent(t *testing.T) {
	a := testingpkg.NewMockAdapterFixture("arbitrum", "aave", "usdc").SetUSDBalance(70)
	b := testingpkg.NewMockAdapterFixture("base", "aave", "usdc").SetUSDBalance(30)
	s := newStrategy(t, map[string][]fixture{"arbitrum": {{a, 0.5}}, "base": {{b, 0.5}}}, "arbitrum", "base")
	calc := newCalculator(s)

	first, err := calc.Compute(context.Background(), testingpkg.TestOwner, nil)
	require.NoError(t, err)
	second, err := calc.Compute(context.Background(), testingpkg.TestOwner, nil)
	require.NoError(t, err)

	assert.Equal(t, first.Balances, second.Balances)
	assert.Equal(t, first.Metadata, second.Metadata)
}

func TestCompute_CrossChainClassification(t *testing.T) {
	a := testingpkg.NewMockAdapterFixture("arbitrum", "aave", "usdc").SetUSDBalance(70)
	b := testingpkg.NewMockAdapterFixture("base", "aave", "usdc").SetUSDBalance(30)
	s := newStrategy(t, map[string][]fixture{"arbitrum": {{a, 0.5}}, "base": {{b, 0.5}}}, "arbitrum", "base")

	snap, err := newCalculator(s).Compute(context.Background(), testingpkg.TestOwner, map[string]float64{"arbitrum/aave/v1/usdc": 0.05})
	require.NoError(t, err)

	require.Len(t, snap.Metadata.RebalanceActionsByChain, 2)
	assert.Equal(t, "arbitrum", snap.Metadata.RebalanceActionsByChain[0].Chain)
	assert.Equal(t, domain.ActionCrossChainRebalance, snap.Metadata.RebalanceActionsByChain[0].ActionName)
	assert.Equal(t, domain.ActionLocalRebalance, snap.Metadata.RebalanceActionsByChain[1].ActionName)

	action, ok := snap.Metadata.ActionFor("base")
	require.True(t, ok)
	assert.Equal(t, domain.ActionLocalRebalance, action)

	first, _ := snap.Get(a)
	assert.InDelta(t, 5, first.APR, 1e-9)

	assert.InDelta(t, 20, ReinvestUSDAmount(snap, "arbitrum"), 1e-9)
	assert.InDelta(t, 0.5, CrossChainInvestmentAmount(s, "base"), 1e-9)
}

func TestClassifyChains(t *testing.T) {
	tests := []struct {
		name  string
		diffs map[string]float64
		want  []ChainAction
	}{
		{
			name:  "below threshold everywhere",
			diffs: map[string]float64{"arbitrum": 0.005, "base": -0.005},
			want:  nil,
		},
		{
			name:  "local only",
			diffs: map[string]float64{"arbitrum": 0.005, "base": -0.02},
			want:  []ChainAction{{Chain: "base", ActionName: domain.ActionLocalRebalance, Diff: -0.02}},
		},
		{
			name:  "small deficit joins when capital is inbound",
			diffs: map[string]float64{"arbitrum": 0.2, "base": -0.005, "op": -0.195},
			want: []ChainAction{
				{Chain: "arbitrum", ActionName: domain.ActionCrossChainRebalance, Diff: 0.2},
				{Chain: "base", ActionName: domain.ActionLocalRebalance, Diff: -0.005},
				{Chain: "op", ActionName: domain.ActionLocalRebalance, Diff: -0.195},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyChains(tt.diffs))
		})
	}
}

func TestCompute_AdapterErrorIsFatal(t *testing.T) {
	a := testingpkg.NewMockAdapterFixture("arbitrum", "aave", "usdc").SetError(errors.New("rpc down"))
	s := newStrategy(t, map[string][]fixture{"arbitrum": {{a, 1}}}, "arbitrum")

	_, err := newCalculator(s).Compute(context.Background(), testingpkg.TestOwner, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc down")
}

func TestCompute_PriceErrorIsFatal(t *testing.T) {
	a := testingpkg.NewMockAdapterFixture("arbitrum", "aave", "usdc")
	s := newStrategy(t, map[string][]fixture{"arbitrum": {{a, 1}}}, "arbitrum")
	prices := testingpkg.NewMockPriceProvider(nil)
	prices.SetError(domain.ErrZeroPrice)

	_, err := NewCalculator(s, prices, zerolog.Nop()).Compute(context.Background(), testingpkg.TestOwner, nil)
	assert.ErrorIs(t, err, domain.ErrZeroPrice)
}
