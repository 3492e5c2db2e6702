package orchestrator

import (
	"context"
	"errors"
	"math/big"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/aristath/rebalancer/internal/clients/rebalanceapi"
	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/events"
	"github.com/aristath/rebalancer/internal/evm"
	"github.com/aristath/rebalancer/internal/metrics"
	"github.com/aristath/rebalancer/internal/modules/chains"
	"github.com/aristath/rebalancer/internal/modules/rebalancing"
	"github.com/aristath/rebalancer/internal/modules/strategy"
	testingpkg "github.com/aristath/rebalancer/internal/testing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const referrer = "0x2222222222222222222222222222222222222222"

// fixture is a usd vault with three weighted positions and one retained
// dust position:
//
//	arbitrum: aave/usdc 0.4, morpho/usdc 0.2, old/dai 0
//	base:     aave/usdc 0.4
type fixture struct {
	a, b, d, c *testingpkg.MockAdapter

	prices  *testingpkg.MockPriceProvider
	swapper *testingpkg.MockSwapper
	bridges *testingpkg.MockBridgeSelector
	vault   *strategy.Vault
}

func vaultOf(t *testing.T, denom strategy.Denomination, categories ...strategy.Category) *strategy.Vault {
	t.Helper()
	s, err := strategy.New(categories)
	require.NoError(t, err)
	return &strategy.Vault{Name: "test", Denomination: denom, Strategy: s}
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		a:       testingpkg.NewMockAdapterFixture("arbitrum", "aave", "usdc"),
		b:       testingpkg.NewMockAdapterFixture("arbitrum", "morpho", "usdc"),
		d:       testingpkg.NewMockAdapterFixture("arbitrum", "old", "dai"),
		c:       testingpkg.NewMockAdapterFixture("base", "aave", "usdc"),
		prices:  testingpkg.NewMockPriceProvider(testingpkg.NewPriceFixtures()),
		swapper: testingpkg.NewMockSwapper(),
		bridges: testingpkg.NewMockBridgeSelector(),
	}
	f.vault = vaultOf(t, strategy.DenominationUSD, strategy.Category{
		Name: "stablecoin",
		Chains: []strategy.ChainAllocation{
			{Chain: "arbitrum", Positions: []strategy.Position{
				strategy.NewPosition(f.a, 0.4, "a"),
				strategy.NewPosition(f.b, 0.2, "b"),
				strategy.NewPosition(f.d, 0, "d"),
			}},
			{Chain: "base", Positions: []strategy.Position{
				strategy.NewPosition(f.c, 0.4, "c"),
			}},
		},
	})
	return f
}

func (f *fixture) deps() Dependencies {
	return Dependencies{
		Prices:     f.prices,
		Swapper:    f.swapper,
		Bridges:    f.bridges,
		RetryDelay: time.Millisecond,
	}
}

func (f *fixture) orchestrator(opts ...func(*Dependencies)) *Orchestrator {
	deps := f.deps()
	for _, opt := range opts {
		opt(&deps)
	}
	return New(f.vault, deps, zerolog.Nop())
}

func usdcZapIn(amount int64) ActionParams {
	return ActionParams{
		Owner:   testingpkg.TestOwner,
		Chain:   "arbitrum",
		TokenIn: testingpkg.MustToken("usdc", "arbitrum"),
		Amount:  big.NewInt(amount),
	}
}

func transferData(to string, amount int64) string {
	return evm.HexEncode(evm.EncodeTransfer(to, big.NewInt(amount)))
}

func TestZapIn_SplitsAcrossPositionsAndBridges(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()

	res, err := o.PortfolioAction(context.Background(), domain.ActionZapIn, usdcZapIn(1_000_000_000))
	require.NoError(t, err)

	usdc := testingpkg.MustToken("usdc", "arbitrum")
	require.Len(t, res.Calls, 7)
	assert.Equal(t, usdc.Address, res.Calls[0].To)
	assert.Equal(t, transferData(TreasuryAddress, 2_990_000), res.Calls[0].Data)
	assert.Equal(t, []string{
		"zapIn:arbitrum/aave/v1/usdc",
		"zapIn:arbitrum/morpho/v1/usdc",
		"stake:arbitrum/aave/v1/usdc",
		"stake:arbitrum/morpho/v1/usdc",
		"approve:usdc",
		"bridge:42161-8453",
	}, datas(res.Calls[1:]))

	require.Len(t, f.a.ZapIns(), 1)
	assert.Equal(t, big.NewInt(398_804_000), f.a.ZapIns()[0].Amount)
	assert.Equal(t, big.NewInt(199_402_000), f.b.ZapIns()[0].Amount)
	assert.Empty(t, f.d.ZapIns())
	assert.Empty(t, f.c.ZapIns())

	reqs := f.bridges.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, 8453, reqs[0].ToChainID)
	assert.Equal(t, big.NewInt(398_804_000), reqs[0].Amount)
	assert.Equal(t, testingpkg.MustToken("usdc", "base").Address, reqs[0].ToToken.Address)
	assert.Equal(t, 1.0, reqs[0].TokenPriceUSD)

	assert.Contains(t, res.Checkpoints, "bridge-42161-8453")
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, "arbitrum", res.Chain)
}

func TestZapIn_ReferralSplit(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(func(d *Dependencies) {
		d.Referrals = &testingpkg.MockReferrals{Referrers: map[string]string{testingpkg.TestOwner: referrer}}
	})

	res, err := o.PortfolioAction(context.Background(), domain.ActionZapIn, usdcZapIn(1_000_000_000))
	require.NoError(t, err)

	assert.Equal(t, transferData(referrer, 2_093_000), res.Calls[0].Data)
	assert.Equal(t, transferData(TreasuryAddress, 897_000), res.Calls[1].Data)
}

func TestZapIn_ReferralLookupFailureChargesTreasury(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(func(d *Dependencies) {
		d.Referrals = &testingpkg.MockReferrals{Err: errors.New("sdk down")}
	})

	res, err := o.PortfolioAction(context.Background(), domain.ActionZapIn, usdcZapIn(1_000_000_000))
	require.NoError(t, err)
	assert.Equal(t, transferData(TreasuryAddress, 2_990_000), res.Calls[0].Data)
}

func TestZapIn_OnlyThisChain(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()

	params := usdcZapIn(1_000_000_000)
	params.OnlyThisChain = true
	_, err := o.PortfolioAction(context.Background(), domain.ActionZapIn, params)
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(664_606_866), f.a.ZapIns()[0].Amount)
	assert.Equal(t, big.NewInt(332_303_433), f.b.ZapIns()[0].Amount)
	assert.Empty(t, f.bridges.Requests())
}

func TestZapIn_NativeInputIsWrappedFirst(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()

	params := usdcZapIn(0)
	params.TokenIn = chains.Native()
	params.Amount = big.NewInt(1_000_000_000_000_000_000)
	res, err := o.PortfolioAction(context.Background(), domain.ActionZapIn, params)
	require.NoError(t, err)

	weth := testingpkg.MustToken("weth", "arbitrum")
	assert.Equal(t, weth.Address, res.Calls[0].To)
	assert.Equal(t, "0xd0e30db0", res.Calls[0].Data)
	assert.Equal(t, "1000000000000000000", res.Calls[0].Value)
	assert.Equal(t, weth.Address, res.Calls[1].To)

	assert.Equal(t, "weth", f.a.ZapIns()[0].TokenIn.Symbol)
	reqs := f.bridges.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "weth", reqs[0].FromToken.Symbol)
	assert.Equal(t, 3000.0, reqs[0].TokenPriceUSD)
}

func TestZapIn_NonBridgeSafeInputIsSwappedBeforeBridging(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()

	params := usdcZapIn(1_000_000_000)
	params.TokenIn = testingpkg.MustToken("usdc.e", "arbitrum")
	res, err := o.PortfolioAction(context.Background(), domain.ActionZapIn, params)
	require.NoError(t, err)

	swaps := f.swapper.Requests()
	require.Len(t, swaps, 1)
	assert.Equal(t, "usdc.e", swaps[0].From.Symbol)
	assert.Equal(t, "usdc", swaps[0].To.Symbol)
	assert.Equal(t, big.NewInt(398_804_000), swaps[0].Amount)

	reqs := f.bridges.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "usdc", reqs[0].FromToken.Symbol)
	assert.Equal(t, big.NewInt(398_804_000), reqs[0].Amount)

	tail := datas(res.Calls[len(res.Calls)-4:])
	assert.Equal(t, []string{"approve:usdc.e", "swap:usdc.e-usdc", "approve:usdc", "bridge:42161-8453"}, tail)
	assert.Contains(t, res.Checkpoints, "bridge-42161-8453-usdc.e-usdc-swap")
}

func TestZapIn_NoPositionsIsEmptyBatch(t *testing.T) {
	c := testingpkg.NewMockAdapterFixture("base", "aave", "usdc")
	v := vaultOf(t, strategy.DenominationUSD, strategy.Category{
		Name:   "stablecoin",
		Chains: []strategy.ChainAllocation{{Chain: "base", Positions: []strategy.Position{strategy.NewPosition(c, 1, "c")}}},
	})

	for _, onlyThisChain := range []bool{true, false} {
		name := "bridge only"
		if onlyThisChain {
			name = "only this chain"
		}
		t.Run(name, func(t *testing.T) {
			o := New(v, Dependencies{
				Prices:  testingpkg.NewMockPriceProvider(testingpkg.NewPriceFixtures()),
				Swapper: testingpkg.NewMockSwapper(),
				Bridges: testingpkg.NewMockBridgeSelector(),
			}, zerolog.Nop())

			params := usdcZapIn(1_000_000)
			params.OnlyThisChain = onlyThisChain
			res, err := o.PortfolioAction(context.Background(), domain.ActionZapIn, params)
			assert.ErrorIs(t, err, domain.ErrEmptyBatch)
			assert.Nil(t, res)
		})
	}
}

func TestZapIn_FailuresAreFatal(t *testing.T) {
	t.Run("bridge", func(t *testing.T) {
		f := newFixture(t)
		f.bridges.SetError(domain.ErrNoBridge)
		_, err := f.orchestrator().PortfolioAction(context.Background(), domain.ActionZapIn, usdcZapIn(1_000_000_000))
		assert.ErrorIs(t, err, domain.ErrNoBridge)
	})

	t.Run("adapter", func(t *testing.T) {
		f := newFixture(t)
		f.b.SetActionError(domain.ErrSlippageExceeded)
		_, err := f.orchestrator().PortfolioAction(context.Background(), domain.ActionZapIn, usdcZapIn(1_000_000_000))
		assert.ErrorIs(t, err, domain.ErrSlippageExceeded)
		assert.ErrorContains(t, err, "arbitrum/morpho/v1/usdc")
	})

	t.Run("prices", func(t *testing.T) {
		f := newFixture(t)
		f.prices.SetError(domain.ErrZeroPrice)
		_, err := f.orchestrator().PortfolioAction(context.Background(), domain.ActionZapIn, usdcZapIn(1_000_000_000))
		assert.ErrorIs(t, err, domain.ErrZeroPrice)
	})
}

func TestPortfolioAction_ValidatesInput(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()

	tests := []struct {
		name   string
		action domain.ActionName
		mutate func(p *ActionParams)
		want   error
	}{
		{"unknown action", domain.ActionName("yolo"), func(p *ActionParams) {}, domain.ErrInvalidAction},
		{"unknown chain", domain.ActionZapIn, func(p *ActionParams) { p.Chain = "solana" }, domain.ErrUnknownChain},
		{"zero amount", domain.ActionZapIn, func(p *ActionParams) { p.Amount = big.NewInt(0) }, domain.ErrInvalidAmount},
		{"missing owner", domain.ActionZapIn, func(p *ActionParams) { p.Owner = "" }, domain.ErrInvalidAction},
		{"slippage", domain.ActionZapIn, func(p *ActionParams) { p.Slippage = 100 }, domain.ErrInvalidAmount},
		{"zapOut percentage", domain.ActionZapOut, func(p *ActionParams) { p.Percentage = 1.5 }, domain.ErrInvalidAmount},
		{"transfer recipient", domain.ActionTransfer, func(p *ActionParams) { p.Percentage = 0.5 }, domain.ErrInvalidAction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := usdcZapIn(1_000_000)
			p.TokenOut = testingpkg.MustToken("usdc", "arbitrum")
			tt.mutate(&p)
			_, err := o.PortfolioAction(context.Background(), tt.action, p)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Zero(t, f.prices.Calls())
}

func TestPortfolioAction_NormalizesChainName(t *testing.T) {
	f := newFixture(t)
	params := usdcZapIn(1_000_000_000)
	params.Chain = "Arbitrum One"

	res, err := f.orchestrator().PortfolioAction(context.Background(), domain.ActionZapIn, params)
	require.NoError(t, err)
	assert.Equal(t, "arbitrum", res.Chain)
}

func zapOutParams(pct float64) ActionParams {
	return ActionParams{
		Owner:      testingpkg.TestOwner,
		Chain:      "arbitrum",
		TokenOut:   testingpkg.MustToken("usdc", "arbitrum"),
		Percentage: pct,
	}
}

func TestZapOut_MinimumWithdrawalAndFee(t *testing.T) {
	f := newFixture(t)
	f.a.SetUSDBalance(500)
	f.b.SetUSDBalance(0.5)
	f.d.SetUSDBalance(100)
	f.c.SetUSDBalance(1000)

	res, err := f.orchestrator().PortfolioAction(context.Background(), domain.ActionZapOut, zapOutParams(0.1))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"zapOut:arbitrum/aave/v1/usdc",
		"zapOut:arbitrum/morpho/v1/usdc",
		"zapOut:arbitrum/old/v1/dai",
	}, datas(res.Calls[:3]))
	require.Len(t, res.Calls, 4)
	assert.Equal(t, transferData(TreasuryAddress, 179_549), res.Calls[3].Data)

	assert.Equal(t, 0.1, f.a.ZapOuts()[0].Percentage)
	assert.Equal(t, 1.0, f.b.ZapOuts()[0].Percentage)
	assert.Equal(t, 0.1, f.d.ZapOuts()[0].Percentage)
	assert.Empty(t, f.c.ZapOuts())

	// The fee reuses the balances read while building the withdrawals.
	for _, a := range []*testingpkg.MockAdapter{f.a, f.b, f.d} {
		assert.Equal(t, 1, a.BalanceReads(), a.UniqueID())
	}
	assert.Zero(t, f.c.BalanceReads())
}

func TestZapOut_NothingToWithdraw(t *testing.T) {
	f := newFixture(t)
	_, err := f.orchestrator().PortfolioAction(context.Background(), domain.ActionZapOut, zapOutParams(1))
	assert.ErrorIs(t, err, domain.ErrEmptyBatch)
}

func TestTransfer_OnlyFundedPositions(t *testing.T) {
	f := newFixture(t)
	f.a.SetAssetBalance(big.NewInt(100))

	params := zapOutParams(0.25)
	params.Recipient = referrer
	res, err := f.orchestrator().PortfolioAction(context.Background(), domain.ActionTransfer, params)
	require.NoError(t, err)

	assert.Equal(t, []string{"transfer:arbitrum/aave/v1/usdc"}, datas(res.Calls))
	require.Len(t, f.a.Transfers(), 1)
	assert.Equal(t, referrer, f.a.Transfers()[0].Recipient)
	assert.Equal(t, 0.25, f.a.Transfers()[0].Percentage)
}

func TestStake_WeightedPositionsOnly(t *testing.T) {
	f := newFixture(t)
	res, err := f.orchestrator().PortfolioAction(context.Background(), domain.ActionStake, zapOutParams(0))
	require.NoError(t, err)

	assert.Equal(t, []string{"stake:arbitrum/aave/v1/usdc", "stake:arbitrum/morpho/v1/usdc"}, datas(res.Calls))
	assert.Empty(t, f.d.Stakes())
}

func TestClaimAndSwap_EveryPositionOnChain(t *testing.T) {
	f := newFixture(t)
	res, err := f.orchestrator().PortfolioAction(context.Background(), domain.ActionClaimAndSwap, zapOutParams(0))
	require.NoError(t, err)

	assert.Len(t, res.Calls, 3)
	assert.Equal(t, "usdc", f.d.Claims()[0].TokenOut.Symbol)
	assert.Empty(t, f.c.Claims())
}

func rebalanceParams(chain string) ActionParams {
	return ActionParams{Owner: testingpkg.TestOwner, Chain: chain}
}

func TestRebalance_CrossChain(t *testing.T) {
	f := newFixture(t)
	f.a.SetUSDBalance(600)
	f.b.SetUSDBalance(100)
	f.c.SetUSDBalance(300)

	res, err := f.orchestrator().PortfolioAction(context.Background(), domain.ActionRebalance, rebalanceParams("arbitrum"))
	require.NoError(t, err)

	require.Len(t, f.a.ZapOuts(), 1)
	assert.InDelta(t, 1.0/3, f.a.ZapOuts()[0].Percentage, 1e-9)
	assert.Equal(t, "usdc", f.a.ZapOuts()[0].TokenOut.Symbol)
	assert.Empty(t, f.b.ZapOuts())

	require.Len(t, f.b.ZapIns(), 1)
	assert.InDelta(t, 100_000_000, float64(f.b.ZapIns()[0].Amount.Int64()), 2)
	assert.Empty(t, f.a.ZapIns())

	reqs := f.bridges.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, 8453, reqs[0].ToChainID)
	assert.InDelta(t, 98_804_000, float64(reqs[0].Amount.Int64()), 2)

	require.Len(t, res.Calls, 5)
	assert.Equal(t, "zapOut:arbitrum/aave/v1/usdc", res.Calls[0].Data)
	assert.Equal(t, testingpkg.MustToken("usdc", "arbitrum").Address, res.Calls[1].To)
	assert.Equal(t, "zapIn:arbitrum/morpho/v1/usdc", res.Calls[2].Data)
	assert.Equal(t, "bridge:42161-8453", res.Calls[4].Data)

	barrier := slices.Index(res.Checkpoints, rebalancing.EndOfZapOutCheckpoint("arbitrum"))
	bridged := slices.Index(res.Checkpoints, "bridge-42161-8453")
	require.GreaterOrEqual(t, barrier, 0)
	assert.Less(t, barrier, bridged)
}

func TestRebalance_CrossChainWithoutZapOutIsEmpty(t *testing.T) {
	f := newFixture(t)
	f.a.SetUSDBalance(600)
	f.b.SetUSDBalance(100)
	f.c.SetUSDBalance(300)

	res, err := f.orchestrator().PortfolioAction(context.Background(), domain.ActionCrossChainRebalance, rebalanceParams("base"))
	require.NoError(t, err)
	assert.Empty(t, res.Calls)
	assert.Contains(t, res.Checkpoints, "endOfZapOutOnbase")
}

func TestRebalance_WithinThreshold(t *testing.T) {
	f := newFixture(t)
	f.a.SetUSDBalance(400)
	f.b.SetUSDBalance(200)
	f.c.SetUSDBalance(400)

	res, err := f.orchestrator().PortfolioAction(context.Background(), domain.ActionRebalance, rebalanceParams("arbitrum"))
	require.NoError(t, err)
	assert.Empty(t, res.Calls)
	assert.Empty(t, res.Checkpoints)
}

func TestRebalance_LocalFillIsCappedByBudget(t *testing.T) {
	a := testingpkg.NewMockAdapterFixture("arbitrum", "aave", "usdc").SetUSDBalance(700)
	b := testingpkg.NewMockAdapterFixture("arbitrum", "morpho", "usdc").SetUSDBalance(300)
	v := vaultOf(t, strategy.DenominationUSD, strategy.Category{
		Name: "stablecoin",
		Chains: []strategy.ChainAllocation{{Chain: "arbitrum", Positions: []strategy.Position{
			strategy.NewPosition(a, 0.5, "a"),
			strategy.NewPosition(b, 0.5, "b"),
		}}},
	})
	o := New(v, Dependencies{
		Prices:  testingpkg.NewMockPriceProvider(testingpkg.NewPriceFixtures()),
		Swapper: testingpkg.NewMockSwapper(),
		Bridges: testingpkg.NewMockBridgeSelector(),
	}, zerolog.Nop())

	_, err := o.PortfolioAction(context.Background(), domain.ActionLocalRebalance, rebalanceParams("arbitrum"))
	require.NoError(t, err)

	require.Len(t, a.ZapOuts(), 1)
	assert.InDelta(t, 0.2*1000/700, a.ZapOuts()[0].Percentage, 1e-9)
	require.Len(t, b.ZapIns(), 1)
	assert.InDelta(t, 198_804_000, float64(b.ZapIns()[0].Amount.Int64()), 2)
}

func TestRebalance_EthVaultRoutesThroughWeth(t *testing.T) {
	a := testingpkg.NewMockAdapterFixture("arbitrum", "aave", "weth").SetUSDBalance(7000)
	b := testingpkg.NewMockAdapterFixture("arbitrum", "morpho", "weth").SetUSDBalance(3000)
	v := vaultOf(t, strategy.DenominationETH, strategy.Category{
		Name: "eth",
		Chains: []strategy.ChainAllocation{{Chain: "arbitrum", Positions: []strategy.Position{
			strategy.NewPosition(a, 0.5, "a"),
			strategy.NewPosition(b, 0.5, "b"),
		}}},
	})
	o := New(v, Dependencies{
		Prices:  testingpkg.NewMockPriceProvider(testingpkg.NewPriceFixtures()),
		Swapper: testingpkg.NewMockSwapper(),
		Bridges: testingpkg.NewMockBridgeSelector(),
	}, zerolog.Nop())

	_, err := o.PortfolioAction(context.Background(), domain.ActionLocalRebalance, rebalanceParams("arbitrum"))
	require.NoError(t, err)

	assert.Equal(t, "weth", a.ZapOuts()[0].TokenOut.Symbol)
	require.Len(t, b.ZapIns(), 1)
	assert.Equal(t, "weth", b.ZapIns()[0].TokenIn.Symbol)
	// 1988.04 USD at 3000 per weth
	assert.InDelta(t, 0.66268, float64(b.ZapIns()[0].Amount.Int64())/1e18, 1e-6)
}

type flakyAdapter struct {
	*testingpkg.MockAdapter
	mu       sync.Mutex
	failures int
}

func (f *flakyAdapter) ZapIn(ctx context.Context, params domain.ZapInParams) ([]domain.CallDescriptor, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, errors.New("quote expired")
	}
	f.mu.Unlock()
	return f.MockAdapter.ZapIn(ctx, params)
}

func diversifyFixture(t *testing.T, failures int) (*Orchestrator, *testingpkg.MockAdapter, *flakyAdapter) {
	a := testingpkg.NewMockAdapterFixture("arbitrum", "aave", "usdc")
	e := &flakyAdapter{MockAdapter: testingpkg.NewMockAdapterFixture("arbitrum", "moonwell", "weth"), failures: failures}
	v := vaultOf(t, strategy.DenominationUSD,
		strategy.Category{Name: "stablecoin", Chains: []strategy.ChainAllocation{
			{Chain: "arbitrum", Positions: []strategy.Position{strategy.NewPosition(a, 0.5, "a")}},
		}},
		strategy.Category{Name: "eth", Chains: []strategy.ChainAllocation{
			{Chain: "arbitrum", Positions: []strategy.Position{strategy.NewPosition(e, 0.5, "e")}},
		}},
	)
	o := New(v, Dependencies{
		Prices:     testingpkg.NewMockPriceProvider(testingpkg.NewPriceFixtures()),
		Swapper:    testingpkg.NewMockSwapper(),
		Bridges:    testingpkg.NewMockBridgeSelector(),
		RetryDelay: time.Millisecond,
	}, zerolog.Nop())
	return o, a, e
}

func TestDiversify_WidensSlippageOnRetry(t *testing.T) {
	o, a, e := diversifyFixture(t, 1)

	res, err := o.Diversify(context.Background(), usdcZapIn(1_000_000_000))
	require.NoError(t, err)

	assert.Equal(t, ActionDiversify, res.Action)
	assert.Equal(t, []string{"zapIn:arbitrum/aave/v1/usdc", "zapIn:arbitrum/moonwell/v1/weth"}, datas(res.Calls[1:]))
	assert.Equal(t, 1.0, a.ZapIns()[0].Slippage)
	assert.Equal(t, big.NewInt(498_505_000), a.ZapIns()[0].Amount)
	require.Len(t, e.ZapIns(), 1)
	assert.Equal(t, 3.0, e.ZapIns()[0].Slippage)
}

func TestDiversify_GivesUpAfterLadder(t *testing.T) {
	o, _, _ := diversifyFixture(t, 5)

	_, err := o.Diversify(context.Background(), usdcZapIn(1_000_000_000))
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to diversify into eth")
	assert.ErrorContains(t, err, "failed after 3 retries")
}

type fakeAPRs map[string]rebalanceapi.PoolAPR

func (f fakeAPRs) GetPoolAPR(ctx context.Context, uniqueID string) (rebalanceapi.PoolAPR, error) {
	p, ok := f[uniqueID]
	if !ok {
		return rebalanceapi.PoolAPR{}, errors.New("pool not found")
	}
	return p, nil
}

func TestMetadata(t *testing.T) {
	f := newFixture(t)
	f.a.SetLockUp(36 * time.Hour)
	f.d.SetLockUp(100 * time.Hour)
	f.a.SetPendingRewards(map[string]domain.RewardBalance{
		"0xarb": {Symbol: "arb", Balance: big.NewInt(10), USDDenominatedValue: 5},
	})

	o := f.orchestrator(func(d *Dependencies) {
		d.APRs = fakeAPRs{
			"arbitrum/aave/v1/usdc":   {Value: 0.1, TVL: 1_000_000},
			"arbitrum/morpho/v1/usdc": {Value: 0.05, TVL: 2_000_000},
		}
	})

	md, err := o.Metadata(context.Background(), testingpkg.TestOwner)
	require.NoError(t, err)

	assert.InDelta(t, 0.05, md.APR, 1e-9)
	assert.Equal(t, "3.00M", md.TVL)
	assert.Equal(t, 36*time.Hour, md.LockUpPeriod)
	assert.Equal(t, "1 d 12 h", md.LockUp)
	assert.Equal(t, 5.0, md.PendingRewards.USDBalance)
	assert.NotContains(t, md.PoolAPRs, "base/aave/v1/usdc")
}

func TestPortfolioAction_EmitsEventsAndMetrics(t *testing.T) {
	f := newFixture(t)
	bus := events.NewBus(zerolog.Nop())
	m := metrics.New(prometheus.NewRegistry())

	var (
		mu          sync.Mutex
		completed   []*events.Event
		checkpoints []string
	)
	bus.Subscribe(events.ActionCompleted, func(e *events.Event) {
		mu.Lock()
		defer mu.Unlock()
		completed = append(completed, e)
	})
	bus.Subscribe(events.CheckpointReached, func(e *events.Event) {
		mu.Lock()
		defer mu.Unlock()
		checkpoints = append(checkpoints, e.Data["node_id"].(string))
	})

	o := f.orchestrator(func(d *Dependencies) {
		d.Events = events.NewManager(bus, zerolog.Nop())
		d.Metrics = m
	})
	res, err := o.PortfolioAction(context.Background(), domain.ActionZapIn, usdcZapIn(1_000_000_000))
	require.NoError(t, err)

	require.Len(t, completed, 1)
	data, ok := completed[0].Typed().(*events.ActionData)
	require.True(t, ok)
	assert.Equal(t, res.ID, data.ActionID)
	assert.Equal(t, len(res.Calls), data.Calls)
	assert.Contains(t, checkpoints, "bridge-42161-8453")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActionsCounter("zapIn", "ok")))
}

func TestPortfolioAction_ForwardsProgress(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	var seen []string
	params := usdcZapIn(1_000_000_000)
	params.Progress = func(id string, loss float64) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, id)
	}

	_, err := f.orchestrator().PortfolioAction(context.Background(), domain.ActionZapIn, params)
	require.NoError(t, err)
	assert.Equal(t, []string{"bridge-42161-8453"}, seen)
}
