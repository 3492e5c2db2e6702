package bridge

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/rebalancer/internal/clients/across"
	"github.com/aristath/rebalancer/internal/clients/squid"
	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/evm"
	"github.com/aristath/rebalancer/internal/metrics"
)

const owner = "0x00000000000000000000000000000000000000aa"

var (
	arbUSDC  = domain.Token{Symbol: "usdc", Address: "0xaf88d065e77c8cc2239327c5edb3a432268e5831", Decimals: 6}
	baseUSDC = domain.Token{Symbol: "usdc", Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6}
)

func usdcRequest() Request {
	return Request{
		Owner:         owner,
		FromChainID:   42161,
		ToChainID:     8453,
		FromToken:     arbUSDC,
		ToToken:       baseUSDC,
		Amount:        big.NewInt(100_000_000),
		TokenPriceUSD: 1,
	}
}

type fakeAcross struct {
	fee *big.Int
	err error
}

func (f *fakeAcross) GetSuggestedFees(context.Context, across.FeeRequest) (*across.SuggestedFees, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &across.SuggestedFees{TotalRelayFee: f.fee, QuoteTimestamp: 1700000000}, nil
}

type fakeSquid struct {
	mu    sync.Mutex
	calls int
	route *squid.Route
	err   error
}

func (f *fakeSquid) GetRoute(context.Context, squid.RouteRequest) (*squid.Route, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.route, f.err
}

type stubBridge struct {
	name string
	fee  float64
	err  error
}

func (s stubBridge) Name() string { return s.name }

func (s stubBridge) FeeUSD(context.Context, Request) (float64, error) { return s.fee, s.err }

func (s stubBridge) BuildCalls(context.Context, Request, domain.ProgressFunc) ([]domain.CallDescriptor, error) {
	return []domain.CallDescriptor{{To: s.name}}, nil
}

func TestIsBridgeSafe(t *testing.T) {
	assert.True(t, IsBridgeSafe("USDC"))
	assert.True(t, IsBridgeSafe("weth"))
	assert.False(t, IsBridgeSafe("eth"))
	assert.False(t, IsBridgeSafe("arb"))
}

func TestSelector_PicksLowestFee(t *testing.T) {
	s := NewSelector([]Bridge{
		stubBridge{name: "expensive", fee: 4.2},
		stubBridge{name: "broken", err: errors.New("down")},
		stubBridge{name: "cheap", fee: 0.8},
	}, metrics.New(prometheus.NewRegistry()), zerolog.Nop())

	b, err := s.GetBestBridge(context.Background(), usdcRequest())
	require.NoError(t, err)
	assert.Equal(t, "cheap", b.Name())

	calls, err := s.BridgeCalls(context.Background(), usdcRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, "cheap", calls[0].To)
}

func TestSelector_NoBridge(t *testing.T) {
	s := NewSelector([]Bridge{
		stubBridge{name: "broken", err: errors.New("down")},
	}, nil, zerolog.Nop())

	_, err := s.GetBestBridge(context.Background(), usdcRequest())
	assert.ErrorIs(t, err, domain.ErrNoBridge)
}

func TestSelector_RejectsSameChain(t *testing.T) {
	s := NewSelector([]Bridge{stubBridge{name: "a"}}, nil, zerolog.Nop())
	req := usdcRequest()
	req.ToChainID = req.FromChainID

	_, err := s.GetBestBridge(context.Background(), req)
	assert.Error(t, err)
}

func TestAcross_BuildCalls(t *testing.T) {
	a := NewAcross(&fakeAcross{fee: big.NewInt(250_000)}, zerolog.Nop())
	now := time.Unix(1_700_000_000, 0)
	a.now = func() time.Time { return now }

	var gotID string
	var gotLoss float64
	calls, err := a.BuildCalls(context.Background(), usdcRequest(), func(id string, loss float64) {
		gotID, gotLoss = id, loss
	})
	require.NoError(t, err)
	require.Len(t, calls, 2)

	assert.Equal(t, "bridge-42161-8453", gotID)
	assert.InDelta(t, -0.25, gotLoss, 1e-9)

	spoke := SpokePools["arbitrum"]
	assert.Equal(t, arbUSDC.Address, calls[0].To)
	assert.Equal(t, evm.HexEncode(evm.EncodeApprove(spoke, big.NewInt(100_000_000))), calls[0].Data)
	assert.Equal(t, spoke, calls[1].To)
	assert.Equal(t, 42161, calls[1].ChainID)

	data, err := evm.HexDecode(calls[1].Data)
	require.NoError(t, err)
	require.Len(t, data, 4+13*32)
	word := func(i int) []byte { return data[4+i*32 : 4+(i+1)*32] }
	assert.Equal(t, "99750000", evm.DecodeUint256(word(5)).String())
	assert.Equal(t, "8453", evm.DecodeUint256(word(6)).String())
	assert.Equal(t, now.Unix()+18000, evm.DecodeUint256(word(9)).Int64())
}

func TestAcross_FeeUSD(t *testing.T) {
	a := NewAcross(&fakeAcross{fee: big.NewInt(1_500_000)}, zerolog.Nop())

	fee, err := a.FeeUSD(context.Background(), usdcRequest())
	require.NoError(t, err)
	assert.InDelta(t, 1.5, fee, 1e-9)
}

func TestAcross_FeeExceedsAmount(t *testing.T) {
	a := NewAcross(&fakeAcross{fee: big.NewInt(200_000_000)}, zerolog.Nop())

	_, err := a.BuildCalls(context.Background(), usdcRequest(), nil)
	assert.Error(t, err)
}

func TestAcross_UnsupportedChain(t *testing.T) {
	a := NewAcross(&fakeAcross{fee: big.NewInt(1)}, zerolog.Nop())
	req := usdcRequest()
	req.FromChainID = 56

	_, err := a.FeeUSD(context.Background(), req)
	assert.Error(t, err)
}

func TestSquid_ReusesRouteBetweenQuoteAndBuild(t *testing.T) {
	api := &fakeSquid{route: &squid.Route{
		Target: "0xce16F69375520ab01377ce7B88f5BA8C48F8D666",
		Data:   "0xabcdef",
		Value:  "0",
		FeeUSD: 0.42,
	}}
	s := NewSquid(api, zerolog.Nop())

	fee, err := s.FeeUSD(context.Background(), usdcRequest())
	require.NoError(t, err)
	assert.Equal(t, 0.42, fee)

	var gotLoss float64
	calls, err := s.BuildCalls(context.Background(), usdcRequest(), func(_ string, loss float64) { gotLoss = loss })
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, 1, api.calls)
	assert.Equal(t, -0.42, gotLoss)
	assert.True(t, strings.EqualFold(calls[1].To, "0xce16F69375520ab01377ce7B88f5BA8C48F8D666"))
	assert.Empty(t, calls[1].Value)
}

func TestSquid_BuildConsumesQuotedRoute(t *testing.T) {
	api := &fakeSquid{route: &squid.Route{Target: "0xce16F69375520ab01377ce7B88f5BA8C48F8D666", Data: "0xold"}}
	s := NewSquid(api, zerolog.Nop())

	_, err := s.FeeUSD(context.Background(), usdcRequest())
	require.NoError(t, err)
	calls, err := s.BuildCalls(context.Background(), usdcRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, "0xold", calls[1].Data)
	assert.Equal(t, 1, api.calls)

	api.route = &squid.Route{Target: "0xce16F69375520ab01377ce7B88f5BA8C48F8D666", Data: "0xnew"}
	calls, err = s.BuildCalls(context.Background(), usdcRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, "0xnew", calls[1].Data)
	assert.Equal(t, 2, api.calls)
}

func TestSquid_QuotedRouteExpires(t *testing.T) {
	api := &fakeSquid{route: &squid.Route{Target: "0xce16F69375520ab01377ce7B88f5BA8C48F8D666", Data: "0xold"}}
	s := NewSquid(api, zerolog.Nop())
	now := time.Unix(1700000000, 0)
	s.now = func() time.Time { return now }

	_, err := s.FeeUSD(context.Background(), usdcRequest())
	require.NoError(t, err)

	now = now.Add(RouteTTL)
	api.route = &squid.Route{Target: "0xce16F69375520ab01377ce7B88f5BA8C48F8D666", Data: "0xnew"}
	calls, err := s.BuildCalls(context.Background(), usdcRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, "0xnew", calls[1].Data)
	assert.Equal(t, 2, api.calls)
}

func TestSquid_Error(t *testing.T) {
	s := NewSquid(&fakeSquid{err: errors.New("429")}, zerolog.Nop())

	_, err := s.FeeUSD(context.Background(), usdcRequest())
	assert.Error(t, err)
}
