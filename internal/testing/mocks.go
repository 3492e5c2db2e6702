package testing

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/bridge"
)

// MockAdapter is a configurable in-memory ProtocolAdapter. Every action
// returns one call descriptor whose Data is "{action}:{uniqueId}" so tests
// can assert batch order, and the params of each call are recorded.
type MockAdapter struct {
	mu sync.RWMutex

	protocol string
	chain    string
	chainID  int
	asset    domain.Token
	rewards  []domain.Token

	usdBalance   float64
	assetBalance *big.Int
	pending      map[string]domain.RewardBalance
	lockUp       time.Duration
	err          error
	actionErr    error

	zapIns    []domain.ZapInParams
	zapOuts   []domain.ZapOutParams
	transfers []domain.TransferParams
	stakes    []domain.StakeParams
	claims    []domain.ClaimParams
	balances  int
}

// NewMockAdapter creates an adapter whose unique id is
// "{chain}/{protocol}/v1/{asset symbol}".
func NewMockAdapter(chain string, chainID int, protocol string, asset domain.Token) *MockAdapter {
	return &MockAdapter{
		protocol:     protocol,
		chain:        chain,
		chainID:      chainID,
		asset:        asset,
		assetBalance: big.NewInt(0),
		pending:      make(map[string]domain.RewardBalance),
	}
}

// SetUSDBalance sets the balance returned by USDBalanceOf.
func (m *MockAdapter) SetUSDBalance(v float64) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usdBalance = v
	return m
}

// SetAssetBalance sets the raw balance returned by AssetBalanceOf.
func (m *MockAdapter) SetAssetBalance(v *big.Int) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assetBalance = v
	return m
}

// SetPendingRewards sets the rewards keyed by token address.
func (m *MockAdapter) SetPendingRewards(r map[string]domain.RewardBalance) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = r
	return m
}

// SetLockUp sets the lock-up period.
func (m *MockAdapter) SetLockUp(d time.Duration) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockUp = d
	return m
}

// SetError makes every read fail with err.
func (m *MockAdapter) SetError(err error) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// SetActionError makes every call-producing method fail with err.
func (m *MockAdapter) SetActionError(err error) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actionErr = err
	return m
}

func (m *MockAdapter) UniqueID() string {
	return fmt.Sprintf("%s/%s/v1/%s", m.chain, m.protocol, m.asset.Symbol)
}

func (m *MockAdapter) Kind() string                 { return "mock" }
func (m *MockAdapter) Chain() string                { return m.chain }
func (m *MockAdapter) ChainID() int                 { return m.chainID }
func (m *MockAdapter) Mode() string                 { return "single" }
func (m *MockAdapter) Asset() domain.Token          { return m.asset }
func (m *MockAdapter) RewardTokens() []domain.Token { return m.rewards }

func (m *MockAdapter) USDBalanceOf(ctx context.Context, owner string, prices domain.PriceTable) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances++
	if m.err != nil {
		return 0, m.err
	}
	return m.usdBalance, nil
}

func (m *MockAdapter) AssetBalanceOf(ctx context.Context, owner string) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	return new(big.Int).Set(m.assetBalance), nil
}

func (m *MockAdapter) PendingRewards(ctx context.Context, owner string, prices domain.PriceTable, progress domain.ProgressFunc) (map[string]domain.RewardBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]domain.RewardBalance, len(m.pending))
	for k, v := range m.pending {
		out[k] = v
	}
	return out, nil
}

func (m *MockAdapter) LockUpPeriod(ctx context.Context, owner string) (time.Duration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lockUp, m.err
}

func (m *MockAdapter) call(action domain.ActionName) domain.CallDescriptor {
	return domain.CallDescriptor{
		To:      m.asset.Address,
		Data:    fmt.Sprintf("%s:%s", action, m.UniqueID()),
		ChainID: m.chainID,
	}
}

func (m *MockAdapter) ZapIn(ctx context.Context, params domain.ZapInParams) ([]domain.CallDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.actionErr != nil {
		return nil, m.actionErr
	}
	m.zapIns = append(m.zapIns, params)
	return []domain.CallDescriptor{m.call(domain.ActionZapIn)}, nil
}

func (m *MockAdapter) ZapOut(ctx context.Context, params domain.ZapOutParams) ([]domain.CallDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.actionErr != nil {
		return nil, m.actionErr
	}
	m.zapOuts = append(m.zapOuts, params)
	return []domain.CallDescriptor{m.call(domain.ActionZapOut)}, nil
}

func (m *MockAdapter) Stake(ctx context.Context, params domain.StakeParams) ([]domain.CallDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.actionErr != nil {
		return nil, m.actionErr
	}
	m.stakes = append(m.stakes, params)
	return []domain.CallDescriptor{m.call(domain.ActionStake)}, nil
}

func (m *MockAdapter) Transfer(ctx context.Context, params domain.TransferParams) ([]domain.CallDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.actionErr != nil {
		return nil, m.actionErr
	}
	m.transfers = append(m.transfers, params)
	return []domain.CallDescriptor{m.call(domain.ActionTransfer)}, nil
}

func (m *MockAdapter) ClaimAndSwap(ctx context.Context, params domain.ClaimParams) ([]domain.CallDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.actionErr != nil {
		return nil, m.actionErr
	}
	m.claims = append(m.claims, params)
	return []domain.CallDescriptor{m.call(domain.ActionClaimAndSwap)}, nil
}

// FlowChartSteps returns a fixed step list per action.
func (m *MockAdapter) FlowChartSteps(action domain.ActionName, token domain.Token) []domain.FlowStep {
	switch action {
	case domain.ActionZapIn:
		return []domain.FlowStep{{Suffix: "approve", Name: "Approve"}, {Suffix: "deposit", Name: "Deposit " + m.asset.Symbol}}
	case domain.ActionZapOut:
		return []domain.FlowStep{{Suffix: "withdraw", Name: "Withdraw"}}
	case domain.ActionClaimAndSwap:
		return []domain.FlowStep{{Suffix: "claim", Name: "Claim Rewards"}}
	case domain.ActionStake:
		return []domain.FlowStep{{Suffix: "stake", Name: "Stake"}}
	case domain.ActionTransfer:
		return []domain.FlowStep{{Suffix: "transfer", Name: "Transfer"}}
	}
	return nil
}

// ZapIns returns the recorded zapIn params.
func (m *MockAdapter) ZapIns() []domain.ZapInParams {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.ZapInParams(nil), m.zapIns...)
}

// ZapOuts returns the recorded zapOut params.
func (m *MockAdapter) ZapOuts() []domain.ZapOutParams {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.ZapOutParams(nil), m.zapOuts...)
}

// Transfers returns the recorded transfer params.
func (m *MockAdapter) Transfers() []domain.TransferParams {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.TransferParams(nil), m.transfers...)
}

// Stakes returns the recorded stake params.
func (m *MockAdapter) Stakes() []domain.StakeParams {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.StakeParams(nil), m.stakes...)
}

// Claims returns the recorded claim params.
func (m *MockAdapter) Claims() []domain.ClaimParams {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.ClaimParams(nil), m.claims...)
}

// BalanceReads counts USDBalanceOf calls.
func (m *MockAdapter) BalanceReads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances
}

// MockPriceProvider returns a fixed price table.
type MockPriceProvider struct {
	mu     sync.Mutex
	prices domain.PriceTable
	err    error
	calls  int
}

// NewMockPriceProvider creates a provider serving prices.
func NewMockPriceProvider(prices domain.PriceTable) *MockPriceProvider {
	return &MockPriceProvider{prices: prices}
}

// SetError makes Prices fail.
func (m *MockPriceProvider) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Prices returns a copy of the configured table.
func (m *MockPriceProvider) Prices(ctx context.Context) (domain.PriceTable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.prices.Clone(), nil
}

// Calls counts Prices invocations.
func (m *MockPriceProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockSwapper records swap requests and returns a two-call result
// ("approve:{from}", "swap:{from}-{to}") with MinToAmount equal to the input
// scaled between decimals.
type MockSwapper struct {
	mu       sync.Mutex
	requests []domain.SwapRequest
	err      error
}

// NewMockSwapper creates a swapper that succeeds.
func NewMockSwapper() *MockSwapper {
	return &MockSwapper{}
}

// SetError makes Swap fail.
func (m *MockSwapper) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Swap records the request.
func (m *MockSwapper) Swap(ctx context.Context, req domain.SwapRequest) (*domain.SwapResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.From.SameAddress(req.To) {
		return nil, nil
	}
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}

	out := new(big.Int).Set(req.Amount)
	if diff := req.To.Decimals - req.From.Decimals; diff > 0 {
		out.Mul(out, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(diff)), nil))
	} else if diff < 0 {
		out.Quo(out, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-diff)), nil))
	}

	checkpoint := fmt.Sprintf("%s-%s-%s-swap", req.CheckpointPrefix, req.From.Key(), req.To.Key())
	req.Progress.Report(checkpoint, 0)

	return &domain.SwapResult{
		Provider: "mock",
		Calls: []domain.CallDescriptor{
			{To: req.From.Address, Data: "approve:" + req.From.Key(), ChainID: req.ChainID},
			{To: "0xrouter", Data: fmt.Sprintf("swap:%s-%s", req.From.Key(), req.To.Key()), ChainID: req.ChainID},
		},
		MinToAmount: out,
	}, nil
}

// Requests returns the recorded swap requests.
func (m *MockSwapper) Requests() []domain.SwapRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.SwapRequest(nil), m.requests...)
}

// MockBridgeSelector records bridge requests and returns an approve and a
// bridge call per request, reporting bridge.CheckpointID as it goes.
type MockBridgeSelector struct {
	mu       sync.Mutex
	requests []bridge.Request
	err      error
}

// NewMockBridgeSelector creates a bridge selector that succeeds.
func NewMockBridgeSelector() *MockBridgeSelector {
	return &MockBridgeSelector{}
}

// SetError makes BridgeCalls fail.
func (m *MockBridgeSelector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// BridgeCalls records the request.
func (m *MockBridgeSelector) BridgeCalls(ctx context.Context, req bridge.Request, progress domain.ProgressFunc) ([]domain.CallDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	progress.Report(bridge.CheckpointID(req.FromChainID, req.ToChainID), 0)
	return []domain.CallDescriptor{
		{To: req.FromToken.Address, Data: "approve:" + req.FromToken.Key(), ChainID: req.FromChainID},
		{To: "0xbridge", Data: fmt.Sprintf("bridge:%d-%d", req.FromChainID, req.ToChainID), ChainID: req.FromChainID},
	}, nil
}

// Requests returns the recorded bridge requests.
func (m *MockBridgeSelector) Requests() []bridge.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bridge.Request(nil), m.requests...)
}

// MockReferrals resolves a fixed referrer per owner.
type MockReferrals struct {
	Referrers map[string]string
	Err       error
}

// GetReferrer returns the configured referrer or "".
func (m *MockReferrals) GetReferrer(ctx context.Context, owner string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	return m.Referrers[owner], nil
}
