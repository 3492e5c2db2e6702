package protocols

import (
	"context"
	"fmt"
	"math/big"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/evm"
)

// KindAaveV3 is the strategy file kind of an Aave v3 supply position.
const KindAaveV3 = "aavev3"

// AaveV3 supplies a single asset to an Aave v3 pool. The aToken tracks the
// supplied asset 1:1.
type AaveV3 struct {
	Base
	pool   string
	aToken string
}

// NewAaveV3 creates a pool adapter.
func NewAaveV3(base Base, pool, aToken string) (*AaveV3, error) {
	if pool == "" || aToken == "" {
		return nil, fmt.Errorf("%s: pool and aToken addresses are required", base.UniqueID())
	}
	return &AaveV3{Base: base, pool: pool, aToken: aToken}, nil
}

func (a *AaveV3) Kind() string { return KindAaveV3 }

func (a *AaveV3) AssetBalanceOf(ctx context.Context, owner string) (*big.Int, error) {
	bal, err := a.reader.BalanceOf(ctx, a.aToken, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s aToken balance: %w", a.UniqueID(), err)
	}
	return bal, nil
}

func (a *AaveV3) USDBalanceOf(ctx context.Context, owner string, prices domain.PriceTable) (float64, error) {
	bal, err := a.AssetBalanceOf(ctx, owner)
	if err != nil {
		return 0, err
	}
	return a.assetUSD(bal, prices), nil
}

func (a *AaveV3) ZapIn(ctx context.Context, p domain.ZapInParams) ([]domain.CallDescriptor, error) {
	calls, amount, err := a.swapIn(ctx, p)
	if err != nil {
		return nil, err
	}

	approve, err := evm.Approve(a.chainID, a.asset.Address, a.pool, amount)
	if err != nil {
		return nil, err
	}
	p.Progress.Report(a.checkpoint("approve"), 0)

	calls = append(calls, approve, evm.Call(a.chainID, a.pool, evm.EncodeAaveSupply(a.asset.Address, amount, p.Owner)))
	p.Progress.Report(a.checkpoint("deposit"), 0)
	return calls, nil
}

func (a *AaveV3) ZapOut(ctx context.Context, p domain.ZapOutParams) ([]domain.CallDescriptor, error) {
	bal, err := a.AssetBalanceOf(ctx, p.Owner)
	if err != nil {
		return nil, err
	}
	amount := evm.MulFraction(bal, p.Percentage)
	if amount.Sign() == 0 {
		return nil, nil
	}

	calls := []domain.CallDescriptor{evm.Call(a.chainID, a.pool, evm.EncodeAaveWithdraw(a.asset.Address, amount, p.Owner))}
	p.Progress.Report(a.checkpoint("withdraw"), 0)

	swaps, err := a.swapOut(ctx, p, amount)
	if err != nil {
		return nil, err
	}
	return append(calls, swaps...), nil
}

func (a *AaveV3) Transfer(ctx context.Context, p domain.TransferParams) ([]domain.CallDescriptor, error) {
	bal, err := a.AssetBalanceOf(ctx, p.Owner)
	if err != nil {
		return nil, err
	}
	amount := evm.MulFraction(bal, p.Percentage)
	if amount.Sign() == 0 {
		return nil, nil
	}

	receipt := domain.Token{Symbol: "a" + a.asset.Symbol, Address: a.aToken, Decimals: a.asset.Decimals}
	p.Progress.Report(a.checkpoint("transfer"), 0)
	return []domain.CallDescriptor{evm.Transfer(a.chainID, receipt, p.Recipient, amount)}, nil
}
