package protocols

import (
	"context"
	"fmt"
	"math/big"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/evm"
)

// KindERC4626 is the strategy file kind of an ERC-4626 vault position.
const KindERC4626 = "erc4626"

// ERC4626 is a tokenized vault whose share token is the vault contract.
type ERC4626 struct {
	Base
	vault string
}

// NewERC4626 creates a vault adapter.
func NewERC4626(base Base, vault string) (*ERC4626, error) {
	if vault == "" {
		return nil, fmt.Errorf("%s: vault address is required", base.UniqueID())
	}
	return &ERC4626{Base: base, vault: vault}, nil
}

func (v *ERC4626) Kind() string { return KindERC4626 }

// AssetBalanceOf returns the owner's share balance.
func (v *ERC4626) AssetBalanceOf(ctx context.Context, owner string) (*big.Int, error) {
	shares, err := v.reader.BalanceOf(ctx, v.vault, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s shares: %w", v.UniqueID(), err)
	}
	return shares, nil
}

func (v *ERC4626) sharesToAssets(ctx context.Context, shares *big.Int) (*big.Int, error) {
	if shares.Sign() == 0 {
		return new(big.Int), nil
	}
	assets, err := v.reader.CallUint256(ctx, v.vault, evm.EncodeConvertToAssets(shares))
	if err != nil {
		return nil, fmt.Errorf("failed to convert %s shares: %w", v.UniqueID(), err)
	}
	return assets, nil
}

// USDBalanceOf values the shares at the vault's current exchange rate.
func (v *ERC4626) USDBalanceOf(ctx context.Context, owner string, prices domain.PriceTable) (float64, error) {
	shares, err := v.AssetBalanceOf(ctx, owner)
	if err != nil {
		return 0, err
	}
	assets, err := v.sharesToAssets(ctx, shares)
	if err != nil {
		return 0, err
	}
	return v.assetUSD(assets, prices), nil
}

// ZapIn swaps into the asset when needed, then approves and deposits.
func (v *ERC4626) ZapIn(ctx context.Context, p domain.ZapInParams) ([]domain.CallDescriptor, error) {
	calls, amount, err := v.swapIn(ctx, p)
	if err != nil {
		return nil, err
	}

	approve, err := evm.Approve(v.chainID, v.asset.Address, v.vault, amount)
	if err != nil {
		return nil, err
	}
	p.Progress.Report(v.checkpoint("approve"), 0)

	calls = append(calls, approve, evm.Call(v.chainID, v.vault, evm.EncodeVaultDeposit(amount, p.Owner)))
	p.Progress.Report(v.checkpoint("deposit"), 0)

	v.log.Debug().Str("amount", amount.String()).Msg("Built vault deposit")
	return calls, nil
}

// ZapOut redeems a fraction of the shares and swaps the expected assets,
// net of slippage, into the output token.
func (v *ERC4626) ZapOut(ctx context.Context, p domain.ZapOutParams) ([]domain.CallDescriptor, error) {
	balance, err := v.AssetBalanceOf(ctx, p.Owner)
	if err != nil {
		return nil, err
	}
	shares := evm.MulFraction(balance, p.Percentage)
	if shares.Sign() == 0 {
		return nil, nil
	}

	assets, err := v.sharesToAssets(ctx, shares)
	if err != nil {
		return nil, err
	}

	calls := []domain.CallDescriptor{evm.Call(v.chainID, v.vault, evm.EncodeVaultRedeem(shares, p.Owner, p.Owner))}
	p.Progress.Report(v.checkpoint("withdraw"), 0)

	swaps, err := v.swapOut(ctx, p, afterSlippage(assets, p.Slippage))
	if err != nil {
		return nil, err
	}
	return append(calls, swaps...), nil
}

// Transfer sends a fraction of the shares to the recipient.
func (v *ERC4626) Transfer(ctx context.Context, p domain.TransferParams) ([]domain.CallDescriptor, error) {
	balance, err := v.AssetBalanceOf(ctx, p.Owner)
	if err != nil {
		return nil, err
	}
	shares := evm.MulFraction(balance, p.Percentage)
	if shares.Sign() == 0 {
		return nil, nil
	}

	share := domain.Token{Symbol: v.asset.Symbol, Address: v.vault, Decimals: v.asset.Decimals}
	p.Progress.Report(v.checkpoint("transfer"), 0)
	return []domain.CallDescriptor{evm.Transfer(v.chainID, share, p.Recipient, shares)}, nil
}

// afterSlippage discounts amount by slippage percent.
func afterSlippage(amount *big.Int, slippage float64) *big.Int {
	if slippage <= 0 {
		return amount
	}
	return evm.MulFraction(amount, (100-slippage)/100)
}
