package orchestrator

import (
	"context"
	"math/big"
	"strings"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/evm"
)

// Platform fee and referral constants.
const (
	FeeNumerator   = 299
	FeeDenominator = 100000
	// SwapFeeRate is FeeNumerator/FeeDenominator as a float for USD math.
	SwapFeeRate = 0.00299

	ReferrerShareNumerator   = 7
	ReferrerShareDenominator = 10

	TreasuryAddress = "0x2eCBC6f229feD06044CDb0dD772437a30190CD50"
)

// platformFee is the fee charged on a raw amount.
func platformFee(amount *big.Int) *big.Int {
	return evm.MulRatio(amount, FeeNumerator, FeeDenominator)
}

// feeCalls transfers fee of token to the treasury, splitting it with the
// owner's referrer when there is one.
func (o *Orchestrator) feeCalls(ctx context.Context, chainID int, owner string, token domain.Token, fee *big.Int) []domain.CallDescriptor {
	if fee == nil || fee.Sign() <= 0 {
		return nil
	}

	referrer := o.referrer(ctx, owner)
	if referrer == "" {
		return []domain.CallDescriptor{evm.Transfer(chainID, token, TreasuryAddress, fee)}
	}

	toReferrer := evm.MulRatio(fee, ReferrerShareNumerator, ReferrerShareDenominator)
	toTreasury := new(big.Int).Sub(fee, toReferrer)

	var calls []domain.CallDescriptor
	if toReferrer.Sign() > 0 {
		calls = append(calls, evm.Transfer(chainID, token, referrer, toReferrer))
	}
	if toTreasury.Sign() > 0 {
		calls = append(calls, evm.Transfer(chainID, token, TreasuryAddress, toTreasury))
	}
	return calls
}

// referrer resolves the referrer of owner. A failed lookup is logged and
// treated as no referrer so the fee still reaches the treasury.
func (o *Orchestrator) referrer(ctx context.Context, owner string) string {
	if o.referrals == nil {
		return ""
	}
	ref, err := o.referrals.GetReferrer(ctx, owner)
	if err != nil {
		o.log.Warn().Err(err).Str("owner", owner).Msg("Referrer lookup failed, charging treasury only")
		return ""
	}
	if ref == "" || evm.IsNative(ref) || strings.EqualFold(ref, evm.NullAddress) {
		return ""
	}
	return ref
}
