package evm

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// FromRaw converts a raw integer amount into whole token units.
func FromRaw(raw *big.Int, decimals int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals))
}

// ToRaw converts whole token units into the raw integer amount, truncating
// anything below one base unit.
func ToRaw(amount decimal.Decimal, decimals int) *big.Int {
	return amount.Shift(int32(decimals)).Truncate(0).BigInt()
}

// USDValue prices a raw amount.
func USDValue(raw *big.Int, decimals int, price float64) float64 {
	v, _ := FromRaw(raw, decimals).Mul(decimal.NewFromFloat(price)).Float64()
	return v
}

// RawFromUSD converts a USD amount into raw units of a token priced at price.
func RawFromUSD(usd, price float64, decimals int) *big.Int {
	if price <= 0 || usd <= 0 {
		return new(big.Int)
	}
	return ToRaw(decimal.NewFromFloat(usd).Div(decimal.NewFromFloat(price)), decimals)
}

// MulFraction scales a raw amount by a fraction, truncating toward zero.
func MulFraction(raw *big.Int, fraction float64) *big.Int {
	if raw == nil || fraction <= 0 {
		return new(big.Int)
	}
	return decimal.NewFromBigInt(raw, 0).Mul(decimal.NewFromFloat(fraction)).Truncate(0).BigInt()
}

// MulRatio scales a raw amount by num/den using integer math.
func MulRatio(raw *big.Int, num, den int64) *big.Int {
	out := new(big.Int).Mul(raw, big.NewInt(num))
	return out.Quo(out, big.NewInt(den))
}
