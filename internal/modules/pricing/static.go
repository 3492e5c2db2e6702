package pricing

import (
	"math"
	"strings"
	"time"
)

// StaticPrices are pegged assets that are never fetched.
var StaticPrices = map[string]float64{
	"usd":  1,
	"usdc": 1,
	"usdt": 1,
	"dai":  1,
	"frax": 0.997,
	"usde": 1,
	"usdx": 0.9971,
	"gho":  0.9986,
	"susd": 0.9837,
}

// CompoundingAsset is a wrapped stable whose price drifts upward with a
// fixed APR compounded daily from a reference point.
type CompoundingAsset struct {
	Symbol    string
	BasePrice float64
	BaseTime  time.Time
	APR       float64
}

// PriceAt returns the compounded price at t, never below BasePrice.
func (a CompoundingAsset) PriceAt(t time.Time) float64 {
	days := math.Floor(t.Sub(a.BaseTime).Hours() / 24)
	if days <= 0 {
		return a.BasePrice
	}
	return a.BasePrice * math.Pow(1+a.APR/365, days)
}

// Savings USDS reference point.
const (
	SUSDSBasePrice = 1.0
	SUSDSAPR       = 0.065
)

// SUSDSBaseTime is the launch of the savings vault.
var SUSDSBaseTime = time.Date(2024, time.September, 18, 0, 0, 0, 0, time.UTC)

// DefaultCompoundingAssets lists the drifting stables priced without a network call.
var DefaultCompoundingAssets = []CompoundingAsset{
	{Symbol: "susds", BasePrice: SUSDSBasePrice, BaseTime: SUSDSBaseTime, APR: SUSDSAPR},
}

// StaticTable resolves pegged and compounding prices at a point in time.
type StaticTable struct {
	pegged      map[string]float64
	compounding map[string]CompoundingAsset
}

// NewStaticTable builds a table from the pegged map and compounding assets.
func NewStaticTable(pegged map[string]float64, compounding []CompoundingAsset) *StaticTable {
	t := &StaticTable{
		pegged:      make(map[string]float64, len(pegged)),
		compounding: make(map[string]CompoundingAsset, len(compounding)),
	}
	for k, v := range pegged {
		t.pegged[strings.ToLower(k)] = v
	}
	for _, a := range compounding {
		t.compounding[strings.ToLower(a.Symbol)] = a
	}
	return t
}

// DefaultStaticTable is the table used in production.
func DefaultStaticTable() *StaticTable {
	return NewStaticTable(StaticPrices, DefaultCompoundingAssets)
}

// Lookup returns the static price for token at now.
func (t *StaticTable) Lookup(token string, now time.Time) (float64, bool) {
	key := strings.ToLower(token)
	if p, ok := t.pegged[key]; ok {
		return p, true
	}
	if a, ok := t.compounding[key]; ok {
		return a.PriceAt(now), true
	}
	return 0, false
}

// Snapshot returns every static price at now.
func (t *StaticTable) Snapshot(now time.Time) map[string]float64 {
	out := make(map[string]float64, len(t.pegged)+len(t.compounding))
	for k, v := range t.pegged {
		out[k] = v
	}
	for k, a := range t.compounding {
		out[k] = a.PriceAt(now)
	}
	return out
}
