// Package rebalancing computes how far each position has drifted from its
// target weight and which chains need to shed or receive capital.
package rebalancing

import (
	"math"
	"math/big"

	json "github.com/goccy/go-json"

	"github.com/aristath/rebalancer/internal/domain"
)

// RebalanceThreshold is the minimum absolute weight deviation that triggers
// a rebalance for a position or a chain.
const RebalanceThreshold = 0.01

// EndOfZapOutCheckpoint names the barrier between the zap-out and zap-in
// phases of a rebalance on chain.
func EndOfZapOutCheckpoint(chain string) string {
	return "endOfZapOutOn" + chain
}

// BalanceKey is the snapshot key of a position: "{uniqueId}/{kind}".
func BalanceKey(a domain.ProtocolAdapter) string {
	return a.UniqueID() + "/" + a.Kind()
}

// ProtocolBalance is one position's view in a snapshot. USDBalance keeps NaN
// when the adapter could not value the position.
type ProtocolBalance struct {
	Key              string  `json:"key"`
	UniqueID         string  `json:"uniqueId"`
	Category         string  `json:"category"`
	Chain            string  `json:"chain"`
	USDBalance       float64 `json:"usdBalance"`
	Weight           float64 `json:"weight"`
	CurrentWeight    float64 `json:"currentWeight"`
	WeightDiff       float64 `json:"weightDiff"`
	ZapOutPercentage float64 `json:"zapOutPercentage"`
	TotalUSDBalance  float64 `json:"totalUsdBalance"`
	APR              float64 `json:"APR"`
}

// Valued reports whether the balance is a real number.
func (b ProtocolBalance) Valued() bool {
	return !math.IsNaN(b.USDBalance)
}

type protocolBalanceJSON struct {
	Key              string   `json:"key"`
	UniqueID         string   `json:"uniqueId"`
	Category         string   `json:"category"`
	Chain            string   `json:"chain"`
	USDBalance       *float64 `json:"usdBalance"`
	Weight           float64  `json:"weight"`
	CurrentWeight    float64  `json:"currentWeight"`
	WeightDiff       float64  `json:"weightDiff"`
	ZapOutPercentage float64  `json:"zapOutPercentage"`
	TotalUSDBalance  float64  `json:"totalUsdBalance"`
	APR              float64  `json:"APR"`
}

// MarshalJSON renders an unvalued balance as null.
func (b ProtocolBalance) MarshalJSON() ([]byte, error) {
	out := protocolBalanceJSON{
		Key:              b.Key,
		UniqueID:         b.UniqueID,
		Category:         b.Category,
		Chain:            b.Chain,
		Weight:           b.Weight,
		CurrentWeight:    b.CurrentWeight,
		WeightDiff:       b.WeightDiff,
		ZapOutPercentage: b.ZapOutPercentage,
		TotalUSDBalance:  b.TotalUSDBalance,
		APR:              b.APR,
	}
	if b.Valued() {
		v := b.USDBalance
		out.USDBalance = &v
	}
	return json.Marshal(out)
}

// PendingRewards aggregates unclaimed rewards by token address.
type PendingRewards struct {
	Rewards    map[string]domain.RewardBalance `json:"pendingRewardsDict"`
	USDBalance float64                         `json:"usdBalance"`
}

// ChainAction is a chain that needs a rebalance and which kind.
type ChainAction struct {
	Chain      string            `json:"chain"`
	ActionName domain.ActionName `json:"actionName"`
	Diff       float64           `json:"diff"`
}

// Metadata holds the chain-level aggregates of a snapshot.
type Metadata struct {
	WeightDiffGroupByChain  map[string]float64 `json:"weightDiffGroupByChain"`
	RebalanceActionsByChain []ChainAction      `json:"rebalanceActionsByChain"`
	// NegativeWeightDiffSum is stored as an absolute value.
	NegativeWeightDiffSum float64 `json:"negativeWeightDiffSum"`
	PositiveWeightDiffSum float64 `json:"positiveWeightDiffSum"`
}

// ActionFor returns the rebalance action planned for chain, if any.
func (m Metadata) ActionFor(chain string) (domain.ActionName, bool) {
	for _, a := range m.RebalanceActionsByChain {
		if a.Chain == chain {
			return a.ActionName, true
		}
	}
	return "", false
}

// Snapshot is a point-in-time balance view. It is rebuilt on every call and
// never cached.
type Snapshot struct {
	Balances        []ProtocolBalance `json:"balances"`
	PendingRewards  PendingRewards    `json:"pendingRewards"`
	Metadata        Metadata          `json:"metadata"`
	TotalUSDBalance float64           `json:"totalUsdBalance"`

	index map[string]int
}

// Get returns the balance entry for an adapter.
func (s *Snapshot) Get(a domain.ProtocolAdapter) (ProtocolBalance, bool) {
	i, ok := s.index[BalanceKey(a)]
	if !ok {
		return ProtocolBalance{}, false
	}
	return s.Balances[i], true
}

// ReinvestUSDAmount is the value a chain frees up on rebalance: the
// zapped-out share of every valued position on it plus pending rewards.
func ReinvestUSDAmount(s *Snapshot, chain string) float64 {
	total := s.PendingRewards.USDBalance
	for _, b := range s.Balances {
		if b.Chain == chain && b.Valued() {
			total += b.USDBalance * b.ZapOutPercentage
		}
	}
	return total
}

func mergeRewards(dst map[string]domain.RewardBalance, src map[string]domain.RewardBalance) {
	for addr, r := range src {
		cur, ok := dst[addr]
		if !ok {
			bal := new(big.Int)
			if r.Balance != nil {
				bal.Set(r.Balance)
			}
			dst[addr] = domain.RewardBalance{
				Symbol:              r.Symbol,
				Balance:             bal,
				USDDenominatedValue: r.USDDenominatedValue,
				Decimals:            r.Decimals,
			}
			continue
		}
		if r.Balance != nil {
			cur.Balance = new(big.Int).Add(cur.Balance, r.Balance)
		}
		cur.USDDenominatedValue += r.USDDenominatedValue
		dst[addr] = cur
	}
}
