package swap

import (
	"math"
	"math/big"
	"sort"

	"github.com/aristath/rebalancer/internal/clients/rebalanceapi"
)

// Quote is a parsed, usable provider quote.
type Quote struct {
	Provider      string
	ToAmount      *big.Int
	MinToAmount   *big.Int
	GasFee        *big.Int
	ToUSD         float64
	ApproveTarget string
	CallTarget    string
	CallData      string
}

// hasToUSD reports whether the provider priced the output itself.
func (q Quote) hasToUSD() bool {
	return q.ToUSD > 0 && !math.IsInf(q.ToUSD, 0) && !math.IsNaN(q.ToUSD)
}

// parseQuote turns a raw response into a Quote. The reason is non-empty
// when the response cannot be used.
func parseQuote(provider string, raw *rebalanceapi.Quote) (Quote, string) {
	if raw == nil || raw.IsEmpty() {
		return Quote{}, "empty"
	}
	if msg := raw.ErrorMessage(); msg != "" {
		return Quote{}, msg
	}
	toAmount, ok := raw.ToAmount.BigInt()
	if !ok || toAmount.Sign() <= 0 {
		return Quote{}, "missing toAmount"
	}
	if raw.To == "" || raw.Data == "" {
		return Quote{}, "missing call data"
	}

	minToAmount, ok := raw.MinToAmount.BigInt()
	if !ok {
		minToAmount = new(big.Int).Set(toAmount)
	}
	gasFee, ok := raw.GasFee.BigInt()
	if !ok {
		gasFee = new(big.Int)
	}
	toUSD, _ := raw.ToUSD.Float()

	return Quote{
		Provider:      provider,
		ToAmount:      toAmount,
		MinToAmount:   minToAmount,
		GasFee:        gasFee,
		ToUSD:         toUSD,
		ApproveTarget: raw.ApproveTo,
		CallTarget:    raw.To,
		CallData:      raw.Data,
	}, ""
}

// selectBest picks the winning quote. toUsd decides only when every quote
// carries a usable one; otherwise the larger minToAmount wins and the lower
// gas fee breaks ties. quotes must not be empty.
func selectBest(quotes []Quote) Quote {
	ranked := make([]Quote, len(quotes))
	copy(ranked, quotes)

	byUSD := true
	for _, q := range ranked {
		if !q.hasToUSD() {
			byUSD = false
			break
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if byUSD && a.ToUSD != b.ToUSD {
			return a.ToUSD > b.ToUSD
		}
		if c := a.MinToAmount.Cmp(b.MinToAmount); c != 0 {
			return c > 0
		}
		return a.GasFee.Cmp(b.GasFee) < 0
	})
	return ranked[0]
}
