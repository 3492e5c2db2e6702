package pricing

import (
	"fmt"
	"strings"

	"github.com/aristath/rebalancer/internal/domain"
)

// Source tells the oracle where a token price lives. Exactly one of the
// fields must be set.
type Source struct {
	CoinMarketCapID string               `json:"coinmarketcapId,omitempty" yaml:"coinmarketcapId,omitempty"`
	GeckoTerminal   *GeckoTerminalSource `json:"geckoterminal,omitempty" yaml:"geckoterminal,omitempty"`
}

// GeckoTerminalSource locates a token by chain and contract.
type GeckoTerminalSource struct {
	Chain   string `json:"chain" yaml:"chain"`
	Address string `json:"address" yaml:"address"`
}

// Validate rejects empty or ambiguous sources.
func (s Source) Validate() error {
	hasCMC := s.CoinMarketCapID != ""
	hasGecko := s.GeckoTerminal != nil && s.GeckoTerminal.Chain != "" && s.GeckoTerminal.Address != ""
	if hasCMC == hasGecko {
		return fmt.Errorf("%w: %s", domain.ErrInvalidPriceID, s)
	}
	return nil
}

// UniqueKey identifies the upstream price regardless of the token symbol.
func (s Source) UniqueKey() string {
	if s.CoinMarketCapID != "" {
		return "cmc:" + s.CoinMarketCapID
	}
	if s.GeckoTerminal != nil {
		return "gecko:" + s.GeckoTerminal.Chain + strings.ToLower(s.GeckoTerminal.Address)
	}
	return ""
}

func (s Source) String() string {
	switch {
	case s.CoinMarketCapID != "" && s.GeckoTerminal != nil:
		return fmt.Sprintf("{coinmarketcapId:%s geckoterminal:%s/%s}", s.CoinMarketCapID, s.GeckoTerminal.Chain, s.GeckoTerminal.Address)
	case s.CoinMarketCapID != "":
		return "{coinmarketcapId:" + s.CoinMarketCapID + "}"
	case s.GeckoTerminal != nil:
		return "{geckoterminal:" + s.GeckoTerminal.Chain + "/" + s.GeckoTerminal.Address + "}"
	}
	return "{}"
}
