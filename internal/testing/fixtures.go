package testing

import (
	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/chains"
)

// TestOwner is the wallet used across package tests.
const TestOwner = "0x1111111111111111111111111111111111111111"

// MustToken returns the canonical token for symbol on chain and panics when
// it is not registered.
func MustToken(symbol, chain string) domain.Token {
	t, err := chains.Token(symbol, chain)
	if err != nil {
		panic(err)
	}
	return t
}

// MustChainID resolves a chain name and panics on unknown chains.
func MustChainID(chain string) int {
	id, err := chains.ChainID(chain)
	if err != nil {
		panic(err)
	}
	return id
}

// NewPriceFixtures returns a price table covering the fixture tokens.
func NewPriceFixtures() domain.PriceTable {
	return domain.PriceTable{
		"usd":  1,
		"usdc": 1,
		"usdt": 1,
		"dai":  1,
		"eth":  3000,
		"weth": 3000,
		"arb":  0.5,
		"op":   1.5,
	}
}

// NewMockAdapterFixture creates an adapter on chain holding symbol.
func NewMockAdapterFixture(chain, protocol, symbol string) *MockAdapter {
	return NewMockAdapter(chain, MustChainID(chain), protocol, MustToken(symbol, chain))
}
