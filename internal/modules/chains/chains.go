// Package chains holds chain identifiers and the canonical token addresses
// the engine settles and bridges through.
package chains

import (
	"fmt"
	"strings"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/evm"
)

var chainIDs = map[string]int{
	"arbitrum": 42161,
	"base":     8453,
	"op":       10,
	"optimism": 10,
	"bsc":      56,
	"polygon":  137,
	"mantle":   5000,
	"metis":    1088,
	"linea":    59144,
}

// canonical name per id; "op" is how vault configs spell optimism
var chainNames = map[int]string{
	42161: "arbitrum",
	8453:  "base",
	10:    "op",
	56:    "bsc",
	137:   "polygon",
	5000:  "mantle",
	1088:  "metis",
	59144: "linea",
}

// tokenAddresses is keyed by symbol then canonical chain name.
var tokenAddresses = map[string]map[string]string{
	"usdc": {
		"arbitrum": "0xaf88d065e77c8cc2239327c5edb3a432268e5831",
		"base":     "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		"op":       "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85",
		"bsc":      "0x8ac76a51cc950d9822d68b83fe1ad97b32cd580d",
	},
	"usdc.e": {
		"arbitrum": "0xFF970A61A04b1cA14834A43f5dE4533eBDDB5CC8",
		"base":     "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		"op":       "0x7F5c764cBc14f9669B88837ca1490cCa17c31607",
	},
	"dai": {
		"arbitrum": "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1",
		"base":     "0x50c5725949A6F0c72E6C4a641F24049A917DB0Cb",
		"op":       "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1",
		"bsc":      "0x1af3f329e8be154074d8769d1ffa4ee058b1dbc3",
	},
	"weth": {
		"arbitrum": "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1",
		"base":     "0x4200000000000000000000000000000000000006",
		"op":       "0x4200000000000000000000000000000000000006",
		"bsc":      "0x4DB5a66E937A9F4473fA95b1cAF1d1E1D62E29EA",
	},
	"usdt": {
		"arbitrum": "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9",
		"base":     "0xfde4C96c8593536E31F229EA8f37b2ADa2699bb2",
		"op":       "0x94b008aA00579c1307B0EF2c499aD98a8ce58e58",
		"bsc":      "0x55d398326f99059ff775485246999027b3197955",
	},
}

var tokenDecimals = map[string]int{
	"usdc":   6,
	"usdc.e": 6,
	"usdt":   6,
	"dai":    18,
	"weth":   18,
	"eth":    18,
}

// bsc stables carry 18 decimals
var decimalOverrides = map[string]map[string]int{
	"bsc": {"usdc": 18, "usdt": 18},
}

// NormalizeChainName lowercases and strips the " one" and " mainnet"
// suffixes wallets append ("Arbitrum One", "OP Mainnet").
func NormalizeChainName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, " one", "")
	n = strings.ReplaceAll(n, " mainnet", "")
	if n == "optimism" {
		return "op"
	}
	return n
}

// ChainID resolves a chain name to its numeric id.
func ChainID(name string) (int, error) {
	id, ok := chainIDs[NormalizeChainName(name)]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrUnknownChain, name)
	}
	return id, nil
}

// Name resolves a chain id to its canonical name.
func Name(chainID int) (string, error) {
	name, ok := chainNames[chainID]
	if !ok {
		return "", fmt.Errorf("%w: %d", domain.ErrUnknownChain, chainID)
	}
	return name, nil
}

// Token returns the canonical token for symbol on chain.
func Token(symbol, chain string) (domain.Token, error) {
	sym := strings.ToLower(symbol)
	c := NormalizeChainName(chain)
	if sym == "eth" {
		return Native(), nil
	}
	addr, ok := tokenAddresses[sym][c]
	if !ok {
		return domain.Token{}, fmt.Errorf("token %s not available on %s", sym, c)
	}
	decimals := tokenDecimals[sym]
	if d, ok := decimalOverrides[c][sym]; ok {
		decimals = d
	}
	return domain.Token{Symbol: sym, Address: addr, Decimals: decimals}, nil
}

// Native is the gas-token pseudo address aggregators understand.
func Native() domain.Token {
	return domain.Token{Symbol: "eth", Address: evm.NativeAddress, Decimals: 18}
}

// Wrapped returns the wrapped gas token of a chain.
func Wrapped(chain string) (domain.Token, error) {
	return Token("weth", chain)
}

// All returns every canonical chain name.
func All() []string {
	return []string{"arbitrum", "base", "op", "bsc", "polygon", "mantle", "metis", "linea"}
}
