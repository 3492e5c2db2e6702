// Package strategy holds the weighted, multi-category, multi-chain position
// model that every portfolio action iterates over.
package strategy

import (
	"fmt"
	"math"

	"github.com/aristath/rebalancer/internal/domain"
	"gonum.org/v1/gonum/floats"
)

// WeightEpsilon is the tolerance for the total weight of a strategy.
const WeightEpsilon = 1e-4

// Position is a weighted allocation to one protocol adapter.
// A zero weight marks retained dust that is only ever withdrawn.
type Position struct {
	adapter domain.ProtocolAdapter
	weight  float64
	poolID  string
}

// NewPosition creates a position. Weights are fixed after construction.
func NewPosition(adapter domain.ProtocolAdapter, weight float64, poolID string) Position {
	return Position{adapter: adapter, weight: weight, poolID: poolID}
}

func (p Position) Adapter() domain.ProtocolAdapter { return p.adapter }
func (p Position) Weight() float64                 { return p.weight }
func (p Position) PoolID() string                  { return p.poolID }

// ChainAllocation lists the positions of one category on one chain.
type ChainAllocation struct {
	Chain     string
	Positions []Position
}

// Category groups chain allocations, e.g. "stablecoin" or "eth".
type Category struct {
	Name   string
	Chains []ChainAllocation
}

// Entry is a flattened position annotated with where it lives.
type Entry struct {
	Category string
	Chain    string
	Position Position
}

// UniqueID is shorthand for the adapter's unique id.
func (e Entry) UniqueID() string { return e.Position.adapter.UniqueID() }

// Strategy is an ordered, validated set of categories. Iteration order is
// the declaration order, which keeps generated batches deterministic.
type Strategy struct {
	categories []Category
}

// New validates the weights and returns the strategy.
func New(categories []Category) (*Strategy, error) {
	s := &Strategy{categories: categories}

	weights := s.weights()
	for _, w := range weights {
		if w < 0 || math.IsNaN(w) {
			return nil, fmt.Errorf("%w: negative or NaN weight %v", domain.ErrInvalidWeights, w)
		}
	}

	total := floats.Sum(weights)
	if math.Abs(total-1) >= WeightEpsilon {
		return nil, fmt.Errorf("%w: total weight is %v", domain.ErrInvalidWeights, total)
	}
	return s, nil
}

func (s *Strategy) weights() []float64 {
	var out []float64
	for _, e := range s.Entries() {
		out = append(out, e.Position.weight)
	}
	return out
}

// Categories returns the categories in declaration order.
func (s *Strategy) Categories() []Category {
	return s.categories
}

// Entries flattens the strategy into category, chain, position order.
func (s *Strategy) Entries() []Entry {
	var out []Entry
	for _, cat := range s.categories {
		for _, ca := range cat.Chains {
			for _, p := range ca.Positions {
				out = append(out, Entry{Category: cat.Name, Chain: ca.Chain, Position: p})
			}
		}
	}
	return out
}

// Chains returns every chain the strategy touches, in first-seen order.
func (s *Strategy) Chains() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range s.Entries() {
		if !seen[e.Chain] {
			seen[e.Chain] = true
			out = append(out, e.Chain)
		}
	}
	return out
}

// ChainWeight is the total target weight allocated to a chain.
func (s *Strategy) ChainWeight(chain string) float64 {
	var ws []float64
	for _, e := range s.PositionsOn(chain) {
		ws = append(ws, e.Position.weight)
	}
	return floats.Sum(ws)
}

// PositionsOn returns the entries living on a chain.
func (s *Strategy) PositionsOn(chain string) []Entry {
	var out []Entry
	for _, e := range s.Entries() {
		if e.Chain == chain {
			out = append(out, e)
		}
	}
	return out
}

// Lookup finds the entry with the given unique id.
func (s *Strategy) Lookup(uniqueID string) (Entry, bool) {
	for _, e := range s.Entries() {
		if e.UniqueID() == uniqueID {
			return e, true
		}
	}
	return Entry{}, false
}
