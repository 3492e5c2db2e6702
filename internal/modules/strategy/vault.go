package strategy

import (
	"fmt"
	"math"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/chains"
	"gonum.org/v1/gonum/floats"
)

// MappingEpsilon is the tolerance used for vault weight mappings and the
// per-category totals derived from them.
const MappingEpsilon = 1e-5

// Denomination is the unit a vault is accounted in.
type Denomination string

const (
	DenominationUSD Denomination = "usd"
	DenominationETH Denomination = "eth"
)

// MiddleToken is the token rebalances route through on a chain:
// usdc for usd vaults, weth for eth vaults.
func (d Denomination) MiddleToken(chain string) (domain.Token, error) {
	if d == DenominationETH {
		return chains.Wrapped(chain)
	}
	return chains.Token("usdc", chain)
}

// IsStable reports whether the middle token is a dollar stablecoin.
func (d Denomination) IsStable() bool {
	return d != DenominationETH
}

// Import pulls another strategy's allocations into a category, scaled by
// Weight.
type Import struct {
	Allocations []ChainAllocation
	Weight      float64
}

// CategoryDef is the raw definition of a vault category before
// normalization.
type CategoryDef struct {
	Name    string
	Chains  []ChainAllocation
	Imports []Import
}

// VaultConfig describes a vault: its categories and how much of the whole
// each category receives.
type VaultConfig struct {
	Name          string
	Denomination  Denomination
	WeightMapping map[string]float64
	Categories    []CategoryDef
}

// Vault is a normalized strategy plus its accounting metadata.
type Vault struct {
	Name          string
	Denomination  Denomination
	WeightMapping map[string]float64
	Strategy      *Strategy
}

// NewVault expands imports, rejects duplicates, normalizes every category to
// 1 and scales it by its weight mapping entry.
func NewVault(cfg VaultConfig) (*Vault, error) {
	if err := validateWeightMapping(cfg.WeightMapping); err != nil {
		return nil, err
	}

	denom := cfg.Denomination
	if denom == "" {
		denom = DenominationUSD
	}
	if denom != DenominationUSD && denom != DenominationETH {
		return nil, fmt.Errorf("unsupported denomination %q", denom)
	}

	var categories []Category
	for _, def := range cfg.Categories {
		allocation, ok := cfg.WeightMapping[def.Name]
		if !ok {
			continue
		}

		merged := mergeImports(def)
		if err := validateNoDuplicates(def.Name, merged); err != nil {
			return nil, err
		}

		scaled := scale(normalize(merged), allocation)
		if total := chainTotal(scaled); math.Abs(total-allocation) > MappingEpsilon {
			return nil, fmt.Errorf("%w: category %s weights sum to %v, expected %v",
				domain.ErrInvalidWeights, def.Name, total, allocation)
		}
		categories = append(categories, Category{Name: def.Name, Chains: scaled})
	}

	s, err := New(categories)
	if err != nil {
		return nil, fmt.Errorf("failed to build vault %s: %w", cfg.Name, err)
	}

	return &Vault{
		Name:          cfg.Name,
		Denomination:  denom,
		WeightMapping: cfg.WeightMapping,
		Strategy:      s,
	}, nil
}

func validateWeightMapping(mapping map[string]float64) error {
	var ws []float64
	for _, w := range mapping {
		ws = append(ws, w)
	}
	if total := floats.Sum(ws); math.Abs(total-1) > MappingEpsilon {
		return fmt.Errorf("%w: weight mapping must sum to 1, got %v", domain.ErrInvalidWeights, total)
	}
	return nil
}

// mergeImports appends every imported position to the chain allocation of
// the same name, with its weight multiplied by the import weight.
func mergeImports(def CategoryDef) []ChainAllocation {
	out := make([]ChainAllocation, 0, len(def.Chains))
	index := make(map[string]int)
	for _, ca := range def.Chains {
		index[ca.Chain] = len(out)
		out = append(out, ChainAllocation{Chain: ca.Chain, Positions: append([]Position(nil), ca.Positions...)})
	}

	for _, imp := range def.Imports {
		for _, ca := range imp.Allocations {
			i, ok := index[ca.Chain]
			if !ok {
				i = len(out)
				index[ca.Chain] = i
				out = append(out, ChainAllocation{Chain: ca.Chain})
			}
			for _, p := range ca.Positions {
				out[i].Positions = append(out[i].Positions, NewPosition(p.adapter, p.weight*imp.Weight, p.poolID))
			}
		}
	}
	return out
}

func validateNoDuplicates(category string, allocations []ChainAllocation) error {
	seen := make(map[string]bool)
	for _, ca := range allocations {
		for _, p := range ca.Positions {
			id := p.adapter.UniqueID()
			if seen[id] {
				return fmt.Errorf("%w: found in %s/%s: %s", domain.ErrDuplicateProtocol, category, ca.Chain, id)
			}
			seen[id] = true
		}
	}
	return nil
}

func chainTotal(allocations []ChainAllocation) float64 {
	var ws []float64
	for _, ca := range allocations {
		for _, p := range ca.Positions {
			ws = append(ws, p.weight)
		}
	}
	return floats.Sum(ws)
}

// normalize rescales a category so its weights sum to 1. A category that
// already sums to 1 is returned untouched, and an all-zero one stays zero.
func normalize(allocations []ChainAllocation) []ChainAllocation {
	total := chainTotal(allocations)
	if total == 0 || math.Abs(total-1) <= MappingEpsilon {
		return allocations
	}
	return scale(allocations, 1/total)
}

func scale(allocations []ChainAllocation, factor float64) []ChainAllocation {
	out := make([]ChainAllocation, len(allocations))
	for i, ca := range allocations {
		positions := make([]Position, len(ca.Positions))
		for j, p := range ca.Positions {
			positions[j] = NewPosition(p.adapter, p.weight*factor, p.poolID)
		}
		out[i] = ChainAllocation{Chain: ca.Chain, Positions: positions}
	}
	return out
}
