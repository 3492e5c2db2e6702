package strategy

import (
	"fmt"
	"os"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/chains"
	"github.com/aristath/rebalancer/internal/modules/pricing"
	"gopkg.in/yaml.v3"
)

// PositionSpec is the adapter-agnostic description of a position as it
// appears in the strategy file.
type PositionSpec struct {
	Kind     string            `yaml:"kind"`
	Weight   float64           `yaml:"weight"`
	PoolID   string            `yaml:"poolId"`
	Protocol string            `yaml:"protocol"`
	Version  string            `yaml:"version"`
	Address  string            `yaml:"address"` // vault or pool contract
	Receipt  string            `yaml:"receipt"` // share token when it differs from Address
	Asset    domain.Token      `yaml:"asset"`
	Rewards  []domain.Token    `yaml:"rewards"`
	Params   map[string]string `yaml:"params"`
}

// AdapterFactory builds an adapter for a position on a chain.
type AdapterFactory func(chain string, ps PositionSpec) (domain.ProtocolAdapter, error)

// Registry maps an adapter kind to its factory.
type Registry map[string]AdapterFactory

type chainFile struct {
	Chain     string         `yaml:"chain"`
	Positions []PositionSpec `yaml:"positions"`
}

type importFile struct {
	Strategy string  `yaml:"strategy"`
	Weight   float64 `yaml:"weight"`
}

type categoryFile struct {
	Name    string       `yaml:"name"`
	Chains  []chainFile  `yaml:"chains"`
	Imports []importFile `yaml:"imports"`
}

// File is the on-disk layout of a strategy file.
type File struct {
	Name          string                    `yaml:"name"`
	Denomination  string                    `yaml:"denomination"`
	WeightMapping map[string]float64        `yaml:"weightMapping"`
	Tokens        map[string]pricing.Source `yaml:"tokens"`
	Strategies    map[string][]chainFile    `yaml:"strategies"`
	Categories    []categoryFile            `yaml:"categories"`
}

// Loaded is a parsed strategy file.
type Loaded struct {
	Vault  *Vault
	Tokens map[string]pricing.Source
}

// Load reads and parses a strategy file from disk.
func Load(path string, registry Registry) (*Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategy file: %w", err)
	}
	return Parse(data, registry)
}

// Parse decodes a strategy document and builds the vault.
func Parse(data []byte, registry Registry) (*Loaded, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse strategy file: %w", err)
	}

	for token, src := range f.Tokens {
		if err := src.Validate(); err != nil {
			return nil, fmt.Errorf("token %s: %w", token, err)
		}
	}

	cfg := VaultConfig{
		Name:          f.Name,
		Denomination:  Denomination(f.Denomination),
		WeightMapping: f.WeightMapping,
	}

	for _, cf := range f.Categories {
		def := CategoryDef{Name: cf.Name}

		allocations, err := buildAllocations(cf.Chains, registry)
		if err != nil {
			return nil, fmt.Errorf("category %s: %w", cf.Name, err)
		}
		def.Chains = allocations

		for _, imp := range cf.Imports {
			source, ok := f.Strategies[imp.Strategy]
			if !ok {
				return nil, fmt.Errorf("category %s: unknown imported strategy %q", cf.Name, imp.Strategy)
			}
			imported, err := buildAllocations(source, registry)
			if err != nil {
				return nil, fmt.Errorf("category %s: import %s: %w", cf.Name, imp.Strategy, err)
			}
			def.Imports = append(def.Imports, Import{Allocations: imported, Weight: imp.Weight})
		}

		cfg.Categories = append(cfg.Categories, def)
	}

	vault, err := NewVault(cfg)
	if err != nil {
		return nil, err
	}
	return &Loaded{Vault: vault, Tokens: f.Tokens}, nil
}

func buildAllocations(files []chainFile, registry Registry) ([]ChainAllocation, error) {
	out := make([]ChainAllocation, 0, len(files))
	for _, cf := range files {
		chain := chains.NormalizeChainName(cf.Chain)
		if _, err := chains.ChainID(chain); err != nil {
			return nil, err
		}

		ca := ChainAllocation{Chain: chain}
		for _, ps := range cf.Positions {
			factory, ok := registry[ps.Kind]
			if !ok {
				return nil, fmt.Errorf("%w: %q", domain.ErrUnknownAdapterKind, ps.Kind)
			}
			adapter, err := factory(chain, ps)
			if err != nil {
				return nil, fmt.Errorf("failed to build %s adapter on %s: %w", ps.Kind, chain, err)
			}
			ca.Positions = append(ca.Positions, NewPosition(adapter, ps.Weight, ps.PoolID))
		}
		out = append(out, ca)
	}
	return out, nil
}
