package protocols

import (
	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/strategy"
	"github.com/rs/zerolog"
)

var (
	_ domain.ProtocolAdapter = (*ERC4626)(nil)
	_ domain.ProtocolAdapter = (*AaveV3)(nil)
)

// NewRegistry returns the adapter factories the strategy loader resolves
// position kinds against. readers is keyed by canonical chain name.
func NewRegistry(readers map[string]ChainReader, swapper domain.Swapper, log zerolog.Logger) strategy.Registry {
	base := func(chain string, ps strategy.PositionSpec) (Base, error) {
		return NewBase(chain, ps.Protocol, ps.Version, ps.Asset, ps.Rewards, readers[chain], swapper, log)
	}

	return strategy.Registry{
		KindERC4626: func(chain string, ps strategy.PositionSpec) (domain.ProtocolAdapter, error) {
			b, err := base(chain, ps)
			if err != nil {
				return nil, err
			}
			return NewERC4626(b, ps.Address)
		},
		KindAaveV3: func(chain string, ps strategy.PositionSpec) (domain.ProtocolAdapter, error) {
			b, err := base(chain, ps)
			if err != nil {
				return nil, err
			}
			return NewAaveV3(b, ps.Address, ps.Receipt)
		},
	}
}
