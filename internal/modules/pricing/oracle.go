// Package pricing resolves USD prices: static pegged assets, live lookups
// through the backend, batching with a request budget, and a TTL cache.
package pricing

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/aristath/rebalancer/internal/metrics"
)

// PriceAPI is the backend surface the oracle needs.
type PriceAPI interface {
	GetPriceByCMC(ctx context.Context, cmcID string) (float64, error)
	GetPriceByGecko(ctx context.Context, chain, address string) (float64, error)
}

// Oracle fetches a single token price.
type Oracle struct {
	api     PriceAPI
	static  *StaticTable
	now     func() time.Time
	group   singleflight.Group
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewOracle creates a new price oracle
func NewOracle(api PriceAPI, static *StaticTable, m *metrics.Metrics, log zerolog.Logger) *Oracle {
	if static == nil {
		static = DefaultStaticTable()
	}
	return &Oracle{
		api:     api,
		static:  static,
		now:     time.Now,
		metrics: m,
		log:     log.With().Str("service", "price_oracle").Logger(),
	}
}

// FetchPrice returns the USD price of token. Static tokens never touch the
// network, which also makes the static table the fallback for them.
// ok is false when the price could not be resolved; callers must not treat
// that as zero. err is reserved for configuration problems.
func (o *Oracle) FetchPrice(ctx context.Context, token string, src Source) (price float64, ok bool, err error) {
	if p, found := o.static.Lookup(token, o.now()); found {
		o.metrics.ObservePriceFetch("static")
		return p, true, nil
	}
	if err := src.Validate(); err != nil {
		return 0, false, err
	}

	v, fetchErr, _ := o.group.Do(src.UniqueKey(), func() (interface{}, error) {
		if src.CoinMarketCapID != "" {
			return o.api.GetPriceByCMC(ctx, src.CoinMarketCapID)
		}
		return o.api.GetPriceByGecko(ctx, src.GeckoTerminal.Chain, src.GeckoTerminal.Address)
	})
	if fetchErr != nil {
		o.metrics.ObservePriceFetch("unresolved")
		o.log.Warn().
			Err(fetchErr).
			Str("token", token).
			Str("source", src.String()).
			Msg("Price unresolved")
		return 0, false, nil
	}

	o.metrics.ObservePriceFetch("ok")
	return v.(float64), true, nil
}
