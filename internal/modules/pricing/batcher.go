package pricing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/aristath/rebalancer/internal/domain"
)

// Batcher defaults.
const (
	DefaultBatchSize         = 2
	DefaultRequestsPerMinute = 30
)

// PriceFetcher resolves one token price.
type PriceFetcher interface {
	FetchPrice(ctx context.Context, token string, src Source) (float64, bool, error)
}

// Batcher resolves a set of tokens concurrently under a request budget.
type Batcher struct {
	fetcher PriceFetcher
	static  *StaticTable
	limiter *rate.Limiter
	inert   bool
	now     func() time.Time
	log     zerolog.Logger
}

// BatcherConfig tunes the request budget.
type BatcherConfig struct {
	RequestsPerMinute int
	BatchSize         int // burst
	// Inert resolves every network token to 1 without calling the fetcher.
	Inert bool
}

// NewBatcher creates a new price batcher
func NewBatcher(fetcher PriceFetcher, static *StaticTable, cfg BatcherConfig, log zerolog.Logger) *Batcher {
	if static == nil {
		static = DefaultStaticTable()
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = DefaultRequestsPerMinute
	}
	burst := cfg.BatchSize
	if burst <= 0 {
		burst = DefaultBatchSize
	}
	return &Batcher{
		fetcher: fetcher,
		static:  static,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60), burst),
		inert:   cfg.Inert,
		now:     time.Now,
		log:     log.With().Str("service", "price_batcher").Logger(),
	}
}

// FetchPrices resolves every token in tokens and merges the result with the
// static table. Unresolved tokens are left out. Any price that resolves to
// exactly zero fails the whole batch.
func (b *Batcher) FetchPrices(ctx context.Context, tokens map[string]Source) (domain.PriceTable, error) {
	now := b.now()
	prices := domain.PriceTable(b.static.Snapshot(now))

	pending := make(map[string]Source)
	for token, src := range tokens {
		key := strings.ToLower(token)
		if _, ok := b.static.Lookup(key, now); ok {
			continue
		}
		if err := src.Validate(); err != nil {
			return nil, fmt.Errorf("failed to price %s: %w", key, err)
		}
		pending[key] = src
	}

	if b.inert {
		for token := range pending {
			prices[token] = 1
		}
		return prices, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for token, src := range pending {
		g.Go(func() error {
			if err := b.limiter.Wait(gctx); err != nil {
				return fmt.Errorf("price request budget: %w", err)
			}
			price, ok, err := b.fetcher.FetchPrice(gctx, token, src)
			if err != nil {
				return fmt.Errorf("failed to price %s: %w", token, err)
			}
			if !ok {
				return nil
			}
			mu.Lock()
			prices[token] = price
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var zero []string
	for token, price := range prices {
		if price == 0 {
			zero = append(zero, token)
		}
	}
	if len(zero) > 0 {
		sort.Strings(zero)
		return nil, fmt.Errorf("%w: %s", domain.ErrZeroPrice, strings.Join(zero, ", "))
	}

	b.log.Debug().Int("tokens", len(prices)).Int("fetched", len(pending)).Msg("Prices resolved")
	return prices, nil
}
