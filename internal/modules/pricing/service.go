package pricing

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/metrics"
)

// Service serves the cached price table for the configured token set.
type Service struct {
	batcher *Batcher
	cache   *Cache
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu     sync.RWMutex
	tokens map[string]Source
}

// NewService creates a new pricing service
func NewService(batcher *Batcher, cache *Cache, tokens map[string]Source, m *metrics.Metrics, log zerolog.Logger) *Service {
	s := &Service{
		batcher: batcher,
		cache:   cache,
		metrics: m,
		log:     log.With().Str("service", "pricing").Logger(),
		tokens:  make(map[string]Source, len(tokens)),
	}
	for k, v := range tokens {
		s.tokens[strings.ToLower(k)] = v
	}
	return s
}

// Prices returns the cached table, refreshing it when stale.
func (s *Service) Prices(ctx context.Context) (domain.PriceTable, error) {
	return s.cache.GetOrRefresh(ctx, s.fetch)
}

// Refresh forces a new fetch regardless of the cache state.
func (s *Service) Refresh(ctx context.Context) (domain.PriceTable, error) {
	return s.cache.Refresh(ctx, s.fetch)
}

// Register adds a token to the tracked set; the next refresh picks it up.
func (s *Service) Register(token string, src Source) error {
	if err := src.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.tokens[strings.ToLower(token)] = src
	s.mu.Unlock()
	return nil
}

// Tokens returns a copy of the tracked token set.
func (s *Service) Tokens() map[string]Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Source, len(s.tokens))
	for k, v := range s.tokens {
		out[k] = v
	}
	return out
}

func (s *Service) fetch(ctx context.Context) (domain.PriceTable, error) {
	table, err := s.batcher.FetchPrices(ctx, s.Tokens())
	s.metrics.ObserveCacheRefresh(err)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to refresh price table")
		return nil, err
	}
	return table, nil
}
