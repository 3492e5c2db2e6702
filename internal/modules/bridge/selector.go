package bridge

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/metrics"
)

// Selector picks the cheapest registered bridge.
type Selector struct {
	bridges []Bridge
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewSelector creates a new bridge selector
func NewSelector(bridges []Bridge, m *metrics.Metrics, log zerolog.Logger) *Selector {
	return &Selector{
		bridges: bridges,
		metrics: m,
		log:     log.With().Str("service", "bridge_selector").Logger(),
	}
}

// GetBestBridge quotes every bridge concurrently and returns the one with
// the lowest USD fee. Failed or unbounded quotes are skipped.
func (s *Selector) GetBestBridge(ctx context.Context, req Request) (Bridge, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	fees := make([]float64, len(s.bridges))
	ok := make([]bool, len(s.bridges))

	p := pool.New().WithMaxGoroutines(len(s.bridges) + 1)
	for i, b := range s.bridges {
		p.Go(func() {
			fee, err := b.FeeUSD(ctx, req)
			if err != nil {
				s.log.Warn().Err(err).Str("bridge", b.Name()).Msg("Bridge quote failed")
				return
			}
			if math.IsInf(fee, 0) || math.IsNaN(fee) {
				return
			}
			fees[i], ok[i] = fee, true
		})
	}
	p.Wait()

	best := -1
	for i := range s.bridges {
		if ok[i] && (best < 0 || fees[i] < fees[best]) {
			best = i
		}
	}
	if best < 0 {
		return nil, fmt.Errorf("%w: chain %d -> %d", domain.ErrNoBridge, req.FromChainID, req.ToChainID)
	}

	chosen := s.bridges[best]
	s.metrics.ObserveBridgeSelection(chosen.Name())
	s.log.Debug().
		Str("bridge", chosen.Name()).
		Float64("fee_usd", fees[best]).
		Int("from_chain", req.FromChainID).
		Int("to_chain", req.ToChainID).
		Msg("Bridge selected")
	return chosen, nil
}

// BridgeCalls selects the best bridge and builds its calls.
func (s *Selector) BridgeCalls(ctx context.Context, req Request, progress domain.ProgressFunc) ([]domain.CallDescriptor, error) {
	b, err := s.GetBestBridge(ctx, req)
	if err != nil {
		return nil, err
	}
	calls, err := b.BuildCalls(ctx, req, progress)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s bridge calls: %w", b.Name(), err)
	}
	return calls, nil
}
