// Package swap routes a token conversion through the best of several
// aggregator quotes.
package swap

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/aristath/rebalancer/internal/clients/rebalanceapi"
	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/evm"
	"github.com/aristath/rebalancer/internal/metrics"
)

// MinOutputToInputRatio is the lowest output/input USD ratio accepted
// before a route is rejected as too much price impact.
const MinOutputToInputRatio = 0.5

// DefaultProviders are the aggregators queried for every swap.
var DefaultProviders = []string{"1inch", "0x", "paraswap"}

// QuoteClient fetches one provider quote.
type QuoteClient interface {
	GetSwapQuote(ctx context.Context, r rebalanceapi.QuoteRequest) (*rebalanceapi.Quote, error)
}

// Config tunes the selector.
type Config struct {
	Providers []string
	// Inert disables the price-impact and slippage guards.
	Inert bool
}

// Selector implements domain.Swapper.
type Selector struct {
	client    QuoteClient
	providers []string
	inert     bool
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

// NewSelector creates a new swap route selector
func NewSelector(client QuoteClient, cfg Config, m *metrics.Metrics, log zerolog.Logger) *Selector {
	providers := cfg.Providers
	if len(providers) == 0 {
		providers = DefaultProviders
	}
	return &Selector{
		client:    client,
		providers: providers,
		inert:     cfg.Inert,
		metrics:   m,
		log:       log.With().Str("service", "swap_selector").Logger(),
	}
}

// Swap returns the approve and swap calls of the best route. It returns
// nil, nil when both tokens are the same contract.
func (s *Selector) Swap(ctx context.Context, req domain.SwapRequest) (*domain.SwapResult, error) {
	if req.From.SameAddress(req.To) {
		return nil, nil
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("failed to swap %s: amount must be positive", req.From.Key())
	}

	fromPrice, err := req.Prices.Require(req.From.Symbol)
	if err != nil {
		return nil, err
	}
	toPrice, err := req.Prices.Require(req.To.Symbol)
	if err != nil {
		return nil, err
	}
	ethPrice, _ := req.Prices.Get("eth")

	quotes := s.collectQuotes(ctx, req, ethPrice, toPrice)
	if len(quotes) == 0 {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrNoValidSwapData, req.From.Key(), req.To.Key())
	}
	best := selectBest(quotes)

	inputUSD := evm.USDValue(req.Amount, req.From.Decimals, fromPrice)
	outputUSD := evm.USDValue(best.ToAmount, req.To.Decimals, toPrice)
	tradingLoss := outputUSD - inputUSD

	if !s.inert && inputUSD > 0 {
		ratio := outputUSD / inputUSD
		if ratio < MinOutputToInputRatio {
			return nil, fmt.Errorf("%w: %s output is worth %.2f%% of input (%.2f / %.2f USD)",
				domain.ErrPriceImpactTooHigh, best.Provider, ratio*100, outputUSD, inputUSD)
		}
		if actual := (1 - ratio) * 100; actual > req.Slippage {
			return nil, fmt.Errorf("%w: actual %.2f%% > max %.2f%%",
				domain.ErrSlippageExceeded, actual, req.Slippage)
		}
	}

	calls, err := s.buildCalls(req, best)
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveSwapSelection(best.Provider)
	s.log.Debug().
		Str("provider", best.Provider).
		Str("from", req.From.Key()).
		Str("to", req.To.Key()).
		Float64("trading_loss", tradingLoss).
		Msg("Swap route selected")

	req.Progress.Report(CheckpointID(req.CheckpointPrefix, req.From, req.To), tradingLoss)

	return &domain.SwapResult{
		Provider:    best.Provider,
		Calls:       calls,
		MinToAmount: best.MinToAmount,
		TradingLoss: tradingLoss,
	}, nil
}

// CheckpointID names the progress checkpoint of a swap.
func CheckpointID(prefix string, from, to domain.Token) string {
	return fmt.Sprintf("%s-%s-%s-swap", prefix, from.Key(), to.Key())
}

func (s *Selector) collectQuotes(ctx context.Context, req domain.SwapRequest, ethPrice, toPrice float64) []Quote {
	results := make([]*Quote, len(s.providers))

	p := pool.New().WithMaxGoroutines(len(s.providers))
	for i, provider := range s.providers {
		p.Go(func() {
			raw, err := s.client.GetSwapQuote(ctx, rebalanceapi.QuoteRequest{
				ChainID:           req.ChainID,
				FromTokenAddress:  req.From.Address,
				ToTokenAddress:    req.To.Address,
				Amount:            req.Amount,
				FromAddress:       req.Owner,
				Slippage:          req.Slippage,
				Provider:          provider,
				FromTokenDecimals: req.From.Decimals,
				ToTokenDecimals:   req.To.Decimals,
				EthPrice:          ethPrice,
				ToTokenPrice:      toPrice,
			})
			if err != nil {
				s.metrics.ObserveSwapQuote(provider, "error")
				s.log.Warn().Err(err).Str("provider", provider).Msg("Failed to fetch swap data")
				return
			}
			q, reason := parseQuote(provider, raw)
			if reason != "" {
				s.metrics.ObserveSwapQuote(provider, "rejected")
				s.log.Warn().Str("provider", provider).Str("reason", reason).Msg("Unusable swap quote")
				return
			}
			s.metrics.ObserveSwapQuote(provider, "ok")
			results[i] = &q
		})
	}
	p.Wait()

	quotes := make([]Quote, 0, len(results))
	for _, q := range results {
		if q != nil {
			quotes = append(quotes, *q)
		}
	}
	return quotes
}

func (s *Selector) buildCalls(req domain.SwapRequest, best Quote) ([]domain.CallDescriptor, error) {
	swapCall := domain.CallDescriptor{To: best.CallTarget, Data: best.CallData, ChainID: req.ChainID}
	if evm.IsNative(req.From.Address) {
		swapCall.Value = req.Amount.String()
		return []domain.CallDescriptor{swapCall}, nil
	}

	approve, err := evm.Approve(req.ChainID, req.From.Address, best.ApproveTarget, req.Amount)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s swap: %w", best.Provider, err)
	}
	return []domain.CallDescriptor{approve, swapCall}, nil
}
