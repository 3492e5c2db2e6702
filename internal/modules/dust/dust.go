// Package dust sweeps small wallet balances into the chain's gas token.
package dust

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aristath/rebalancer/internal/clients/rebalanceapi"
	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/events"
	"github.com/aristath/rebalancer/internal/evm"
	"github.com/aristath/rebalancer/internal/metrics"
	"github.com/aristath/rebalancer/internal/modules/chains"
	"github.com/aristath/rebalancer/internal/modules/orchestrator"
	"github.com/aristath/rebalancer/internal/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	// BatchSize is how many swaps are built concurrently before pausing.
	BatchSize = 10
	// MinUSDValue is the smallest holding worth sweeping.
	MinUSDValue = 0.005
)

// excludedSymbols are never swept.
var excludedSymbols = map[string]bool{
	"usdc": true,
	"usdt": true,
	"eth":  true,
	"alp":  true,
}

// TokenSource lists a wallet's holdings on a chain.
type TokenSource interface {
	GetUserTokens(ctx context.Context, address, chain string) ([]rebalanceapi.UserToken, error)
}

// Result summarises one sweep.
type Result struct {
	ID          string                  `json:"id"`
	Calls       []domain.CallDescriptor `json:"calls"`
	Tokens      []string                `json:"tokens"`
	Failed      []string                `json:"failed"`
	USDAmount   float64                 `json:"usdAmount"`
	TradingLoss float64                 `json:"tradingLoss"`
}

// Converter swaps dust holdings to ETH.
type Converter struct {
	tokens     TokenSource
	swapper    domain.Swapper
	prices     domain.PriceProvider
	events     *events.Manager
	metrics    *metrics.Metrics
	batchPause time.Duration
	log        zerolog.Logger
}

// NewConverter creates a dust converter. events and metrics may be nil.
func NewConverter(tokens TokenSource, swapper domain.Swapper, prices domain.PriceProvider, ev *events.Manager, m *metrics.Metrics, log zerolog.Logger) *Converter {
	return &Converter{
		tokens:     tokens,
		swapper:    swapper,
		prices:     prices,
		events:     ev,
		metrics:    m,
		batchPause: time.Second,
		log:        log.With().Str("service", "dust").Logger(),
	}
}

// WithBatchPause overrides the pause between batches.
func (c *Converter) WithBatchPause(d time.Duration) *Converter {
	c.batchPause = d
	return c
}

// GetTokens returns the owner's sweepable holdings on chain, largest first.
func (c *Converter) GetTokens(ctx context.Context, owner, chain string) ([]rebalanceapi.UserToken, error) {
	tokens, err := c.tokens.GetUserTokens(ctx, owner, chains.NormalizeChainName(chain))
	if err != nil {
		return nil, err
	}
	return FilterTokens(tokens), nil
}

// FilterTokens drops unpriced tokens, LP-style symbols, settlement tokens,
// Aave receipts and anything worth MinUSDValue or less.
func FilterTokens(tokens []rebalanceapi.UserToken) []rebalanceapi.UserToken {
	var out []rebalanceapi.UserToken
	for _, t := range tokens {
		symbol := strings.ToLower(t.DisplaySymbol())
		switch {
		case t.Price <= 0:
		case strings.ContainsAny(symbol, "-/"):
		case excludedSymbols[symbol]:
		case strings.Contains(strings.ToLower(t.ProtocolID), "aave"):
		case value(t) <= MinUSDValue:
		default:
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return value(out[i]) > value(out[j])
	})
	return out
}

func value(t rebalanceapi.UserToken) float64 {
	return t.Amount * t.Price
}

// Convert builds swaps of every dust holding on chain into ETH. Tokens that
// cannot be routed are skipped and reported in Result.Failed.
func (c *Converter) Convert(ctx context.Context, owner, chain string, slippage float64) (*Result, error) {
	defer utils.OperationTimer("dust_convert", c.log)()

	chain = chains.NormalizeChainName(chain)
	chainID, err := chains.ChainID(chain)
	if err != nil {
		return nil, err
	}

	tokens, err := c.GetTokens(ctx, owner, chain)
	if err != nil {
		return nil, fmt.Errorf("failed to list dust tokens: %w", err)
	}
	table, err := c.prices.Prices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve prices: %w", err)
	}
	table = table.Clone()
	for _, t := range tokens {
		if _, ok := table.Get(t.DisplaySymbol()); !ok {
			table[strings.ToLower(t.DisplaySymbol())] = t.Price
		}
	}

	res := &Result{ID: uuid.NewString()}
	var mu sync.Mutex
	progress := func(_ string, loss float64) {
		mu.Lock()
		res.TradingLoss += loss
		mu.Unlock()
	}

	for start := 0; start < len(tokens); start += BatchSize {
		if start > 0 && c.batchPause > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.batchPause):
			}
		}

		batch := tokens[start:min(start+BatchSize, len(tokens))]
		tasks := make([]orchestrator.Task, len(batch))
		for i, t := range batch {
			tasks[i] = func(ctx context.Context) ([]domain.CallDescriptor, error) {
				calls, err := c.swapToNative(ctx, chainID, owner, t, slippage, table, progress)
				c.metrics.ObserveDustConversion(err)
				return calls, err
			}
		}

		calls, errs := orchestrator.BestEffort(ctx, tasks, BatchSize, c.log)
		res.Calls = append(res.Calls, calls...)
		for i, t := range batch {
			if errs[i] != nil {
				res.Failed = append(res.Failed, t.DisplaySymbol())
				continue
			}
			res.Tokens = append(res.Tokens, t.DisplaySymbol())
			res.USDAmount += value(t)
		}
	}

	c.log.Info().
		Str("batch_id", res.ID).
		Str("owner", owner).
		Str("chain", chain).
		Int("converted", len(res.Tokens)).
		Int("failed", len(res.Failed)).
		Float64("usd_amount", res.USDAmount).
		Msg("Dust conversion built")
	if c.events != nil {
		c.events.EmitTyped("dust", &events.DustConvertedData{
			BatchID:   res.ID,
			Owner:     owner,
			Chain:     chain,
			Tokens:    len(res.Tokens),
			Failed:    len(res.Failed),
			USDAmount: res.USDAmount,
		})
	}
	return res, nil
}

func (c *Converter) swapToNative(ctx context.Context, chainID int, owner string, t rebalanceapi.UserToken, slippage float64, prices domain.PriceTable, progress domain.ProgressFunc) ([]domain.CallDescriptor, error) {
	amount, err := rawAmount(t)
	if err != nil {
		return nil, err
	}
	from := domain.Token{Symbol: strings.ToLower(t.DisplaySymbol()), Address: t.ID, Decimals: t.Decimals}

	res, err := c.swapper.Swap(ctx, domain.SwapRequest{
		ChainID:          chainID,
		Owner:            owner,
		From:             from,
		To:               chains.Native(),
		Amount:           amount,
		Slippage:         slippage,
		Prices:           prices,
		CheckpointPrefix: "dust",
		Progress:         progress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to swap %s dust: %w", t.DisplaySymbol(), err)
	}
	if res == nil {
		return nil, nil
	}
	return res.Calls, nil
}

// rawAmount prefers the exact hex balance and falls back to the float one.
func rawAmount(t rebalanceapi.UserToken) (*big.Int, error) {
	if t.RawAmountHexStr != "" {
		b, err := evm.HexDecode(t.RawAmountHexStr)
		if err != nil {
			return nil, fmt.Errorf("invalid raw amount for %s: %w", t.DisplaySymbol(), err)
		}
		return new(big.Int).SetBytes(b), nil
	}
	return evm.ToRaw(decimal.NewFromFloat(t.Amount), t.Decimals), nil
}
