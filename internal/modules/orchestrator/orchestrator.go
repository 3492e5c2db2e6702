// Package orchestrator turns a portfolio action into an ordered batch of
// unsigned calls by fanning out across the strategy's positions, swaps and
// bridges.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/rebalancer/internal/clients/rebalanceapi"
	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/events"
	"github.com/aristath/rebalancer/internal/metrics"
	"github.com/aristath/rebalancer/internal/modules/bridge"
	"github.com/aristath/rebalancer/internal/modules/chains"
	"github.com/aristath/rebalancer/internal/modules/rebalancing"
	"github.com/aristath/rebalancer/internal/modules/strategy"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BridgeSelector picks the cheapest bridge and builds its calls.
type BridgeSelector interface {
	BridgeCalls(ctx context.Context, req bridge.Request, progress domain.ProgressFunc) ([]domain.CallDescriptor, error)
}

// APRSource resolves the backend APR and TVL of a pool.
type APRSource interface {
	GetPoolAPR(ctx context.Context, uniqueID string) (rebalanceapi.PoolAPR, error)
}

// Dependencies are the collaborators an Orchestrator fans out to. Referrals,
// APRs, Events and Metrics are optional.
type Dependencies struct {
	Prices    domain.PriceProvider
	Swapper   domain.Swapper
	Bridges   BridgeSelector
	Referrals domain.ReferralLookup
	APRs      APRSource
	Events    *events.Manager
	Metrics   *metrics.Metrics
	// RetryDelay separates diversify attempts. Zero means one second.
	RetryDelay time.Duration
}

// Orchestrator builds call batches for one vault.
type Orchestrator struct {
	vault     *strategy.Vault
	strategy  *strategy.Strategy
	calc      *rebalancing.Calculator
	prices    domain.PriceProvider
	swapper   domain.Swapper
	bridges   BridgeSelector
	referrals domain.ReferralLookup
	aprs      APRSource
	events    *events.Manager
	metrics   *metrics.Metrics

	retryDelay time.Duration
	log        zerolog.Logger
}

// New creates an orchestrator for vault.
func New(vault *strategy.Vault, deps Dependencies, log zerolog.Logger) *Orchestrator {
	delay := deps.RetryDelay
	if delay == 0 {
		delay = time.Second
	}
	return &Orchestrator{
		vault:      vault,
		strategy:   vault.Strategy,
		calc:       rebalancing.NewCalculator(vault.Strategy, deps.Prices, log),
		prices:     deps.Prices,
		swapper:    deps.Swapper,
		bridges:    deps.Bridges,
		referrals:  deps.Referrals,
		aprs:       deps.APRs,
		events:     deps.Events,
		metrics:    deps.Metrics,
		retryDelay: delay,
		log:        log.With().Str("service", "orchestrator").Logger(),
	}
}

// Vault returns the vault this orchestrator serves.
func (o *Orchestrator) Vault() *strategy.Vault {
	return o.vault
}

// Calculator returns the weight diff calculator bound to the vault.
func (o *Orchestrator) Calculator() *rebalancing.Calculator {
	return o.calc
}

// run is the per-action context shared by every phase.
type run struct {
	action  domain.ActionName
	params  ActionParams
	chain   string
	chainID int
	prices  domain.PriceTable
	state   *actionState
}

func (r *run) progress() domain.ProgressFunc {
	return r.state.progress
}

type actionFunc func(ctx context.Context, r *run) ([]domain.CallDescriptor, error)

// PortfolioAction builds the batch for action on params.Chain.
func (o *Orchestrator) PortfolioAction(ctx context.Context, action domain.ActionName, params ActionParams) (*ActionResult, error) {
	fn, err := o.dispatch(action)
	if err != nil {
		return nil, err
	}
	return o.execute(ctx, action, params, fn)
}

func (o *Orchestrator) dispatch(action domain.ActionName) (actionFunc, error) {
	switch action {
	case domain.ActionZapIn:
		return o.zapIn, nil
	case domain.ActionZapOut:
		return o.zapOut, nil
	case domain.ActionTransfer:
		return o.transfer, nil
	case domain.ActionStake:
		return o.stake, nil
	case domain.ActionClaimAndSwap:
		return o.claimAndSwap, nil
	case domain.ActionRebalance, domain.ActionCrossChainRebalance, domain.ActionLocalRebalance:
		return o.rebalance, nil
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrInvalidAction, action)
}

func (o *Orchestrator) execute(ctx context.Context, action domain.ActionName, params ActionParams, fn actionFunc) (*ActionResult, error) {
	start := time.Now()

	chain := chains.NormalizeChainName(params.Chain)
	chainID, err := chains.ChainID(chain)
	if err != nil {
		return nil, err
	}
	if err := params.validate(action); err != nil {
		return nil, err
	}

	r := &run{
		action:  action,
		params:  params,
		chain:   chain,
		chainID: chainID,
		state:   newActionState(uuid.NewString(), params.Progress, o.emitCheckpoint),
	}

	log := o.log.With().
		Str("action_id", r.state.id).
		Str("action", string(action)).
		Str("chain", chain).
		Logger()
	log.Info().Str("owner", params.Owner).Msg("Starting portfolio action")
	o.emit(r, events.StatusStarted, 0, 0, nil)

	calls, err := o.runWithPrices(ctx, r, fn)
	elapsed := time.Since(start)
	o.metrics.ObserveAction(string(action), elapsed, err)

	if err != nil {
		log.Error().Err(err).Dur("duration", elapsed).Msg("Portfolio action failed")
		o.emit(r, events.StatusFailed, 0, elapsed, err)
		return nil, fmt.Errorf("failed to build %s on %s: %w", action, chain, err)
	}

	checkpoints, loss := r.state.snapshot()
	log.Info().
		Int("calls", len(calls)).
		Float64("trading_loss", loss).
		Dur("duration", elapsed).
		Msg("Portfolio action built")
	o.emit(r, events.StatusCompleted, len(calls), elapsed, nil)

	return &ActionResult{
		ID:          r.state.id,
		Action:      action,
		Chain:       chain,
		Calls:       calls,
		TradingLoss: loss,
		Checkpoints: checkpoints,
	}, nil
}

func (o *Orchestrator) runWithPrices(ctx context.Context, r *run, fn actionFunc) ([]domain.CallDescriptor, error) {
	prices, err := o.prices.Prices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve prices: %w", err)
	}
	r.prices = prices
	return fn(ctx, r)
}

func (o *Orchestrator) emit(r *run, status string, calls int, elapsed time.Duration, err error) {
	if o.events == nil {
		return
	}
	_, loss := r.state.snapshot()
	data := &events.ActionData{
		ActionID:    r.state.id,
		Action:      string(r.action),
		Owner:       r.params.Owner,
		Chain:       r.chain,
		Status:      status,
		Calls:       calls,
		TradingLoss: loss,
		DurationMs:  elapsed.Milliseconds(),
	}
	if err != nil {
		data.Error = err.Error()
	}
	o.events.EmitTyped("orchestrator", data)
}

func (o *Orchestrator) emitCheckpoint(actionID, checkpointID string, tradingLoss float64) {
	if o.events == nil {
		return
	}
	o.events.EmitTyped("orchestrator", &events.CheckpointData{
		ActionID:    actionID,
		NodeID:      checkpointID,
		TradingLoss: tradingLoss,
	})
}
