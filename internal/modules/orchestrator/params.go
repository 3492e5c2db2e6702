package orchestrator

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/aristath/rebalancer/internal/domain"
)

// ActionParams is the caller's input to a portfolio action. It is never
// mutated by the orchestrator.
type ActionParams struct {
	Owner string
	Chain string

	// TokenIn and Amount drive zapIn and diversify.
	TokenIn domain.Token
	Amount  *big.Int

	// TokenOut receives zapOut proceeds and claimed rewards.
	TokenOut domain.Token
	// Percentage is the fraction (0..1] of each position to withdraw or
	// transfer.
	Percentage float64
	Recipient  string

	Slippage      float64 // percent
	OnlyThisChain bool
	Progress      domain.ProgressFunc
}

func (p ActionParams) validate(action domain.ActionName) error {
	if p.Owner == "" {
		return fmt.Errorf("%w: owner is required", domain.ErrInvalidAction)
	}
	if p.Slippage < 0 || p.Slippage >= 100 {
		return fmt.Errorf("%w: slippage %v out of range", domain.ErrInvalidAmount, p.Slippage)
	}
	switch action {
	case domain.ActionZapIn, ActionDiversify:
		if p.Amount == nil || p.Amount.Sign() <= 0 {
			return fmt.Errorf("%w: zapIn amount must be positive", domain.ErrInvalidAmount)
		}
		if p.TokenIn.Address == "" {
			return fmt.Errorf("%w: zapIn requires an input token", domain.ErrInvalidAction)
		}
	case domain.ActionZapOut, domain.ActionTransfer:
		if p.Percentage <= 0 || p.Percentage > 1 {
			return fmt.Errorf("%w: percentage %v must be in (0, 1]", domain.ErrInvalidAmount, p.Percentage)
		}
		if action == domain.ActionZapOut && p.TokenOut.Address == "" {
			return fmt.Errorf("%w: zapOut requires an output token", domain.ErrInvalidAction)
		}
		if action == domain.ActionTransfer && p.Recipient == "" {
			return fmt.Errorf("%w: transfer requires a recipient", domain.ErrInvalidAction)
		}
	case domain.ActionClaimAndSwap:
		if p.TokenOut.Address == "" {
			return fmt.Errorf("%w: claimAndSwap requires an output token", domain.ErrInvalidAction)
		}
	}
	return nil
}

// ActionResult is the unsigned batch an action produced.
type ActionResult struct {
	ID          string                  `json:"id"`
	Action      domain.ActionName       `json:"action"`
	Chain       string                  `json:"chain"`
	Calls       []domain.CallDescriptor `json:"calls"`
	TradingLoss float64                 `json:"tradingLoss"`
	Checkpoints []string                `json:"checkpoints"`
}

// actionState accumulates progress for one action. Its progress method is
// handed to adapters and may be called concurrently.
type actionState struct {
	id string

	mu          sync.Mutex
	checkpoints []string
	tradingLoss float64

	report domain.ProgressFunc
	emit   func(actionID, checkpointID string, tradingLoss float64)
}

func newActionState(id string, report domain.ProgressFunc, emit func(string, string, float64)) *actionState {
	return &actionState{id: id, report: report, emit: emit}
}

func (s *actionState) progress(checkpointID string, tradingLoss float64) {
	s.mu.Lock()
	s.checkpoints = append(s.checkpoints, checkpointID)
	s.tradingLoss += tradingLoss
	s.mu.Unlock()

	s.report.Report(checkpointID, tradingLoss)
	if s.emit != nil {
		s.emit(s.id, checkpointID, tradingLoss)
	}
}

func (s *actionState) snapshot() ([]string, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.checkpoints...), s.tradingLoss
}
