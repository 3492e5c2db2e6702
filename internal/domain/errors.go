package domain

import "errors"

// Configuration errors
var (
	ErrInvalidWeights     = errors.New("strategy weights must sum to 1")
	ErrDuplicateProtocol  = errors.New("duplicate protocol")
	ErrInvalidPriceID     = errors.New("invalid price ID format")
	ErrInvalidAction      = errors.New("invalid action name")
	ErrUnknownChain       = errors.New("unknown chain")
	ErrUnknownAdapterKind = errors.New("unknown adapter kind")
	ErrInvalidAmount      = errors.New("invalid amount")
)

// Price resolution errors
var (
	ErrMissingPrice = errors.New("missing price")
	ErrZeroPrice    = errors.New("price resolved to zero")
)

// Swap and bridge errors
var (
	ErrNoValidSwapData    = errors.New("no valid swap data found from any provider")
	ErrSlippageExceeded   = errors.New("slippage exceeded")
	ErrPriceImpactTooHigh = errors.New("price impact is too high")
	ErrNoBridge           = errors.New("no available bridges found")
)

// Batch assembly errors
var (
	ErrEmptyBatch         = errors.New("no transactions generated")
	ErrApprovalAmountZero = errors.New("approval amount is 0")
	ErrNullSpender        = errors.New("spender address is null")
)

// IsValidation reports whether err stems from caller input rather than an
// upstream failure.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrInvalidWeights, ErrDuplicateProtocol, ErrInvalidPriceID, ErrInvalidAction,
		ErrUnknownChain, ErrUnknownAdapterKind, ErrInvalidAmount, ErrSlippageExceeded, ErrPriceImpactTooHigh,
		ErrApprovalAmountZero, ErrNullSpender,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
