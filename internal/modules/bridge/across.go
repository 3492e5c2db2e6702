package bridge

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/clients/across"
	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/evm"
	"github.com/aristath/rebalancer/internal/modules/chains"
)

// FillDeadlineBuffer is how long relayers have to fill a deposit.
const FillDeadlineBuffer = 18000 * time.Second

// SpokePools are the Across deposit contracts per chain.
var SpokePools = map[string]string{
	"arbitrum": "0xe35e9842fceaCA96570B734083f4a58e8F7C5f2A",
	"base":     "0x09aea4b2242abC8bb4BB78D537A67a245A7bEC64",
	"linea":    "0x7E63A5f1a8F0B4d0934B2f2327DAED3F6bb2ee75",
	"op":       "0x6f26Bf09B1C792e3228e5467807a900A503c0281",
	"polygon":  "0x9295ee1d8C5b022Be115A2AD3c30C72E34e7F096",
}

// AcrossAPI is the quote surface of the Across client.
type AcrossAPI interface {
	GetSuggestedFees(ctx context.Context, r across.FeeRequest) (*across.SuggestedFees, error)
}

// Across deposits into the origin chain SpokePool.
type Across struct {
	api AcrossAPI
	now func() time.Time
	log zerolog.Logger
}

// NewAcross creates the Across bridge
func NewAcross(api AcrossAPI, log zerolog.Logger) *Across {
	return &Across{
		api: api,
		now: time.Now,
		log: log.With().Str("bridge", "across").Logger(),
	}
}

// Name returns the bridge name
func (a *Across) Name() string { return "across" }

// SpokePool returns the deposit contract of a chain.
func SpokePool(chainID int) (string, error) {
	name, err := chains.Name(chainID)
	if err != nil {
		return "", err
	}
	pool, ok := SpokePools[strings.ToLower(name)]
	if !ok {
		return "", fmt.Errorf("no Across spoke pool on %s", name)
	}
	return pool, nil
}

func (a *Across) fees(ctx context.Context, req Request) (*across.SuggestedFees, error) {
	return a.api.GetSuggestedFees(ctx, across.FeeRequest{
		InputToken:         req.FromToken.Address,
		OutputToken:        req.ToToken.Address,
		OriginChainID:      req.FromChainID,
		DestinationChainID: req.ToChainID,
		Amount:             req.Amount,
	})
}

// FeeUSD quotes the relay fee in USD.
func (a *Across) FeeUSD(ctx context.Context, req Request) (float64, error) {
	if _, err := SpokePool(req.FromChainID); err != nil {
		return 0, err
	}
	fees, err := a.fees(ctx, req)
	if err != nil {
		return 0, err
	}
	return evm.USDValue(fees.TotalRelayFee, req.FromToken.Decimals, req.TokenPriceUSD), nil
}

// BuildCalls approves the spoke pool and deposits amount minus the relay fee.
func (a *Across) BuildCalls(ctx context.Context, req Request, progress domain.ProgressFunc) ([]domain.CallDescriptor, error) {
	spokePool, err := SpokePool(req.FromChainID)
	if err != nil {
		return nil, err
	}
	fees, err := a.fees(ctx, req)
	if err != nil {
		return nil, err
	}

	output := new(big.Int).Sub(req.Amount, fees.TotalRelayFee)
	if output.Sign() <= 0 {
		return nil, fmt.Errorf("relay fee %s exceeds bridged amount %s", fees.TotalRelayFee, req.Amount)
	}

	progress.Report(CheckpointID(req.FromChainID, req.ToChainID),
		-evm.USDValue(fees.TotalRelayFee, req.FromToken.Decimals, req.TokenPriceUSD))

	approve, err := evm.Approve(req.FromChainID, req.FromToken.Address, spokePool, req.Amount)
	if err != nil {
		return nil, err
	}

	data := evm.EncodeDepositV3(evm.DepositV3Args{
		Depositor:           req.Owner,
		Recipient:           req.Owner,
		InputToken:          req.FromToken.Address,
		OutputToken:         req.ToToken.Address,
		InputAmount:         req.Amount,
		OutputAmount:        output,
		DestinationChainID:  req.ToChainID,
		ExclusiveRelayer:    fees.ExclusiveRelayer,
		QuoteTimestamp:      fees.QuoteTimestamp,
		FillDeadline:        uint32(a.now().Add(FillDeadlineBuffer).Unix()),
		ExclusivityDeadline: fees.ExclusivityDeadline,
	})

	return []domain.CallDescriptor{approve, evm.Call(req.FromChainID, spokePool, data)}, nil
}
