package bridge

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/clients/squid"
	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/evm"
)

// SquidAPI is the route surface of the Squid client.
type SquidAPI interface {
	GetRoute(ctx context.Context, r squid.RouteRequest) (*squid.Route, error)
}

// RouteTTL bounds how long a quoted Squid route may be built from. Routes
// carry signed calldata with a deadline.
const RouteTTL = 20 * time.Second

// Squid routes through the Squid router contract.
type Squid struct {
	api SquidAPI
	now func() time.Time
	log zerolog.Logger

	// A quote stores its route; the next build for the same request takes it.
	mu      sync.Mutex
	pending *pendingRoute
}

type pendingRoute struct {
	req       squid.RouteRequest
	route     *squid.Route
	expiresAt time.Time
}

// NewSquid creates the Squid bridge
func NewSquid(api SquidAPI, log zerolog.Logger) *Squid {
	return &Squid{
		api: api,
		now: time.Now,
		log: log.With().Str("bridge", "squid").Logger(),
	}
}

// Name returns the bridge name
func (s *Squid) Name() string { return "squid" }

func routeRequest(req Request) squid.RouteRequest {
	return squid.RouteRequest{
		FromAddress: req.Owner,
		FromChain:   strconv.Itoa(req.FromChainID),
		FromToken:   req.FromToken.Address,
		FromAmount:  req.Amount.String(),
		ToChain:     strconv.Itoa(req.ToChainID),
		ToToken:     req.ToToken.Address,
		ToAddress:   req.Owner,
	}
}

// take returns the pending route for rr when it is still fresh. consume
// clears it so a route is built at most once.
func (s *Squid) take(rr squid.RouteRequest, consume bool) (*squid.Route, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pending
	if p == nil || p.req != rr || !s.now().Before(p.expiresAt) {
		return nil, false
	}
	if consume {
		s.pending = nil
	}
	return p.route, true
}

func (s *Squid) quote(ctx context.Context, req Request) (*squid.Route, error) {
	rr := routeRequest(req)
	if route, ok := s.take(rr, false); ok {
		return route, nil
	}
	route, err := s.api.GetRoute(ctx, rr)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.pending = &pendingRoute{req: rr, route: route, expiresAt: s.now().Add(RouteTTL)}
	s.mu.Unlock()
	return route, nil
}

func (s *Squid) build(ctx context.Context, req Request) (*squid.Route, error) {
	rr := routeRequest(req)
	if route, ok := s.take(rr, true); ok {
		return route, nil
	}
	s.log.Debug().Str("from_chain", rr.FromChain).Str("to_chain", rr.ToChain).Msg("No fresh quoted route, fetching")
	return s.api.GetRoute(ctx, rr)
}

// FeeUSD returns the first fee estimate of the route.
func (s *Squid) FeeUSD(ctx context.Context, req Request) (float64, error) {
	route, err := s.quote(ctx, req)
	if err != nil {
		return 0, err
	}
	return route.FeeUSD, nil
}

// BuildCalls approves the route target and forwards the route transaction.
func (s *Squid) BuildCalls(ctx context.Context, req Request, progress domain.ProgressFunc) ([]domain.CallDescriptor, error) {
	route, err := s.build(ctx, req)
	if err != nil {
		return nil, err
	}
	if route.Target == "" {
		return nil, fmt.Errorf("squid route has no target")
	}
	if route.FeeUSD > 0 {
		progress.Report(CheckpointID(req.FromChainID, req.ToChainID), -route.FeeUSD)
	}

	approve, err := evm.Approve(req.FromChainID, req.FromToken.Address, route.Target, req.Amount)
	if err != nil {
		return nil, err
	}
	call := domain.CallDescriptor{To: route.Target, Data: route.Data, ChainID: req.FromChainID}
	if route.Value != "" && route.Value != "0" {
		call.Value = route.Value
	}
	return []domain.CallDescriptor{approve, call}, nil
}
