package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/rebalancer/internal/modules/rebalancing"
	"github.com/aristath/rebalancer/internal/utils"
	"golang.org/x/sync/errgroup"
)

// maxAPRFetches bounds concurrent backend APR lookups.
const maxAPRFetches = 8

// PortfolioMetadata summarises yield, size and lock-up for an owner.
type PortfolioMetadata struct {
	// APR is the weight-averaged pool APR as a fraction.
	APR            float64                    `json:"portfolioAPR"`
	TVL            string                     `json:"portfolioTVL"`
	LockUpPeriod   time.Duration              `json:"-"`
	LockUp         string                     `json:"lockUpPeriod"`
	PendingRewards rebalancing.PendingRewards `json:"pendingRewards"`
	PoolAPRs       map[string]float64         `json:"poolAPRs"`
}

// Metadata computes portfolio APR and TVL from the backend pool figures,
// the longest lock-up among weighted positions and the owner's pending
// rewards. A pool whose APR cannot be fetched counts as zero.
func (o *Orchestrator) Metadata(ctx context.Context, owner string) (*PortfolioMetadata, error) {
	entries := o.strategy.Entries()

	var (
		mu   sync.Mutex
		aprs = make(map[string]float64, len(entries))
		tvl  float64
	)
	if o.aprs != nil {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxAPRFetches)
		for _, e := range entries {
			uid := e.UniqueID()
			g.Go(func() error {
				pool, err := o.aprs.GetPoolAPR(gctx, uid)
				if err != nil {
					o.log.Warn().Err(err).Str("position", uid).Msg("Pool APR unavailable")
					return nil
				}
				mu.Lock()
				aprs[uid] = pool.Value
				tvl += pool.TVL
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}

	var lockUp time.Duration
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		if e.Position.Weight() <= 0 {
			continue
		}
		adapter := e.Position.Adapter()
		g.Go(func() error {
			d, err := adapter.LockUpPeriod(gctx, owner)
			if err != nil {
				return fmt.Errorf("failed to read lock-up of %s: %w", adapter.UniqueID(), err)
			}
			mu.Lock()
			if d > lockUp {
				lockUp = d
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap, err := o.calc.Compute(ctx, owner, aprs)
	if err != nil {
		return nil, err
	}

	apr := 0.0
	for _, e := range entries {
		apr += aprs[e.UniqueID()] * e.Position.Weight()
	}

	return &PortfolioMetadata{
		APR:            apr,
		TVL:            utils.FormatTVL(tvl),
		LockUpPeriod:   lockUp,
		LockUp:         utils.FormatLockUp(lockUp),
		PendingRewards: snap.PendingRewards,
		PoolAPRs:       aprs,
	}, nil
}

// Snapshot computes the owner's current balance snapshot.
func (o *Orchestrator) Snapshot(ctx context.Context, owner string) (*rebalancing.Snapshot, error) {
	return o.calc.Compute(ctx, owner, nil)
}
