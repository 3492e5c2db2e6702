package pricing

import (
	"context"
	"time"

	"github.com/aristath/rebalancer/internal/events"
	"github.com/rs/zerolog"
)

// RefreshJob keeps the price cache warm between user requests.
type RefreshJob struct {
	service *Service
	events  *events.Manager
	timeout time.Duration
	log     zerolog.Logger
}

// NewRefreshJob creates the scheduled cache refresh. ev may be nil.
func NewRefreshJob(service *Service, ev *events.Manager, log zerolog.Logger) *RefreshJob {
	return &RefreshJob{
		service: service,
		events:  ev,
		timeout: 45 * time.Second,
		log:     log.With().Str("job", "price_refresh").Logger(),
	}
}

// Name returns the job name
func (j *RefreshJob) Name() string {
	return "price_refresh"
}

// Run refreshes the price table
func (j *RefreshJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	start := time.Now()
	table, err := j.service.Refresh(ctx)
	if err != nil {
		return err
	}

	elapsed := time.Since(start)
	j.log.Debug().
		Int("tokens", len(table)).
		Dur("duration", elapsed).
		Msg("Price table refreshed")

	if j.events != nil {
		j.events.EmitTyped("pricing", &events.PricesRefreshedData{
			Tokens:     len(table),
			DurationMs: elapsed.Milliseconds(),
		})
	}
	return nil
}
