package di

import (
	"fmt"

	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/modules/pricing"
	"github.com/aristath/rebalancer/internal/scheduler"
	"github.com/rs/zerolog"
)

// RegisterJobs creates the scheduler and registers every background job.
// The scheduler is not started here.
func RegisterJobs(c *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	c.Scheduler = scheduler.New(log)

	jobs := &JobInstances{
		PriceRefresh: pricing.NewRefreshJob(c.PriceService, c.EventManager, log),
	}

	if err := c.Scheduler.AddJob(cfg.PriceRefreshSchedule, jobs.PriceRefresh); err != nil {
		return nil, fmt.Errorf("failed to register %s job: %w", jobs.PriceRefresh.Name(), err)
	}

	return jobs, nil
}
