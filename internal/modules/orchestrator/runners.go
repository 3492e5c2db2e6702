package orchestrator

import (
	"context"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/errgroup"
)

// Task produces the calls of one unit of work, usually one position.
type Task func(ctx context.Context) ([]domain.CallDescriptor, error)

// FailFast runs tasks concurrently and concatenates their calls in task
// order. The first error cancels the others and is returned.
func FailFast(ctx context.Context, tasks []Task) ([]domain.CallDescriptor, error) {
	results := make([][]domain.CallDescriptor, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	for i, task := range tasks {
		g.Go(func() error {
			calls, err := task(gctx)
			if err != nil {
				return err
			}
			results[i] = calls
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return flatten(results), nil
}

// BestEffort runs tasks with at most maxGoroutines in flight. Failed tasks
// are logged and skipped; the calls of the rest are concatenated in task
// order. The returned slice holds one error per task, nil on success.
func BestEffort(ctx context.Context, tasks []Task, maxGoroutines int, log zerolog.Logger) ([]domain.CallDescriptor, []error) {
	if maxGoroutines <= 0 {
		maxGoroutines = 1
	}
	results := make([][]domain.CallDescriptor, len(tasks))
	errs := make([]error, len(tasks))

	p := pool.New().WithMaxGoroutines(maxGoroutines)
	for i, task := range tasks {
		p.Go(func() {
			calls, err := task(ctx)
			if err != nil {
				log.Warn().Err(err).Int("task", i).Msg("Task failed, skipping")
				errs[i] = err
				return
			}
			results[i] = calls
		})
	}
	p.Wait()

	return flatten(results), errs
}

func flatten(results [][]domain.CallDescriptor) []domain.CallDescriptor {
	var out []domain.CallDescriptor
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}
