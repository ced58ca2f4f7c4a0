package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kalambet/sdsx/internal/sections"
	"github.com/panjf2000/ants/v2"
)

// Orchestrator fans section tasks out over a worker pool and joins them.
type Orchestrator struct {
	pool   *ants.Pool
	task   *Task
	logger *slog.Logger
}

// NewOrchestrator creates an Orchestrator with a pool of workers goroutines.
// workers <= 0 gives every section its own goroutine. The pool is shared by
// concurrent runs; Release it when done.
func NewOrchestrator(task *Task, workers int, logger *slog.Logger) (*Orchestrator, error) {
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		pool:   pool,
		task:   task,
		logger: logger.With("component", "orchestrator"),
	}, nil
}

// RunSections executes one task per spec against collection and returns
// every outcome, in completion order. A failing section never stops its
// siblings. The error is non-nil only if the pool refused a task; outcomes
// of the tasks that did run are still returned.
func (o *Orchestrator) RunSections(ctx context.Context, collection string, specs []sections.Spec) ([]Outcome, error) {
	if len(specs) == 0 {
		return []Outcome{}, nil
	}

	results := make(chan Outcome, len(specs))
	var wg sync.WaitGroup
	var submitErr error
	for _, spec := range specs {
		wg.Add(1)
		err := o.pool.Submit(func() {
			defer wg.Done()
			results <- o.task.Execute(ctx, collection, spec)
		})
		if err != nil {
			wg.Done()
			submitErr = fmt.Errorf("submitting section %s: %w", spec.Key, err)
			break
		}
	}

	// Sums are read only after every task has finished.
	wg.Wait()
	close(results)

	outcomes := make([]Outcome, 0, len(specs))
	for out := range results {
		outcomes = append(outcomes, out)
	}
	o.logger.Debug("sections finished", "collection", collection, "count", len(outcomes))
	return outcomes, submitErr
}

// Running reports the number of busy workers.
func (o *Orchestrator) Running() int { return o.pool.Running() }

// Release stops the worker pool.
func (o *Orchestrator) Release() { o.pool.Release() }
