package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/kalambet/sdsx/internal/extract"
	"github.com/kalambet/sdsx/internal/retrieval"
	"github.com/kalambet/sdsx/internal/sections"
)

// Retriever fetches the context bundle for a section.
type Retriever interface {
	Retrieve(ctx context.Context, collection string, spec sections.Spec) (retrieval.Bundle, error)
}

// Task extracts one section: retrieve context, then invoke the extractor.
// Every failure, including a panic or timeout, becomes a Failed outcome.
type Task struct {
	retriever Retriever
	extractor extract.Extractor
	timeout   time.Duration
}

// NewTask creates a Task. timeout <= 0 disables the per-section ceiling.
func NewTask(r Retriever, x extract.Extractor, timeout time.Duration) *Task {
	return &Task{retriever: r, extractor: x, timeout: timeout}
}

// Execute runs the section against collection. It never returns an error;
// the outcome carries it.
func (t *Task) Execute(ctx context.Context, collection string, spec sections.Spec) Outcome {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, t.timeout, ErrTimeout)
		defer cancel()
	}

	done := make(chan Outcome, 1)
	go func() { done <- t.run(ctx, collection, spec) }()

	select {
	case out := <-done:
		return out
	case <-ctx.Done():
		// The worker keeps running until its calls observe ctx; done is
		// buffered so it never blocks.
		return Failed(spec.Key, fmt.Errorf("section %s: %w", spec.Key, context.Cause(ctx)))
	}
}

func (t *Task) run(ctx context.Context, collection string, spec sections.Spec) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Failed(spec.Key, fmt.Errorf("section %s: panic: %v\n%s", spec.Key, r, debug.Stack()))
		}
	}()

	bundle, err := t.retriever.Retrieve(ctx, collection, spec)
	if err != nil {
		return Failed(spec.Key, withCause(ctx, err))
	}

	res, err := t.extractor.Invoke(ctx, bundle.Texts(), spec.Query, spec.Schema)
	if err != nil {
		return Failed(spec.Key, withCause(ctx, err))
	}
	return Succeeded(spec.Key, res)
}

// withCause tags err with ErrTimeout when it was caused by the task deadline.
func withCause(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); errors.Is(cause, ErrTimeout) && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
