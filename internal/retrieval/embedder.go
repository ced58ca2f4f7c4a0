package retrieval

import (
	"context"
	"fmt"

	"github.com/kalambet/sdsx/internal/engine"
	"golang.org/x/sync/errgroup"
)

const defaultEmbedConcurrency = 4

// Embedder turns text into vectors through an Engine's embedding model.
type Embedder struct {
	engine      engine.Engine
	model       string
	concurrency int
}

// NewEmbedder creates an Embedder using the given Engine and model name.
// concurrency bounds in-flight requests in EmbedBatch; values <= 0 use 4.
func NewEmbedder(e engine.Engine, model string, concurrency int) *Embedder {
	if concurrency <= 0 {
		concurrency = defaultEmbedConcurrency
	}
	return &Embedder{engine: e, model: model, concurrency: concurrency}
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("embedding text: model %s returned an empty vector", e.model)
	}
	return vec, nil
}

// EmbedBatch embeds texts concurrently and returns vectors in input order.
// All vectors must share one dimension. Empty input yields nil.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.engine.Embed(gCtx, e.model, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	dim := len(results[0])
	for i, v := range results {
		if len(v) == 0 || len(v) != dim {
			return nil, fmt.Errorf("embedding text %d: got %d dimensions, want %d", i, len(v), dim)
		}
	}
	return results, nil
}
