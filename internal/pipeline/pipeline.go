// Package pipeline extracts structured sections from SDS documents: it
// ingests a document once, extracts every registered section concurrently,
// and assembles one ordered record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/sdsx/internal/extract"
	"github.com/kalambet/sdsx/internal/retrieval"
	"github.com/kalambet/sdsx/internal/sections"
	"github.com/kalambet/sdsx/internal/splitter"
)

// Options is the immutable run configuration.
type Options struct {
	ChunkingMethod string
	Registry       *sections.Registry
	TopK           int
	RerankTopN     int
	Timeout        time.Duration
	// Workers bounds concurrent sections. <= 0 means one worker per
	// registered section.
	Workers        int
}

func (o Options) validate() error {
	if !splitter.IsMethod(o.ChunkingMethod) {
		return fmt.Errorf("unknown chunking method %q", o.ChunkingMethod)
	}
	if o.Registry == nil {
		return errors.New("section registry is required")
	}
	if o.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", o.TopK)
	}
	return nil
}

// VectorIndex is the vector index as the pipeline uses it.
type VectorIndex interface {
	CollectionIndex
	retrieval.Searcher
	Delete(ctx context.Context, collection string) error
}

// Deps are the collaborators of a Pipeline. Reranker is optional.
type Deps struct {
	Loader    Loader
	Splitter  splitter.Splitter
	Index     VectorIndex
	Reranker  retrieval.Reranker
	Extractor extract.Extractor
	Resolve   PathResolver
	Logger    *slog.Logger
}

// Pipeline runs the full extraction for a document.
type Pipeline struct {
	opts   Options
	index  VectorIndex
	gate   *Gate
	orch   *Orchestrator
	logger *slog.Logger
}

// New wires a Pipeline. Close releases its worker pool.
func New(opts Options, deps Deps) (*Pipeline, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if deps.Loader == nil || deps.Splitter == nil || deps.Index == nil || deps.Extractor == nil || deps.Resolve == nil {
		return nil, errors.New("pipeline: missing dependency")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retriever := retrieval.NewContextRetriever(deps.Index, deps.Reranker, opts.TopK, opts.RerankTopN)
	task := NewTask(retriever, deps.Extractor, opts.Timeout)
	workers := opts.Workers
	if workers <= 0 {
		workers = opts.Registry.Len()
	}
	orch, err := NewOrchestrator(task, workers, logger)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		opts:   opts,
		index:  deps.Index,
		gate:   NewGate(opts.ChunkingMethod, deps.Loader, deps.Splitter, deps.Index, deps.Resolve, logger),
		orch:   orch,
		logger: logger.With("component", "pipeline"),
	}, nil
}

// Registry returns the sections this pipeline extracts.
func (p *Pipeline) Registry() *sections.Registry { return p.opts.Registry }

// Run ingests documentName if needed and extracts every section. A record
// with some sections missing is a success; ingestion failures, defects and
// cancellation of ctx are errors.
func (p *Pipeline) Run(ctx context.Context, documentName string) (*DocumentRecord, error) {
	start := time.Now()

	collection, err := p.gate.EnsureIngested(ctx, documentName)
	if err != nil {
		return nil, err
	}

	outcomes, err := p.orch.RunSections(ctx, collection, p.opts.Registry.Specs())
	if err != nil {
		return nil, fmt.Errorf("extracting %s: %w", documentName, err)
	}
	// Sections failed because the caller went away, not on their own.
	if ctx.Err() != nil {
		return nil, fmt.Errorf("extracting %s: %w", documentName, context.Cause(ctx))
	}

	failed := 0
	for _, o := range outcomes {
		if !o.OK() {
			failed++
			p.logger.Warn("section extraction failed",
				"document", documentName,
				"section", o.SectionKey,
				"error", o.Err,
			)
		}
	}

	rec, err := Assemble(documentName, p.opts.Registry, outcomes)
	if err != nil {
		return nil, err
	}

	p.logger.Info("document extracted",
		"document", documentName,
		"collection", collection,
		"sections", len(rec.Sections),
		"failed", failed,
		"total_tokens", rec.TotalTokens,
		"total_cost", rec.TotalCost.String(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return rec, nil
}

// Search ingests documentName if needed and returns its chunks most similar
// to query.
func (p *Pipeline) Search(ctx context.Context, documentName, query string, topK int) ([]retrieval.ContextChunk, error) {
	collection, err := p.gate.EnsureIngested(ctx, documentName)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = p.opts.TopK
	}
	chunks, err := p.index.Search(ctx, collection, query, topK)
	if err != nil {
		return nil, &retrieval.RetrievalError{Collection: collection, Section: "search", Err: err}
	}
	return chunks, nil
}

// Forget drops the indexed collection of documentName so the next Run
// ingests it again. Forgetting a document that was never ingested is a
// no-op.
func (p *Pipeline) Forget(ctx context.Context, documentName string) error {
	collection := p.gate.Collection(documentName)
	exists, err := p.index.Exists(ctx, collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", collection, err)
	}
	if !exists {
		return nil
	}
	if err := p.index.Delete(ctx, collection); err != nil {
		return fmt.Errorf("deleting collection %s: %w", collection, err)
	}
	p.logger.Info("collection dropped", "document", documentName, "collection", collection)
	return nil
}

// Close releases the worker pool.
func (p *Pipeline) Close() { p.orch.Release() }
