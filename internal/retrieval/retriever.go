package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kalambet/sdsx/internal/sections"
)

const defaultRerankTopN = 5

// ContextChunk is a retrieved chunk with its similarity score.
type ContextChunk struct {
	ID      string
	Ordinal int
	Page    int
	Text    string
	Score   float32
}

// Bundle is the ordered context handed to an extractor. An empty bundle is
// valid input.
type Bundle struct {
	Chunks []ContextChunk
}

// Texts returns the chunk texts in bundle order.
func (b Bundle) Texts() []string {
	out := make([]string, len(b.Chunks))
	for i, c := range b.Chunks {
		out[i] = c.Text
	}
	return out
}

func (b Bundle) Len() int { return len(b.Chunks) }

// RetrievalError reports a failed lookup against the vector index for one
// section.
type RetrievalError struct {
	Collection string
	Section    string
	Err        error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieving %s from %s: %v", e.Section, e.Collection, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// Searcher is the read side of the vector index.
type Searcher interface {
	Search(ctx context.Context, collection, query string, topK int) ([]ContextChunk, error)
}

// Reranker reorders retrieved chunks by relevance to the query.
type Reranker interface {
	Rerank(ctx context.Context, query string, chunks []ContextChunk) ([]ContextChunk, error)
}

// ContextRetriever fetches the context bundle for a section: a similarity
// search with the section's query, optionally reranked and cut to top-N.
type ContextRetriever struct {
	searcher   Searcher
	reranker   Reranker
	topK       int
	rerankTopN int
	logger     *slog.Logger
}

// NewContextRetriever creates a ContextRetriever. reranker may be nil.
// rerankTopN <= 0 uses 5.
func NewContextRetriever(searcher Searcher, reranker Reranker, topK, rerankTopN int) *ContextRetriever {
	if rerankTopN <= 0 {
		rerankTopN = defaultRerankTopN
	}
	return &ContextRetriever{
		searcher:   searcher,
		reranker:   reranker,
		topK:       topK,
		rerankTopN: rerankTopN,
		logger:     slog.Default().With("component", "retrieval"),
	}
}

// Retrieve returns the context bundle for spec from the collection. No
// matches is an empty bundle, not an error. Reranking failures fall back to
// similarity order.
func (r *ContextRetriever) Retrieve(ctx context.Context, collection string, spec sections.Spec) (Bundle, error) {
	chunks, err := r.searcher.Search(ctx, collection, spec.Query, r.topK)
	if err != nil {
		return Bundle{}, &RetrievalError{Collection: collection, Section: spec.Key, Err: err}
	}
	if len(chunks) == 0 || r.reranker == nil {
		return Bundle{Chunks: chunks}, nil
	}

	reranked, err := r.reranker.Rerank(ctx, spec.Query, chunks)
	if err != nil {
		r.logger.Warn("rerank failed, using similarity order", "section", spec.Key, "error", err)
		reranked = chunks
	}
	if len(reranked) > r.rerankTopN {
		reranked = reranked[:r.rerankTopN]
	}
	return Bundle{Chunks: reranked}, nil
}

func scoredToChunks(scored []ScoredRecord) []ContextChunk {
	chunks := make([]ContextChunk, len(scored))
	for i, s := range scored {
		chunks[i] = ContextChunk{
			ID:      s.ID,
			Ordinal: s.Ordinal,
			Page:    s.Page,
			Text:    s.TextChunk,
			Score:   s.Score,
		}
	}
	return chunks
}
