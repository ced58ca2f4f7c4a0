package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kalambet/sdsx/internal/splitter"
)

// Index is the collection-level vector index: it embeds chunks on the way in
// and embeds queries on the way out.
type Index struct {
	embedder *Embedder
	store    VectorStore
}

// NewIndex creates an Index over the given Embedder and VectorStore.
func NewIndex(embedder *Embedder, store VectorStore) *Index {
	return &Index{embedder: embedder, store: store}
}

// Put embeds chunks and stores them as a new collection. A collection with
// zero chunks is still recorded, so an empty document is not re-ingested.
func (ix *Index) Put(ctx context.Context, collection string, chunks []splitter.Chunk) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding chunks: %w", err)
	}

	records := make([]Record, len(chunks))
	for i, c := range chunks {
		records[i] = Record{
			ID:         uuid.New().String(),
			Collection: collection,
			Ordinal:    c.Index,
			Page:       c.Page,
			TextChunk:  c.Text,
			Embedding:  vecs[i],
		}
	}
	if err := ix.store.PutCollection(ctx, collection, records); err != nil {
		return fmt.Errorf("storing collection: %w", err)
	}
	return nil
}

// Exists reports whether the collection has been stored.
func (ix *Index) Exists(ctx context.Context, collection string) (bool, error) {
	return ix.store.HasCollection(ctx, collection)
}

// Delete removes a collection so the next ingestion rebuilds it.
func (ix *Index) Delete(ctx context.Context, collection string) error {
	return ix.store.DropCollection(ctx, collection)
}

// Collections lists the stored collections.
func (ix *Index) Collections(ctx context.Context) ([]Collection, error) {
	return ix.store.ListCollections(ctx)
}

// Search embeds the query and returns the top-K chunks of the collection,
// best first. An empty collection yields an empty result.
func (ix *Index) Search(ctx context.Context, collection, query string, topK int) ([]ContextChunk, error) {
	vec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	scored, err := ix.store.Search(ctx, collection, vec, topK)
	if err != nil {
		return nil, err
	}
	return scoredToChunks(scored), nil
}

// IsCollectionExists reports whether err is a duplicate-collection error.
func IsCollectionExists(err error) bool {
	return errors.Is(err, ErrCollectionExists)
}
