package retrieval

import (
	"context"
	"time"
)

// VectorStore persists embedded chunks grouped into named collections and
// answers similarity queries scoped to one collection. A collection is
// written once, as a unit, and is read-only afterwards.
type VectorStore interface {
	// PutCollection atomically creates the collection and stores its records.
	// It fails with ErrCollectionExists if the name is taken.
	PutCollection(ctx context.Context, name string, records []Record) error

	// HasCollection reports whether a collection with the given name exists.
	HasCollection(ctx context.Context, name string) (bool, error)

	// DropCollection removes a collection and all of its records.
	DropCollection(ctx context.Context, name string) error

	// ListCollections returns all collections, newest first.
	ListCollections(ctx context.Context) ([]Collection, error)

	// Search returns the top-K records in the collection most similar to vector.
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]ScoredRecord, error)

	// Count returns the number of records in the collection.
	Count(ctx context.Context, collection string) (int, error)
}

// Collection describes a stored collection.
type Collection struct {
	Name       string
	ChunkCount int
	CreatedAt  time.Time
}

// Record represents one embedded chunk in the vector store.
type Record struct {
	ID         string
	Collection string
	Ordinal    int
	Page       int
	TextChunk  string
	Embedding  []float32
	CreatedAt  time.Time
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}
