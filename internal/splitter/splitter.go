// Package splitter turns page text into retrievable chunks.
package splitter

import (
	"context"
	"fmt"

	"github.com/kalambet/sdsx/internal/loader"
)

// Chunking method tags. The tag is part of a collection's identity.
const (
	MethodRecursive = "recursive"
	MethodSemantic  = "semantic"
)

// Chunk is a span of document text. Index is the chunk's position in the
// document; Page is the page it was cut from.
type Chunk struct {
	Index int
	Page  int
	Text  string
}

// Splitter cuts text blocks into chunks. Output is deterministic for a fixed
// configuration.
type Splitter interface {
	Split(ctx context.Context, blocks []loader.TextBlock) ([]Chunk, error)
}

// Embedder is what the semantic splitter needs from an embedding model.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Config holds the parameters for both methods.
type Config struct {
	ChunkSize        int
	ChunkOverlap     int
	BreakpointAmount float64
}

// DefaultConfig returns chunk size 2000, overlap 600, and an interquartile
// breakpoint amount of 1.5.
func DefaultConfig() Config {
	return Config{ChunkSize: 2000, ChunkOverlap: 600, BreakpointAmount: 1.5}
}

// IsMethod reports whether m is a known chunking method.
func IsMethod(m string) bool {
	return m == MethodRecursive || m == MethodSemantic
}

// New returns the Splitter for method. The semantic method requires an
// Embedder.
func New(method string, cfg Config, emb Embedder) (Splitter, error) {
	switch method {
	case MethodRecursive:
		return NewRecursive(cfg.ChunkSize, cfg.ChunkOverlap)
	case MethodSemantic:
		if emb == nil {
			return nil, fmt.Errorf("semantic splitter requires an embedder")
		}
		return NewSemantic(emb, cfg.BreakpointAmount), nil
	default:
		return nil, fmt.Errorf("unknown chunking method %q", method)
	}
}
