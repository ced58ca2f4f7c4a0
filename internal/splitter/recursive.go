package splitter

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/sdsx/internal/loader"
	"github.com/tmc/langchaingo/textsplitter"
)

// Recursive splits each page with a recursive character splitter: it tries
// paragraph, line, then word separators until pieces fit ChunkSize.
type Recursive struct {
	ts textsplitter.RecursiveCharacter
}

// NewRecursive creates a Recursive splitter. Overlap must be smaller than size.
func NewRecursive(size, overlap int) (*Recursive, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, %d)", overlap, size)
	}
	return &Recursive{
		ts: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
		),
	}, nil
}

func (r *Recursive) Split(ctx context.Context, blocks []loader.TextBlock) ([]Chunk, error) {
	var chunks []Chunk
	for _, b := range blocks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		parts, err := r.ts.SplitText(b.Text)
		if err != nil {
			return nil, fmt.Errorf("splitting page %d: %w", b.Page, err)
		}
		for _, p := range parts {
			if strings.TrimSpace(p) == "" {
				continue
			}
			chunks = append(chunks, Chunk{Index: len(chunks), Page: b.Page, Text: p})
		}
	}
	return chunks, nil
}
