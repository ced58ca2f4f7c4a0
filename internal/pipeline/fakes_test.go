package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kalambet/sdsx/internal/extract"
	"github.com/kalambet/sdsx/internal/loader"
	"github.com/kalambet/sdsx/internal/retrieval"
	"github.com/kalambet/sdsx/internal/sections"
	"github.com/kalambet/sdsx/internal/splitter"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// testRegistry builds a registry of object-typed sections with the given keys.
func testRegistry(t *testing.T, keys ...string) *sections.Registry {
	t.Helper()
	specs := make([]sections.Spec, len(keys))
	for i, k := range keys {
		specs[i] = sections.Spec{
			Key:    k,
			Query:  "Return " + k,
			Schema: &sections.Schema{Type: "object"},
		}
	}
	reg, err := sections.NewRegistry(specs...)
	require.NoError(t, err)
	return reg
}

type fakeExtractor struct {
	fn func(ctx context.Context, chunks []string, instruction string, schema *sections.Schema) (extract.Result, error)
}

func (f *fakeExtractor) Invoke(ctx context.Context, chunks []string, instruction string, schema *sections.Schema) (extract.Result, error) {
	return f.fn(ctx, chunks, instruction, schema)
}

// byQuery answers each section from a table keyed by section key.
func byQuery(reg *sections.Registry, answers map[string]func() (extract.Result, error)) *fakeExtractor {
	keyOf := make(map[string]string)
	for _, s := range reg.Specs() {
		keyOf[s.Query] = s.Key
	}
	return &fakeExtractor{fn: func(_ context.Context, _ []string, instruction string, _ *sections.Schema) (extract.Result, error) {
		answer, ok := answers[keyOf[instruction]]
		if !ok {
			return extract.Result{}, fmt.Errorf("no answer for %q", instruction)
		}
		return answer()
	}}
}

func success(value string, cost string, tokens int) func() (extract.Result, error) {
	return func() (extract.Result, error) {
		return extract.Result{Value: []byte(value), Cost: dec(cost), Tokens: tokens}, nil
	}
}

func failure(err error) func() (extract.Result, error) {
	return func() (extract.Result, error) { return extract.Result{}, err }
}

type fakeRetriever struct {
	fn func(ctx context.Context, collection string, spec sections.Spec) (retrieval.Bundle, error)
}

func (f *fakeRetriever) Retrieve(ctx context.Context, collection string, spec sections.Spec) (retrieval.Bundle, error) {
	if f.fn == nil {
		return retrieval.Bundle{Chunks: []retrieval.ContextChunk{{ID: "c1", Text: "Section 1: Product X"}}}, nil
	}
	return f.fn(ctx, collection, spec)
}

type countingLoader struct {
	calls  atomic.Int32
	blocks []loader.TextBlock
	err    error
}

func (l *countingLoader) Load(ctx context.Context, path string) ([]loader.TextBlock, error) {
	l.calls.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	if l.blocks != nil {
		return l.blocks, nil
	}
	return []loader.TextBlock{
		{Page: 1, Text: "SECTION 1: Identification. Product name: X. Manufacturer: ACME."},
		{Page: 2, Text: "SECTION 11: Toxicological information. No data available."},
	}, nil
}

type countingSplitter struct {
	calls atomic.Int32
	err   error
}

func (s *countingSplitter) Split(ctx context.Context, blocks []loader.TextBlock) ([]splitter.Chunk, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	chunks := make([]splitter.Chunk, len(blocks))
	for i, b := range blocks {
		chunks[i] = splitter.Chunk{Index: i, Page: b.Page, Text: b.Text}
	}
	return chunks, nil
}

// memIndex is an in-memory VectorIndex. Search returns chunks in document
// order.
type memIndex struct {
	mu          sync.Mutex
	collections map[string][]splitter.Chunk
	puts        atomic.Int32
	putErr      error
	searchErr   error
}

func newMemIndex() *memIndex {
	return &memIndex{collections: make(map[string][]splitter.Chunk)}
}

func (ix *memIndex) Exists(_ context.Context, collection string) (bool, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	_, ok := ix.collections[collection]
	return ok, nil
}

func (ix *memIndex) Put(_ context.Context, collection string, chunks []splitter.Chunk) error {
	ix.puts.Add(1)
	if ix.putErr != nil {
		return ix.putErr
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.collections[collection]; ok {
		return retrieval.ErrCollectionExists
	}
	ix.collections[collection] = chunks
	return nil
}

func (ix *memIndex) Delete(_ context.Context, collection string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.collections, collection)
	return nil
}

func (ix *memIndex) Search(_ context.Context, collection, _ string, topK int) ([]retrieval.ContextChunk, error) {
	if ix.searchErr != nil {
		return nil, ix.searchErr
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	chunks, ok := ix.collections[collection]
	if !ok {
		return nil, errors.New("no such collection")
	}
	var out []retrieval.ContextChunk
	for _, c := range chunks {
		if len(out) == topK {
			break
		}
		out = append(out, retrieval.ContextChunk{
			ID:      fmt.Sprintf("%s-%d", collection, c.Index),
			Ordinal: c.Index,
			Page:    c.Page,
			Text:    c.Text,
			Score:   1,
		})
	}
	return out, nil
}
