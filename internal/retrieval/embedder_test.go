package retrieval

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kalambet/sdsx/internal/engine"
)

// mockEngine implements engine.Engine for testing.
type mockEngine struct {
	embedFn func(ctx context.Context, model string, text string) ([]float32, error)
}

func (m *mockEngine) Chat(_ context.Context, _ string, _ []engine.Message, _ any, _ ...engine.ChatOption) (engine.ChatResult, error) {
	return engine.ChatResult{}, errors.New("not implemented")
}
func (m *mockEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	return m.embedFn(ctx, model, text)
}
func (m *mockEngine) IsRunning(_ context.Context) bool               { return false }
func (m *mockEngine) ListModels(_ context.Context) ([]string, error) { return nil, nil }
func (m *mockEngine) HasModel(_ context.Context, _ string) bool      { return false }
func (m *mockEngine) PullModel(_ context.Context, _ string, _ func(engine.PullProgress)) error {
	return errors.New("not implemented")
}

// vocab is the fixed vocabulary of the bag-of-words test embedder.
var vocab = []string{"manufacturer", "cas", "toxic", "flash", "revision", "ld50"}

// bagOfWords embeds text as keyword counts over vocab plus a constant bias
// dimension, so related texts score higher under cosine similarity.
func bagOfWords(_ context.Context, _ string, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	v := make([]float32, len(vocab)+1)
	for i, w := range vocab {
		v[i] = float32(strings.Count(lower, w))
	}
	v[len(vocab)] = 0.1
	return v, nil
}

func makeVector(dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(i+1) * 0.001
	}
	return v
}

func TestEmbed_ReturnsDimension(t *testing.T) {
	e := NewEmbedder(&mockEngine{embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
		return makeVector(384), nil
	}}, "nomic-embed-text", 0)

	vec, err := e.Embed(context.Background(), "Section 1: Identification")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 384 {
		t.Errorf("got %d dimensions, want 384", len(vec))
	}
}

func TestEmbed_EngineError(t *testing.T) {
	e := NewEmbedder(&mockEngine{embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
		return nil, errors.New("connection refused")
	}}, "nomic-embed-text", 0)

	if _, err := e.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestEmbed_EmptyVector(t *testing.T) {
	e := NewEmbedder(&mockEngine{embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
		return nil, nil
	}}, "nomic-embed-text", 0)

	if _, err := e.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for empty vector")
	}
}

func TestEmbedBatch_PreservesOrder(t *testing.T) {
	e := NewEmbedder(&mockEngine{embedFn: bagOfWords}, "nomic-embed-text", 2)

	texts := []string{"manufacturer", "cas", "toxic"}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vecs))
	}
	for i := range texts {
		if vecs[i][i] != 1 {
			t.Errorf("vecs[%d] = %v, want keyword %d set", i, vecs[i], i)
		}
	}
}

func TestEmbedBatch_BoundsConcurrency(t *testing.T) {
	var inflight, peak int32
	e := NewEmbedder(&mockEngine{embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
		n := atomic.AddInt32(&inflight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		defer atomic.AddInt32(&inflight, -1)
		return makeVector(8), nil
	}}, "nomic-embed-text", 2)

	if _, err := e.EmbedBatch(context.Background(), make([]string, 20)); err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestEmbedBatch_EngineError(t *testing.T) {
	e := NewEmbedder(&mockEngine{embedFn: func(_ context.Context, _ string, text string) ([]float32, error) {
		if text == "b" {
			return nil, errors.New("embedding failed")
		}
		return makeVector(384), nil
	}}, "nomic-embed-text", 0)

	_, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "embedding failed") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestEmbedBatch_DimensionMismatch(t *testing.T) {
	e := NewEmbedder(&mockEngine{embedFn: func(_ context.Context, _ string, text string) ([]float32, error) {
		if text == "short" {
			return makeVector(3), nil
		}
		return makeVector(4), nil
	}}, "nomic-embed-text", 1)

	if _, err := e.EmbedBatch(context.Background(), []string{"long", "short"}); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	e := NewEmbedder(&mockEngine{embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
		t.Fatal("should not be called for empty input")
		return nil, nil
	}}, "nomic-embed-text", 0)

	vecs, err := e.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if vecs != nil {
		t.Errorf("got %v, want nil", vecs)
	}
}
