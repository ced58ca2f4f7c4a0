package splitter

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/kalambet/sdsx/internal/loader"
)

var sentenceEnd = regexp.MustCompile(`[.?!]\s+`)

// Semantic groups consecutive sentences of a page and starts a new chunk
// where the embedding distance between neighbouring sentence windows is an
// outlier: above mean + amount*IQR of all distances on the page.
type Semantic struct {
	emb    Embedder
	amount float64
}

// NewSemantic creates a Semantic splitter. amount <= 0 uses 1.5.
func NewSemantic(emb Embedder, amount float64) *Semantic {
	if amount <= 0 {
		amount = 1.5
	}
	return &Semantic{emb: emb, amount: amount}
}

func (s *Semantic) Split(ctx context.Context, blocks []loader.TextBlock) ([]Chunk, error) {
	var chunks []Chunk
	for _, b := range blocks {
		groups, err := s.splitPage(ctx, b.Text)
		if err != nil {
			return nil, fmt.Errorf("splitting page %d: %w", b.Page, err)
		}
		for _, g := range groups {
			chunks = append(chunks, Chunk{Index: len(chunks), Page: b.Page, Text: g})
		}
	}
	return chunks, nil
}

func (s *Semantic) splitPage(ctx context.Context, text string) ([]string, error) {
	sentences := splitSentences(text)
	if len(sentences) <= 1 {
		return sentences, nil
	}

	// Each sentence is embedded together with its neighbours.
	windows := make([]string, len(sentences))
	for i := range sentences {
		lo, hi := max(i-1, 0), min(i+2, len(sentences))
		windows[i] = strings.Join(sentences[lo:hi], " ")
	}
	vecs, err := s.emb.EmbedBatch(ctx, windows)
	if err != nil {
		return nil, err
	}

	distances := make([]float64, len(vecs)-1)
	for i := range distances {
		distances[i] = 1 - cosine(vecs[i], vecs[i+1])
	}
	threshold := interquartileThreshold(distances, s.amount)

	var groups []string
	start := 0
	for i, d := range distances {
		if d > threshold {
			groups = append(groups, strings.Join(sentences[start:i+1], " "))
			start = i + 1
		}
	}
	if start < len(sentences) {
		groups = append(groups, strings.Join(sentences[start:], " "))
	}
	return groups, nil
}

// splitSentences cuts after '.', '?' or '!' followed by whitespace.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for _, m := range sentenceEnd.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[start : m[0]+1]); s != "" {
			out = append(out, s)
		}
		start = m[1]
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// interquartileThreshold returns mean(d) + amount*(Q3-Q1).
func interquartileThreshold(d []float64, amount float64) float64 {
	if len(d) == 0 {
		return 0
	}
	var sum float64
	for _, v := range d {
		sum += v
	}
	sorted := append([]float64(nil), d...)
	sort.Float64s(sorted)
	iqr := percentile(sorted, 75) - percentile(sorted, 25)
	return sum/float64(len(d)) + amount*iqr
}

// percentile uses linear interpolation between closest ranks over a sorted
// slice.
func percentile(sorted []float64, p float64) float64 {
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
