package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kalambet/sdsx/internal/loader"
	"github.com/kalambet/sdsx/internal/retrieval"
	"github.com/kalambet/sdsx/internal/splitter"
	"golang.org/x/sync/singleflight"
)

// Loader reads a document into ordered text blocks.
type Loader interface {
	Load(ctx context.Context, path string) ([]loader.TextBlock, error)
}

// CollectionIndex is the write side of the vector index used by the gate.
type CollectionIndex interface {
	Exists(ctx context.Context, collection string) (bool, error)
	Put(ctx context.Context, collection string, chunks []splitter.Chunk) error
}

// PathResolver maps a document name to the file to load.
type PathResolver func(documentName string) (string, error)

// DirResolver resolves document names to files directly inside dir.
func DirResolver(dir string) PathResolver {
	return func(name string) (string, error) {
		if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
			return "", fmt.Errorf("invalid document name %q", name)
		}
		return filepath.Join(dir, name), nil
	}
}

// Gate makes sure a document's collection exists before extraction,
// ingesting it at most once.
type Gate struct {
	method   string
	loader   Loader
	splitter splitter.Splitter
	index    CollectionIndex
	resolve  PathResolver
	group    singleflight.Group
	logger   *slog.Logger
}

// NewGate creates a Gate for one chunking method.
func NewGate(method string, l Loader, s splitter.Splitter, ix CollectionIndex, resolve PathResolver, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		method:   method,
		loader:   l,
		splitter: s,
		index:    ix,
		resolve:  resolve,
		logger:   logger.With("component", "ingest_gate"),
	}
}

// Method returns the chunking method tag.
func (g *Gate) Method() string { return g.method }

// Collection returns the collection identity for documentName.
func (g *Gate) Collection(documentName string) string {
	return CollectionID(g.method, documentName)
}

// EnsureIngested returns the document's collection, ingesting it first if it
// does not exist. Concurrent calls for one document share one ingestion.
// Failures are *IngestionError.
func (g *Gate) EnsureIngested(ctx context.Context, documentName string) (string, error) {
	id := CollectionID(g.method, documentName)
	if strings.TrimSpace(documentName) == "" {
		return "", &IngestionError{Document: documentName, Collection: id, Stage: "resolve", Err: errors.New("empty document name")}
	}

	// The shared ingestion outlives any single caller; each caller stops
	// waiting when its own ctx ends.
	ch := g.group.DoChan(id, func() (any, error) {
		return nil, g.ingest(context.WithoutCancel(ctx), documentName, id)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			g.logger.Debug("ingestion shared", "collection", id)
		}
		return id, nil
	case <-ctx.Done():
		return "", &IngestionError{Document: documentName, Collection: id, Stage: "wait", Err: context.Cause(ctx)}
	}
}

func (g *Gate) ingest(ctx context.Context, name, id string) error {
	fail := func(stage string, err error) error {
		return &IngestionError{Document: name, Collection: id, Stage: stage, Err: err}
	}

	exists, err := g.index.Exists(ctx, id)
	if err != nil {
		return fail("index", err)
	}
	if exists {
		g.logger.Debug("ingestion skipped", "collection", id)
		return nil
	}

	path, err := g.resolve(name)
	if err != nil {
		return fail("resolve", err)
	}
	blocks, err := g.loader.Load(ctx, path)
	if err != nil {
		return fail("load", err)
	}
	if len(blocks) == 0 {
		return fail("load", errors.New("document has no extractable text"))
	}

	chunks, err := g.splitter.Split(ctx, blocks)
	if err != nil {
		return fail("split", err)
	}
	if len(chunks) == 0 {
		return fail("split", errors.New("no chunks produced"))
	}

	if err := g.index.Put(ctx, id, chunks); err != nil {
		if retrieval.IsCollectionExists(err) {
			// Another process finished the same ingestion first.
			return nil
		}
		return fail("index", err)
	}
	g.logger.Info("document ingested", "collection", id, "pages", len(blocks), "chunks", len(chunks))
	return nil
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

const maxNameLen = 40

// CollectionID derives the collection identity from the chunking method and
// the document name: method, a readable slug of the name, and a short hash
// so names that slug alike stay distinct.
func CollectionID(method, documentName string) string {
	base := strings.ToLower(filepath.Base(documentName))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	slug := strings.Trim(nonAlnum.ReplaceAllString(base, "_"), "_")
	if len(slug) > maxNameLen {
		slug = strings.TrimRight(slug[:maxNameLen], "_")
	}
	if slug == "" {
		slug = "doc"
	}
	sum := sha256.Sum256([]byte(documentName))
	return fmt.Sprintf("%s_%s_%s", method, slug, hex.EncodeToString(sum[:4]))
}
