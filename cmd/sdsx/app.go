package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/kalambet/sdsx/internal/config"
	"github.com/kalambet/sdsx/internal/engine"
	"github.com/kalambet/sdsx/internal/extract"
	"github.com/kalambet/sdsx/internal/loader"
	"github.com/kalambet/sdsx/internal/pipeline"
	"github.com/kalambet/sdsx/internal/reranking"
	"github.com/kalambet/sdsx/internal/results"
	"github.com/kalambet/sdsx/internal/retrieval"
	"github.com/kalambet/sdsx/internal/sections"
	"github.com/kalambet/sdsx/internal/splitter"
	"github.com/kalambet/sdsx/internal/storage"
)

// embedConcurrency bounds parallel embedding calls against the local engine.
const embedConcurrency = 4

// app is the wired extraction stack shared by serve, extract and mcp.
type app struct {
	cfg      config.Config
	store    *storage.Store
	index    *retrieval.Index
	pipeline *pipeline.Pipeline
	results  *results.FileLog
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// requiredModels lists the Ollama models the configuration will call.
func requiredModels(cfg config.Config) []string {
	models := []string{cfg.Ollama.EmbedModel}
	if cfg.Extractor.Backend == config.BackendOllama || cfg.Retrieval.RerankEnabled {
		models = append(models, cfg.Ollama.ChatModel)
	}
	return models
}

func newExtractor(cfg config.Config, eng engine.Engine) (extract.Extractor, error) {
	pricing, err := extract.ParsePricing(cfg.Extractor.PromptPricePer1K, cfg.Extractor.CompletionPricePer1K)
	if err != nil {
		return nil, err
	}
	opts := []extract.Option{
		extract.WithPricing(pricing),
		extract.WithTimeout(cfg.ExtractorTimeout()),
		extract.WithTemperature(cfg.Extractor.Temperature),
	}

	switch cfg.Extractor.Backend {
	case config.BackendOpenAI:
		x, err := extract.NewOpenAI(cfg.Extractor.OpenAIBaseURL, cfg.Extractor.OpenAIAPIKey, cfg.Extractor.Model, opts...)
		if err != nil {
			return nil, err
		}
		return x, nil
	case config.BackendOllama:
		return extract.NewOllama(eng, cfg.Ollama.ChatModel, opts...), nil
	default:
		return nil, fmt.Errorf("unknown extractor backend %q", cfg.Extractor.Backend)
	}
}

// buildApp opens storage and wires the pipeline. resolve maps document names
// to files; nil resolves against the configured documents directory.
// Progress of model pulls is written to progress.
func buildApp(ctx context.Context, cfg config.Config, resolve pipeline.PathResolver, progress io.Writer) (*app, error) {
	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
	if err := engine.EnsureReady(ctx, eng, progress, requiredModels(cfg)...); err != nil {
		return nil, err
	}

	registry, err := sections.Load(cfg.Pipeline.SectionsFile)
	if err != nil {
		return nil, fmt.Errorf("loading sections: %w", err)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	embedder := retrieval.NewEmbedder(eng, cfg.Ollama.EmbedModel, embedConcurrency)
	index := retrieval.NewIndex(embedder, retrieval.NewSQLiteStore(store.DB()))

	split, err := splitter.New(cfg.Chunking.Method, splitter.Config{
		ChunkSize:        cfg.Chunking.ChunkSize,
		ChunkOverlap:     cfg.Chunking.ChunkOverlap,
		BreakpointAmount: cfg.Chunking.BreakpointAmount,
	}, embedder)
	if err != nil {
		store.Close()
		return nil, err
	}

	extractor, err := newExtractor(cfg, eng)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("building extractor: %w", err)
	}

	reranker := reranking.NewReranker(
		eng,
		cfg.Ollama.ChatModel,
		cfg.Retrieval.RerankEnabled,
		cfg.RerankTimeout(),
		cfg.Retrieval.RerankThreshold,
		cfg.Retrieval.RerankTopN,
	)

	if resolve == nil {
		resolve = pipeline.DirResolver(cfg.DocumentsDir())
	}

	p, err := pipeline.New(pipeline.Options{
		ChunkingMethod: cfg.Chunking.Method,
		Registry:       registry,
		TopK:           cfg.Retrieval.TopK,
		RerankTopN:     cfg.Retrieval.RerankTopN,
		Timeout:        cfg.TaskTimeout(),
		Workers:        cfg.Pipeline.Workers,
	}, pipeline.Deps{
		Loader:    loader.NewPDFLoader(),
		Splitter:  split,
		Index:     index,
		Reranker:  reranker,
		Extractor: extractor,
		Resolve:   resolve,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	workers := cfg.Pipeline.Workers
	if workers <= 0 {
		workers = registry.Len()
	}
	slog.Info("pipeline ready",
		"sections", registry.Len(),
		"extractor", cfg.Extractor.Backend,
		"chunking", cfg.Chunking.Method,
		"workers", workers,
	)

	return &app{
		cfg:      cfg,
		store:    store,
		index:    index,
		pipeline: p,
		results:  results.NewFileLog(cfg.ResultsFile()),
	}, nil
}

func (a *app) Close() {
	a.pipeline.Close()
	if err := a.store.Close(); err != nil {
		printWarning("closing storage: %v", err)
	}
}
