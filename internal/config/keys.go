package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "SDSX_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_conns", typ: kInt, env: "SDSX_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "server.api_token", typ: kString, env: "SDSX_API_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "ollama.base_url", typ: kString, env: "SDSX_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.chat_model", typ: kString, env: "SDSX_OLLAMA_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.ChatModel },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "SDSX_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "extractor.backend", typ: kString, env: "SDSX_EXTRACTOR_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Extractor.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Extractor.Backend },
	},
	{
		key: "extractor.openai_base_url", typ: kString, env: "SDSX_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Extractor.OpenAIBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Extractor.OpenAIBaseURL },
	},
	{
		key: "extractor.openai_api_key", typ: kString, env: "SDSX_OPENAI_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Extractor.OpenAIAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Extractor.OpenAIAPIKey },
	},
	{
		key: "extractor.model", typ: kString, env: "SDSX_EXTRACTOR_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Extractor.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Extractor.Model },
	},
	{
		key: "extractor.temperature", typ: kFloat, env: "SDSX_EXTRACTOR_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Extractor.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Extractor.Temperature },
	},
	{
		key: "extractor.prompt_price_per_1k", typ: kString, env: "SDSX_EXTRACTOR_PROMPT_PRICE_PER_1K",
		apply:   func(cfg *Config, v any) { cfg.Extractor.PromptPricePer1K = v.(string) },
		extract: func(cfg Config) any { return cfg.Extractor.PromptPricePer1K },
	},
	{
		key: "extractor.completion_price_per_1k", typ: kString, env: "SDSX_EXTRACTOR_COMPLETION_PRICE_PER_1K",
		apply:   func(cfg *Config, v any) { cfg.Extractor.CompletionPricePer1K = v.(string) },
		extract: func(cfg Config) any { return cfg.Extractor.CompletionPricePer1K },
	},
	{
		key: "extractor.timeout", typ: kString, env: "SDSX_EXTRACTOR_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Extractor.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Extractor.Timeout },
	},
	{
		key: "chunking.method", typ: kString, env: "SDSX_CHUNKING_METHOD",
		apply:   func(cfg *Config, v any) { cfg.Chunking.Method = v.(string) },
		extract: func(cfg Config) any { return cfg.Chunking.Method },
	},
	{
		key: "chunking.chunk_size", typ: kInt, env: "SDSX_CHUNKING_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Chunking.ChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunking.ChunkSize },
	},
	{
		key: "chunking.chunk_overlap", typ: kInt, env: "SDSX_CHUNKING_CHUNK_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Chunking.ChunkOverlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunking.ChunkOverlap },
	},
	{
		key: "chunking.breakpoint_amount", typ: kFloat, env: "SDSX_CHUNKING_BREAKPOINT_AMOUNT",
		apply:   func(cfg *Config, v any) { cfg.Chunking.BreakpointAmount = v.(float64) },
		extract: func(cfg Config) any { return cfg.Chunking.BreakpointAmount },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "SDSX_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.rerank_enabled", typ: kBool, env: "SDSX_RETRIEVAL_RERANK_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.RerankEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Retrieval.RerankEnabled },
	},
	{
		key: "retrieval.rerank_top_n", typ: kInt, env: "SDSX_RETRIEVAL_RERANK_TOP_N",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.RerankTopN = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.RerankTopN },
	},
	{
		key: "retrieval.rerank_threshold", typ: kFloat, env: "SDSX_RETRIEVAL_RERANK_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.RerankThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.RerankThreshold },
	},
	{
		key: "retrieval.rerank_timeout", typ: kString, env: "SDSX_RETRIEVAL_RERANK_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.RerankTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Retrieval.RerankTimeout },
	},
	{
		key: "pipeline.workers", typ: kInt, env: "SDSX_PIPELINE_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.Workers },
	},
	{
		key: "pipeline.task_timeout", typ: kString, env: "SDSX_PIPELINE_TASK_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.TaskTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Pipeline.TaskTimeout },
	},
	{
		key: "pipeline.sections_file", typ: kString, env: "SDSX_PIPELINE_SECTIONS_FILE",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.SectionsFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Pipeline.SectionsFile },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SDSX_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.documents_dir", typ: kString, env: "SDSX_STORAGE_DOCUMENTS_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DocumentsDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DocumentsDir },
	},
	{
		key: "storage.results_file", typ: kString, env: "SDSX_STORAGE_RESULTS_FILE",
		apply:   func(cfg *Config, v any) { cfg.Storage.ResultsFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.ResultsFile },
	},
	{
		key: "log.level", typ: kString, env: "SDSX_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
