// Package config loads sdsx settings from defaults, a JSON file, and SDSX_*
// environment variables, in that order of precedence.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Extractor ExtractorConfig
	Chunking  ChunkingConfig
	Retrieval RetrievalConfig
	Pipeline  PipelineConfig
	Storage   StorageConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port     int
	MaxConns int
	APIToken string
}

type OllamaConfig struct {
	BaseURL    string
	ChatModel  string
	EmbedModel string
}

// ExtractorConfig selects the structured-output backend. Model applies to
// the openai backend; the ollama backend uses Ollama.ChatModel.
type ExtractorConfig struct {
	Backend              string
	OpenAIBaseURL        string
	OpenAIAPIKey         string
	Model                string
	Temperature          float64
	PromptPricePer1K     string
	CompletionPricePer1K string
	Timeout              string
}

type ChunkingConfig struct {
	Method           string
	ChunkSize        int
	ChunkOverlap     int
	BreakpointAmount float64
}

type RetrievalConfig struct {
	TopK            int
	RerankEnabled   bool
	RerankTopN      int
	RerankThreshold float64
	RerankTimeout   string
}

// PipelineConfig tunes the section fan-out. Workers 0 sizes the pool to the
// number of sections.
type PipelineConfig struct {
	Workers      int
	TaskTimeout  string
	SectionsFile string
}

// StorageConfig holds paths. Empty DocumentsDir and ResultsFile resolve
// under DataDir.
type StorageConfig struct {
	DataDir      string
	DocumentsDir string
	ResultsFile  string
}

type LogConfig struct {
	Level string
}

const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
)

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:     4100,
			MaxConns: 64,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			ChatModel:  "llama3.1:8b",
			EmbedModel: "nomic-embed-text",
		},
		Extractor: ExtractorConfig{
			Backend:              BackendOllama,
			OpenAIBaseURL:        "https://api.openai.com/v1",
			Model:                "gpt-4o-mini",
			PromptPricePer1K:     "0",
			CompletionPricePer1K: "0",
			Timeout:              "60s",
		},
		Chunking: ChunkingConfig{
			Method:           "recursive",
			ChunkSize:        2000,
			ChunkOverlap:     600,
			BreakpointAmount: 1.5,
		},
		Retrieval: RetrievalConfig{
			TopK:            4,
			RerankTopN:      5,
			RerankThreshold: 0.3,
			RerankTimeout:   "10s",
		},
		Pipeline: PipelineConfig{
			TaskTimeout: "60s",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file at ConfigFilePath and applies
// SDSX_* environment overrides. Secrets (server.api_token,
// extractor.openai_api_key) are read from the environment only.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks enums, ranges, durations and prices.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port %d out of range", c.Server.Port)
	}
	if c.Server.MaxConns <= 0 {
		add("server.max_conns must be positive")
	}
	if _, err := url.ParseRequestURI(c.Ollama.BaseURL); err != nil {
		add("ollama.base_url: %v", err)
	}

	switch c.Extractor.Backend {
	case BackendOllama:
	case BackendOpenAI:
		if c.Extractor.OpenAIAPIKey == "" && strings.Contains(c.Extractor.OpenAIBaseURL, "api.openai.com") {
			add("missing required config: OpenAI API key. Set it via environment variable SDSX_OPENAI_API_KEY")
		}
	default:
		add("extractor.backend must be %q or %q, got %q", BackendOllama, BackendOpenAI, c.Extractor.Backend)
	}
	if c.Extractor.Temperature < 0 || c.Extractor.Temperature > 2 {
		add("extractor.temperature %v out of range [0, 2]", c.Extractor.Temperature)
	}
	for key, v := range map[string]string{
		"extractor.prompt_price_per_1k":     c.Extractor.PromptPricePer1K,
		"extractor.completion_price_per_1k": c.Extractor.CompletionPricePer1K,
	} {
		if d, err := decimal.NewFromString(v); err != nil || d.IsNegative() {
			add("%s must be a non-negative decimal, got %q", key, v)
		}
	}

	if c.Chunking.Method != "recursive" && c.Chunking.Method != "semantic" {
		add("chunking.method must be \"recursive\" or \"semantic\", got %q", c.Chunking.Method)
	}
	if c.Chunking.ChunkSize <= 0 {
		add("chunking.chunk_size must be positive")
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		add("chunking.chunk_overlap must be in [0, chunk_size)")
	}
	if c.Chunking.BreakpointAmount <= 0 {
		add("chunking.breakpoint_amount must be positive")
	}

	if c.Retrieval.TopK <= 0 {
		add("retrieval.top_k must be positive")
	}
	if c.Retrieval.RerankTopN <= 0 {
		add("retrieval.rerank_top_n must be positive")
	}
	if c.Pipeline.Workers < 0 {
		add("pipeline.workers must not be negative")
	}

	for key, v := range map[string]string{
		"extractor.timeout":        c.Extractor.Timeout,
		"retrieval.rerank_timeout": c.Retrieval.RerankTimeout,
		"pipeline.task_timeout":    c.Pipeline.TaskTimeout,
	} {
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			add("%s must be a positive duration, got %q", key, v)
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// DocumentsDir is where uploaded documents are stored.
func (c Config) DocumentsDir() string {
	if c.Storage.DocumentsDir != "" {
		return c.Storage.DocumentsDir
	}
	return filepath.Join(c.Storage.DataDir, "documents")
}

// ResultsFile is the JSON array file extracted records are appended to.
func (c Config) ResultsFile() string {
	if c.Storage.ResultsFile != "" {
		return c.Storage.ResultsFile
	}
	return filepath.Join(c.Storage.DataDir, "results.json")
}

func (c Config) ExtractorTimeout() time.Duration { return duration(c.Extractor.Timeout, 60*time.Second) }
func (c Config) RerankTimeout() time.Duration    { return duration(c.Retrieval.RerankTimeout, 10*time.Second) }
func (c Config) TaskTimeout() time.Duration      { return duration(c.Pipeline.TaskTimeout, 60*time.Second) }

func duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
