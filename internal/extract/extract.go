// Package extract turns retrieved context into schema-conforming JSON using
// a language model.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/sdsx/internal/sections"
	"github.com/shopspring/decimal"
)

const (
	defaultAttempts = 3
	defaultTimeout  = 60 * time.Second
)

// Result is one successful extraction with its usage.
type Result struct {
	Value  json.RawMessage
	Cost   decimal.Decimal
	Tokens int
}

// Extractor produces a value conforming to schema from context chunks and an
// instruction. Failures are returned as *ExtractionError.
type Extractor interface {
	Invoke(ctx context.Context, contextChunks []string, instruction string, schema *sections.Schema) (Result, error)
}

// Extraction stages reported by ExtractionError.
const (
	StageRequest = "request"
	StageOutput  = "output"
)

// ExtractionError reports a failed model call (StageRequest) or output that
// never satisfied the schema (StageOutput).
type ExtractionError struct {
	Stage string
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction %s: %v", e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Pricing converts token counts to a monetary cost.
type Pricing struct {
	PromptPer1K     decimal.Decimal
	CompletionPer1K decimal.Decimal
}

var thousand = decimal.NewFromInt(1000)

// ParsePricing parses decimal prices per 1000 prompt and completion tokens.
func ParsePricing(promptPer1K, completionPer1K string) (Pricing, error) {
	var p Pricing
	var err error
	if p.PromptPer1K, err = parsePrice(promptPer1K); err != nil {
		return Pricing{}, fmt.Errorf("prompt price: %w", err)
	}
	if p.CompletionPer1K, err = parsePrice(completionPer1K); err != nil {
		return Pricing{}, fmt.Errorf("completion price: %w", err)
	}
	return p, nil
}

func parsePrice(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative price %s", s)
	}
	return d, nil
}

// Cost returns the price of the given usage.
func (p Pricing) Cost(promptTokens, completionTokens int) decimal.Decimal {
	prompt := p.PromptPer1K.Mul(decimal.NewFromInt(int64(promptTokens)))
	completion := p.CompletionPer1K.Mul(decimal.NewFromInt(int64(completionTokens)))
	return prompt.Add(completion).Div(thousand)
}

// Option configures an extractor backend.
type Option func(*core)

// WithPricing sets the token prices used for cost accounting.
func WithPricing(p Pricing) Option {
	return func(c *core) { c.pricing = p }
}

// WithAttempts sets how many times malformed output is retried. n <= 0 uses 3.
func WithAttempts(n int) Option {
	return func(c *core) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// WithTimeout bounds one Invoke call. d <= 0 disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *core) { c.timeout = d }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *core) { c.temperature = t }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *core) { c.logger = logger }
}

// completion is one raw model reply.
type completion struct {
	content          string
	promptTokens     int
	completionTokens int
}

type generateFunc func(ctx context.Context, system, human string, format map[string]any) (completion, error)

// core is the backend-independent part of an extractor: prompting, output
// cleanup, schema validation, retries, and usage accounting.
type core struct {
	backend     string
	model       string
	pricing     Pricing
	attempts    int
	timeout     time.Duration
	temperature float64
	logger      *slog.Logger
}

func newCore(backend, model string, opts []Option) core {
	c := core{
		backend:  backend,
		model:    model,
		attempts: defaultAttempts,
		timeout:  defaultTimeout,
		logger:   slog.Default().With("component", "extract", "backend", backend),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c *core) invoke(ctx context.Context, gen generateFunc, chunks []string, instruction string, schema *sections.Schema) (Result, error) {
	if schema == nil {
		return Result{}, &ExtractionError{Stage: StageRequest, Err: errors.New("nil schema")}
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	reqID := uuid.NewString()
	start := time.Now()
	system, err := SystemPrompt(schema)
	if err != nil {
		return Result{}, &ExtractionError{Stage: StageRequest, Err: err}
	}
	human := HumanPrompt(chunks, instruction)
	format := schema.JSONSchema()

	var promptTokens, completionTokens int
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		out, err := gen(ctx, system, human, format)
		if err != nil {
			c.logger.Warn("extract.request failed", "req_id", reqID, "attempt", attempt, "error", err)
			return Result{}, &ExtractionError{Stage: StageRequest, Err: err}
		}
		// Rejected attempts were still billed.
		promptTokens += out.promptTokens
		completionTokens += out.completionTokens

		raw, err := cleanJSON(out.content)
		if err == nil {
			err = schema.Validate(raw)
		}
		if err != nil {
			lastErr = err
			c.logger.Warn("extract.output rejected", "req_id", reqID, "attempt", attempt, "error", err)
			continue
		}

		tokens := promptTokens + completionTokens
		c.logger.Debug("extract.invoke",
			"req_id", reqID,
			"model", c.model,
			"chunks", len(chunks),
			"attempts", attempt,
			"tokens", tokens,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return Result{
			Value:  raw,
			Cost:   c.pricing.Cost(promptTokens, completionTokens),
			Tokens: tokens,
		}, nil
	}
	return Result{}, &ExtractionError{
		Stage: StageOutput,
		Err:   fmt.Errorf("no valid output after %d attempts: %w", c.attempts, lastErr),
	}
}

// cleanJSON strips markdown code fences and compacts the JSON document.
func cleanJSON(s string) (json.RawMessage, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty response")
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return nil, fmt.Errorf("malformed JSON: %w", err)
	}
	return json.RawMessage(buf.Bytes()), nil
}
