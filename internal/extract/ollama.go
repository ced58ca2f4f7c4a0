package extract

import (
	"context"

	"github.com/kalambet/sdsx/internal/engine"
	"github.com/kalambet/sdsx/internal/sections"
)

// Ollama extracts through an inference Engine, passing the section's JSON
// Schema as the structured-output format.
type Ollama struct {
	core
	engine engine.Engine
}

var _ Extractor = (*Ollama)(nil)

// NewOllama creates an Ollama extractor for model.
func NewOllama(e engine.Engine, model string, opts ...Option) *Ollama {
	return &Ollama{core: newCore("ollama", model, opts), engine: e}
}

func (o *Ollama) Invoke(ctx context.Context, contextChunks []string, instruction string, schema *sections.Schema) (Result, error) {
	return o.invoke(ctx, o.generate, contextChunks, instruction, schema)
}

func (o *Ollama) generate(ctx context.Context, system, human string, format map[string]any) (completion, error) {
	res, err := o.engine.Chat(ctx, o.model, []engine.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: human},
	}, format, engine.WithTemperature(o.temperature))
	if err != nil {
		return completion{}, err
	}
	return completion{
		content:          res.Content,
		promptTokens:     res.PromptTokens,
		completionTokens: res.CompletionTokens,
	}, nil
}
