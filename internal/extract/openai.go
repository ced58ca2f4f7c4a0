package extract

import (
	"context"
	"errors"

	"github.com/kalambet/sdsx/internal/sections"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAI extracts through any OpenAI-compatible chat endpoint in JSON mode.
// The schema travels in the system prompt.
type OpenAI struct {
	core
	llm llms.Model
}

var _ Extractor = (*OpenAI)(nil)

// NewOpenAI creates an extractor against baseURL. An empty token is sent as
// "none" for local servers that do not authenticate.
func NewOpenAI(baseURL, token, model string, opts ...Option) (*OpenAI, error) {
	if token == "" {
		token = "none"
	}
	clientOpts := []openai.Option{
		openai.WithToken(token),
		openai.WithModel(model),
	}
	if baseURL != "" {
		clientOpts = append(clientOpts, openai.WithBaseURL(baseURL))
	}
	client, err := openai.New(clientOpts...)
	if err != nil {
		return nil, err
	}
	return newOpenAIWithModel(client, model, opts...), nil
}

func newOpenAIWithModel(llm llms.Model, model string, opts ...Option) *OpenAI {
	return &OpenAI{core: newCore("openai", model, opts), llm: llm}
}

func (o *OpenAI) Invoke(ctx context.Context, contextChunks []string, instruction string, schema *sections.Schema) (Result, error) {
	return o.invoke(ctx, o.generate, contextChunks, instruction, schema)
}

func (o *OpenAI) generate(ctx context.Context, system, human string, _ map[string]any) (completion, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, human),
	}
	resp, err := o.llm.GenerateContent(ctx, content,
		llms.WithTemperature(o.temperature),
		llms.WithJSONMode(),
	)
	if err != nil {
		return completion{}, err
	}
	if len(resp.Choices) == 0 {
		return completion{}, errors.New("no choices returned from model")
	}

	choice := resp.Choices[0]
	return completion{
		content:          choice.Content,
		promptTokens:     infoInt(choice.GenerationInfo, "PromptTokens"),
		completionTokens: infoInt(choice.GenerationInfo, "CompletionTokens"),
	}, nil
}

// infoInt reads a token count from langchaingo generation info, which holds
// ints for the OpenAI client and float64 after a JSON round trip.
func infoInt(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
