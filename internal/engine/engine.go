package engine

import "context"

// Engine abstracts the local inference backend. Structured extraction,
// reranking, and embedding depend on this interface instead of a concrete
// client.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's
	// response with token usage. A non-nil format is a JSON Schema document
	// the response must satisfy.
	Chat(ctx context.Context, model string, messages []Message, format any, opts ...ChatOption) (ChatResult, error)

	// Embed returns the embedding vector for the given text using the specified model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of all locally available models.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available locally.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
