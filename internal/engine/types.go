package engine

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResult is a chat reply with the token usage reported by the backend.
type ChatResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// TotalTokens returns prompt plus completion tokens.
func (r ChatResult) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// ChatOptions are per-call sampling options. Nil fields keep the backend
// default.
type ChatOptions struct {
	Temperature *float64
}

// ChatOption sets a field of ChatOptions.
type ChatOption func(*ChatOptions)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) ChatOption {
	return func(o *ChatOptions) { o.Temperature = &t }
}

func applyChatOptions(opts []ChatOption) ChatOptions {
	var o ChatOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// PullProgress reports download progress for a model pull operation.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}
