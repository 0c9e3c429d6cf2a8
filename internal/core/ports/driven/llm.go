package driven

import "context"

// LLMService provides completion operations for answer synthesis and
// document summarisation.
type LLMService interface {
	// Generate produces a text completion from a single prompt.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)

	// Chat produces a completion from a conversation, typically a system
	// instruction followed by a user message.
	Chat(ctx context.Context, messages []ChatMessage, opts GenerateOptions) (string, error)

	// ModelID returns the identifier of the completion model in use.
	ModelID() string

	// Ping validates the service is reachable with a lightweight request.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// GenerateOptions configures text generation behaviour.
type GenerateOptions struct {
	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens int

	// Temperature controls randomness (0.0 = deterministic).
	Temperature float64

	// StopWords are sequences that stop generation when encountered.
	StopWords []string
}

// ChatMessage is a single message in a conversation.
type ChatMessage struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the message text.
	Content string
}
