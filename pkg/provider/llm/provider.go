// Package llm defines the language-model contract used to generate
// assistant replies. The anyllm subpackage implements it over
// github.com/mozilla-ai/any-llm-go; mock provides a test double.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Message roles understood by chat-completion backends.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat turn.
type Message struct {
	Role    string
	Content string
}

// Request describes one completion call.
type Request struct {
	// Messages is the full conversation including the system prompt. Must
	// not be empty.
	Messages []Message

	// MaxTokens bounds the reply length. Zero means backend default.
	MaxTokens int

	// Temperature controls sampling randomness. Zero means backend default.
	Temperature float64
}

// Provider generates chat completions.
type Provider interface {
	// Complete returns the assistant reply for the given conversation.
	Complete(ctx context.Context, req Request) (string, error)

	// Close releases backend resources.
	Close() error
}
