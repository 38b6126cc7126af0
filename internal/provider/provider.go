// Package provider wraps the upstream LLM. The model is an opaque token
// stream to the rest of the system: one request in, incremental content
// deltas out.
package provider

import "context"

// Client is the upstream LLM interface consumed by the chat server.
type Client interface {
	// StreamChat sends a system and user prompt and returns channels of
	// incremental content deltas and at most one terminal error. Both
	// channels are closed when the stream ends.
	StreamChat(ctx context.Context, systemPrompt, userPrompt string) (<-chan string, <-chan error)

	// Model returns the model identifier in use.
	Model() string
}
