// Package providers implements the streaming chat drivers behind the
// Agentic Reasoning Loop (C5): one file per LLM provider, all satisfying
// the same Driver interface so the engine never branches on provider
// identity outside of driver selection.
package providers

import "context"

// Message is one turn in the conversation sent to a provider. Role is
// one of "system", "user", "assistant" — providers map these onto
// their own wire vocabulary (e.g. Google's "model" instead of
// "assistant").
type Message struct {
	Role    string
	Content string
}

// Chunk is one increment of streamed assistant output, or a terminal
// error closing the stream.
type Chunk struct {
	Content string
	Err     error
}

// Driver streams one chat completion. Every provider in this system
// streams — there is no non-streaming fallback path.
type Driver interface {
	Stream(ctx context.Context, system string, messages []Message, model string) (<-chan Chunk, error)
}
