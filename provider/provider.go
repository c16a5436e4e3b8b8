// Package provider defines the interface for LLM providers.
package provider

import "context"

// Provider is the core abstraction for LLM providers.
// All provider implementations must satisfy this interface.
type Provider interface {
	// Name returns the provider identifier (e.g., "openai", "anthropic").
	Name() string

	// Capabilities reports the dialect differences the message
	// pipeline must account for.
	Capabilities() Capabilities

	// Call executes a non-streaming LLM request.
	Call(ctx context.Context, req *Request) (*Response, error)
}

// StreamingProvider extends Provider with streaming capability.
type StreamingProvider interface {
	Provider

	// CallStream executes a streaming LLM request. Only establishing the
	// stream is retried; errors after that surface through the stream.
	CallStream(ctx context.Context, req *Request) (ResponseStream, error)
}

// ResponseStream represents a streaming response.
type ResponseStream interface {
	// Next advances to the next chunk, returns false when done.
	Next() bool

	// Current returns the current chunk.
	Current() *StreamChunk

	// Err returns any error that occurred during streaming.
	Err() error

	// Close releases stream resources.
	Close() error
}

// StreamChunk represents a single streaming frame. A chunk carries at most
// one of a text delta or a fragment of one function call; usage-only
// chunks carry neither.
type StreamChunk struct {
	Delta         string
	ToolCallDelta *ToolCallDelta
	FinishReason  FinishReason
	Usage         *Usage
}

// ToolCallDelta represents incremental function call data in streaming.
// A non-empty ID or Name marks the start of a call.
type ToolCallDelta struct {
	ID             string
	Name           string
	ArgumentsDelta string
}
