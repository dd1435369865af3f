// Package adaptor defines the uniform contract every upstream provider
// implements, plus the shared plumbing for canonical stream synthesis and the
// stream-then-metadata handshake.
package adaptor

import (
	"context"

	relaymodel "github.com/cheaprelay/cheaprelay/relay/model"
)

// Request is the provider-neutral shape of one outbound call. The pipeline
// builds it after routing, budget, and compression have run.
type Request struct {
	Model       string
	Messages    []relaymodel.Message
	System      string
	Stream      bool
	Tools       []relaymodel.Tool
	ToolChoice  any
	Temperature *float64
	MaxTokens   int

	// ClientModel is the stable model string echoed to the client in every
	// chunk, regardless of what the upstream calls itself.
	ClientModel string
}

// Response is the uniform result of a completed provider call.
type Response struct {
	Text         string
	ToolCalls    []relaymodel.ToolCall
	TokensIn     int
	TokensOut    int
	CostUSD      float64
	FinishReason string
}

// StreamResult pairs the canonical event stream with the metadata future.
// The events channel is closed when the upstream terminates; the future
// resolves exactly once, after the last event.
type StreamResult struct {
	Events   <-chan *relaymodel.ChatCompletionsStreamResponse
	Metadata *MetadataFuture
}

// Adaptor is the capability set of one upstream provider.
type Adaptor interface {
	// ProviderID returns the catalog key of this provider.
	ProviderID() string
	// IsAvailable reports whether the provider can serve requests right now
	// (credentials present, binary found, ...).
	IsAvailable() bool
	// GetModels lists the model ids this adapter can serve.
	GetModels() []string
	// Complete performs one non-streaming call.
	Complete(ctx context.Context, req *Request) (*Response, error)
	// Stream performs one streaming call, already normalized to canonical
	// chunks.
	Stream(ctx context.Context, req *Request) (*StreamResult, error)
}

// HealthChecker is optionally implemented by adapters that can probe their
// upstream cheaply.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
