package adaptor

import (
	"strings"

	"github.com/google/uuid"

	"github.com/cheaprelay/cheaprelay/common/helper"
	relaymodel "github.com/cheaprelay/cheaprelay/relay/model"
)

// ChunkBuilder synthesizes canonical stream chunks with a stable id, created
// timestamp, and client-facing model string. The first chunk produced sets
// the role field; the terminal chunk carries the finish reason and usage.
type ChunkBuilder struct {
	id       string
	model    string
	created  int64
	sentRole bool
}

// NewChunkBuilder starts a chunk sequence for one response.
func NewChunkBuilder(clientModel string) *ChunkBuilder {
	return &ChunkBuilder{
		id:      "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24],
		model:   clientModel,
		created: helper.GetTimestamp(),
	}
}

// ID returns the stable chunk id for this response.
func (b *ChunkBuilder) ID() string { return b.id }

func (b *ChunkBuilder) base() *relaymodel.ChatCompletionsStreamResponse {
	return &relaymodel.ChatCompletionsStreamResponse{
		ID:      b.id,
		Object:  "chat.completion.chunk",
		Created: b.created,
		Model:   b.model,
		Choices: []relaymodel.ChatCompletionsStreamResponseChoice{{Index: 0}},
	}
}

// Text produces a content-delta chunk. Returns nil for an empty delta that
// would add no information (unless the role is still unsent).
func (b *ChunkBuilder) Text(delta string) *relaymodel.ChatCompletionsStreamResponse {
	if delta == "" && b.sentRole {
		return nil
	}
	chunk := b.base()
	if !b.sentRole {
		chunk.Choices[0].Delta.Role = "assistant"
		b.sentRole = true
	}
	chunk.Choices[0].Delta.Content = delta
	return chunk
}

// ToolCalls produces a tool-call-delta chunk.
func (b *ChunkBuilder) ToolCalls(calls []relaymodel.ToolCall) *relaymodel.ChatCompletionsStreamResponse {
	chunk := b.base()
	if !b.sentRole {
		chunk.Choices[0].Delta.Role = "assistant"
		b.sentRole = true
	}
	chunk.Choices[0].Delta.ToolCalls = calls
	return chunk
}

// Finish produces the terminal chunk with finish reason and optional usage.
func (b *ChunkBuilder) Finish(reason string, usage *relaymodel.Usage) *relaymodel.ChatCompletionsStreamResponse {
	if reason == "" {
		reason = relaymodel.FinishReasonStop
	}
	chunk := b.base()
	chunk.Choices[0].FinishReason = &reason
	chunk.Usage = usage
	return chunk
}
