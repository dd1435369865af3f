package model

// ChatCompletionsStreamResponse is one canonical stream chunk, the single
// client-facing event format all provider streams are normalized into.
type ChatCompletionsStreamResponse struct {
	ID      string                                `json:"id"`
	Object  string                                `json:"object"`
	Created int64                                 `json:"created"`
	Model   string                                `json:"model"`
	Choices []ChatCompletionsStreamResponseChoice `json:"choices"`
	Usage   *Usage                                `json:"usage,omitempty"`
}

// ChatCompletionsStreamResponseChoice carries one incremental delta.
type ChatCompletionsStreamResponseChoice struct {
	Index        int         `json:"index"`
	Delta        StreamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

// StreamDelta is the incremental payload of a chunk. The first chunk of a
// response sets Role; later chunks carry content or tool-call deltas.
type StreamDelta struct {
	Role      string     `json:"role,omitempty"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// TextResponse is the non-streaming chat-completion envelope.
type TextResponse struct {
	ID      string           `json:"id"`
	Object  string           `json:"object"`
	Created int64            `json:"created"`
	Model   string           `json:"model"`
	Choices []TextResponseChoice `json:"choices"`
	Usage   Usage            `json:"usage"`
}

// TextResponseChoice is one completed choice.
type TextResponseChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}
