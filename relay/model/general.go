// Package model defines the canonical OpenAI-shaped wire types shared by the
// pipeline, the provider adapters, and the stream transformers.
package model

import "encoding/json"

// GeneralOpenAIRequest is the inbound chat-completions payload.
type GeneralOpenAIRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream,omitempty"`
	Tools       []Tool    `json:"tools,omitempty"`
	ToolChoice  any       `json:"tool_choice,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stop        any       `json:"stop,omitempty"`
	User        string    `json:"user,omitempty"`
}

// Message is one conversation turn. Content is either a plain string or an
// OpenAI content-part array; StringContent flattens both.
type Message struct {
	Role       string     `json:"role"`
	Content    any        `json:"content"`
	Name       *string    `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// StringContent returns the textual content of the message, concatenating
// text parts when the content is a part array.
func (m Message) StringContent() string {
	switch content := m.Content.(type) {
	case string:
		return content
	case []any:
		var text string
		for _, part := range content {
			partMap, ok := part.(map[string]any)
			if !ok {
				continue
			}
			if partMap["type"] == "text" {
				if t, ok := partMap["text"].(string); ok {
					text += t
				}
			}
		}
		return text
	}
	return ""
}

// WithContent returns a copy of the message with its content replaced by the
// given text. Tool linkage fields carry over untouched.
func (m Message) WithContent(text string) Message {
	clone := m
	clone.Content = text
	return clone
}

// Tool declares a function the model may call.
type Tool struct {
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

// Function describes a callable tool.
type Function struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// ToolCall is an invocation the model requested.
type ToolCall struct {
	Index    *int         `json:"index,omitempty"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool name and JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ResolvedToolChoice normalizes the request's tool_choice: "auto" when tools
// are present and the client sent nothing, "none" without tools.
func (r *GeneralOpenAIRequest) ResolvedToolChoice() string {
	if r.ToolChoice != nil {
		switch v := r.ToolChoice.(type) {
		case string:
			return v
		default:
			raw, err := json.Marshal(v)
			if err == nil {
				return string(raw)
			}
		}
	}
	if len(r.Tools) > 0 {
		return "auto"
	}
	return "none"
}
