// Package claudecli dispatches through the claude binary speaking its
// stream-json NDJSON protocol. It offers three dispatch modes, attempted in
// order: a warm pool of pre-spawned processes with context tracking, a
// single pinned process, and an ephemeral process per request.
package claudecli

import "encoding/json"

// streamEvent is one NDJSON line from the CLI. Type discriminates:
// "system" (init), "assistant" (response content), "result" (terminal).
type streamEvent struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Message   *assistantMsg   `json:"message,omitempty"`
	Result    string          `json:"result,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	TotalCost float64         `json:"total_cost_usd,omitempty"`
	Usage     *resultUsage    `json:"usage,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// assistantMsg is the message payload of an assistant event.
type assistantMsg struct {
	ID         string         `json:"id,omitempty"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason,omitempty"`
	Usage      *resultUsage   `json:"usage,omitempty"`
}

// contentBlock is one typed content element of an assistant message.
type contentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// resultUsage is the CLI's token accounting.
type resultUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// userMessage is the stream-json stdin record for one user turn.
type userMessage struct {
	Type    string          `json:"type"`
	Message userMessageBody `json:"message"`
}

type userMessageBody struct {
	Role    string             `json:"role"`
	Content []userContentBlock `json:"content"`
}

type userContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func newUserMessage(text string) userMessage {
	return userMessage{
		Type: "user",
		Message: userMessageBody{
			Role:    "user",
			Content: []userContentBlock{{Type: "text", Text: text}},
		},
	}
}
