package model

// Usage reports token consumption for one provider call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Error is the client-facing error body, matching the OpenAI envelope.
type Error struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

// ErrorWithStatusCode pairs the error body with the HTTP status to emit.
type ErrorWithStatusCode struct {
	Error      Error `json:"error"`
	StatusCode int   `json:"-"`
}

// Error type constants for the client-facing envelope.
const (
	ErrorTypeInvalidRequest = "invalid_request_error"
	ErrorTypeServer         = "server_error"
)

// Finish reasons of the canonical stream.
const (
	FinishReasonStop      = "stop"
	FinishReasonLength    = "length"
	FinishReasonToolCalls = "tool_calls"
)

// NewError builds an ErrorWithStatusCode with the invalid_request_error type
// the dashboard and CLI clients expect.
func NewError(statusCode int, code, message string) *ErrorWithStatusCode {
	return &ErrorWithStatusCode{
		StatusCode: statusCode,
		Error: Error{
			Message: message,
			Type:    ErrorTypeInvalidRequest,
			Code:    code,
		},
	}
}
