package anthropic

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cheaprelay/cheaprelay/relay/adaptor"
	relaymodel "github.com/cheaprelay/cheaprelay/relay/model"
)

func TestConvertRequestBasics(t *testing.T) {
	t.Parallel()

	temp := 0.2
	req := &adaptor.Request{
		Model:       "claude-sonnet-4-20250514",
		System:      "be terse",
		Temperature: &temp,
		Messages: []relaymodel.Message{
			{Role: "user", Content: "hello"},
			{Role: "assistant", Content: "hi"},
		},
	}
	out := ConvertRequest(req, true)

	require.Equal(t, "claude-sonnet-4-20250514", out.Model)
	require.Equal(t, "be terse", out.System)
	require.True(t, out.Stream)
	require.Equal(t, defaultMaxTokens, out.MaxTokens)
	require.NotNil(t, out.Temperature)
	require.Len(t, out.Messages, 2)
	require.Equal(t, "user", out.Messages[0].Role)
	require.Equal(t, "hello", out.Messages[0].Content[0].Text)
}

func TestConvertRequestFoldsInlineSystemMessages(t *testing.T) {
	t.Parallel()

	req := &adaptor.Request{
		Model:  "claude-3-5-haiku-latest",
		System: "first",
		Messages: []relaymodel.Message{
			{Role: "system", Content: "second"},
			{Role: "user", Content: "q"},
		},
	}
	out := ConvertRequest(req, false)
	require.Equal(t, "first\n\nsecond", out.System)
	require.Len(t, out.Messages, 1, "the system turn does not survive as a message")
}

func TestConvertRequestFlattensToolTurns(t *testing.T) {
	t.Parallel()

	req := &adaptor.Request{
		Model: "claude-3-5-haiku-latest",
		Messages: []relaymodel.Message{
			{Role: "assistant", Content: "", ToolCalls: []relaymodel.ToolCall{{
				ID: "call_1", Type: "function",
				Function: relaymodel.FunctionCall{Name: "ls", Arguments: `{"path":"."}`},
			}}},
			{Role: "tool", Content: "main.go"},
		},
	}
	out := ConvertRequest(req, false)
	require.Len(t, out.Messages, 2)

	assistant := out.Messages[0]
	require.Len(t, assistant.Content, 2)
	require.Equal(t, "tool_use", assistant.Content[1].Type)
	require.Equal(t, "ls", assistant.Content[1].Name)

	toolTurn := out.Messages[1]
	require.Equal(t, "user", toolTurn.Role)
	require.Contains(t, toolTurn.Content[0].Text, "Tool result:\nmain.go")
}

func TestConvertRequestCarriesTools(t *testing.T) {
	t.Parallel()

	req := &adaptor.Request{
		Model: "claude-3-5-haiku-latest",
		Messages: []relaymodel.Message{
			{Role: "user", Content: "weather?"},
		},
		Tools: []relaymodel.Tool{{
			Type: "function",
			Function: relaymodel.Function{
				Name:        "get_weather",
				Description: "current weather",
				Parameters:  map[string]any{"type": "object"},
			},
		}},
	}
	out := ConvertRequest(req, false)
	require.Len(t, out.Tools, 1)
	require.Equal(t, "get_weather", out.Tools[0].Name)
	require.Equal(t, "current weather", out.Tools[0].Description)
}

func TestConvertStopReason(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"end_turn", relaymodel.FinishReasonStop},
		{"stop_sequence", relaymodel.FinishReasonStop},
		{"max_tokens", relaymodel.FinishReasonLength},
		{"tool_use", relaymodel.FinishReasonToolCalls},
		{"", relaymodel.FinishReasonStop},
		{"something_new", relaymodel.FinishReasonStop},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, ConvertStopReason(tt.in), tt.in)
	}
}
