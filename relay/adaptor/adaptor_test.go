package adaptor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	relaymodel "github.com/cheaprelay/cheaprelay/relay/model"
)

func intptr(i int) *int { return &i }

func TestToolCallAccumulatorMergesByIndex(t *testing.T) {
	t.Parallel()

	var acc ToolCallAccumulator
	acc.Add([]relaymodel.ToolCall{{
		Index: intptr(0), ID: "call_1", Type: "function",
		Function: relaymodel.FunctionCall{Name: "get_weather", Arguments: `{"ci`},
	}})
	acc.Add([]relaymodel.ToolCall{{
		Index:    intptr(0),
		Function: relaymodel.FunctionCall{Arguments: `ty":"Oslo"}`},
	}})

	calls := acc.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, "call_1", calls[0].ID)
	require.Equal(t, "get_weather", calls[0].Function.Name)
	require.JSONEq(t, `{"city":"Oslo"}`, calls[0].Function.Arguments)
}

func TestToolCallAccumulatorParallelCalls(t *testing.T) {
	t.Parallel()

	var acc ToolCallAccumulator
	acc.Add([]relaymodel.ToolCall{
		{Index: intptr(0), ID: "a", Function: relaymodel.FunctionCall{Name: "first"}},
		{Index: intptr(1), ID: "b", Function: relaymodel.FunctionCall{Name: "second"}},
	})
	acc.Add([]relaymodel.ToolCall{
		{Index: intptr(1), Function: relaymodel.FunctionCall{Arguments: `{}`}},
	})

	calls := acc.Calls()
	require.Len(t, calls, 2)
	require.Equal(t, "first", calls[0].Function.Name)
	require.Equal(t, "{}", calls[1].Function.Arguments)
}

func TestToolCallAccumulatorEmpty(t *testing.T) {
	t.Parallel()

	var acc ToolCallAccumulator
	require.Nil(t, acc.Calls())
}

func TestChunkBuilderRoleOnFirstChunkOnly(t *testing.T) {
	t.Parallel()

	b := NewChunkBuilder("gpt-4o-mini")
	first := b.Text("Hel")
	second := b.Text("lo")

	require.Equal(t, "assistant", first.Choices[0].Delta.Role)
	require.Empty(t, second.Choices[0].Delta.Role)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "gpt-4o-mini", first.Model)
	require.Equal(t, "chat.completion.chunk", first.Object)
	require.True(t, strings.HasPrefix(first.ID, "chatcmpl-"))
}

func TestChunkBuilderSkipsEmptyDeltaAfterRole(t *testing.T) {
	t.Parallel()

	b := NewChunkBuilder("m")
	require.NotNil(t, b.Text(""), "the first chunk always goes out to carry the role")
	require.Nil(t, b.Text(""))
}

func TestChunkBuilderFinishDefaultsToStop(t *testing.T) {
	t.Parallel()

	b := NewChunkBuilder("m")
	chunk := b.Finish("", &relaymodel.Usage{PromptTokens: 3, CompletionTokens: 7, TotalTokens: 10})
	require.NotNil(t, chunk.Choices[0].FinishReason)
	require.Equal(t, relaymodel.FinishReasonStop, *chunk.Choices[0].FinishReason)
	require.Equal(t, 10, chunk.Usage.TotalTokens)

	chunk = b.Finish(relaymodel.FinishReasonToolCalls, nil)
	require.Equal(t, relaymodel.FinishReasonToolCalls, *chunk.Choices[0].FinishReason)
}

func TestScanSSE(t *testing.T) {
	t.Parallel()

	body := strings.NewReader(
		"event: message\n" +
			"data: {\"a\":1}\n" +
			"\n" +
			": a comment\n" +
			"data: {\"a\":2}\n" +
			"data: [DONE]\n" +
			"data: {\"a\":3}\n")

	var got []string
	err := ScanSSE(body, func(data string) bool {
		if data == "[DONE]" {
			return false
		}
		got = append(got, data)
		return true
	})
	require.NoError(t, err)
	require.Equal(t, []string{`{"a":1}`, `{"a":2}`}, got, "scan stops at the sentinel")
}

func TestScanNDJSON(t *testing.T) {
	t.Parallel()

	body := strings.NewReader("{\"type\":\"system\"}\n\n{\"type\":\"result\"}\n")
	var got []string
	err := ScanNDJSON(body, func(line string) bool {
		got = append(got, line)
		return true
	})
	require.NoError(t, err)
	require.Equal(t, []string{`{"type":"system"}`, `{"type":"result"}`}, got)
}

func TestMetadataFutureResolvesOnce(t *testing.T) {
	t.Parallel()

	f := NewMetadataFuture()
	f.Resolve(Metadata{Response: Response{Text: "winner"}})
	f.Resolve(Metadata{Response: Response{Text: "loser"}})

	meta, err := f.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "winner", meta.Text)
}

func TestMetadataFutureWaitHonorsContext(t *testing.T) {
	t.Parallel()

	f := NewMetadataFuture()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
