package claudecli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScannerPassesPlainTextThrough(t *testing.T) {
	t.Parallel()

	var s toolCallScanner
	out := s.Feed("just a normal answer")
	out2 := s.Flush()
	require.Equal(t, "just a normal answer", out.Text+out2.Text)
	require.Empty(t, s.Calls())
}

func TestScannerExtractsToolCall(t *testing.T) {
	t.Parallel()

	var s toolCallScanner
	out := s.Feed(`before <tool_call>{"name":"get_weather","arguments":{"city":"Oslo"}}</tool_call> after`)
	_ = s.Flush()

	require.Contains(t, out.Text, "before ")
	require.NotContains(t, out.Text, "tool_call")
	require.Len(t, out.Calls, 1)
	require.Equal(t, "get_weather", out.Calls[0].Function.Name)
	require.JSONEq(t, `{"city":"Oslo"}`, out.Calls[0].Function.Arguments)
	require.Equal(t, "function", out.Calls[0].Type)
	require.NotEmpty(t, out.Calls[0].ID)
}

func TestScannerHandlesTagSplitAcrossFragments(t *testing.T) {
	t.Parallel()

	var s toolCallScanner
	var text string
	for _, frag := range []string{
		"answer <tool", "_call>{\"name\":\"ls\",", "\"arguments\":{}}</tool", "_call> done",
	} {
		out := s.Feed(frag)
		text += out.Text
	}
	text += s.Flush().Text

	require.Equal(t, "answer  done", text)
	require.Len(t, s.Calls(), 1)
	require.Equal(t, "ls", s.Calls()[0].Function.Name)
}

func TestScannerHoldsBackPartialTagSuffix(t *testing.T) {
	t.Parallel()

	var s toolCallScanner
	out := s.Feed("text ending in <tool")
	require.Equal(t, "text ending in ", out.Text, "a possible tag prefix is not flushed")

	// It was a false alarm; Flush returns the held text.
	out = s.Flush()
	require.Equal(t, "<tool", out.Text)
}

func TestScannerFlushParsesUnclosedBlock(t *testing.T) {
	t.Parallel()

	var s toolCallScanner
	s.Feed(`<tool_call>{"name":"search","arguments":{"q":"go"}}`)
	out := s.Flush()
	require.Len(t, out.Calls, 1)
	require.Equal(t, "search", out.Calls[0].Function.Name)
}

func TestScannerIgnoresMalformedBlock(t *testing.T) {
	t.Parallel()

	var s toolCallScanner
	out := s.Feed("<tool_call>not json at all</tool_call>tail")
	require.Empty(t, out.Calls)
	require.Contains(t, out.Text+s.Flush().Text, "tail")
}

func TestScannerMultipleCalls(t *testing.T) {
	t.Parallel()

	var s toolCallScanner
	s.Feed(`<tool_call>{"name":"a"}</tool_call><tool_call>{"name":"b"}</tool_call>`)
	s.Flush()
	require.Len(t, s.Calls(), 2)
	require.Equal(t, "a", s.Calls()[0].Function.Name)
	require.Equal(t, "b", s.Calls()[1].Function.Name)
	require.Equal(t, "{}", s.Calls()[0].Function.Arguments, "missing arguments default to an empty object")
}

func TestPartialSuffixOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		buf  string
		tag  string
		want int
	}{
		{"hello", toolCallOpenTag, 0},
		{"hello <", toolCallOpenTag, 1},
		{"hello <tool", toolCallOpenTag, 5},
		{"hello <tool_call", toolCallOpenTag, 10},
		{"<to", toolCallOpenTag, 3},
		{"", toolCallOpenTag, 0},
		{`{"x":1}</tool`, toolCallCloseTag, 6},
		{`{"x":1}`, toolCallCloseTag, 0},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, partialSuffixOf(tt.buf, tt.tag), "%q", tt.buf)
	}
}
