package controller

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	relaymodel "github.com/cheaprelay/cheaprelay/relay/model"
	"github.com/cheaprelay/cheaprelay/relay/routing"
)

func TestFeedbackRe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input  string
		rating string
		target string
		match  bool
	}{
		{"/feedback good", "good", "", true},
		{"/feedback bad", "bad", "", true},
		{"/feedback 3", "3", "", true},
		{"/feedback 5 abc123", "5", "abc123", true},
		{"/feedback good task-id-here", "good", "task-id-here", true},
		{"/feedback 7", "", "", false},
		{"/feedback", "", "", false},
		{"/feedback excellent", "", "", false},
		{"please rate /feedback good", "", "", false},
	}
	for _, tt := range tests {
		m := feedbackRe.FindStringSubmatch(tt.input)
		if !tt.match {
			require.Nil(t, m, tt.input)
			continue
		}
		require.NotNil(t, m, tt.input)
		require.Equal(t, tt.rating, m[1], tt.input)
		require.Equal(t, tt.target, m[2], tt.input)
	}
}

func TestRatingOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, 5, ratingOf("good"))
	require.Equal(t, 1, ratingOf("bad"))
	require.Equal(t, 3, ratingOf("3"))
}

func TestSentimentOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, "positive", sentimentOf(5))
	require.Equal(t, "positive", sentimentOf(4))
	require.Equal(t, "neutral", sentimentOf(3))
	require.Equal(t, "negative", sentimentOf(2))
	require.Equal(t, "negative", sentimentOf(1))
}

func TestRoutingHeadersQualifyModelWithProvider(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	st := &requestState{decision: &routing.Decision{
		Provider: "openai",
		Model:    "gpt-4o-mini",
		Reason:   "explicit model request",
	}}
	setRoutingHeaders(c, st)

	require.Equal(t, "openai", w.Header().Get("x-provider"))
	require.Equal(t, "openai/gpt-4o-mini", w.Header().Get("x-model"))
	require.Equal(t, "false", w.Header().Get("x-cache-hit"))
}

func TestSplitSystem(t *testing.T) {
	t.Parallel()

	system, rest := splitSystem([]relaymodel.Message{
		{Role: "system", Content: "first"},
		{Role: "user", Content: "q"},
		{Role: "system", Content: "second"},
		{Role: "assistant", Content: "a"},
	})
	require.Equal(t, "first\n\nsecond", system)
	require.Len(t, rest, 2)
	require.Equal(t, "user", rest[0].Role)
}

func TestLastUserText(t *testing.T) {
	t.Parallel()

	msgs := []relaymodel.Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "a"},
		{Role: "user", Content: "second"},
		{Role: "assistant", Content: "b"},
	}
	require.Equal(t, "second", lastUserText(msgs))
	require.Empty(t, lastUserText(nil))
}

func TestPreviewTextSkipsInjectedTurns(t *testing.T) {
	t.Parallel()

	msgs := []relaymodel.Message{
		{Role: "user", Content: "[Request interrupted by user]"},
		{Role: "user", Content: "<system-reminder>context low</system-reminder>"},
		{Role: "user", Content: "Error: connection refused"},
		{Role: "user", Content: "refactor the config loader"},
	}
	require.Equal(t, "refactor the config loader", previewText(msgs))
}

func TestPreviewTextFallsBackToLastUser(t *testing.T) {
	t.Parallel()

	msgs := []relaymodel.Message{
		{Role: "user", Content: "/feedback good"},
	}
	require.Equal(t, "/feedback good", previewText(msgs))
}

func TestIsAgenticClient(t *testing.T) {
	t.Parallel()

	require.True(t, isAgenticClient("Cline/3.0"))
	require.True(t, isAgenticClient("aider 0.82"))
	require.True(t, isAgenticClient("GitHub-Copilot"))
	require.False(t, isAgenticClient("curl/8.4"))
	require.False(t, isAgenticClient(""))
}

func TestSwitchClaudeModelOnCLI(t *testing.T) {
	t.Parallel()

	d := &routing.Decision{Provider: "claude-cli", Model: "haiku", Alias: "haiku"}
	require.True(t, switchClaudeModel(d, "sonnet"))
	require.Equal(t, "sonnet", d.Model)
	require.Equal(t, "sonnet", d.Alias)

	other := &routing.Decision{Provider: "openai", Model: "gpt-4o-mini"}
	require.False(t, switchClaudeModel(other, "sonnet"))
	require.Equal(t, "gpt-4o-mini", other.Model)
}

func TestClaudeAliasOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model string
		want  string
	}{
		{"opus", "opus"},
		{"sonnet", "sonnet"},
		{"claude-3-5-haiku-latest", "haiku"},
		{"claude-opus-4-20250514", "opus"},
		{"gpt-4o", ""},
		{"haiku-styled-poem-model", ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, claudeAliasOf(&routing.Decision{Model: tt.model}), tt.model)
	}
}
