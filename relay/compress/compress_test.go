package compress

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	relaymodel "github.com/cheaprelay/cheaprelay/relay/model"
)

func msgs(texts ...string) []relaymodel.Message {
	out := make([]relaymodel.Message, 0, len(texts))
	for i, text := range texts {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		out = append(out, relaymodel.Message{Role: role, Content: text})
	}
	return out
}

func TestRunNeverGrowsTokenEstimate(t *testing.T) {
	t.Parallel()

	code := "```go\nfunc Add(a, b int) int { return a + b }\n```"
	in := msgs(
		"Here is the file:\n"+code+"\n\nPlease review it.",
		"Looks fine.",
		"Here it is again:\n"+code+"\n\nNow add tests.",
	)
	out := Run(in)
	require.LessOrEqual(t, out.TokensAfter, out.TokensBefore)
	require.Len(t, out.Stages, len(stages))
}

func TestRunPreservesLatestUserMessage(t *testing.T) {
	t.Parallel()

	last := "Now add a regression test for the overflow case."
	in := msgs("first question", "first answer", last)
	out := Run(in)

	final := out.Messages[len(out.Messages)-1]
	require.Equal(t, "user", final.Role)
	require.Contains(t, final.StringContent(), "regression test for the overflow case")
}

func TestRunKeepsFinalUserMessageBytes(t *testing.T) {
	t.Parallel()

	code := "```go\nfunc Clamp(v, lo, hi int) int {\n\tif v < lo {\n\t\treturn lo\n\t}\n\tif v > hi {\n\t\treturn hi\n\t}\n\treturn v\n}\n" +
		"\nfunc ClampF(v, lo, hi float64) float64 {\n\tif v < lo {\n\t\treturn lo\n\t}\n\tif v > hi {\n\t\treturn hi\n\t}\n\treturn v\n}\n```"
	last := "Here it is again:\n" + code + "\nPlease extend it."
	in := msgs(
		"Take a look:\n"+code+"\nAny problems?",
		"Looks fine.",
		"Once more:\n"+code+"\nStill fine?",
		"Yes.",
		last,
	)
	out := Run(in)

	// The duplicate in the middle turn was eligible for a marker.
	require.Less(t, out.TokensAfter, out.TokensBefore)
	final := out.Messages[len(out.Messages)-1]
	require.Equal(t, "user", final.Role)
	// Byte-for-byte, not just semantically: no markers, no symbols, no
	// whitespace cleanup inside the final user turn.
	require.Equal(t, last, final.StringContent())
}

func TestRunDiscardsStageThatGrowsEstimate(t *testing.T) {
	t.Parallel()

	// Blocks this small make the dedup marker plus its explanatory note
	// bigger than the duplicate it removes.
	code := "```\nx=1\n```"
	in := msgs("A:\n"+code, "ok", "B:\n"+code, "ok", "anything else?")
	out := Run(in)

	require.LessOrEqual(t, out.TokensAfter, out.TokensBefore)
	for _, m := range out.Messages {
		require.NotContains(t, m.StringContent(), "[ref:block:")
	}
}

func TestRunDoesNotReorderMessages(t *testing.T) {
	t.Parallel()

	in := msgs("alpha question", "alpha answer", "beta question", "beta answer", "gamma question")
	out := Run(in)
	require.Len(t, out.Messages, len(in))
	for i, m := range out.Messages {
		require.Equal(t, in[i].Role, m.Role)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	in := msgs("* item one   \n+ item two\n\n\n\ntext after blanks", "ok", "next question")
	out, _ := normalize(in)
	text := out[0].StringContent()
	require.Contains(t, text, "- item one\n- item two")
	require.NotContains(t, text, "item one   ")
	require.NotContains(t, text, "\n\n\n")
}

func TestNormalizeLeavesCodeFencesAlone(t *testing.T) {
	t.Parallel()

	code := "```python\n* not a bullet\n\n\n\nx = 1\n```"
	in := msgs("intro\n"+code, "ok", "next question")
	out, _ := normalize(in)
	require.Contains(t, out[0].StringContent(), "* not a bullet\n\n\n\nx = 1")
}

func TestNormalizeLeavesFinalUserMessageAlone(t *testing.T) {
	t.Parallel()

	last := "* raw bullet   \n\n\n\nkept as typed"
	in := msgs("earlier question", "earlier answer", last)
	out, _ := normalize(in)
	require.Equal(t, last, out[2].StringContent())
}

func TestBlockDedupReplacesLaterDuplicates(t *testing.T) {
	t.Parallel()

	code := "```go\nfunc Mul(a, b int) int { return a * b }\n```"
	in := msgs("First:\n"+code, "ok", "Second:\n"+code, "ok", "Third:\n"+code, "ok", "now test it")
	out, note := blockDedup(in)

	require.Contains(t, note, "2 blocks")
	// First occurrence intact.
	require.Contains(t, out[0].StringContent(), "func Mul")
	// Later occurrences replaced by markers.
	require.Contains(t, out[2].StringContent(), "[ref:block:")
	require.NotContains(t, out[2].StringContent(), "func Mul")
	require.Contains(t, out[4].StringContent(), "[ref:block:")
	// The explanatory note is prepended to the first message.
	require.Contains(t, out[0].StringContent(), "2 duplicate block(s)")
}

func TestBlockDedupLeavesFinalUserMessageAlone(t *testing.T) {
	t.Parallel()

	code := "```go\nfunc Mul(a, b int) int { return a * b }\n```"
	last := "Here it is again:\n" + code + "\nPlease extend it."
	in := msgs("First:\n"+code, "ok", last)
	out, note := blockDedup(in)

	require.Empty(t, note)
	require.Equal(t, last, out[2].StringContent())
}

func TestBlockDedupMatchesXMLishTags(t *testing.T) {
	t.Parallel()

	block := "<context>The service talks to the billing database over a private link.</context>"
	in := msgs("A: "+block, "ok", "B: "+block, "ok", "done?")
	out, _ := blockDedup(in)

	require.Contains(t, out[0].StringContent(), "billing database")
	require.Contains(t, out[2].StringContent(), "[ref:block:")
	require.NotContains(t, out[2].StringContent(), "billing database")
}

func TestCodeCompressCollapsesIdenticalBlocks(t *testing.T) {
	t.Parallel()

	code := "```go\nfunc Div(a, b int) int {\treturn a / b }   \n```"
	in := msgs("v1:\n"+code, "ok", "v2:\n"+code, "ok", "ship it")
	out, note := codeCompress(in)

	require.Contains(t, note, "1 duplicate")
	require.Contains(t, out[2].StringContent(), "[identical to code block #1 above]")
	// Trailing whitespace inside the kept block is stripped.
	require.NotContains(t, out[0].StringContent(), "   \n```")
}

func TestCodeCompressLeavesFinalUserMessageAlone(t *testing.T) {
	t.Parallel()

	code := "```go\nfunc Div(a, b int) int {\treturn a / b }   \n```"
	last := "v2:\n" + code
	in := msgs("v1:\n"+code, "ok", last)
	out, note := codeCompress(in)

	require.Empty(t, note)
	require.Equal(t, last, out[2].StringContent())
}

func TestContextTrimOnlyEngagesOnHugeConversations(t *testing.T) {
	t.Parallel()

	small := msgs("short question", "short answer")
	out, note := contextTrim(small)
	require.Empty(t, note)
	require.Equal(t, small, out)
}

func TestContextTrimKeepsSystemAndRecentPairs(t *testing.T) {
	t.Parallel()

	big := strings.Repeat("lorem ipsum dolor sit amet ", 40_000) // ~240k chars
	in := []relaymodel.Message{{Role: "system", Content: "rules"}}
	for i := 0; i < 30; i++ {
		in = append(in,
			relaymodel.Message{Role: "user", Content: big[:30_000]},
			relaymodel.Message{Role: "assistant", Content: "answer"},
		)
	}

	out, note := contextTrim(in)
	require.NotEmpty(t, note)
	// System message survives.
	require.Equal(t, "system", out[0].Role)
	require.Equal(t, "rules", out[0].StringContent())
	// The final user turn is verbatim.
	final := out[len(out)-2]
	require.Equal(t, "user", final.Role)
	require.Len(t, final.StringContent(), 30_000)
	// Old turns were dropped or summarized, so the list shrank.
	require.Less(t, len(out), len(in))
}

func TestStagePanicIsContained(t *testing.T) {
	t.Parallel()

	panicking := stage{name: "boom", fn: func([]relaymodel.Message) ([]relaymodel.Message, string) {
		panic("kaboom")
	}}
	out, _ := runStage(panicking, msgs("hello"))
	require.Nil(t, out)
}
