package compress

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSymbolTableSubstitutesRepeatedPhrases(t *testing.T) {
	t.Parallel()

	phrase := "The authentication middleware rejects expired tokens without logging"
	in := msgs(
		"Intro alpha. "+phrase+". Tail alpha.",
		"Echo alpha. "+phrase+". Done.",
		"Intro beta. "+phrase+". Tail beta.",
		"Echo beta. "+phrase+". Done.",
		"Final question, unrelated to the rest.",
	)
	out, note := symbolTable(in)

	require.NotEmpty(t, note)
	first := out[0].StringContent()
	require.Contains(t, first, "[symbol definitions:")
	// First occurrence stays verbatim (after the definitions block).
	require.Contains(t, first, phrase)
	// Later occurrences became symbols.
	require.Contains(t, out[2].StringContent(), "§")
	require.NotContains(t, out[2].StringContent(), "authentication middleware")
	require.Contains(t, out[3].StringContent(), "§")
}

func TestSymbolTableLeavesFinalUserMessageAlone(t *testing.T) {
	t.Parallel()

	phrase := "The authentication middleware rejects expired tokens without logging"
	last := "Again: " + phrase + ". Why?"
	in := msgs(
		"Intro alpha. "+phrase+". Tail alpha.",
		"ok",
		"Intro beta. "+phrase+". Tail beta.",
		"ok",
		last,
	)
	out, _ := symbolTable(in)

	// Occurrences before the final turn may be substituted, the final user
	// turn never is.
	require.Equal(t, last, out[4].StringContent())
	require.NotContains(t, out[4].StringContent(), "§")
}

func TestSymbolTableIgnoresUnrepeatedText(t *testing.T) {
	t.Parallel()

	in := msgs("a perfectly unique sentence about gophers", "ok", "another unique sentence entirely")
	out, note := symbolTable(in)
	require.Empty(t, note)
	require.NotContains(t, out[0].StringContent(), "§")
}

func TestSymbolTableCapsAtTenSymbols(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	for i := 0; i < 15; i++ {
		sentence := strings.Repeat("word"+string(rune('a'+i))+" ", 6)
		for j := 0; j < 3; j++ {
			b.WriteString(sentence)
			b.WriteString(". filler ")
			b.WriteString(string(rune('a' + i)))
			b.WriteString(string(rune('a' + j)))
			b.WriteString(". ")
		}
	}
	out, _ := symbolTable(msgs(b.String(), "ok", "done"))
	require.NotContains(t, out[0].StringContent(), "§11")
}
