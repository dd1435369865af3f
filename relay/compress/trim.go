package compress

import (
	"fmt"
	"strings"

	"github.com/cheaprelay/cheaprelay/common/helper"
	relaymodel "github.com/cheaprelay/cheaprelay/relay/model"
)

const (
	trimThresholdTokens = 150_000
	keepRecentPairs     = 10
	summaryMaxChars     = 500
)

// contextTrim engages only on very large conversations. System messages and
// the most recent user-assistant pairs survive verbatim; older assistant turns
// are dropped and older user turns summarized.
func contextTrim(msgs []relaymodel.Message) ([]relaymodel.Message, string) {
	if estimateMessages(msgs) <= trimThresholdTokens {
		return msgs, ""
	}

	// Index of the first message inside the keep window: the last
	// keepRecentPairs*2 non-system messages.
	nonSystem := 0
	keepFrom := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "system" {
			continue
		}
		nonSystem++
		if nonSystem == keepRecentPairs*2 {
			keepFrom = i
			break
		}
	}

	var (
		out     []relaymodel.Message
		dropped int
		trimmed int
	)
	for i, m := range msgs {
		if m.Role == "system" || i >= keepFrom {
			out = append(out, m)
			continue
		}
		switch m.Role {
		case "assistant":
			dropped++
		case "user":
			text, ok := textOf(m)
			if !ok {
				out = append(out, m)
				continue
			}
			if summary := summarizeUserTurn(text); summary != text {
				m.Content = summary
				trimmed++
			}
			out = append(out, m)
		default:
			out = append(out, m)
		}
	}

	if dropped == 0 && trimmed == 0 {
		return msgs, ""
	}
	return out, fmt.Sprintf("trimmed context: %d assistant turns dropped, %d user turns summarized", dropped, trimmed)
}

func summarizeUserTurn(text string) string {
	segs := splitFences(text)
	var b strings.Builder
	for _, seg := range segs {
		if seg.fenced {
			b.WriteString("[code omitted]")
			continue
		}
		b.WriteString(seg.text)
	}
	return helper.TruncateString(b.String(), summaryMaxChars)
}
