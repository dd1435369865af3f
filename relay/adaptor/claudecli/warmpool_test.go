package claudecli

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cheaprelay/cheaprelay/relay/adaptor"
	relaymodel "github.com/cheaprelay/cheaprelay/relay/model"
)

func digests(pairs ...string) []messageDigest {
	out := make([]messageDigest, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, digestMessage(relaymodel.Message{Role: pairs[i], Content: pairs[i+1]}))
	}
	return out
}

func TestBackfillDeltaFreshProcess(t *testing.T) {
	t.Parallel()

	incoming := digests("user", "q1", "assistant", "a1", "user", "q2")
	backfill, final := backfillDelta(nil, incoming)

	require.Len(t, backfill, 2, "everything before the final turn is replayed")
	require.Equal(t, "q1", backfill[0].Content)
	require.Equal(t, "a1", backfill[1].Content)
	require.Equal(t, "q2", final.Content)
}

func TestBackfillDeltaFullPrefix(t *testing.T) {
	t.Parallel()

	contextLog := digests("user", "q1", "assistant", "a1")
	incoming := digests("user", "q1", "assistant", "a1", "user", "q2")
	backfill, final := backfillDelta(contextLog, incoming)

	require.Empty(t, backfill, "the process already saw the whole head")
	require.Equal(t, "q2", final.Content)
}

func TestBackfillDeltaPartialPrefix(t *testing.T) {
	t.Parallel()

	contextLog := digests("user", "q1")
	incoming := digests("user", "q1", "assistant", "a1", "user", "q2")
	backfill, final := backfillDelta(contextLog, incoming)

	require.Len(t, backfill, 1)
	require.Equal(t, "a1", backfill[0].Content)
	require.Equal(t, "q2", final.Content)
}

func TestBackfillDeltaDivergentHistory(t *testing.T) {
	t.Parallel()

	contextLog := digests("user", "q1", "assistant", "old answer")
	incoming := digests("user", "q1", "assistant", "edited answer", "user", "q2")
	backfill, final := backfillDelta(contextLog, incoming)

	// Divergence at index 1: everything from there is replayed.
	require.Len(t, backfill, 1)
	require.Equal(t, "edited answer", backfill[0].Content)
	require.Equal(t, "q2", final.Content)
}

func TestBackfillDeltaEmptyIncoming(t *testing.T) {
	t.Parallel()

	backfill, final := backfillDelta(digests("user", "q1"), nil)
	require.Empty(t, backfill)
	require.Empty(t, final.Content)
}

func TestCommonPrefixLenUsesHashes(t *testing.T) {
	t.Parallel()

	a := digests("user", "same", "assistant", "same")
	b := digests("user", "same", "user", "same")
	// Same content, different role: the hash differs.
	require.Equal(t, 1, commonPrefixLen(a, b))
	require.Equal(t, 2, commonPrefixLen(a, a))
	require.Equal(t, 0, commonPrefixLen(nil, a))
}

func TestFullConversationFoldsSystem(t *testing.T) {
	t.Parallel()

	req := &adaptor.Request{
		System:   "be terse",
		Messages: []relaymodel.Message{{Role: "user", Content: "hi"}},
	}
	msgs := fullConversation(req)
	require.Len(t, msgs, 2)
	require.Equal(t, "system", msgs[0].Role)
	require.Equal(t, "be terse", msgs[0].StringContent())

	req.System = ""
	require.Len(t, fullConversation(req), 1)
}

func TestRenderDigest(t *testing.T) {
	t.Parallel()

	require.Equal(t, "plain question",
		renderDigest(digestMessage(relaymodel.Message{Role: "user", Content: "plain question"})))
	require.Equal(t, "System instructions for this conversation:\nbe terse",
		renderDigest(digestMessage(relaymodel.Message{Role: "system", Content: "be terse"})))
	require.Equal(t, "(assistant said earlier)\nsure",
		renderDigest(digestMessage(relaymodel.Message{Role: "assistant", Content: "sure"})))
}

func TestFlatten(t *testing.T) {
	t.Parallel()

	single := digests("user", "only turn")
	require.Equal(t, "only turn", flatten(single))

	multi := digests("system", "rules", "user", "q1")
	flat := flatten(multi)
	require.Contains(t, flat, "System instructions for this conversation:\nrules")
	require.Contains(t, flat, "\n\nq1")
}
