package activity

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegisterAndSnapshot(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register("t1", "claude-cli", "sonnet", "code_gen", "write a parser for me please", 42)

	active, feed := r.Snapshot()
	require.Len(t, active, 1)
	require.Empty(t, feed)
	require.Equal(t, "t1", active[0].TaskID)
	require.Equal(t, 42, active[0].TokensIn)
}

func TestAppendChunkAccumulates(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register("t1", "openai", "gpt-4o-mini", "simple_qa", "q", 5)
	r.AppendChunk("t1", "Hello, ")
	r.AppendChunk("t1", "world")
	r.AppendChunk("missing", "ignored")

	active, _ := r.Snapshot()
	require.Len(t, active, 1)
	require.Equal(t, "Hello, world", active[0].PartialText)
	require.Positive(t, active[0].TokensOut)
}

func TestAppendChunkBoundsSnapshot(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register("t1", "openai", "gpt-4o-mini", "simple_qa", "q", 5)
	r.AppendChunk("t1", strings.Repeat("x", 3*snapshotLen))

	active, _ := r.Snapshot()
	require.LessOrEqual(t, len(active[0].PartialText), snapshotLen)
}

func TestCompleteMovesToFeed(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register("t1", "claude-cli", "haiku", "debug", "q", 5)
	r.Complete("t1", 10, 20)

	active, feed := r.Snapshot()
	require.Empty(t, active)
	require.Len(t, feed, 1)
	require.Equal(t, 10, feed[0].TokensIn)
	require.Equal(t, 20, feed[0].TokensOut)
	require.False(t, feed[0].CompletedAt.IsZero())
}

func TestFeedIsBoundedNewestFirst(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	for i := 0; i < feedSize+5; i++ {
		id := "t" + strings.Repeat("x", i+1)
		r.Register(id, "p", "m", "c", "q", 1)
		r.Complete(id, 1, 1)
	}

	_, feed := r.Snapshot()
	require.Len(t, feed, feedSize)
	require.Equal(t, "t"+strings.Repeat("x", feedSize+5), feed[0].TaskID, "newest completion leads the feed")
}

func TestRemoveDropsWithoutFeeding(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register("t1", "p", "m", "c", "q", 1)
	r.Remove("t1")

	active, feed := r.Snapshot()
	require.Empty(t, active)
	require.Empty(t, feed)
}

func TestSnapshotSweepsStaleEntries(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register("t1", "p", "m", "c", "q", 1)
	r.mu.Lock()
	r.active["t1"].StartedAt = time.Now().Add(-staleAfter - time.Minute)
	r.mu.Unlock()

	active, _ := r.Snapshot()
	require.Empty(t, active)

	// A second snapshot confirms the sweep removed it for good.
	active, _ = r.Snapshot()
	require.Empty(t, active)
}
