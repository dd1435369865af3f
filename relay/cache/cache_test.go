package cache

import (
	"testing"

	"github.com/stretchr/testify/require"

	relaymodel "github.com/cheaprelay/cheaprelay/relay/model"
)

func TestResponseKeyDiscriminates(t *testing.T) {
	t.Parallel()

	msgs := []relaymodel.Message{{Role: "user", Content: "hello"}}
	base := ResponseKey("openai", "gpt-4o-mini", "sys", msgs)

	require.Equal(t, base, ResponseKey("openai", "gpt-4o-mini", "sys", msgs))
	require.NotEqual(t, base, ResponseKey("gemini", "gpt-4o-mini", "sys", msgs))
	require.NotEqual(t, base, ResponseKey("openai", "gpt-4o", "sys", msgs))
	require.NotEqual(t, base, ResponseKey("openai", "gpt-4o-mini", "other", msgs))
	require.NotEqual(t, base, ResponseKey("openai", "gpt-4o-mini", "sys",
		[]relaymodel.Message{{Role: "user", Content: "goodbye"}}))
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewStore()
	key := ResponseKey("openai", "gpt-4o-mini", "", []relaymodel.Message{{Role: "user", Content: "q"}})

	_, ok := s.Get(key)
	require.False(t, ok)

	s.Put(key, &Entry{Text: "answer", TokensIn: 3, TokensOut: 5, Provider: "openai", Model: "gpt-4o-mini"})
	entry, ok := s.Get(key)
	require.True(t, ok)
	require.Equal(t, "answer", entry.Text)
	require.Equal(t, 5, entry.TokensOut)
}

func TestCheckDedup(t *testing.T) {
	t.Parallel()

	s := NewStore()
	key := DedupKey("what is 2+2?")

	require.False(t, s.CheckDedup(key), "first sighting passes")
	require.True(t, s.CheckDedup(key), "second sighting within the window is a duplicate")
	require.False(t, s.CheckDedup(DedupKey("a different prompt")))
}

func TestFlush(t *testing.T) {
	t.Parallel()

	s := NewStore()
	key := "k"
	s.Put(key, &Entry{Text: "v"})
	s.Flush()
	_, ok := s.Get(key)
	require.False(t, ok)
}
