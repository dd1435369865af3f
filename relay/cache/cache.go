// Package cache holds the short-lived response cache and the duplicate-request
// guard. Both are process-local and keyed by content hashes; neither survives
// a restart, which is fine at their TTLs.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	gocache "github.com/patrickmn/go-cache"

	relaymodel "github.com/cheaprelay/cheaprelay/relay/model"
)

const (
	responseTTL   = 60 * time.Second
	dedupTTL      = 5 * time.Second
	sweepInterval = 30 * time.Second
)

// Entry is one cached completion.
type Entry struct {
	Text         string
	ToolCalls    []relaymodel.ToolCall
	TokensIn     int
	TokensOut    int
	FinishReason string
	Provider     string
	Model        string
}

// Store wraps the response cache and the dedup map.
type Store struct {
	responses *gocache.Cache
	dedup     *gocache.Cache
}

// NewStore builds a store with background sweeping.
func NewStore() *Store {
	return &Store{
		responses: gocache.New(responseTTL, sweepInterval),
		dedup:     gocache.New(dedupTTL, sweepInterval),
	}
}

// ResponseKey derives the cache key for one (target, conversation) pair.
func ResponseKey(provider, modelID, system string, messages []relaymodel.Message) string {
	h := sha256.New()
	h.Write([]byte(provider + ":" + modelID))
	h.Write([]byte(system))
	if raw, err := json.Marshal(messages); err == nil {
		h.Write(raw)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached entry for a key, if fresh.
func (s *Store) Get(key string) (*Entry, bool) {
	v, ok := s.responses.Get(key)
	if !ok {
		return nil, false
	}
	entry, ok := v.(*Entry)
	return entry, ok
}

// Put stores a completed response under its key.
func (s *Store) Put(key string, entry *Entry) {
	s.responses.Set(key, entry, responseTTL)
}

// DedupKey hashes the last user message text alone, the signal a client is
// retrying the same thing in quick succession.
func DedupKey(lastUserText string) string {
	sum := sha256.Sum256([]byte(lastUserText))
	return hex.EncodeToString(sum[:])
}

// CheckDedup reports whether this key was seen within the dedup window, and
// records it either way.
func (s *Store) CheckDedup(key string) bool {
	if _, dup := s.dedup.Get(key); dup {
		return true
	}
	s.dedup.Set(key, struct{}{}, dedupTTL)
	return false
}

// Flush drops everything. Used by tests and provider reconfiguration.
func (s *Store) Flush() {
	s.responses.Flush()
	s.dedup.Flush()
}
