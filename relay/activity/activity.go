// Package activity tracks in-flight requests for the live dashboard. Entries
// are process-local; a restart simply empties the board.
package activity

import (
	"sync"
	"time"

	"github.com/cheaprelay/cheaprelay/common/helper"
)

const (
	staleAfter  = 2 * time.Minute
	feedSize    = 20
	previewLen  = 120
	snapshotLen = 2000
)

// Entry is one visible request, active or recently completed.
type Entry struct {
	TaskID        string    `json:"task_id"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	Category      string    `json:"category"`
	PromptPreview string    `json:"prompt_preview"`
	PartialText   string    `json:"partial_text"`
	TokensIn      int       `json:"tokens_in"`
	TokensOut     int       `json:"tokens_out"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at,omitempty"`
	DurationMS    int64     `json:"duration_ms,omitempty"`
}

// Registry is the concurrent map of active entries plus a bounded feed of
// completed ones.
type Registry struct {
	mu     sync.Mutex
	active map[string]*Entry
	feed   []Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*Entry)}
}

// Register adds an entry at provider dispatch.
func (r *Registry) Register(taskID, provider, modelID, category, prompt string, tokensIn int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[taskID] = &Entry{
		TaskID:        taskID,
		Provider:      provider,
		Model:         modelID,
		Category:      category,
		PromptPreview: helper.TruncateString(prompt, previewLen),
		TokensIn:      tokensIn,
		StartedAt:     time.Now(),
	}
}

// AppendChunk accumulates streamed text, keeping a rough running token-out
// estimate of len/4.
func (r *Registry) AppendChunk(taskID, text string) {
	if text == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.active[taskID]
	if !ok {
		return
	}
	e.PartialText = helper.TruncateString(e.PartialText+text, snapshotLen)
	e.TokensOut += (len(text) + 3) / 4
}

// Complete moves an entry to the feed with final token counts.
func (r *Registry) Complete(taskID string, tokensIn, tokensOut int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.active[taskID]
	if !ok {
		return
	}
	delete(r.active, taskID)

	e.TokensIn = tokensIn
	e.TokensOut = tokensOut
	e.CompletedAt = time.Now()
	e.DurationMS = e.CompletedAt.Sub(e.StartedAt).Milliseconds()

	r.feed = append([]Entry{*e}, r.feed...)
	if len(r.feed) > feedSize {
		r.feed = r.feed[:feedSize]
	}
}

// Remove drops an entry without feeding it, for failed dispatches.
func (r *Registry) Remove(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, taskID)
}

// Snapshot returns current actives (stale ones swept) and the recent feed.
func (r *Registry) Snapshot() (active []Entry, feed []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-staleAfter)
	for id, e := range r.active {
		if e.StartedAt.Before(cutoff) {
			delete(r.active, id)
			continue
		}
		active = append(active, *e)
	}
	feed = append(feed, r.feed...)
	return active, feed
}
