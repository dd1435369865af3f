// Package config resolves process configuration from the environment at
// startup and holds the few runtime-mutable settings exposed through the
// settings API.
package config

import (
	"os"
	"strconv"
	"sync"
	"time"
)

// Static configuration, resolved once at startup via Load.
var (
	// Port is the listen port of the HTTP server.
	Port = 8402

	// SQLDSN selects mysql/postgres when set; otherwise sqlite at SQLitePath.
	SQLDSN     = ""
	SQLitePath = "cheaprelay.db"

	// DefaultProvider is preferred when tier-based selection ends in a tie.
	DefaultProvider = "claude-cli"

	// SuccessThreshold is the minimum heuristic score for a task to count as
	// a success in router history.
	SuccessThreshold = 40

	// ConfidenceSamples is the minimum sample count before the router trusts
	// historical stats for a (provider, model, category) cell.
	ConfidenceSamples = 3

	// ConsecutiveFailureLimit is how many trailing failures disqualify a model.
	ConsecutiveFailureLimit = 3

	// WarmPoolIdleTimeout stops idle warm subprocesses.
	WarmPoolIdleTimeout = 30 * time.Minute

	// ClaudeCLIPath is the claude binary invoked by the subprocess provider.
	ClaudeCLIPath = "claude"

	// StreamMetadataTimeout bounds the wait for the post-stream metadata.
	StreamMetadataTimeout = 120 * time.Second

	// DebugEnabled switches gin to debug mode and the logger to debug level.
	DebugEnabled = false
)

// Runtime settings: initialized from the environment, mutable for the life of
// the process via the settings API, never persisted.
var (
	settingsMu           sync.RWMutex
	llmClassifierEnabled = false
	pinnedModel          = ""
)

// Load reads environment variables into package state. Call once before
// anything else touches config.
func Load() {
	Port = envInt("PORT", Port)
	SQLDSN = envString("SQL_DSN", SQLDSN)
	SQLitePath = envString("SQLITE_PATH", SQLitePath)
	DefaultProvider = envString("DEFAULT_PROVIDER", DefaultProvider)
	SuccessThreshold = envInt("SUCCESS_THRESHOLD", SuccessThreshold)
	ConsecutiveFailureLimit = envInt("CONSECUTIVE_FAILURE_LIMIT", ConsecutiveFailureLimit)
	ClaudeCLIPath = envString("CLAUDE_CLI_PATH", ClaudeCLIPath)
	DebugEnabled = envBool("DEBUG", DebugEnabled)

	if ms := envInt("WARM_POOL_IDLE_TIMEOUT_MS", 0); ms > 0 {
		WarmPoolIdleTimeout = time.Duration(ms) * time.Millisecond
	}

	settingsMu.Lock()
	llmClassifierEnabled = envBool("LLM_CLASSIFIER", false)
	pinnedModel = envString("CLAUDE_CLI_MODEL", "")
	settingsMu.Unlock()
}

// LLMClassifierEnabled reports whether classification is delegated to the
// economy LLM instead of the heuristic rules.
func LLMClassifierEnabled() bool {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return llmClassifierEnabled
}

// SetLLMClassifierEnabled toggles the LLM classifier at runtime.
func SetLLMClassifierEnabled(enabled bool) {
	settingsMu.Lock()
	defer settingsMu.Unlock()
	llmClassifierEnabled = enabled
}

// PinnedModel returns the model id the pinned subprocess should serve, empty
// when pinned dispatch is disabled.
func PinnedModel() string {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return pinnedModel
}

// SetPinnedModel updates the pinned model selection at runtime.
func SetPinnedModel(model string) {
	settingsMu.Lock()
	defer settingsMu.Unlock()
	pinnedModel = model
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
