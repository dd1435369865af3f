package routing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/cheaprelay/cheaprelay/common/helper"
	"github.com/cheaprelay/cheaprelay/model"
	"github.com/cheaprelay/cheaprelay/relay/classify"
	relaymodel "github.com/cheaprelay/cheaprelay/relay/model"
)

func setupTestDB(t *testing.T) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&model.Provider{}, &model.ModelConfig{}, &model.TaskLog{}))

	original := model.DB
	model.DB = db
	t.Cleanup(func() {
		model.DB = original
		_ = sqlDB.Close()
	})
}

func addProvider(t *testing.T, id string, enabled bool) {
	t.Helper()
	require.NoError(t, model.DB.Create(&model.Provider{ID: id, Name: id, Enabled: enabled}).Error)
}

func addModel(t *testing.T, provider, modelID, tier string, cost float64, enabled bool) {
	t.Helper()
	require.NoError(t, model.DB.Create(&model.ModelConfig{
		ProviderID:    provider,
		ModelID:       modelID,
		Name:          modelID,
		Tier:          tier,
		InputCostPerM: cost,
		Enabled:       enabled,
	}).Error)
}

func addTask(t *testing.T, provider, modelID, category string, success bool, age time.Duration) {
	t.Helper()
	require.NoError(t, model.DB.Create(&model.TaskLog{
		ID:         helper.GenRequestID(),
		CreatedAt:  time.Now().Add(-age),
		Category:   category,
		ProviderID: provider,
		ModelID:    modelID,
		CLISuccess: success,
	}).Error)
}

// newTestRouter classifies everything the same way and never explores unless
// the test dials the rand source down.
func newTestRouter(category string, complexity int) *Router {
	r := New(func(context.Context, []relaymodel.Message, string) classify.Result {
		return classify.Result{Category: category, Complexity: complexity}
	})
	r.randFn = func() float64 { return 0.99 }
	return r
}

func decide(r *Router, requested string) *Decision {
	return r.Decide(context.Background(), requested,
		[]relaymodel.Message{{Role: "user", Content: "hi"}}, "")
}

func TestDecideExplicitPin(t *testing.T) {
	setupTestDB(t)
	addProvider(t, "openai", true)
	addModel(t, "openai", "gpt-4o-mini", model.TierEconomy, 0.15, true)

	d := decide(newTestRouter("simple_qa", 10), "openai:gpt-4o-mini")
	require.Equal(t, "openai", d.Provider)
	require.Equal(t, "gpt-4o-mini", d.Model)
	require.Equal(t, "explicit provider:model pin", d.Reason)
}

func TestDecidePinOnDisabledProviderFallsThrough(t *testing.T) {
	setupTestDB(t)
	addProvider(t, "openai", false)
	addModel(t, "openai", "gpt-4o-mini", model.TierEconomy, 0.15, true)

	d := decide(newTestRouter("simple_qa", 10), "openai:gpt-4o-mini")
	require.NotEqual(t, "explicit provider:model pin", d.Reason)
	// Nothing else is enabled, so the hard default applies.
	require.Equal(t, "claude-cli", d.Provider)
	require.Equal(t, "sonnet", d.Model)
}

func TestDecideClaudeAliasPrefersAPI(t *testing.T) {
	setupTestDB(t)
	addProvider(t, "claude-api", true)
	addProvider(t, "claude-cli", true)
	addModel(t, "claude-api", "claude-sonnet-4-20250514", model.TierStandard, 3, true)
	addModel(t, "claude-cli", "sonnet", model.TierStandard, 3, true)

	d := decide(newTestRouter("simple_qa", 10), "sonnet")
	require.Equal(t, "claude-api", d.Provider)
	require.Equal(t, "claude-sonnet-4-20250514", d.Model)
	require.Equal(t, "sonnet", d.Alias)
}

func TestDecideClaudeAliasFallsBackToCLI(t *testing.T) {
	setupTestDB(t)
	addProvider(t, "claude-api", false)
	addProvider(t, "claude-cli", true)
	addModel(t, "claude-cli", "sonnet", model.TierStandard, 3, true)

	d := decide(newTestRouter("simple_qa", 10), "claude-3-5-sonnet-20241022")
	require.Equal(t, "claude-cli", d.Provider)
	require.Equal(t, "sonnet", d.Model)
}

func TestDecideCatalogMatch(t *testing.T) {
	setupTestDB(t)
	addProvider(t, "gemini", true)
	addModel(t, "gemini", "gemini-2.0-flash", model.TierEconomy, 0.10, true)

	d := decide(newTestRouter("simple_qa", 10), "gemini-2.0-flash")
	require.Equal(t, "gemini", d.Provider)
	require.Equal(t, "catalog model match", d.Reason)
}

func TestDecideLegacyNameMapsToTier(t *testing.T) {
	setupTestDB(t)
	addProvider(t, "openai", true)
	addModel(t, "openai", "gpt-4o", model.TierPremium, 2.5, true)

	d := decide(newTestRouter("code_gen", 80), "gpt-4")
	require.Equal(t, "gpt-4o", d.Model)
	require.Contains(t, d.Reason, "legacy name gpt-4")
	require.Equal(t, "code_gen", d.Category)
}

func TestTierForComplexity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		complexity int
		want       string
	}{
		{0, model.TierEconomy},
		{25, model.TierEconomy},
		{26, model.TierStandard},
		{60, model.TierStandard},
		{61, model.TierPremium},
		{100, model.TierPremium},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, TierForComplexity(tt.complexity))
	}
}

func TestSelectTierFallsBackWithoutHistory(t *testing.T) {
	setupTestDB(t)
	addProvider(t, "gemini", true)
	addProvider(t, "claude-cli", true)
	addModel(t, "gemini", "gemini-2.0-flash", model.TierEconomy, 0.10, true)
	addModel(t, "claude-cli", "haiku", model.TierEconomy, 0.80, true)

	d := decide(newTestRouter("simple_qa", 10), "economy")
	require.Equal(t, "gemini-2.0-flash", d.Model, "no history means cheapest")
	require.Contains(t, d.Reason, "Cheapest in economy tier")
}

func TestSelectTierConfidenceGate(t *testing.T) {
	setupTestDB(t)
	addProvider(t, "gemini", true)
	addProvider(t, "claude-cli", true)
	addModel(t, "gemini", "gemini-2.0-flash", model.TierEconomy, 0.10, true)
	addModel(t, "claude-cli", "haiku", model.TierEconomy, 0.80, true)

	r := newTestRouter("simple_qa", 10)

	// Two perfect samples are below the confidence gate: still cheapest.
	addTask(t, "claude-cli", "haiku", "simple_qa", true, time.Hour)
	addTask(t, "claude-cli", "haiku", "simple_qa", true, 2*time.Hour)
	d := decide(r, "economy")
	require.Equal(t, "gemini-2.0-flash", d.Model)

	// A third sample clears the gate; history now beats raw price order only
	// for models with stats, and the cheap model still has none, so the proven
	// one wins the exploitation pass.
	addTask(t, "claude-cli", "haiku", "simple_qa", true, 3*time.Hour)
	d = decide(r, "economy")
	require.Equal(t, "haiku", d.Model)
	require.Contains(t, d.Reason, "Proven")
}

func TestSelectTierExploration(t *testing.T) {
	setupTestDB(t)
	addProvider(t, "gemini", true)
	addProvider(t, "claude-cli", true)
	addModel(t, "gemini", "gemini-2.0-flash", model.TierEconomy, 0.10, true)
	addModel(t, "claude-cli", "haiku", model.TierEconomy, 0.80, true)
	for i := 0; i < 3; i++ {
		addTask(t, "gemini", "gemini-2.0-flash", "simple_qa", true, time.Duration(i+1)*time.Hour)
	}

	r := newTestRouter("simple_qa", 10)
	r.randFn = func() float64 { return 0.0 } // always explore
	d := decide(r, "economy")
	require.Equal(t, "haiku", d.Model, "the untested model gets its chance")
	require.Contains(t, d.Reason, "Explore")
}

func TestSelectTierSkipsConsecutiveFailures(t *testing.T) {
	setupTestDB(t)
	addProvider(t, "gemini", true)
	addProvider(t, "claude-cli", true)
	addModel(t, "gemini", "gemini-2.0-flash", model.TierEconomy, 0.10, true)
	addModel(t, "claude-cli", "haiku", model.TierEconomy, 0.80, true)

	// 12 old successes + 3 fresh failures: 80% overall, but the trailing run
	// of failures disqualifies the model.
	for i := 0; i < 12; i++ {
		addTask(t, "gemini", "gemini-2.0-flash", "simple_qa", true, time.Duration(i+10)*time.Hour)
	}
	for i := 0; i < 3; i++ {
		addTask(t, "gemini", "gemini-2.0-flash", "simple_qa", false, time.Duration(i+1)*time.Hour)
	}

	d := decide(newTestRouter("simple_qa", 10), "economy")
	require.NotContains(t, d.Reason, "Proven")
	require.Equal(t, "gemini-2.0-flash", d.Model, "still cheapest in the fallback pass")
	require.Contains(t, d.Reason, "Cheapest")
}

func TestSelectTierEscalatesEmptyTiers(t *testing.T) {
	setupTestDB(t)
	addProvider(t, "openai", true)
	addModel(t, "openai", "gpt-4o", model.TierStandard, 2.5, true)

	d := decide(newTestRouter("simple_qa", 10), "economy")
	require.Equal(t, "gpt-4o", d.Model)
	require.Contains(t, d.Reason, "escalated economy -> standard")
}

func TestDecideHardDefault(t *testing.T) {
	setupTestDB(t)

	d := decide(newTestRouter("simple_qa", 10), "auto")
	require.Equal(t, "claude-cli", d.Provider)
	require.Equal(t, "sonnet", d.Model)
	require.Contains(t, d.Reason, "hard default")
}

func TestClaudeAlias(t *testing.T) {
	t.Parallel()

	tests := []struct {
		requested string
		want      string
	}{
		{"opus", "opus"},
		{"Sonnet", "sonnet"},
		{"claude-3-5-haiku-latest", "haiku"},
		{"claude-opus-4-20250514", "opus"},
		{"claude-unknown", ""},
		{"gpt-4o", ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, claudeAlias(tt.requested), tt.requested)
	}
}
