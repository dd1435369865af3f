// Package routing picks the upstream (provider, model) for a request: explicit
// pins resolve directly, everything else goes through tier-based selection
// driven by classification and the historical success stats of each model.
package routing

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/Laisky/zap"

	"github.com/cheaprelay/cheaprelay/common/config"
	"github.com/cheaprelay/cheaprelay/common/logger"
	"github.com/cheaprelay/cheaprelay/model"
	"github.com/cheaprelay/cheaprelay/relay/classify"
	relaymodel "github.com/cheaprelay/cheaprelay/relay/model"
)

const (
	// statsWindow bounds how far back the learning loop looks.
	statsWindow = 7 * 24 * time.Hour
	// exploreProbability is the chance of trying an untested model when one
	// exists in the tier.
	exploreProbability = 0.2
	// minSuccessRate is the exploitation bar a model's history must clear.
	minSuccessRate = 0.8
)

// Decision is the routing outcome the pipeline dispatches on.
type Decision struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Alias      string `json:"alias"`
	Reason     string `json:"reason"`
	Category   string `json:"category"`
	Complexity int    `json:"complexity"`

	// ClassifierUsage is set when the LLM classifier ran for this decision.
	ClassifierUsage *classify.LLMUsage `json:"classifier_usage,omitempty"`
}

// ClassifyFunc produces (category, complexity) for a conversation.
type ClassifyFunc func(ctx context.Context, messages []relaymodel.Message, system string) classify.Result

// Router resolves model names to concrete upstream targets.
type Router struct {
	classify ClassifyFunc
	randFn   func() float64
}

// New builds a router around a classifier.
func New(cls ClassifyFunc) *Router {
	return &Router{classify: cls, randFn: rand.Float64}
}

var legacyTiers = map[string]string{
	"gpt-3.5-turbo": model.TierEconomy,
	"gpt-4-turbo":   model.TierStandard,
	"gpt-4":         model.TierPremium,
}

var claudeAliases = map[string]bool{"opus": true, "sonnet": true, "haiku": true}

// Decide resolves the requested model name to a concrete target. It never
// fails: any internal error falls back to heuristic classification and the
// hard default.
func (r *Router) Decide(ctx context.Context, requested string, messages []relaymodel.Message, system string) *Decision {
	requested = strings.TrimSpace(requested)

	// 1. provider:model explicit pin.
	if provider, modelID, ok := strings.Cut(requested, ":"); ok {
		if d := r.resolvePin(provider, modelID); d != nil {
			return d
		}
	}

	// 2. Claude alias or full Claude model id.
	if alias := claudeAlias(requested); alias != "" {
		if d := r.resolveClaude(alias, requested); d != nil {
			return d
		}
	}

	// 3. Exact catalog match on any enabled provider.
	if d := r.resolveCatalog(requested); d != nil {
		return d
	}

	// 4. Tier name.
	if requested == model.TierEconomy || requested == model.TierStandard || requested == model.TierPremium {
		cls := r.classify(ctx, messages, system)
		return r.selectTier(requested, cls, "requested tier")
	}

	// 5. Legacy names map to a tier.
	if tier, ok := legacyTiers[requested]; ok {
		cls := r.classify(ctx, messages, system)
		return r.selectTier(tier, cls, fmt.Sprintf("legacy name %s", requested))
	}

	// 6. auto or anything unknown: classify, derive tier from complexity.
	cls := r.classify(ctx, messages, system)
	return r.selectTier(TierForComplexity(cls.Complexity), cls, "auto")
}

// TierForComplexity maps a complexity score to a tier.
func TierForComplexity(complexity int) string {
	switch {
	case complexity <= 25:
		return model.TierEconomy
	case complexity <= 60:
		return model.TierStandard
	}
	return model.TierPremium
}

// claudeAlias normalizes a requested name into opus/sonnet/haiku, or "".
func claudeAlias(requested string) string {
	lower := strings.ToLower(requested)
	if claudeAliases[lower] {
		return lower
	}
	if !strings.HasPrefix(lower, "claude") {
		return ""
	}
	for alias := range claudeAliases {
		if strings.Contains(lower, alias) {
			return alias
		}
	}
	return ""
}

func (r *Router) resolvePin(provider, modelID string) *Decision {
	mc, err := model.GetModelConfig(provider, modelID)
	if err != nil || !mc.Enabled {
		return nil
	}
	p, err := model.GetProviderByID(provider)
	if err != nil || !p.Enabled {
		return nil
	}
	return &Decision{
		Provider: provider,
		Model:    modelID,
		Alias:    mc.Name,
		Reason:   "explicit provider:model pin",
	}
}

// resolveClaude prefers the API provider for Claude names, falling back to
// the CLI with the short alias.
func (r *Router) resolveClaude(alias, requested string) *Decision {
	if d := r.claudeOn("claude-api", alias, requested); d != nil {
		return d
	}
	return r.claudeOn("claude-cli", alias, alias)
}

func (r *Router) claudeOn(providerID, alias, requested string) *Decision {
	p, err := model.GetProviderByID(providerID)
	if err != nil || !p.Enabled {
		return nil
	}
	models, err := model.GetEnabledModelsByProvider(providerID)
	if err != nil {
		return nil
	}
	for _, mc := range models {
		if mc.ModelID == requested || strings.Contains(strings.ToLower(mc.ModelID), alias) {
			return &Decision{
				Provider: providerID,
				Model:    mc.ModelID,
				Alias:    alias,
				Reason:   fmt.Sprintf("claude alias %s", alias),
			}
		}
	}
	return nil
}

func (r *Router) resolveCatalog(requested string) *Decision {
	models, err := model.GetEnabledModels()
	if err != nil {
		return nil
	}
	for _, mc := range models {
		if mc.ModelID == requested {
			return &Decision{
				Provider: mc.ProviderID,
				Model:    mc.ModelID,
				Alias:    mc.Name,
				Reason:   "catalog model match",
			}
		}
	}
	return nil
}

// selectTier runs exploration/exploitation/fallback over a tier's models,
// escalating through tiers when one is empty.
func (r *Router) selectTier(tier string, cls classify.Result, why string) *Decision {
	decision := func(mc *model.ModelConfig, reason string) *Decision {
		return &Decision{
			Provider:        mc.ProviderID,
			Model:           mc.ModelID,
			Alias:           mc.Name,
			Reason:          reason,
			Category:        cls.Category,
			Complexity:      cls.Complexity,
			ClassifierUsage: cls.LLMUsage,
		}
	}

	for _, t := range escalation(tier) {
		models, err := model.GetEnabledModelsByTier(t)
		if err != nil {
			logger.Logger.Warn("tier query failed, hard default",
				zap.String("tier", t), zap.Error(err))
			break
		}
		if len(models) == 0 {
			continue
		}

		note := why
		if t != tier {
			note = fmt.Sprintf("%s (escalated %s -> %s)", why, tier, t)
		}

		stats := r.categoryStats(cls.Category)

		// Exploration: give untested models a chance to build history.
		if untested := cheapestUntested(models, stats); untested != nil && r.randFn() < exploreProbability {
			return decision(untested, fmt.Sprintf("Explore: no history for %s/%s on %s (%s)",
				untested.ProviderID, untested.ModelID, cls.Category, note))
		}

		// Exploitation: cheapest model with a proven track record.
		for i := range models {
			mc := &models[i]
			s, ok := stats[statKey(mc.ProviderID, mc.ModelID)]
			if !ok || !s.Confident() || s.SuccessRate() < minSuccessRate {
				continue
			}
			if r.recentlyFailing(mc.ProviderID, mc.ModelID, cls.Category) {
				continue
			}
			return decision(mc, fmt.Sprintf("Proven: %.0f%% success on %s (%s)",
				s.SuccessRate()*100, cls.Category, note))
		}

		// Fallback: cheapest, preferring the default provider on cost ties.
		return decision(cheapestPreferring(models, config.DefaultProvider),
			fmt.Sprintf("Cheapest in %s tier (%s)", t, note))
	}

	return &Decision{
		Provider:        "claude-cli",
		Model:           "sonnet",
		Alias:           "sonnet",
		Reason:          "hard default: no enabled models",
		Category:        cls.Category,
		Complexity:      cls.Complexity,
		ClassifierUsage: cls.LLMUsage,
	}
}

func escalation(tier string) []string {
	switch tier {
	case model.TierEconomy:
		return []string{model.TierEconomy, model.TierStandard, model.TierPremium}
	case model.TierStandard:
		return []string{model.TierStandard, model.TierPremium}
	}
	return []string{model.TierPremium}
}

func statKey(provider, modelID string) string { return provider + "/" + modelID }

func (r *Router) categoryStats(category string) map[string]model.ModelCategoryStats {
	rows, err := model.GetCategoryStats(category, statsWindow)
	if err != nil {
		logger.Logger.Warn("category stats query failed",
			zap.String("category", category), zap.Error(err))
		return nil
	}
	out := make(map[string]model.ModelCategoryStats, len(rows))
	for _, s := range rows {
		out[statKey(s.ProviderID, s.ModelID)] = s
	}
	return out
}

// cheapestUntested returns the cheapest model lacking confident history.
// models arrive cost-ascending.
func cheapestUntested(models []model.ModelConfig, stats map[string]model.ModelCategoryStats) *model.ModelConfig {
	for i := range models {
		s, ok := stats[statKey(models[i].ProviderID, models[i].ModelID)]
		if !ok || !s.Confident() {
			return &models[i]
		}
	}
	return nil
}

// recentlyFailing reports whether the last N outcomes are all failures.
func (r *Router) recentlyFailing(providerID, modelID, category string) bool {
	outcomes, err := model.GetRecentOutcomes(providerID, modelID, category, config.ConsecutiveFailureLimit)
	if err != nil || len(outcomes) < config.ConsecutiveFailureLimit {
		return false
	}
	for _, ok := range outcomes {
		if ok {
			return false
		}
	}
	return true
}

// cheapestPreferring returns the cheapest model, breaking cost ties toward
// the preferred provider. models arrive cost-ascending.
func cheapestPreferring(models []model.ModelConfig, preferred string) *model.ModelConfig {
	best := &models[0]
	for i := 1; i < len(models); i++ {
		if models[i].InputCostPerM != best.InputCostPerM {
			break
		}
		if models[i].ProviderID == preferred && best.ProviderID != preferred {
			best = &models[i]
		}
	}
	return best
}
