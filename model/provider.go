package model

import (
	"encoding/json"
	"time"

	"github.com/Laisky/errors/v2"
)

// Model tiers, the cross-provider cost classes routing compares on.
const (
	TierEconomy  = "economy"
	TierStandard = "standard"
	TierPremium  = "premium"
)

// Provider is one upstream backend row. Config is opaque JSON (api key, base
// url, binary path) interpreted by the matching adapter.
type Provider struct {
	ID        string    `json:"id" gorm:"primaryKey;size:64"`
	Name      string    `json:"name" gorm:"size:128"`
	Enabled   bool      `json:"enabled" gorm:"index"`
	Priority  int       `json:"priority"`
	Config    string    `json:"config" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProviderConfig is the decoded shape of Provider.Config.
type ProviderConfig struct {
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
}

// DecodeConfig parses the opaque config JSON, tolerating an empty value.
func (p *Provider) DecodeConfig() ProviderConfig {
	var cfg ProviderConfig
	if p.Config != "" {
		_ = json.Unmarshal([]byte(p.Config), &cfg)
	}
	return cfg
}

// ModelConfig is one catalog entry: a model as the upstream understands it,
// with tier, pricing, and capability flags.
type ModelConfig struct {
	ID              int64   `json:"id" gorm:"primaryKey;autoIncrement"`
	ProviderID      string  `json:"provider_id" gorm:"size:64;uniqueIndex:idx_provider_model"`
	ModelID         string  `json:"model_id" gorm:"size:128;uniqueIndex:idx_provider_model"`
	Name            string  `json:"name" gorm:"size:128"`
	Tier            string  `json:"tier" gorm:"size:16;index"`
	InputCostPerM   float64 `json:"input_cost_per_m"`
	OutputCostPerM  float64 `json:"output_cost_per_m"`
	MaxContext      int     `json:"max_context"`
	SupportsStream  bool    `json:"supports_stream"`
	SupportsTools   bool    `json:"supports_tools"`
	SupportsVision  bool    `json:"supports_vision"`
	Enabled         bool    `json:"enabled" gorm:"index"`
}

// GetEnabledProviders lists enabled providers ordered by priority.
func GetEnabledProviders() ([]Provider, error) {
	var rows []Provider
	err := DB.Where("enabled = ?", true).Order("priority DESC, id ASC").Find(&rows).Error
	return rows, errors.Wrap(err, "query enabled providers")
}

// GetProviderByID fetches one provider row.
func GetProviderByID(id string) (*Provider, error) {
	var p Provider
	if err := DB.First(&p, "id = ?", id).Error; err != nil {
		return nil, errors.Wrapf(err, "get provider %q", id)
	}
	return &p, nil
}

// GetEnabledModels lists enabled catalog models whose provider is enabled.
func GetEnabledModels() ([]ModelConfig, error) {
	var rows []ModelConfig
	err := DB.
		Joins("JOIN providers ON providers.id = model_configs.provider_id AND providers.enabled = ?", true).
		Where("model_configs.enabled = ?", true).
		Order("model_configs.input_cost_per_m ASC").
		Find(&rows).Error
	return rows, errors.Wrap(err, "query enabled models")
}

// GetEnabledModelsByTier lists enabled models of one tier, cheapest first.
func GetEnabledModelsByTier(tier string) ([]ModelConfig, error) {
	var rows []ModelConfig
	err := DB.
		Joins("JOIN providers ON providers.id = model_configs.provider_id AND providers.enabled = ?", true).
		Where("model_configs.enabled = ? AND model_configs.tier = ?", true, tier).
		Order("model_configs.input_cost_per_m ASC").
		Find(&rows).Error
	return rows, errors.Wrapf(err, "query enabled models for tier %q", tier)
}

// GetModelConfig resolves a (provider, model) pair regardless of enablement,
// so historical tasks can still be costed.
func GetModelConfig(providerID, modelID string) (*ModelConfig, error) {
	var row ModelConfig
	err := DB.Where("provider_id = ? AND model_id = ?", providerID, modelID).First(&row).Error
	if err != nil {
		return nil, errors.Wrapf(err, "get model config %s/%s", providerID, modelID)
	}
	return &row, nil
}

// GetEnabledModelsByProvider lists a provider's enabled models.
func GetEnabledModelsByProvider(providerID string) ([]ModelConfig, error) {
	var rows []ModelConfig
	err := DB.Where("provider_id = ? AND enabled = ?", providerID, true).
		Order("input_cost_per_m ASC").
		Find(&rows).Error
	return rows, errors.Wrapf(err, "query models for provider %q", providerID)
}

// EstimateCostUSD prices a call from the catalog. Unknown models cost zero;
// billing falls back rather than failing a request over a missing row.
func EstimateCostUSD(providerID, modelID string, tokensIn, tokensOut int) float64 {
	mc, err := GetModelConfig(providerID, modelID)
	if err != nil {
		return 0
	}
	return float64(tokensIn)/1e6*mc.InputCostPerM + float64(tokensOut)/1e6*mc.OutputCostPerM
}

// seedCatalog installs the default provider/model rows on first boot so
// routing works before any CRUD call.
func seedCatalog() error {
	var count int64
	if err := DB.Model(&Provider{}).Count(&count).Error; err != nil {
		return errors.Wrap(err, "count providers")
	}
	if count > 0 {
		return nil
	}

	providers := []Provider{
		{ID: "claude-cli", Name: "Claude CLI", Enabled: true, Priority: 10},
		{ID: "claude-api", Name: "Anthropic API", Enabled: false, Priority: 8},
		{ID: "openai", Name: "OpenAI", Enabled: false, Priority: 6},
		{ID: "gemini", Name: "Google Gemini", Enabled: false, Priority: 4},
		{ID: "ollama", Name: "Ollama", Enabled: false, Priority: 2, Config: `{"base_url":"http://localhost:11434"}`},
	}
	models := []ModelConfig{
		{ProviderID: "claude-cli", ModelID: "haiku", Name: "Claude Haiku (CLI)", Tier: TierEconomy, InputCostPerM: 0.80, OutputCostPerM: 4, MaxContext: 200000, SupportsStream: true, SupportsTools: true, Enabled: true},
		{ProviderID: "claude-cli", ModelID: "sonnet", Name: "Claude Sonnet (CLI)", Tier: TierStandard, InputCostPerM: 3, OutputCostPerM: 15, MaxContext: 200000, SupportsStream: true, SupportsTools: true, Enabled: true},
		{ProviderID: "claude-cli", ModelID: "opus", Name: "Claude Opus (CLI)", Tier: TierPremium, InputCostPerM: 15, OutputCostPerM: 75, MaxContext: 200000, SupportsStream: true, SupportsTools: true, Enabled: true},
		{ProviderID: "claude-api", ModelID: "claude-3-5-haiku-latest", Name: "Claude Haiku", Tier: TierEconomy, InputCostPerM: 0.80, OutputCostPerM: 4, MaxContext: 200000, SupportsStream: true, SupportsTools: true, SupportsVision: true, Enabled: true},
		{ProviderID: "claude-api", ModelID: "claude-sonnet-4-20250514", Name: "Claude Sonnet", Tier: TierStandard, InputCostPerM: 3, OutputCostPerM: 15, MaxContext: 200000, SupportsStream: true, SupportsTools: true, SupportsVision: true, Enabled: true},
		{ProviderID: "claude-api", ModelID: "claude-opus-4-20250514", Name: "Claude Opus", Tier: TierPremium, InputCostPerM: 15, OutputCostPerM: 75, MaxContext: 200000, SupportsStream: true, SupportsTools: true, SupportsVision: true, Enabled: true},
		{ProviderID: "openai", ModelID: "gpt-4o-mini", Name: "GPT-4o mini", Tier: TierEconomy, InputCostPerM: 0.15, OutputCostPerM: 0.60, MaxContext: 128000, SupportsStream: true, SupportsTools: true, SupportsVision: true, Enabled: true},
		{ProviderID: "openai", ModelID: "gpt-4o", Name: "GPT-4o", Tier: TierStandard, InputCostPerM: 2.50, OutputCostPerM: 10, MaxContext: 128000, SupportsStream: true, SupportsTools: true, SupportsVision: true, Enabled: true},
		{ProviderID: "gemini", ModelID: "gemini-2.0-flash", Name: "Gemini Flash", Tier: TierEconomy, InputCostPerM: 0.10, OutputCostPerM: 0.40, MaxContext: 1000000, SupportsStream: true, SupportsTools: true, SupportsVision: true, Enabled: true},
		{ProviderID: "gemini", ModelID: "gemini-2.5-pro", Name: "Gemini Pro", Tier: TierPremium, InputCostPerM: 1.25, OutputCostPerM: 10, MaxContext: 1000000, SupportsStream: true, SupportsTools: true, SupportsVision: true, Enabled: true},
		{ProviderID: "ollama", ModelID: "llama3", Name: "Llama 3 (local)", Tier: TierEconomy, InputCostPerM: 0, OutputCostPerM: 0, MaxContext: 8192, SupportsStream: true, Enabled: true},
	}

	if err := DB.Create(&providers).Error; err != nil {
		return errors.Wrap(err, "seed providers")
	}
	if err := DB.Create(&models).Error; err != nil {
		return errors.Wrap(err, "seed models")
	}
	return nil
}
