// Package relay hosts the adapter registry and the request pipeline.
package relay

import (
	"sync"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/cheaprelay/cheaprelay/common/logger"
	"github.com/cheaprelay/cheaprelay/model"
	"github.com/cheaprelay/cheaprelay/relay/adaptor"
	"github.com/cheaprelay/cheaprelay/relay/adaptor/anthropic"
	"github.com/cheaprelay/cheaprelay/relay/adaptor/claudecli"
	"github.com/cheaprelay/cheaprelay/relay/adaptor/gemini"
	"github.com/cheaprelay/cheaprelay/relay/adaptor/ollama"
	"github.com/cheaprelay/cheaprelay/relay/adaptor/openai"
)

// Registry maps enabled provider rows to live adapters. Rebuilt whenever the
// provider CRUD changes something.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]adaptor.Adaptor
	cli      *claudecli.Adaptor
}

// NewRegistry builds an empty registry; call Reload to populate it.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]adaptor.Adaptor)}
}

// Reload rebuilds every adapter from the current provider table. The claude
// subprocess adapter survives reloads so its warm pool is not churned, unless
// the provider was disabled.
func (r *Registry) Reload() error {
	providers, err := model.GetEnabledProviders()
	if err != nil {
		return errors.Wrap(err, "load providers")
	}

	adapters := make(map[string]adaptor.Adaptor, len(providers))
	var cli *claudecli.Adaptor

	for _, p := range providers {
		cfg := p.DecodeConfig()
		switch p.ID {
		case "claude-cli":
			r.mu.RLock()
			cli = r.cli
			r.mu.RUnlock()
			if cli == nil {
				cli = claudecli.NewAdaptor(p.ID, cfg)
			}
			adapters[p.ID] = cli
		case "claude-api":
			adapters[p.ID] = anthropic.NewAdaptor(p.ID, cfg)
		case "openai":
			adapters[p.ID] = openai.NewAdaptor(p.ID, cfg)
		case "gemini":
			adapters[p.ID] = gemini.NewAdaptor(p.ID, cfg)
		case "ollama":
			adapters[p.ID] = ollama.NewAdaptor(p.ID, cfg)
		default:
			// Unknown providers are assumed OpenAI-compatible.
			adapters[p.ID] = openai.NewCompatibleAdaptor(p.ID, cfg)
		}
	}

	r.mu.Lock()
	old := r.cli
	r.adapters = adapters
	r.cli = cli
	r.mu.Unlock()

	if old != nil && cli == nil {
		old.Shutdown()
	}
	logger.Logger.Info("adapter registry reloaded", zap.Int("providers", len(adapters)))
	return nil
}

// Get returns the adapter for a provider id.
func (r *Registry) Get(providerID string) (adaptor.Adaptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[providerID]
	return a, ok
}

// ClaudeCLI returns the subprocess adapter when enabled, for warm pool
// lifecycle and classifier wiring.
func (r *Registry) ClaudeCLI() *claudecli.Adaptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cli
}

// Shutdown tears down adapters that hold resources.
func (r *Registry) Shutdown() {
	if cli := r.ClaudeCLI(); cli != nil {
		cli.Shutdown()
	}
}
