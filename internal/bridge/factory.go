package bridge

import (
	"fmt"
	"sync"

	"github.com/ClareAI/astra-call-orchestrator/internal/bridge/gemini"
	"github.com/ClareAI/astra-call-orchestrator/internal/bridge/openai"
	"github.com/ClareAI/astra-call-orchestrator/internal/bridge/provider"
	"github.com/ClareAI/astra-call-orchestrator/internal/config"
	"github.com/ClareAI/astra-call-orchestrator/internal/domain"
)

// DefaultFactory builds voice bridges for the registered providers.
type DefaultFactory struct {
	mu       sync.RWMutex
	builders map[domain.AIProvider]func(provider.Params) provider.VoiceBridge
}

// NewFactory creates a factory with the OpenAI and Gemini providers
// registered from the runtime configuration.
func NewFactory(cfg *config.Config) *DefaultFactory {
	f := &DefaultFactory{
		builders: make(map[domain.AIProvider]func(provider.Params) provider.VoiceBridge),
	}

	openaiCfg := provider.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
		Voice:   cfg.OpenAIVoice,
	}
	f.Register(domain.AIProviderOpenAI, func(params provider.Params) provider.VoiceBridge {
		return openai.NewBridge(openaiCfg, params)
	})

	geminiCfg := provider.Config{
		APIKey:  cfg.GeminiAPIKey,
		BaseURL: cfg.GeminiBaseURL,
		Model:   cfg.GeminiModel,
	}
	f.Register(domain.AIProviderGemini, func(params provider.Params) provider.VoiceBridge {
		return gemini.NewBridge(geminiCfg, params)
	})

	return f
}

// Register adds or replaces the builder for a provider.
func (f *DefaultFactory) Register(providerType domain.AIProvider, builder func(provider.Params) provider.VoiceBridge) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[providerType] = builder
}

// NewBridge builds a bridge for the requested provider.
func (f *DefaultFactory) NewBridge(providerType domain.AIProvider, params provider.Params) (provider.VoiceBridge, error) {
	f.mu.RLock()
	builder, ok := f.builders[providerType]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported AI provider: %s", providerType)
	}
	return builder(params), nil
}
