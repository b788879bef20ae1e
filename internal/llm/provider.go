package llm

import (
	"context"
	"fmt"

	"github.com/comigor/ollamachat/internal/config"
)

// NewClient builds the client for target from the configuration. Disabled
// targets are rejected.
func NewClient(cfg *config.Config, target config.Target) (Client, error) {
	if !cfg.IsEnabled(target) {
		return nil, fmt.Errorf("provider %s is not enabled", target.DisplayName())
	}
	switch target {
	case config.TargetOllama:
		return NewOllamaClient(cfg.Server.BaseURL), nil
	case config.TargetOpenAI:
		oc := cfg.ProvidersConfig.OpenAI
		return NewOpenAIClient(oc.APIKey, oc.BaseURL), nil
	case config.TargetLMStudio:
		return NewOpenAIClient("lm-studio", cfg.ProvidersConfig.LMStudio.BaseURL), nil
	case config.TargetClaude:
		return claudeClient{}, nil
	}
	return nil, fmt.Errorf("unknown provider %q", target)
}

// claudeClient is declared so the provider can be enabled and listed; it has
// no request format yet.
type claudeClient struct{}

func (claudeClient) ChatStream(context.Context, ChatRequest) (Stream, error) {
	return nil, fmt.Errorf("claude: %w", ErrUnsupportedProvider)
}

func (claudeClient) ListModels(context.Context) ([]string, error) {
	return nil, fmt.Errorf("claude: %w", ErrUnsupportedProvider)
}
