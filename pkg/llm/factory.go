package llm

import (
	"errors"
	"fmt"

	"github.com/mcpjam/inspector/pkg/agent"
	"github.com/mcpjam/inspector/pkg/config"
)

// Provider ids accepted by the factory.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

var (
	// ErrUnknownProvider rejects provider ids the factory cannot route.
	ErrUnknownProvider = errors.New("unknown model provider")
	// ErrMissingAPIKey means neither the request nor the environment
	// supplied a credential for the provider.
	ErrMissingAPIKey = errors.New("missing API key")
)

// Factory builds the DriverFactory the chat engine resolves providers
// through. The per-request key wins; the settings fallback covers local
// use where the key lives in the environment. Keys are held by the
// driver for one turn and never stored.
func Factory(settings *config.Settings) agent.DriverFactory {
	return func(provider, apiKey string) (agent.ModelDriver, error) {
		switch provider {
		case ProviderOpenAI:
			if apiKey == "" {
				apiKey = settings.OpenAIAPIKey
			}
			if apiKey == "" {
				return nil, fmt.Errorf("%w for provider %q", ErrMissingAPIKey, provider)
			}
			return NewDriver(apiKey, ""), nil
		case ProviderAnthropic:
			if apiKey == "" {
				apiKey = settings.AnthropicAPIKey
			}
			if apiKey == "" {
				return nil, fmt.Errorf("%w for provider %q", ErrMissingAPIKey, provider)
			}
			return NewDriver(apiKey, anthropicBaseURL), nil
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
		}
	}
}
