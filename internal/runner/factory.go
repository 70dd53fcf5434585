package runner

import (
	"fmt"
	"sync"

	"github.com/anotherai/gateway/internal/config"
	"github.com/anotherai/gateway/internal/pipeline"
	"github.com/anotherai/gateway/internal/providers"
)

// NewAdapterFactory builds the production adapter factory: one adapter per
// credential, constructed lazily and cached for the process lifetime.
func NewAdapterFactory(cfg *config.Config) pipeline.AdapterFactory {
	var mu sync.Mutex
	cache := map[string]providers.Adapter{}

	return func(cred config.ProviderCredential) (providers.Adapter, error) {
		mu.Lock()
		defer mu.Unlock()
		if adapter, ok := cache[cred.ID()+cred.APIKey]; ok {
			return adapter, nil
		}

		adapter, err := buildAdapter(cfg, cred)
		if err != nil {
			return nil, err
		}
		cache[cred.ID()+cred.APIKey] = adapter
		return adapter, nil
	}
}

func buildAdapter(cfg *config.Config, cred config.ProviderCredential) (providers.Adapter, error) {
	switch cred.Provider {
	case "openai":
		return providers.NewOpenAIAdapterWithBaseURL(cred.APIKey, cred.BaseURL), nil
	case "anthropic":
		return providers.NewAnthropicAdapter(providers.AnthropicConfig{
			APIKey:  cred.APIKey,
			BaseURL: cred.BaseURL,
		})
	case "google":
		return providers.NewGoogleAdapter(providers.GoogleConfig{APIKey: cred.APIKey})
	case "mistral":
		return providers.NewMistralAdapter(cred.APIKey, cred.BaseURL), nil
	case "fireworks":
		return providers.NewFireworksAdapter(cred.APIKey, cred.BaseURL), nil
	case "groq":
		return providers.NewGroqAdapter(cred.APIKey, cred.BaseURL), nil
	case "azure":
		return providers.NewAzureAdapter(providers.AzureConfig{
			Endpoint:   cfg.AzureEndpoint,
			APIKey:     cred.APIKey,
			APIVersion: cfg.AzureAPIVersion,
		})
	case "bedrock":
		return providers.NewBedrockAdapter(providers.BedrockConfig{
			Region: cfg.BedrockRegion,
		})
	default:
		return nil, fmt.Errorf("runner: unknown provider %q", cred.Provider)
	}
}
