package providers

import (
	"errors"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// AzureConfig holds configuration for the Azure OpenAI adapter.
type AzureConfig struct {
	// Endpoint is the Azure OpenAI resource endpoint (required)
	// Format: https://{resource-name}.openai.azure.com
	Endpoint string

	// APIKey is the region-scoped Azure OpenAI API key (required)
	APIKey string

	// APIVersion is the API version to use (default: 2024-02-15-preview)
	APIVersion string

	// DefaultModel is the deployment name to use when not specified
	DefaultModel string
}

// NewAzureAdapter builds the Azure OpenAI adapter. Azure speaks the same
// chat-completions wire format as OpenAI but routes by deployment name
// under a per-resource endpoint with an api-key header, which the client
// config handles; everything else reuses OpenAIAdapter.
func NewAzureAdapter(cfg AzureConfig) (*OpenAIAdapter, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("azure: endpoint is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("azure: API key is required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-02-15-preview"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}

	clientConfig := openai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
	clientConfig.APIVersion = cfg.APIVersion

	return &OpenAIAdapter{
		client:       openai.NewClientWithConfig(clientConfig),
		name:         "azure",
		maxRetries:   3,
		retryDelay:   time.Second,
		defaultModel: cfg.DefaultModel,
		// Azure serves OpenAI models behind arbitrary deployment names; the
		// catalog decides which logical models map here, so accept both the
		// OpenAI naming and anything explicitly deployment-shaped.
		supportsModel: func(modelID string) bool {
			return strings.HasPrefix(modelID, "gpt-") ||
				strings.HasPrefix(modelID, "o1") ||
				strings.HasPrefix(modelID, "o3") ||
				strings.HasPrefix(modelID, "o4")
		},
	}, nil
}
