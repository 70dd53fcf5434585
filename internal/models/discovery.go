package models

import (
	"context"
	"time"

	"github.com/anotherai/gateway/internal/domain"
	"github.com/anotherai/gateway/internal/providers/bedrock"
)

// BedrockDiscoveryConfig configures automatic registration of Bedrock
// foundation models into the catalog.
type BedrockDiscoveryConfig struct {
	Region          string
	RefreshInterval time.Duration
	ProviderFilter  []string
}

// RegisterBedrockModels discovers the account's active Bedrock foundation
// models and registers any not already present. Discovered entries carry
// capability flags only — no pricing — so the cost engine reports them as
// unpriceable until a priced entry supersedes the discovered one.
func (c *Catalog) RegisterBedrockModels(ctx context.Context, cfg BedrockDiscoveryConfig) error {
	discovered, err := bedrock.DiscoverModels(ctx, &bedrock.DiscoveryConfig{
		Region:          cfg.Region,
		RefreshInterval: cfg.RefreshInterval,
		ProviderFilter:  cfg.ProviderFilter,
	})
	if err != nil {
		return err
	}

	for _, def := range discovered {
		if _, exists := c.Get(def.ID); exists {
			continue
		}
		c.Register(discoveredToModelData(def))
	}
	return nil
}

func discoveredToModelData(def bedrock.ModelDefinition) *domain.ModelData {
	data := &domain.ModelData{
		ModelID:             def.ID,
		DisplayName:         def.Name,
		ContextWindowTokens: def.ContextWindow,
		MaxOutputTokens:     def.MaxTokens,
		SupportsStreaming:   def.StreamingSupported,
		SupportsReasoning:   def.Reasoning,
		// The Converse API provides tools and system prompts uniformly.
		SupportsTools:         true,
		SupportsToolChoice:    true,
		SupportsSystemMessage: true,
		Providers: []domain.ModelProviderOverride{
			{Provider: "bedrock"},
		},
	}
	for _, mod := range def.Input {
		switch mod {
		case "text":
			data.SupportsInputModalities = append(data.SupportsInputModalities, domain.ModalityText)
		case "image":
			data.SupportsInputModalities = append(data.SupportsInputModalities, domain.ModalityImage)
		}
	}
	for _, mod := range def.Output {
		switch mod {
		case "text":
			data.SupportsOutputModalities = append(data.SupportsOutputModalities, domain.ModalityText)
		case "image":
			data.SupportsOutputModalities = append(data.SupportsOutputModalities, domain.ModalityImage)
		}
	}
	return data
}
