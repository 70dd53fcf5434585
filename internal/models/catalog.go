// Package models provides the catalog of models the gateway can route to:
// per-model capability flags, limits, pricing, the ordered provider list,
// and the per-error-class fallback table the pipeline consults.
package models

import (
	"sort"
	"strings"
	"sync"

	"github.com/anotherai/gateway/internal/domain"
)

// Catalog manages the set of known models.
type Catalog struct {
	models  map[string]*domain.ModelData // id -> model
	aliases map[string]string            // alias -> id
	mu      sync.RWMutex
}

// NewCatalog creates a catalog pre-populated with the built-in models.
func NewCatalog() *Catalog {
	c := &Catalog{
		models:  make(map[string]*domain.ModelData),
		aliases: make(map[string]string),
	}
	c.registerBuiltinModels()
	return c
}

// Register adds a model to the catalog, with optional aliases resolving to
// the same entry ("gpt-4.1-latest" -> the current gpt-4.1 snapshot).
func (c *Catalog) Register(model *domain.ModelData, aliases ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.models[model.ModelID] = model
	for _, alias := range aliases {
		c.aliases[strings.ToLower(alias)] = model.ModelID
	}
}

// Get retrieves a model by id or alias.
func (c *Catalog) Get(id string) (*domain.ModelData, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if model, ok := c.models[id]; ok {
		return model, true
	}
	if realID, ok := c.aliases[strings.ToLower(id)]; ok {
		return c.models[realID], true
	}
	return nil, false
}

// List returns all models sorted by id.
func (c *Catalog) List() []*domain.ModelData {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]*domain.ModelData, 0, len(c.models))
	for _, model := range c.models {
		result = append(result, model)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ModelID < result[j].ModelID
	})
	return result
}

// ProvidersFor returns the ordered provider list for a model id, or nil if
// the model is unknown.
func (c *Catalog) ProvidersFor(id string) []domain.ModelProviderOverride {
	model, ok := c.Get(id)
	if !ok {
		return nil
	}
	return model.Providers
}

func f64(v float64) *float64 { return &v }

func (c *Catalog) registerBuiltinModels() {
	textIn := []domain.Modality{domain.ModalityText}
	textOut := []domain.Modality{domain.ModalityText}
	visionIn := []domain.Modality{domain.ModalityText, domain.ModalityImage}
	fullIn := []domain.Modality{domain.ModalityText, domain.ModalityImage, domain.ModalityPDF}

	// OpenAI
	c.Register(&domain.ModelData{
		ModelID:                   "gpt-4.1",
		DisplayName:               "GPT-4.1",
		ContextWindowTokens:       1047576,
		MaxOutputTokens:           32768,
		SupportsInputModalities:   visionIn,
		SupportsOutputModalities:  textOut,
		SupportsTools:             true,
		SupportsToolChoice:        true,
		SupportsParallelToolCalls: true,
		SupportsStructuredOutput:  true,
		SupportsStreaming:         true,
		SupportsSystemMessage:     true,
		Pricing: domain.Pricing{
			PromptTiers:               []domain.PriceTier{{USDPerMillion: 2.0}},
			CompletionTiers:           []domain.PriceTier{{USDPerMillion: 8.0}},
			CachedPromptUSDPerMillion: f64(0.5),
			ImageUSDPerImage:          f64(0.002),
		},
		Providers: []domain.ModelProviderOverride{
			{Provider: "openai"},
			{Provider: "azure"},
		},
		Fallback: domain.FallbackMap{
			ContentModeration: "gemini-2.0-flash",
			StructuredOutput:  "gpt-4o",
			ContextExceeded:   "gemini-2.5-pro",
			RateLimit:         "claude-sonnet-4-20250514",
		},
	}, "gpt-4.1-latest")

	c.Register(&domain.ModelData{
		ModelID:                   "gpt-4o",
		DisplayName:               "GPT-4o",
		ContextWindowTokens:       128000,
		MaxOutputTokens:           16384,
		SupportsInputModalities:   []domain.Modality{domain.ModalityText, domain.ModalityImage, domain.ModalityAudio},
		SupportsOutputModalities:  textOut,
		SupportsTools:             true,
		SupportsToolChoice:        true,
		SupportsParallelToolCalls: true,
		SupportsStructuredOutput:  true,
		SupportsStreaming:         true,
		SupportsSystemMessage:     true,
		Pricing: domain.Pricing{
			PromptTiers:               []domain.PriceTier{{USDPerMillion: 2.5}},
			CompletionTiers:           []domain.PriceTier{{USDPerMillion: 10.0}},
			CachedPromptUSDPerMillion: f64(1.25),
			ImageUSDPerImage:          f64(0.0025),
			AudioPromptUSDPerMillion:  f64(40.0),
		},
		Providers: []domain.ModelProviderOverride{
			{Provider: "openai"},
			{Provider: "azure"},
		},
		Fallback: domain.FallbackMap{
			ContentModeration: "gemini-2.0-flash",
			StructuredOutput:  "gpt-4.1",
			ContextExceeded:   "gemini-2.5-pro",
			RateLimit:         "claude-sonnet-4-20250514",
		},
	}, "gpt-4o-latest")

	c.Register(&domain.ModelData{
		ModelID:                  "o3",
		DisplayName:              "o3",
		ContextWindowTokens:      200000,
		MaxOutputTokens:          100000,
		SupportsInputModalities:  visionIn,
		SupportsOutputModalities: textOut,
		SupportsTools:            true,
		SupportsToolChoice:       true,
		SupportsStructuredOutput: true,
		SupportsStreaming:        true,
		SupportsReasoning:        true,
		Pricing: domain.Pricing{
			PromptTiers:               []domain.PriceTier{{USDPerMillion: 2.0}},
			CompletionTiers:           []domain.PriceTier{{USDPerMillion: 8.0}},
			CachedPromptUSDPerMillion: f64(0.5),
		},
		Providers: []domain.ModelProviderOverride{
			{Provider: "openai"},
			{Provider: "azure"},
		},
		Fallback: domain.FallbackMap{
			RateLimit: "claude-sonnet-4-20250514",
		},
	})

	// Anthropic
	c.Register(&domain.ModelData{
		ModelID:                   "claude-sonnet-4-20250514",
		DisplayName:               "Claude Sonnet 4",
		ContextWindowTokens:       200000,
		MaxOutputTokens:           64000,
		SupportsInputModalities:   fullIn,
		SupportsOutputModalities:  textOut,
		SupportsTools:             true,
		SupportsToolChoice:        true,
		SupportsParallelToolCalls: true,
		SupportsStreaming:         true,
		SupportsSystemMessage:     true,
		SupportsReasoning:         true,
		ReasoningBudgetRange:      &[2]int{1024, 32000},
		Pricing: domain.Pricing{
			PromptTiers:               []domain.PriceTier{{USDPerMillion: 3.0}},
			CompletionTiers:           []domain.PriceTier{{USDPerMillion: 15.0}},
			CachedPromptUSDPerMillion: f64(0.3),
		},
		Providers: []domain.ModelProviderOverride{
			{Provider: "anthropic"},
			{Provider: "bedrock", ModelID: "anthropic.claude-sonnet-4-20250514-v1:0"},
		},
		Fallback: domain.FallbackMap{
			ContentModeration: "gemini-2.0-flash",
			StructuredOutput:  "gpt-4.1",
			ContextExceeded:   "gemini-2.5-pro",
			RateLimit:         "gpt-4.1",
		},
		ReasoningBudgets: map[domain.ReasoningEffort]int{
			domain.ReasoningLow:    2048,
			domain.ReasoningMedium: 8192,
			domain.ReasoningHigh:   32000,
		},
	}, "claude-sonnet-4-latest")

	c.Register(&domain.ModelData{
		ModelID:                  "claude-3-5-haiku-20241022",
		DisplayName:              "Claude 3.5 Haiku",
		ContextWindowTokens:      200000,
		MaxOutputTokens:          8192,
		SupportsInputModalities:  visionIn,
		SupportsOutputModalities: textOut,
		SupportsTools:            true,
		SupportsToolChoice:       true,
		SupportsStreaming:        true,
		SupportsSystemMessage:    true,
		Pricing: domain.Pricing{
			PromptTiers:               []domain.PriceTier{{USDPerMillion: 0.8}},
			CompletionTiers:           []domain.PriceTier{{USDPerMillion: 4.0}},
			CachedPromptUSDPerMillion: f64(0.08),
		},
		Providers: []domain.ModelProviderOverride{
			{Provider: "anthropic"},
			{Provider: "bedrock", ModelID: "anthropic.claude-3-5-haiku-20241022-v1:0"},
		},
		Fallback: domain.FallbackMap{
			RateLimit: "gemini-2.0-flash",
		},
	}, "claude-3-5-haiku-latest")

	// Google. Long-context Gemini pricing doubles past 200k prompt tokens.
	c.Register(&domain.ModelData{
		ModelID:                   "gemini-2.5-pro",
		DisplayName:               "Gemini 2.5 Pro",
		ContextWindowTokens:       1048576,
		MaxOutputTokens:           65536,
		SupportsInputModalities:   []domain.Modality{domain.ModalityText, domain.ModalityImage, domain.ModalityAudio, domain.ModalityPDF, domain.ModalityVideo},
		SupportsOutputModalities:  textOut,
		SupportsTools:             true,
		SupportsToolChoice:        true,
		SupportsParallelToolCalls: true,
		SupportsStructuredOutput:  true,
		SupportsStreaming:         true,
		SupportsSystemMessage:     true,
		SupportsReasoning:         true,
		Pricing: domain.Pricing{
			PromptTiers: []domain.PriceTier{
				{UpToTokens: 200000, USDPerMillion: 1.25},
				{USDPerMillion: 2.5},
			},
			CompletionTiers: []domain.PriceTier{
				{UpToTokens: 200000, USDPerMillion: 10.0},
				{USDPerMillion: 15.0},
			},
			AudioUSDPerSecond: f64(0.0001),
		},
		Providers: []domain.ModelProviderOverride{
			{Provider: "google"},
		},
		Fallback: domain.FallbackMap{
			ContentModeration: "gpt-4.1",
			StructuredOutput:  "gpt-4.1",
			RateLimit:         "claude-sonnet-4-20250514",
		},
		ReasoningBudgets: map[domain.ReasoningEffort]int{
			domain.ReasoningLow:    1024,
			domain.ReasoningMedium: 8192,
			domain.ReasoningHigh:   24576,
		},
	})

	c.Register(&domain.ModelData{
		ModelID:                   "gemini-2.0-flash",
		DisplayName:               "Gemini 2.0 Flash",
		ContextWindowTokens:       1048576,
		MaxOutputTokens:           8192,
		SupportsInputModalities:   []domain.Modality{domain.ModalityText, domain.ModalityImage, domain.ModalityAudio, domain.ModalityPDF},
		SupportsOutputModalities:  textOut,
		SupportsTools:             true,
		SupportsToolChoice:        true,
		SupportsParallelToolCalls: true,
		SupportsStructuredOutput:  true,
		SupportsStreaming:         true,
		SupportsSystemMessage:     true,
		Pricing: domain.Pricing{
			PromptTiers:       []domain.PriceTier{{USDPerMillion: 0.1}},
			CompletionTiers:   []domain.PriceTier{{USDPerMillion: 0.4}},
			AudioUSDPerSecond: f64(0.00003),
		},
		Providers: []domain.ModelProviderOverride{
			{Provider: "google"},
		},
		Fallback: domain.FallbackMap{
			RateLimit: "claude-3-5-haiku-20241022",
		},
	})

	// Mistral
	c.Register(&domain.ModelData{
		ModelID:                   "mistral-large-latest",
		DisplayName:               "Mistral Large",
		ContextWindowTokens:       131072,
		MaxOutputTokens:           8192,
		SupportsInputModalities:   textIn,
		SupportsOutputModalities:  textOut,
		SupportsTools:             true,
		SupportsToolChoice:        true,
		SupportsParallelToolCalls: true,
		SupportsStreaming:         true,
		SupportsSystemMessage:     true,
		Pricing: domain.Pricing{
			PromptTiers:     []domain.PriceTier{{USDPerMillion: 2.0}},
			CompletionTiers: []domain.PriceTier{{USDPerMillion: 6.0}},
		},
		Providers: []domain.ModelProviderOverride{
			{Provider: "mistral"},
		},
		Fallback: domain.FallbackMap{
			RateLimit: "gpt-4.1",
		},
	})

	// Served by both Groq and Fireworks under different ids; Groq leads
	// for latency, Fireworks absorbs overflow (round-robin credentials).
	c.Register(&domain.ModelData{
		ModelID:                  "llama-3.3-70b",
		DisplayName:              "Llama 3.3 70B",
		ContextWindowTokens:      131072,
		MaxOutputTokens:          32768,
		SupportsInputModalities:  textIn,
		SupportsOutputModalities: textOut,
		SupportsTools:            true,
		SupportsToolChoice:       true,
		SupportsStreaming:        true,
		SupportsSystemMessage:    true,
		Pricing: domain.Pricing{
			PromptTiers:     []domain.PriceTier{{USDPerMillion: 0.59}},
			CompletionTiers: []domain.PriceTier{{USDPerMillion: 0.79}},
		},
		Providers: []domain.ModelProviderOverride{
			{Provider: "groq", ModelID: "llama-3.3-70b-versatile"},
			{Provider: "fireworks", ModelID: "accounts/fireworks/models/llama-v3p3-70b-instruct"},
		},
		Fallback: domain.FallbackMap{
			RateLimit: "gemini-2.0-flash",
		},
	})
}
