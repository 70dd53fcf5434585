package domain

// Modality flags what kind of content a model can accept or produce,
// narrowed to the modes the runner and pipeline actually branch on.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
	ModalityAudio Modality = "audio"
	ModalityPDF   Modality = "pdf"
	ModalityVideo Modality = "video"
)

// PriceTier is one threshold of a tiered per-token price: tokens at or
// below UpToTokens (0 meaning "no upper bound") are billed at
// USDPerMillion. Most models have a single tier; long-context models
// often double the price past a prompt-length threshold.
type PriceTier struct {
	UpToTokens   int
	USDPerMillion float64
}

// Pricing holds the per-million-token USD rates used by the cost engine:
// separate tiered prompt/completion rates, an optional discounted rate for
// cached prompt tokens, flat per-unit rates for images, and either
// per-token or per-second audio pricing.
type Pricing struct {
	PromptTiers     []PriceTier
	CompletionTiers []PriceTier

	// CachedPromptUSDPerMillion is the discounted rate applied to prompt
	// tokens served from the provider's cache. Nil means no discount.
	CachedPromptUSDPerMillion *float64

	// ImageUSDPerImage prices prompt images; CompletionImageUSDPerImage
	// prices generated ones.
	ImageUSDPerImage           *float64
	CompletionImageUSDPerImage *float64

	// Audio prompt pricing: exactly one of the two is set for models that
	// take audio. Per-second pricing requires the usage record to carry
	// the prompt audio duration.
	AudioPromptUSDPerMillion *float64
	AudioUSDPerSecond        *float64
}

// ModelProviderOverride is one entry of a model's ordered provider list:
// the provider that can serve the model, plus any provider-scoped override
// of the model id (e.g. a logical "llama-3.3-70b" is
// "accounts/fireworks/models/llama-v3p3-70b-instruct" on Fireworks).
type ModelProviderOverride struct {
	Provider string
	ModelID  string
}

// FallbackMap names the model to switch to per classified error, per the
// pipeline's fallback-selection rules. An empty field means no fallback
// for that error class.
type FallbackMap struct {
	ContentModeration string
	StructuredOutput  string
	ContextExceeded   string
	RateLimit         string
	UnknownError      string
}

// ForKind resolves which fallback model (if any) a terminal error of the
// given kind selects.
func (f FallbackMap) ForKind(kind ErrorKind) string {
	switch kind {
	case KindContentModeration:
		return f.ContentModeration
	case KindStructuredGeneration, KindInvalidGeneration, KindFailedGeneration:
		return f.StructuredOutput
	case KindMaxTokensExceeded:
		return f.ContextExceeded
	case KindInvalidFile, KindMaxToolCallIteration, KindTaskBanned, KindBadRequest, KindAgentRunFailed:
		return ""
	case KindRateLimit, KindProviderInternal, KindProviderUnavailable, KindReadTimeout, KindTimeout:
		return f.RateLimit
	default:
		if f.UnknownError != "" {
			return f.UnknownError
		}
		return f.RateLimit
	}
}

// ModelData is the catalog entry for one logical model: what it supports,
// its limits, its price, and the ordered list of providers able to serve
// it. Several providers can expose the same logical model (e.g.
// "llama-3.3-70b" via both Groq and Fireworks).
type ModelData struct {
	ModelID string

	DisplayName string

	ContextWindowTokens int
	MaxOutputTokens     int

	SupportsInputModalities  []Modality
	SupportsOutputModalities []Modality
	SupportsTools            bool
	SupportsToolChoice       bool
	SupportsParallelToolCalls bool
	SupportsStructuredOutput bool
	SupportsStreaming         bool
	SupportsSystemMessage     bool
	SupportsReasoning         bool
	ReasoningBudgetRange      *[2]int

	Deprecated    bool
	ReplacedBy    string

	Pricing Pricing

	// Providers lists, in priority order, the providers able to serve this
	// model. The pipeline walks it front to back.
	Providers []ModelProviderOverride

	// Fallback selects the automatic fallback model per error class when
	// the pipeline exhausts every provider for this model.
	Fallback FallbackMap

	// ReasoningBudgets maps a named reasoning effort to the token budget
	// sent to providers that take an explicit budget instead of a tier.
	ReasoningBudgets map[ReasoningEffort]int
}

// ProviderModelID resolves the provider-scoped model id for one entry of
// the provider list, defaulting to the logical id.
func (m ModelData) ProviderModelID(provider string) string {
	for _, p := range m.Providers {
		if p.Provider == provider && p.ModelID != "" {
			return p.ModelID
		}
	}
	return m.ModelID
}

func (m ModelData) SupportsModality(mod Modality, output bool) bool {
	list := m.SupportsInputModalities
	if output {
		list = m.SupportsOutputModalities
	}
	for _, x := range list {
		if x == mod {
			return true
		}
	}
	return false
}

// TierPrice walks tiers in order and returns the rate for the given
// cumulative token count, falling back to the last tier's rate if the
// count exceeds every UpToTokens boundary, or 0 if tiers is empty.
func TierPrice(tiers []PriceTier, tokens int) float64 {
	for _, t := range tiers {
		if t.UpToTokens == 0 || tokens <= t.UpToTokens {
			return t.USDPerMillion
		}
	}
	if len(tiers) > 0 {
		return tiers[len(tiers)-1].USDPerMillion
	}
	return 0
}
