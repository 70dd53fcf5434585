package domain

// LLMUsage records token/image/audio counts for a single LLM call plus
// the USD costs derived from them by the cost engine (internal/cost).
// Prompt tokens split into text/audio/cached so tiered and discounted
// rates can price each bucket separately.
type LLMUsage struct {
	PromptTokens           int `json:"prompt_tokens"`
	PromptTextTokens       int `json:"prompt_text_tokens,omitempty"`
	PromptAudioTokens      int `json:"prompt_audio_tokens,omitempty"`
	PromptCachedTokens     int `json:"prompt_cached_tokens,omitempty"`
	CompletionTokens       int `json:"completion_tokens"`
	CompletionReasoningTokens int `json:"completion_reasoning_tokens,omitempty"`

	PromptImageCount     int `json:"prompt_image_count,omitempty"`
	CompletionImageCount int `json:"completion_image_count,omitempty"`

	PromptAudioDurationSeconds float64 `json:"prompt_audio_duration_seconds,omitempty"`

	// Costs, populated by the cost engine (internal/cost). Nil means "not
	// computed" (e.g. the post-hoc timeout expired) rather than zero cost.
	TextCostUSD  *float64 `json:"text_cost_usd,omitempty"`
	ImageCostUSD *float64 `json:"image_cost_usd,omitempty"`
	AudioCostUSD *float64 `json:"audio_cost_usd,omitempty"`
	TotalCostUSD *float64 `json:"total_cost_usd,omitempty"`
}

// Add accumulates another usage record's token counts into u. Costs are not
// summed here — they are computed once, per call, by the cost engine.
func (u *LLMUsage) Add(other LLMUsage) {
	u.PromptTokens += other.PromptTokens
	u.PromptTextTokens += other.PromptTextTokens
	u.PromptAudioTokens += other.PromptAudioTokens
	u.PromptCachedTokens += other.PromptCachedTokens
	u.CompletionTokens += other.CompletionTokens
	u.CompletionReasoningTokens += other.CompletionReasoningTokens
	u.PromptImageCount += other.PromptImageCount
	u.CompletionImageCount += other.CompletionImageCount
	u.PromptAudioDurationSeconds += other.PromptAudioDurationSeconds
}
