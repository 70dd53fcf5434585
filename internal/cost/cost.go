// Package cost computes USD costs for completed LLM calls from the model
// catalog's pricing tables: tiered per-token text pricing, cached-token
// discounts, per-image pricing, and per-token or per-second audio pricing.
package cost

import (
	"errors"
	"fmt"

	"github.com/anotherai/gateway/internal/domain"
)

// ErrUnpriceable is wrapped by Compute when a required count is missing
// (e.g. per-second audio pricing without a recorded duration). The runner
// maps it to null cost rather than failing the request.
var ErrUnpriceable = errors.New("run is not priceable")

// Compute fills the cost fields of usage from the model's pricing table
// and returns the updated record. Compute is pure: calling it twice on
// the same inputs produces the same result, and a failure leaves the
// input untouched.
func Compute(usage domain.LLMUsage, pricing domain.Pricing, incursCost bool) (domain.LLMUsage, error) {
	if !incursCost {
		zero := 0.0
		usage.TextCostUSD = &zero
		usage.ImageCostUSD = &zero
		usage.AudioCostUSD = &zero
		usage.TotalCostUSD = &zero
		return usage, nil
	}

	textCost, err := textCost(usage, pricing)
	if err != nil {
		return usage, err
	}
	imageCost := imageCost(usage, pricing)
	audioCost, err := audioCost(usage, pricing)
	if err != nil {
		return usage, err
	}

	total := textCost + imageCost + audioCost
	usage.TextCostUSD = &textCost
	usage.ImageCostUSD = &imageCost
	usage.AudioCostUSD = &audioCost
	usage.TotalCostUSD = &total
	return usage, nil
}

func textCost(usage domain.LLMUsage, pricing domain.Pricing) (float64, error) {
	promptRate := domain.TierPrice(pricing.PromptTiers, usage.PromptTokens)
	completionRate := domain.TierPrice(pricing.CompletionTiers, usage.PromptTokens)

	// Audio tokens priced separately are excluded from the text total.
	textPromptTokens := usage.PromptTokens
	if pricing.AudioPromptUSDPerMillion != nil || pricing.AudioUSDPerSecond != nil {
		textPromptTokens -= usage.PromptAudioTokens
		if textPromptTokens < 0 {
			return 0, fmt.Errorf("%w: audio token count exceeds prompt total", ErrUnpriceable)
		}
	}

	cached := usage.PromptCachedTokens
	if cached > textPromptTokens {
		cached = textPromptTokens
	}
	nonCached := textPromptTokens - cached

	cost := float64(nonCached) * promptRate / 1_000_000
	if cached > 0 {
		cachedRate := promptRate
		if pricing.CachedPromptUSDPerMillion != nil {
			cachedRate = *pricing.CachedPromptUSDPerMillion
		}
		cost += float64(cached) * cachedRate / 1_000_000
	}

	cost += float64(usage.CompletionTokens) * completionRate / 1_000_000
	return cost, nil
}

func imageCost(usage domain.LLMUsage, pricing domain.Pricing) float64 {
	var cost float64
	if pricing.ImageUSDPerImage != nil && usage.PromptImageCount > 0 {
		cost += float64(usage.PromptImageCount) * *pricing.ImageUSDPerImage
	}
	if pricing.CompletionImageUSDPerImage != nil && usage.CompletionImageCount > 0 {
		cost += float64(usage.CompletionImageCount) * *pricing.CompletionImageUSDPerImage
	}
	return cost
}

func audioCost(usage domain.LLMUsage, pricing domain.Pricing) (float64, error) {
	switch {
	case pricing.AudioPromptUSDPerMillion != nil:
		return float64(usage.PromptAudioTokens) * *pricing.AudioPromptUSDPerMillion / 1_000_000, nil
	case pricing.AudioUSDPerSecond != nil:
		if usage.PromptAudioTokens == 0 && usage.PromptAudioDurationSeconds == 0 {
			return 0, nil
		}
		if usage.PromptAudioDurationSeconds == 0 {
			return 0, fmt.Errorf("%w: per-second audio pricing requires prompt_audio_duration_seconds", ErrUnpriceable)
		}
		return usage.PromptAudioDurationSeconds * *pricing.AudioUSDPerSecond, nil
	default:
		return 0, nil
	}
}
