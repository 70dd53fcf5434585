// Package pipeline computes the ordered sequence of provider attempts for
// one logical inference request and decides, per classified error, what to
// try next: the same credential again, the provider's next credential, the
// model's next provider, or a fallback model.
package pipeline

import (
	"math/rand"
	"strings"

	"github.com/anotherai/gateway/internal/config"
	"github.com/anotherai/gateway/internal/domain"
	"github.com/anotherai/gateway/internal/models"
	"github.com/anotherai/gateway/internal/providers"
)

// AdapterFactory builds an adapter bound to one credential. The runner
// supplies the real constructor; tests supply fakes.
type AdapterFactory func(cred config.ProviderCredential) (providers.Adapter, error)

// Attempt is one yielded (adapter, options, model data) triple.
type Attempt struct {
	Adapter    providers.Adapter
	Credential config.ProviderCredential

	// Model is the provider-scoped model id to send.
	Model string

	// ModelData is the catalog entry for the logical model; the runner
	// applies Adapter.SanitizeModelData before use.
	ModelData *domain.ModelData

	// StructuredGeneration is the effective flag for this attempt; it
	// drops to false on the one same-provider retry after a structured
	// generation rejection.
	StructuredGeneration bool

	// FallbackModel is set when this attempt runs on a fallback model
	// rather than the version's original one.
	FallbackModel bool
}

// Config assembles a pipeline for one request.
type Config struct {
	Version domain.Version

	// CustomConfigs are tenant-supplied provider credentials, tried before
	// anything from the environment.
	CustomConfigs []config.ProviderCredential

	Catalog   *models.Catalog
	Providers *config.Config
	Factory   AdapterFactory

	// RequiredModalities lists the input modalities the request actually
	// uses; fallback models that cannot take them are skipped.
	RequiredModalities []domain.Modality

	// Rand seeds the round-robin credential shuffle; nil uses the global
	// source.
	Rand *rand.Rand
}

// Pipeline walks the attempt sequence. It is not safe for concurrent use;
// each request owns one.
type Pipeline struct {
	cfg Config

	modelID    string // logical model currently being attempted
	candidates []candidate
	idx        int
	attempts   int // attempts on the current candidate

	structGenRetryDone bool
	onFallbackModel    bool
	autoFallbackUsed   bool
	userFallbackIdx    int

	started      bool
	everYielded  bool
	firstErr     *domain.RunError
	lastErr      *domain.RunError
	structGenOff bool
}

type candidate struct {
	cred          config.ProviderCredential
	providerFirst bool // first candidate of its provider group
}

// New builds the pipeline for a version.
func New(cfg Config) *Pipeline {
	p := &Pipeline{cfg: cfg}
	p.modelID = cfg.Version.Model
	p.candidates = p.buildCandidates(p.modelID)
	return p
}

// Next yields the next attempt given the error of the previous one (nil on
// the very first call). When the sequence is exhausted it returns nil and
// the error to surface: the first recorded error, or a
// no_provider_supporting_model error when nothing was ever attempted.
func (p *Pipeline) Next(lastErr *domain.RunError) (*Attempt, error) {
	if !p.started {
		p.started = true
		return p.yieldCurrent()
	}

	p.record(lastErr)

	if lastErr != nil {
		if a := p.sameCandidateRetry(lastErr); a != nil {
			return a, nil
		}
		if p.abortsProviderIteration(lastErr.Kind) {
			p.idx = len(p.candidates)
		} else {
			p.advance(lastErr.Kind)
		}
	} else {
		// No error means the caller is draining the iterator; stop.
		return nil, p.exhaustedError()
	}

	if p.idx < len(p.candidates) {
		return p.yieldCurrent()
	}
	return p.nextFallbackModel()
}

// record keeps the first error (the most informative one for the caller)
// and the latest (driving the next decision).
func (p *Pipeline) record(err *domain.RunError) {
	if err == nil {
		return
	}
	if p.firstErr == nil {
		p.firstErr = err
	}
	p.lastErr = err
}

// sameCandidateRetry re-yields the current candidate when the error class
// asks for it: rate limits up to their attempt ceiling, generation errors
// that retry with a corrective message appended, and the single
// structured-generation-off retry.
func (p *Pipeline) sameCandidateRetry(err *domain.RunError) *Attempt {
	if p.idx >= len(p.candidates) {
		return nil
	}

	if err.Kind == domain.KindStructuredGeneration && !p.structGenRetryDone && !p.versionMandatesStructuredGen() {
		p.structGenRetryDone = true
		p.structGenOff = true
		p.attempts++
		a, _ := p.yieldCurrentKeepCount()
		return a
	}

	spec := err.Kind.Spec()
	switch err.Kind {
	case domain.KindRateLimit, domain.KindInvalidGeneration, domain.KindFailedGeneration:
		if p.attempts < spec.MaxAttemptCount {
			p.attempts++
			a, _ := p.yieldCurrentKeepCount()
			return a
		}
	}
	return nil
}

func (p *Pipeline) versionMandatesStructuredGen() bool {
	return p.cfg.Version.UseStructuredGen != nil && *p.cfg.Version.UseStructuredGen
}

// abortsProviderIteration flags error kinds where trying further providers
// for the same model cannot help; the pipeline jumps straight to fallback
// selection.
func (p *Pipeline) abortsProviderIteration(kind domain.ErrorKind) bool {
	switch kind {
	case domain.KindContentModeration, domain.KindMaxTokensExceeded,
		domain.KindInvalidFile, domain.KindBadRequest, domain.KindTaskBanned,
		domain.KindMaxToolCallIteration, domain.KindAgentRunFailed:
		return true
	}
	return false
}

// shouldTryNextProvider reports whether the provider loop continues past
// the current provider after the given terminal error on it.
func (p *Pipeline) shouldTryNextProvider(kind domain.ErrorKind) bool {
	switch kind {
	case domain.KindRateLimit, domain.KindProviderInternal, domain.KindProviderUnavailable,
		domain.KindReadTimeout, domain.KindTimeout, domain.KindMissingModel,
		domain.KindInvalidProviderConfig, domain.KindModelDoesNotSupport,
		domain.KindStructuredGeneration, domain.KindInternalError:
		return true
	}
	return false
}

// advance moves past the current candidate, honouring the rule that the
// next provider is only tried when the error class allows it.
func (p *Pipeline) advance(kind domain.ErrorKind) {
	p.attempts = 0
	next := p.idx + 1
	if next < len(p.candidates) && p.candidates[next].providerFirst && !p.shouldTryNextProvider(kind) {
		p.idx = len(p.candidates)
		return
	}
	p.idx = next
}

func (p *Pipeline) yieldCurrent() (*Attempt, error) {
	p.attempts = 1
	return p.yieldCurrentKeepCount()
}

func (p *Pipeline) yieldCurrentKeepCount() (*Attempt, error) {
	for p.idx < len(p.candidates) {
		c := p.candidates[p.idx]
		adapter, err := p.cfg.Factory(c.cred)
		if err != nil {
			p.record(&domain.RunError{
				Kind:     domain.KindInvalidProviderConfig,
				Provider: c.cred.Provider,
				Model:    p.modelID,
				Cause:    err,
			})
			p.idx++
			p.attempts = 1
			continue
		}

		data, _ := p.cfg.Catalog.Get(p.modelID)
		modelID := p.modelID
		if data != nil {
			modelID = data.ProviderModelID(c.cred.Provider)
		}

		structured := p.structuredGenerationFor(data)
		p.everYielded = true
		return &Attempt{
			Adapter:              adapter,
			Credential:           c.cred,
			Model:                modelID,
			ModelData:            data,
			StructuredGeneration: structured,
			FallbackModel:        p.onFallbackModel,
		}, nil
	}
	return nil, p.exhaustedError()
}

func (p *Pipeline) structuredGenerationFor(data *domain.ModelData) bool {
	if p.structGenOff {
		return false
	}
	if !p.cfg.Version.HasOutputSchema() {
		return false
	}
	if p.cfg.Version.UseStructuredGen != nil {
		return *p.cfg.Version.UseStructuredGen
	}
	if data != nil && !data.SupportsStructuredOutput {
		return false
	}
	return true
}

// nextFallbackModel switches the pipeline to a fallback model when policy
// allows, rebuilding the candidate list for it.
func (p *Pipeline) nextFallbackModel() (*Attempt, error) {
	fallbackID := p.selectFallbackModel()
	if fallbackID == "" {
		return nil, p.exhaustedError()
	}

	data, ok := p.cfg.Catalog.Get(fallbackID)
	if ok && !p.supportsRequiredModalities(data) {
		// Unusable fallback: surface the original failure instead.
		return nil, p.exhaustedError()
	}

	p.modelID = fallbackID
	p.onFallbackModel = true
	p.structGenRetryDone = false
	p.structGenOff = false
	p.candidates = p.buildCandidates(fallbackID)
	p.idx = 0
	if len(p.candidates) == 0 {
		return nil, p.exhaustedError()
	}
	return p.yieldCurrent()
}

func (p *Pipeline) selectFallbackModel() string {
	policy := p.cfg.Version.UseFallback

	if policy.Never {
		return ""
	}
	if len(policy.ModelIDs) > 0 {
		// User-supplied fallback lists are consumed in order.
		if p.userFallbackIdx < len(policy.ModelIDs) {
			id := policy.ModelIDs[p.userFallbackIdx]
			p.userFallbackIdx++
			return id
		}
		return ""
	}

	// Auto policy: a single fallback chosen by the last error's class.
	if p.autoFallbackUsed || p.lastErr == nil {
		return ""
	}
	data, ok := p.cfg.Catalog.Get(p.cfg.Version.Model)
	if !ok {
		return ""
	}
	id := data.Fallback.ForKind(p.lastErr.Kind)
	if id == "" {
		return ""
	}
	p.autoFallbackUsed = true
	return id
}

func (p *Pipeline) supportsRequiredModalities(data *domain.ModelData) bool {
	for _, mod := range p.cfg.RequiredModalities {
		if !data.SupportsModality(mod, false) {
			return false
		}
	}
	return true
}

func (p *Pipeline) exhaustedError() error {
	if p.firstErr != nil {
		return p.firstErr
	}
	if !p.everYielded {
		return p.noProviderError()
	}
	return &domain.RunError{Kind: domain.KindInternalError, Model: p.modelID, Message: "pipeline exhausted without a recorded error"}
}

// noProviderError lists every provider that would have supported the model
// and the env vars each one needs, so the operator knows what to set.
func (p *Pipeline) noProviderError() *domain.RunError {
	var supported []string
	envVars := map[string]any{}
	if data, ok := p.cfg.Catalog.Get(p.cfg.Version.Model); ok {
		for _, entry := range data.Providers {
			supported = append(supported, entry.Provider)
			envVars[entry.Provider] = config.RequiredEnvVars(entry.Provider)
		}
	}
	return &domain.RunError{
		Kind:    domain.KindNoProviderSupporting,
		Model:   p.cfg.Version.Model,
		Message: "no configured provider supports model " + p.cfg.Version.Model,
		Details: map[string]any{
			"providers":         supported,
			"required_env_vars": envVars,
		},
	}
}

// buildCandidates computes the credential order for a model per the yield
// rules: tenant configs first (round-robin vendors shuffled past the
// first), then either the pinned provider's credentials or the model's
// ordered provider list.
func (p *Pipeline) buildCandidates(modelID string) []candidate {
	var out []candidate

	providerOrder := p.cfg.Catalog.ProvidersFor(modelID)

	// 1. Tenant-supplied configs whose vendor supports the model, in the
	// original order to exhaust earmarked quota first.
	for _, cred := range p.cfg.CustomConfigs {
		if p.vendorSupportsModel(cred.Provider, modelID, providerOrder) {
			out = append(out, candidate{cred: cred, providerFirst: len(out) == 0})
		}
	}

	// 2. A pinned provider restricts the environment credentials to it.
	if pinned := p.cfg.Version.Provider; pinned != "" {
		out = append(out, p.credentialGroup(pinned)...)
		return out
	}

	// 3. The model's ordered provider list.
	for _, entry := range providerOrder {
		out = append(out, p.credentialGroup(entry.Provider)...)
	}
	return out
}

// credentialGroup returns a provider's credentials as candidates: first
// credential first, the rest shuffled for round-robin vendors.
func (p *Pipeline) credentialGroup(provider string) []candidate {
	creds := p.cfg.Providers.CredentialsFor(provider)
	if len(creds) == 0 {
		return nil
	}

	ordered := make([]config.ProviderCredential, len(creds))
	copy(ordered, creds)
	if config.RoundRobin(provider) && len(ordered) > 2 {
		rest := ordered[1:]
		p.shuffle(rest)
	}

	out := make([]candidate, len(ordered))
	for i, cred := range ordered {
		out[i] = candidate{cred: cred, providerFirst: i == 0}
	}
	return out
}

func (p *Pipeline) shuffle(creds []config.ProviderCredential) {
	swap := func(i, j int) { creds[i], creds[j] = creds[j], creds[i] }
	if p.cfg.Rand != nil {
		p.cfg.Rand.Shuffle(len(creds), swap)
	} else {
		rand.Shuffle(len(creds), swap)
	}
}

func (p *Pipeline) vendorSupportsModel(provider, modelID string, providerOrder []domain.ModelProviderOverride) bool {
	for _, entry := range providerOrder {
		if strings.EqualFold(entry.Provider, provider) {
			return true
		}
	}
	// Unknown models fall back to asking the vendor's adapter.
	if len(providerOrder) == 0 {
		adapter, err := p.cfg.Factory(config.ProviderCredential{Provider: provider})
		if err == nil && adapter.SupportsModel(modelID) {
			return true
		}
	}
	return false
}
