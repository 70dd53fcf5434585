package pipeline

import (
	"context"
	"testing"

	"github.com/anotherai/gateway/internal/config"
	"github.com/anotherai/gateway/internal/domain"
	"github.com/anotherai/gateway/internal/models"
	"github.com/anotherai/gateway/internal/providers"
)

// fakeAdapter satisfies providers.Adapter for pipeline tests; the pipeline
// never calls Complete/Stream itself.
type fakeAdapter struct {
	name string
}

func (f *fakeAdapter) Name() string                                      { return f.name }
func (f *fakeAdapter) SupportsModel(string) bool                         { return true }
func (f *fakeAdapter) DefaultModel() string                              { return "" }
func (f *fakeAdapter) RequiresDownloadingFile(domain.File) bool          { return false }
func (f *fakeAdapter) IsStreamable(string) bool                          { return true }
func (f *fakeAdapter) SanitizeModelData(d domain.ModelData) domain.ModelData { return d }
func (f *fakeAdapter) ValidateRequest(*providers.CompletionRequest) error    { return nil }
func (f *fakeAdapter) CheckValid(context.Context) bool                       { return true }
func (f *fakeAdapter) Complete(context.Context, *providers.CompletionRequest) (*providers.CompletionResult, error) {
	return nil, nil
}
func (f *fakeAdapter) Stream(context.Context, *providers.CompletionRequest) (<-chan *providers.CompletionChunk, error) {
	return nil, nil
}

func fakeFactory(cred config.ProviderCredential) (providers.Adapter, error) {
	return &fakeAdapter{name: cred.Provider}, nil
}

// testCatalog returns a catalog with model "m" on providers A then B, and
// a fallback model "fb" on provider C.
func testCatalog() *models.Catalog {
	c := models.NewCatalog()
	c.Register(&domain.ModelData{
		ModelID:                 "m",
		SupportsInputModalities: []domain.Modality{domain.ModalityText},
		Providers: []domain.ModelProviderOverride{
			{Provider: "alpha"},
			{Provider: "beta"},
		},
		Fallback: domain.FallbackMap{
			RateLimit:        "fb",
			StructuredOutput: "fb",
		},
	})
	c.Register(&domain.ModelData{
		ModelID:                 "fb",
		SupportsInputModalities: []domain.Modality{domain.ModalityText},
		Providers: []domain.ModelProviderOverride{
			{Provider: "gamma"},
		},
	})
	return c
}

func envWith(providerKeys map[string][]string) *config.Config {
	cfg := &config.Config{Credentials: map[string][]config.ProviderCredential{}}
	for provider, keys := range providerKeys {
		for i, key := range keys {
			cfg.Credentials[provider] = append(cfg.Credentials[provider], config.ProviderCredential{
				Provider: provider,
				APIKey:   key,
				Index:    i,
			})
		}
	}
	return cfg
}

func runErr(kind domain.ErrorKind, provider string) *domain.RunError {
	return &domain.RunError{Kind: kind, Provider: provider, Model: "m"}
}

func TestProviderOrderingWithRetries(t *testing.T) {
	p := New(Config{
		Version:   domain.Version{Model: "m"},
		Catalog:   testCatalog(),
		Providers: envWith(map[string][]string{"alpha": {"a"}, "beta": {"b"}}),
		Factory:   fakeFactory,
	})

	// Attempt 1: alpha.
	a1, err := p.Next(nil)
	if err != nil {
		t.Fatal(err)
	}
	if a1.Credential.Provider != "alpha" {
		t.Fatalf("first = %s", a1.Credential.Provider)
	}

	// Rate limit retries on the same provider.
	a2, err := p.Next(runErr(domain.KindRateLimit, "alpha"))
	if err != nil {
		t.Fatal(err)
	}
	if a2.Credential.Provider != "alpha" {
		t.Fatalf("rate-limit retry = %s, want alpha", a2.Credential.Provider)
	}

	// Unavailable moves to the next provider.
	a3, err := p.Next(runErr(domain.KindProviderUnavailable, "alpha"))
	if err != nil {
		t.Fatal(err)
	}
	if a3.Credential.Provider != "beta" {
		t.Fatalf("after unavailable = %s, want beta", a3.Credential.Provider)
	}
}

func TestSingleAutoFallbackConsumption(t *testing.T) {
	p := New(Config{
		Version:   domain.Version{Model: "m", UseFallback: domain.UseFallbackAuto},
		Catalog:   testCatalog(),
		Providers: envWith(map[string][]string{"alpha": {"a"}, "gamma": {"g"}}),
		Factory:   fakeFactory,
	})

	if _, err := p.Next(nil); err != nil {
		t.Fatal(err)
	}
	// Exhaust alpha's rate-limit budget (3 attempts), then beta has no
	// creds, so fallback selection kicks in.
	var a *Attempt
	var err error
	for i := 0; i < 5; i++ {
		a, err = p.Next(runErr(domain.KindRateLimit, "alpha"))
		if err != nil {
			t.Fatal(err)
		}
		if a.FallbackModel {
			break
		}
	}
	if !a.FallbackModel || a.Credential.Provider != "gamma" || a.Model != "fb" {
		t.Fatalf("fallback attempt = %+v", a)
	}

	// The fallback also failing ends the request with the FIRST error.
	_, err = p.Next(runErr(domain.KindProviderUnavailable, "gamma"))
	re, ok := err.(*domain.RunError)
	if !ok {
		t.Fatalf("err = %v", err)
	}
	if re.Kind != domain.KindRateLimit {
		t.Errorf("surfaced kind = %s, want the first recorded rate_limit", re.Kind)
	}
}

func TestStructuredGenerationRetry(t *testing.T) {
	schemaJSON := []byte(`{"type":"object"}`)
	cat := testCatalog()
	// Mark m structured-capable so the first attempt turns it on.
	m, _ := cat.Get("m")
	m.SupportsStructuredOutput = true

	p := New(Config{
		Version:   domain.Version{Model: "m", OutputSchema: schemaJSON},
		Catalog:   cat,
		Providers: envWith(map[string][]string{"alpha": {"a"}, "beta": {"b"}}),
		Factory:   fakeFactory,
	})

	a1, err := p.Next(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !a1.StructuredGeneration {
		t.Fatal("first attempt should use structured generation")
	}

	// One same-provider retry with structured generation off.
	a2, err := p.Next(runErr(domain.KindStructuredGeneration, "alpha"))
	if err != nil {
		t.Fatal(err)
	}
	if a2.Credential.Provider != "alpha" || a2.StructuredGeneration {
		t.Fatalf("retry = provider %s structured %v", a2.Credential.Provider, a2.StructuredGeneration)
	}

	// A second structured-generation error moves on instead of retrying.
	a3, err := p.Next(runErr(domain.KindStructuredGeneration, "alpha"))
	if err != nil {
		t.Fatal(err)
	}
	if a3.Credential.Provider != "beta" {
		t.Fatalf("after second error = %s, want beta", a3.Credential.Provider)
	}
}

func TestStructuredGenerationMandatedNoRetry(t *testing.T) {
	mandated := true
	cat := testCatalog()
	m, _ := cat.Get("m")
	m.SupportsStructuredOutput = true

	p := New(Config{
		Version: domain.Version{
			Model:            "m",
			OutputSchema:     []byte(`{"type":"object"}`),
			UseStructuredGen: &mandated,
		},
		Catalog:   cat,
		Providers: envWith(map[string][]string{"alpha": {"a"}, "beta": {"b"}}),
		Factory:   fakeFactory,
	})

	if _, err := p.Next(nil); err != nil {
		t.Fatal(err)
	}
	a, err := p.Next(runErr(domain.KindStructuredGeneration, "alpha"))
	if err != nil {
		t.Fatal(err)
	}
	// No structured-off retry on alpha; straight to beta, still structured.
	if a.Credential.Provider != "beta" || !a.StructuredGeneration {
		t.Fatalf("attempt = provider %s structured %v", a.Credential.Provider, a.StructuredGeneration)
	}
}

func TestNoProviderSupportingModel(t *testing.T) {
	p := New(Config{
		Version:   domain.Version{Model: "m"},
		Catalog:   testCatalog(),
		Providers: envWith(nil),
		Factory:   fakeFactory,
	})

	_, err := p.Next(nil)
	re, ok := err.(*domain.RunError)
	if !ok || re.Kind != domain.KindNoProviderSupporting {
		t.Fatalf("err = %v", err)
	}
	providerList, _ := re.Details["providers"].([]string)
	if len(providerList) != 2 || providerList[0] != "alpha" || providerList[1] != "beta" {
		t.Errorf("providers = %v", providerList)
	}
	envVars, _ := re.Details["required_env_vars"].(map[string]any)
	if envVars == nil {
		t.Error("required_env_vars missing")
	}
}

func TestCustomConfigsComeFirst(t *testing.T) {
	p := New(Config{
		Version: domain.Version{Model: "m"},
		CustomConfigs: []config.ProviderCredential{
			{Provider: "beta", APIKey: "tenant-key"},
		},
		Catalog:   testCatalog(),
		Providers: envWith(map[string][]string{"alpha": {"a"}}),
		Factory:   fakeFactory,
	})

	a, err := p.Next(nil)
	if err != nil {
		t.Fatal(err)
	}
	if a.Credential.APIKey != "tenant-key" {
		t.Fatalf("first attempt = %+v, want tenant credential", a.Credential)
	}
}

func TestPinnedProviderRestricts(t *testing.T) {
	p := New(Config{
		Version:   domain.Version{Model: "m", Provider: "beta"},
		Catalog:   testCatalog(),
		Providers: envWith(map[string][]string{"alpha": {"a"}, "beta": {"b"}}),
		Factory:   fakeFactory,
	})

	a, err := p.Next(nil)
	if err != nil {
		t.Fatal(err)
	}
	if a.Credential.Provider != "beta" {
		t.Fatalf("pinned first = %s", a.Credential.Provider)
	}
	// Exhaust beta; alpha must never appear.
	_, err = p.Next(runErr(domain.KindProviderUnavailable, "beta"))
	if err == nil {
		t.Fatal("expected exhaustion")
	}
}

func TestUserFallbackListConsumedInOrder(t *testing.T) {
	cat := testCatalog()
	cat.Register(&domain.ModelData{
		ModelID:                 "fb2",
		SupportsInputModalities: []domain.Modality{domain.ModalityText},
		Providers:               []domain.ModelProviderOverride{{Provider: "gamma"}},
	})

	p := New(Config{
		Version: domain.Version{
			Model:       "m",
			UseFallback: domain.UseFallbackPolicy{ModelIDs: []string{"fb", "fb2"}},
		},
		Catalog:   cat,
		Providers: envWith(map[string][]string{"alpha": {"a"}, "gamma": {"g"}}),
		Factory:   fakeFactory,
	})

	if _, err := p.Next(nil); err != nil {
		t.Fatal(err)
	}
	a, err := p.Next(runErr(domain.KindProviderUnavailable, "alpha"))
	if err != nil {
		t.Fatal(err)
	}
	if a.Model != "fb" {
		t.Fatalf("first fallback = %s", a.Model)
	}
	a, err = p.Next(runErr(domain.KindProviderUnavailable, "gamma"))
	if err != nil {
		t.Fatal(err)
	}
	if a.Model != "fb2" {
		t.Fatalf("second fallback = %s", a.Model)
	}
}

func TestFallbackSkippedForUnsupportedModality(t *testing.T) {
	cat := testCatalog()
	// fb only supports text; the request needs image input.
	p := New(Config{
		Version:            domain.Version{Model: "m", UseFallback: domain.UseFallbackAuto},
		Catalog:            cat,
		Providers:          envWith(map[string][]string{"alpha": {"a"}, "gamma": {"g"}}),
		Factory:            fakeFactory,
		RequiredModalities: []domain.Modality{domain.ModalityImage},
	})

	if _, err := p.Next(nil); err != nil {
		t.Fatal(err)
	}
	// alpha fails terminally, beta unconfigured → fallback would be fb,
	// but fb can't take images, so the original error surfaces.
	_, err := p.Next(runErr(domain.KindProviderUnavailable, "alpha"))
	re, ok := err.(*domain.RunError)
	if !ok || re.Kind != domain.KindProviderUnavailable {
		t.Fatalf("err = %v", err)
	}
}

func TestFallbackAbortedForClientErrors(t *testing.T) {
	p := New(Config{
		Version:   domain.Version{Model: "m", UseFallback: domain.UseFallbackAuto},
		Catalog:   testCatalog(),
		Providers: envWith(map[string][]string{"alpha": {"a"}, "gamma": {"g"}}),
		Factory:   fakeFactory,
	})

	if _, err := p.Next(nil); err != nil {
		t.Fatal(err)
	}
	// invalid_file stops everything: no next provider, no fallback.
	_, err := p.Next(runErr(domain.KindInvalidFile, "alpha"))
	re, ok := err.(*domain.RunError)
	if !ok || re.Kind != domain.KindInvalidFile {
		t.Fatalf("err = %v", err)
	}
}
