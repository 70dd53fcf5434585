package config

import (
	"reflect"
	"testing"
)

func fakeEnv(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestLoadSingleCredential(t *testing.T) {
	cfg := loadFrom(fakeEnv(map[string]string{
		"OPENAI_API_KEY": "sk-test",
	}))

	creds := cfg.CredentialsFor("openai")
	if len(creds) != 1 {
		t.Fatalf("expected 1 credential, got %d", len(creds))
	}
	if creds[0].APIKey != "sk-test" || creds[0].Index != 0 {
		t.Errorf("credential = %+v", creds[0])
	}
	if cfg.Configured("anthropic") {
		t.Error("anthropic should not be configured")
	}
}

func TestLoadIndexedCredentials(t *testing.T) {
	cfg := loadFrom(fakeEnv(map[string]string{
		"FIREWORKS_API_KEY":   "fw-0",
		"FIREWORKS_API_KEY_1": "fw-1",
		"FIREWORKS_API_KEY_2": "fw-2",
		"FIREWORKS_URL":       "https://fw.example.com/v1",
		"FIREWORKS_URL_2":     "https://fw2.example.com/v1",
	}))

	creds := cfg.CredentialsFor("fireworks")
	if len(creds) != 3 {
		t.Fatalf("expected 3 credentials, got %d", len(creds))
	}
	if creds[0].Index != 0 || creds[1].Index != 1 || creds[2].Index != 2 {
		t.Errorf("indexes = %d,%d,%d", creds[0].Index, creds[1].Index, creds[2].Index)
	}
	// Indexed creds inherit the shared URL unless individually overridden.
	if creds[1].BaseURL != "https://fw.example.com/v1" {
		t.Errorf("cred 1 URL = %q", creds[1].BaseURL)
	}
	if creds[2].BaseURL != "https://fw2.example.com/v1" {
		t.Errorf("cred 2 URL = %q", creds[2].BaseURL)
	}
}

func TestLoadIndexedStopsAtGap(t *testing.T) {
	cfg := loadFrom(fakeEnv(map[string]string{
		"GROQ_API_KEY_1": "g-1",
		"GROQ_API_KEY_3": "g-3", // unreachable past the gap at _2
	}))

	creds := cfg.CredentialsFor("groq")
	if len(creds) != 1 {
		t.Fatalf("expected 1 credential (gap stops scan), got %d", len(creds))
	}
}

func TestBedrockConfiguredByRegion(t *testing.T) {
	cfg := loadFrom(fakeEnv(map[string]string{
		"AWS_BEDROCK_REGION": "us-west-2",
	}))
	if !cfg.Configured("bedrock") {
		t.Error("bedrock should be configured via region")
	}
	if cfg.BedrockRegion != "us-west-2" {
		t.Errorf("region = %q", cfg.BedrockRegion)
	}
}

func TestRequiredEnvVars(t *testing.T) {
	if got := RequiredEnvVars("openai"); !reflect.DeepEqual(got, []string{"OPENAI_API_KEY"}) {
		t.Errorf("openai = %v", got)
	}
	if got := RequiredEnvVars("azure"); !reflect.DeepEqual(got, []string{"AZURE_OPENAI_API_KEY", "AZURE_OPENAI_URL"}) {
		t.Errorf("azure = %v", got)
	}
	if got := RequiredEnvVars("google"); !reflect.DeepEqual(got, []string{"GEMINI_API_KEY"}) {
		t.Errorf("google = %v", got)
	}
	if RequiredEnvVars("nonsense") != nil {
		t.Error("unknown provider should return nil")
	}
}

func TestRoundRobinFlags(t *testing.T) {
	if !RoundRobin("fireworks") || !RoundRobin("groq") {
		t.Error("fireworks and groq are round-robin")
	}
	if RoundRobin("openai") {
		t.Error("openai is not round-robin")
	}
}

func TestCredentialID(t *testing.T) {
	c := ProviderCredential{Provider: "openai", Index: 2}
	if c.ID() != "openai#2" {
		t.Errorf("ID = %q", c.ID())
	}
}
