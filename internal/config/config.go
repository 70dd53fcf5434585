// Package config loads provider credentials from the environment.
//
// Every provider follows the same scheme: <VENDOR>_API_KEY holds the
// credential, <VENDOR>_URL optionally overrides the API base URL, and
// indexed variants (<VENDOR>_API_KEY_1, <VENDOR>_API_KEY_2, ...) register
// additional credentials for round-robin load spreading. Azure and Bedrock
// carry a couple of extra variables for their region-scoped setups.
package config

import (
	"fmt"
	"os"
	"strings"
)

// ProviderCredential is one usable credential for a provider, with any
// per-credential base-URL override.
type ProviderCredential struct {
	Provider string
	APIKey   string
	BaseURL  string

	// Index distinguishes indexed credentials (<VENDOR>_API_KEY_2 has
	// Index 2); the unindexed variable is Index 0.
	Index int
}

// ID identifies this credential in logs and rate-limit reporting without
// leaking the key itself.
func (c ProviderCredential) ID() string {
	return fmt.Sprintf("%s#%d", c.Provider, c.Index)
}

// Config is the full provider-credential configuration, read-only after
// Load.
type Config struct {
	// Credentials maps provider name to its ordered credential list
	// (unindexed first, then by index).
	Credentials map[string][]ProviderCredential

	// AzureEndpoint and AzureAPIVersion configure the Azure OpenAI
	// resource all azure credentials are scoped to.
	AzureEndpoint   string
	AzureAPIVersion string

	// BedrockRegion selects the AWS region for Bedrock; the credential
	// itself resolves through the standard AWS chain.
	BedrockRegion string
}

// vendorEnv maps a provider name to its environment variable prefix.
var vendorEnv = map[string]string{
	"openai":    "OPENAI",
	"anthropic": "ANTHROPIC",
	"google":    "GEMINI",
	"mistral":   "MISTRAL",
	"fireworks": "FIREWORKS",
	"groq":      "GROQ",
	"azure":     "AZURE_OPENAI",
	"bedrock":   "AWS_BEDROCK",
}

// roundRobinProviders flags providers whose indexed credentials should be
// shuffled per request rather than tried in a fixed order, to spread load
// across keys with independent quotas.
var roundRobinProviders = map[string]bool{
	"fireworks": true,
	"groq":      true,
}

// RoundRobin reports whether a provider's credentials are load-spread.
func RoundRobin(provider string) bool {
	return roundRobinProviders[provider]
}

// RequiredEnvVars names the environment variables a provider needs before
// the gateway can route to it. Surfaced in the no-provider error payload
// so operators know exactly what to set.
func RequiredEnvVars(provider string) []string {
	prefix, ok := vendorEnv[provider]
	if !ok {
		return nil
	}
	switch provider {
	case "azure":
		return []string{prefix + "_API_KEY", prefix + "_URL"}
	case "bedrock":
		return []string{"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", prefix + "_REGION"}
	default:
		return []string{prefix + "_API_KEY"}
	}
}

// KnownProviders lists every provider name the gateway can configure.
func KnownProviders() []string {
	return []string{"openai", "anthropic", "google", "mistral", "fireworks", "groq", "azure", "bedrock"}
}

// Load reads provider credentials from the environment. Providers with no
// credentials simply do not appear in the result; nothing fails at load
// time, so a gateway with a single configured vendor still starts.
func Load() *Config {
	return loadFrom(os.Getenv)
}

// loadFrom is the testable core of Load.
func loadFrom(getenv func(string) string) *Config {
	cfg := &Config{
		Credentials:     make(map[string][]ProviderCredential),
		AzureEndpoint:   getenv("AZURE_OPENAI_URL"),
		AzureAPIVersion: getenv("AZURE_OPENAI_API_VERSION"),
		BedrockRegion:   getenv("AWS_BEDROCK_REGION"),
	}

	for provider, prefix := range vendorEnv {
		if provider == "bedrock" {
			// Bedrock authenticates through the AWS credential chain; a
			// region (or explicit access keys) marks it configured.
			if cfg.BedrockRegion != "" || getenv("AWS_ACCESS_KEY_ID") != "" {
				cfg.Credentials["bedrock"] = []ProviderCredential{{Provider: "bedrock"}}
			}
			continue
		}

		var creds []ProviderCredential
		if key := getenv(prefix + "_API_KEY"); key != "" {
			creds = append(creds, ProviderCredential{
				Provider: provider,
				APIKey:   key,
				BaseURL:  getenv(prefix + "_URL"),
			})
		}
		for i := 1; ; i++ {
			key := getenv(fmt.Sprintf("%s_API_KEY_%d", prefix, i))
			if key == "" {
				break
			}
			baseURL := getenv(fmt.Sprintf("%s_URL_%d", prefix, i))
			if baseURL == "" {
				baseURL = getenv(prefix + "_URL")
			}
			creds = append(creds, ProviderCredential{
				Provider: provider,
				APIKey:   key,
				BaseURL:  baseURL,
				Index:    i,
			})
		}
		if len(creds) > 0 {
			cfg.Credentials[provider] = creds
		}
	}

	return cfg
}

// CredentialsFor returns the ordered credential list for a provider.
func (c *Config) CredentialsFor(provider string) []ProviderCredential {
	return c.Credentials[strings.ToLower(provider)]
}

// Configured reports whether at least one credential exists for provider.
func (c *Config) Configured(provider string) bool {
	return len(c.CredentialsFor(provider)) > 0
}
