package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/John-Wang-0809/ufoo-sub001/pkg/provider"
)

// Known provider names.
const (
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"
)

var defaultBaseURLs = map[string]string{
	ProviderOpenAI:     "https://api.openai.com/v1",
	ProviderAnthropic:  "https://api.anthropic.com/v1",
	ProviderOpenRouter: "https://openrouter.ai/api/v1",
	ProviderOllama:     "http://localhost:11434/v1",
}

var providerKeyEnv = map[string]string{
	ProviderOpenAI:     "OPENAI_API_KEY",
	ProviderAnthropic:  "ANTHROPIC_API_KEY",
	ProviderOpenRouter: "OPENROUTER_API_KEY",
}

// DefaultBaseURL returns the endpoint base for a known provider, or "".
func DefaultBaseURL(providerName string) string {
	return defaultBaseURLs[strings.ToLower(providerName)]
}

// RuntimeConfig is the effective configuration of one task run.
type RuntimeConfig struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	Transport provider.Transport
}

// Overrides are explicit per-run values. Empty fields fall through.
type Overrides struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
}

// ConfigError reports a runtime configuration problem that needs the user
// to reconfigure before retrying.
type ConfigError struct {
	Field   string
	Message string
	Hint    string
}

func (e *ConfigError) Error() string {
	return e.Message
}

// Resolve merges explicit overrides over the loaded config (which already
// carries environment overrides) and fills provider defaults. It does not
// validate; see RuntimeConfig.Validate.
func Resolve(explicit Overrides, stored *Config) RuntimeConfig {
	if stored == nil {
		stored = DefaultConfig()
	}

	rc := RuntimeConfig{
		Provider: firstNonEmpty(explicit.Provider, stored.Provider),
		Model:    firstNonEmpty(explicit.Model, stored.Model),
		BaseURL:  firstNonEmpty(explicit.BaseURL, stored.BaseURL),
		APIKey:   firstNonEmpty(explicit.APIKey, stored.APIKey),
	}
	rc.Provider = strings.ToLower(rc.Provider)

	if rc.BaseURL == "" {
		rc.BaseURL = DefaultBaseURL(rc.Provider)
	}
	if rc.APIKey == "" {
		if env, ok := providerKeyEnv[rc.Provider]; ok {
			rc.APIKey = strings.TrimSpace(os.Getenv(env))
		}
	}
	rc.Transport = provider.ResolveTransport(rc.Provider, rc.BaseURL)

	return rc
}

// Validate reports a missing model or base URL as a *ConfigError.
func (rc RuntimeConfig) Validate() error {
	if rc.Model == "" {
		return &ConfigError{
			Field:   "model",
			Message: "ucode model is not configured",
			Hint:    "ucode config set model <model>",
		}
	}
	if rc.BaseURL == "" {
		return &ConfigError{
			Field:   "baseUrl",
			Message: "ucode baseUrl is not configured",
			Hint:    "ucode config set baseUrl <url>",
		}
	}
	return nil
}

// ResolveRuntime loads the workspace config and resolves it against the
// explicit overrides.
func ResolveRuntime(workspaceRoot string, explicit Overrides) (RuntimeConfig, error) {
	stored, err := LoadWorkspace(workspaceRoot)
	if err != nil {
		return RuntimeConfig{}, fmt.Errorf("failed to load config: %w", err)
	}
	rc := Resolve(explicit, stored)
	if err := rc.Validate(); err != nil {
		return rc, err
	}
	return rc, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
