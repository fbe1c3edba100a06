package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return nil
	}

	switch provider {
	case ProviderAnthropic:
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case ProviderOpenAI:
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateBaseURL validates an endpoint base URL
func (v *Validator) ValidateBaseURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid base URL scheme: %q (must be http or https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid base URL: missing host")
	}
	return nil
}

// ValidateLogLevel validates a log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"trace", "debug", "info", "warn", "error", "fatal", "panic"}

	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}

	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateTimeout validates a task budget in milliseconds
func (v *Validator) ValidateTimeout(ms int64) error {
	if ms <= 0 {
		return fmt.Errorf("timeout must be positive, got %d", ms)
	}
	return nil
}

// Validate validates the stored configuration. Missing model and base URL
// are not reported here; they are resolved per run by ResolveRuntime.
func (v *Validator) Validate(cfg *Config) []error {
	var errors []error

	if err := v.ValidateBaseURL(cfg.BaseURL); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateAPIKey(cfg.APIKey, cfg.Provider); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateTimeout(cfg.TimeoutMs); err != nil {
		errors = append(errors, err)
	}
	if cfg.Logging.Level != "" {
		if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
			errors = append(errors, err)
		}
	}

	return errors
}
