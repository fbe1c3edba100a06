package config

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Wang-0809/ufoo-sub001/pkg/provider"
)

func clearKeyEnv(t *testing.T) {
	t.Helper()
	clearEnv(t)
	for _, env := range providerKeyEnv {
		t.Setenv(env, "")
	}
}

func TestResolve(t *testing.T) {
	t.Run("explicit wins over stored", func(t *testing.T) {
		clearKeyEnv(t)
		stored := DefaultConfig()
		stored.Provider = "openai"
		stored.Model = "stored-model"
		stored.APIKey = "stored-key"

		rc := Resolve(Overrides{Model: "explicit-model"}, stored)

		assert.Equal(t, "openai", rc.Provider)
		assert.Equal(t, "explicit-model", rc.Model)
		assert.Equal(t, "stored-key", rc.APIKey)
		assert.Equal(t, "https://api.openai.com/v1", rc.BaseURL)
		assert.Equal(t, provider.TransportOpenAIChat, rc.Transport)
	})

	t.Run("anthropic defaults", func(t *testing.T) {
		clearKeyEnv(t)
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env")

		rc := Resolve(Overrides{Provider: "Anthropic", Model: "claude"}, nil)

		assert.Equal(t, "anthropic", rc.Provider)
		assert.Equal(t, "https://api.anthropic.com/v1", rc.BaseURL)
		assert.Equal(t, "sk-ant-env", rc.APIKey)
		assert.Equal(t, provider.TransportAnthropicMessages, rc.Transport)
	})

	t.Run("unknown provider has no default base", func(t *testing.T) {
		clearKeyEnv(t)
		rc := Resolve(Overrides{Provider: "custom", Model: "m"}, nil)
		assert.Empty(t, rc.BaseURL)
	})
}

func TestRuntimeValidate(t *testing.T) {
	var cfgErr *ConfigError

	err := RuntimeConfig{BaseURL: "https://x"}.Validate()
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "ucode model is not configured", err.Error())
	assert.Equal(t, "model", cfgErr.Field)
	assert.Contains(t, cfgErr.Hint, "ucode config set model")

	err = RuntimeConfig{Model: "m"}.Validate()
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "ucode baseUrl is not configured", err.Error())
	assert.Contains(t, cfgErr.Hint, "ucode config set baseUrl")

	assert.NoError(t, RuntimeConfig{Model: "m", BaseURL: "https://x"}.Validate())
}

func TestResolveRuntime(t *testing.T) {
	clearKeyEnv(t)
	root := t.TempDir()

	_, err := ResolveRuntime(root, Overrides{Provider: "openai"})
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "model", cfgErr.Field)

	require.NoError(t, NewLoader(Path(root)).Set("model", "gpt-4o"))
	require.NoError(t, NewLoader(Path(root)).Set("provider", "openai"))

	rc, err := ResolveRuntime(root, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", rc.Model)
	assert.Equal(t, "https://api.openai.com/v1", rc.BaseURL)

	_, statErr := os.Stat(Path(root))
	assert.NoError(t, statErr)
}
