package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Loader reads and writes the stored config of one workspace.
type Loader struct {
	configPath string
}

// NewLoader creates a loader for an explicit config file path. An empty path
// means "<workspace>/.ucode/config.json" resolved by LoadWorkspace.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// envBindings maps config keys to the environment variables that override
// the stored value.
var envBindings = map[string]string{
	"provider":   "UCODE_PROVIDER",
	"model":      "UCODE_MODEL",
	"base_url":   "UCODE_BASE_URL",
	"api_key":    "UCODE_API_KEY",
	"timeout_ms": "UCODE_TIMEOUT_MS",
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	defaults := DefaultConfig()
	v.SetDefault("provider", defaults.Provider)
	v.SetDefault("model", defaults.Model)
	v.SetDefault("base_url", defaults.BaseURL)
	v.SetDefault("api_key", defaults.APIKey)
	v.SetDefault("timeout_ms", defaults.TimeoutMs)
	v.SetDefault("system_prompt", defaults.SystemPrompt)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.file", defaults.Logging.File)
	v.SetDefault("logging.redaction", defaults.Logging.Redaction)
	v.SetDefault("queue.reply_command", defaults.Queue.ReplyCommand)
	v.SetDefault("queue.subscriber_command", defaults.Queue.SubscriberCommand)
	v.SetDefault("queue.bus_url", defaults.Queue.BusURL)
	return v
}

// Load reads the stored config with UCODE_* environment overrides applied.
// A missing file yields defaults plus overrides.
func (l *Loader) Load() (*Config, error) {
	return l.load(true)
}

// LoadStored reads only the file and defaults, ignoring the environment.
// It is the base for Set so overrides never leak into the stored file.
func (l *Loader) LoadStored() (*Config, error) {
	return l.load(false)
}

func (l *Loader) load(withEnv bool) (*Config, error) {
	if l.configPath == "" {
		return nil, fmt.Errorf("config path is not set")
	}

	v := newViper(l.configPath)
	if withEnv {
		for key, env := range envBindings {
			if err := v.BindEnv(key, env); err != nil {
				return nil, fmt.Errorf("failed to bind %s: %w", env, err)
			}
		}
	}

	if _, err := os.Stat(l.configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))

	return cfg, nil
}

// Save writes cfg to the loader's path, creating the state directory.
func (l *Loader) Save(cfg *Config) error {
	if l.configPath == "" {
		return fmt.Errorf("config path is not set")
	}
	if err := os.MkdirAll(filepath.Dir(l.configPath), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("json")
	v.Set("provider", cfg.Provider)
	v.Set("model", cfg.Model)
	v.Set("base_url", cfg.BaseURL)
	v.Set("api_key", cfg.APIKey)
	v.Set("timeout_ms", cfg.TimeoutMs)
	v.Set("system_prompt", cfg.SystemPrompt)
	v.Set("logging.level", cfg.Logging.Level)
	v.Set("logging.file", cfg.Logging.File)
	v.Set("logging.redaction", cfg.Logging.Redaction)
	v.Set("queue.reply_command", cfg.Queue.ReplyCommand)
	v.Set("queue.subscriber_command", cfg.Queue.SubscriberCommand)
	v.Set("queue.bus_url", cfg.Queue.BusURL)

	if err := v.WriteConfigAs(l.configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	// The file may hold an API key.
	if err := os.Chmod(l.configPath, 0600); err != nil {
		return fmt.Errorf("failed to restrict config file: %w", err)
	}
	return nil
}

// Set updates one stored key and saves the file.
func (l *Loader) Set(key, value string) error {
	cfg, err := l.LoadStored()
	if err != nil {
		return err
	}

	validator := NewValidator()
	switch strings.ToLower(key) {
	case "provider":
		cfg.Provider = strings.ToLower(strings.TrimSpace(value))
	case "model":
		cfg.Model = strings.TrimSpace(value)
	case "baseurl", "base_url":
		value = strings.TrimSpace(value)
		if err := validator.ValidateBaseURL(value); err != nil {
			return err
		}
		cfg.BaseURL = value
	case "apikey", "api_key":
		value = strings.TrimSpace(value)
		if err := validator.ValidateAPIKey(value, cfg.Provider); err != nil {
			return err
		}
		cfg.APIKey = value
	case "timeout", "timeout_ms":
		ms, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: expected positive milliseconds", value)
		}
		if err := validator.ValidateTimeout(ms); err != nil {
			return err
		}
		cfg.TimeoutMs = ms
	case "system_prompt":
		cfg.SystemPrompt = value
	case "log_level":
		if err := validator.ValidateLogLevel(value); err != nil {
			return err
		}
		cfg.Logging.Level = value
	case "reply_command":
		cfg.Queue.ReplyCommand = value
	case "subscriber_command":
		cfg.Queue.SubscriberCommand = value
	case "bus_url":
		cfg.Queue.BusURL = strings.TrimSpace(value)
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}

	return l.Save(cfg)
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	return l.configPath
}

// LoadWorkspace is the loadConfig collaborator: the stored config of
// workspaceRoot with environment overrides applied.
func LoadWorkspace(workspaceRoot string) (*Config, error) {
	return NewLoader(Path(workspaceRoot)).Load()
}
