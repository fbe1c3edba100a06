package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
)

// DirName is the per-workspace state directory holding config.json,
// sessions/ and the log file.
const DirName = ".ucode"

// Config is the stored runtime configuration of one workspace.
type Config struct {
	Provider     string `json:"provider" mapstructure:"provider"`
	Model        string `json:"model" mapstructure:"model"`
	BaseURL      string `json:"base_url" mapstructure:"base_url"`
	APIKey       string `json:"api_key" mapstructure:"api_key"`
	TimeoutMs    int64  `json:"timeout_ms" mapstructure:"timeout_ms"`
	SystemPrompt string `json:"system_prompt" mapstructure:"system_prompt"`

	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Queue   QueueConfig   `json:"queue" mapstructure:"queue"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// QueueConfig configures how the queue consumer talks to the event bus.
type QueueConfig struct {
	// ReplyCommand is the shell command prefix used to send a reply; the
	// target agent id and message are appended as quoted arguments.
	ReplyCommand string `json:"reply_command" mapstructure:"reply_command"`
	// SubscriberCommand prints this consumer's own bus identity.
	SubscriberCommand string `json:"subscriber_command" mapstructure:"subscriber_command"`
	// BusURL switches replies to the websocket bus endpoint when set.
	BusURL string `json:"bus_url" mapstructure:"bus_url"`
}

// DefaultTimeoutMs is the wall-clock budget of one task run.
const DefaultTimeoutMs int64 = 300000

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		TimeoutMs: DefaultTimeoutMs,
		Logging: LoggingConfig{
			Level:     "warn",
			Redaction: true,
		},
		Queue: QueueConfig{
			ReplyCommand:      "ufoo bus send",
			SubscriberCommand: "ufoo bus whoami",
		},
	}
}

// StateDir returns the state directory of a workspace.
func StateDir(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, DirName)
}

// Path returns the stored config file of a workspace.
func Path(workspaceRoot string) string {
	return filepath.Join(StateDir(workspaceRoot), "config.json")
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	if out.APIKey != "" {
		out.APIKey = maskKey(out.APIKey)
	}
	return &out
}

// String renders the config as indented JSON with the API key masked.
func (c *Config) String() string {
	data, err := json.MarshalIndent(c.Redacted(), "", "  ")
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
