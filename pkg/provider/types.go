package provider

import (
	"encoding/json"
	"time"
)

// Role of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a conversation. Assistant messages may carry tool
// calls; tool messages answer exactly one call by ToolCallID.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	Blocks     []Block    `json:"blocks,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	IsError    bool       `json:"isError,omitempty"`
}

// Block is a structured assistant content block as returned by the
// messages protocol.
type Block struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolCall is a tool invocation requested by the model. Arguments holds
// the raw JSON argument object.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition declares a tool to the provider.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// TurnRequest is one request/response exchange with a provider.
type TurnRequest struct {
	Transport    Transport
	URL          string
	APIKey       string
	Model        string
	Messages     []Message
	SystemPrompt string
	Tools        []ToolDefinition
	MaxTokens    int

	// OnTextDelta receives text as it streams. May be nil.
	OnTextDelta func(delta string)

	// Timeout bounds the whole HTTP exchange. Zero means no per-turn limit.
	Timeout time.Duration
}

// TurnResult is the assembled outcome of a turn.
type TurnResult struct {
	Text            string
	ToolCalls       []ToolCall
	AssistantBlocks []Block
}
