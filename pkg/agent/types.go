package agent

import (
	"context"
	"time"

	"github.com/John-Wang-0809/ufoo-sub001/internal/config"
	"github.com/John-Wang-0809/ufoo-sub001/pkg/provider"
	"github.com/John-Wang-0809/ufoo-sub001/pkg/toolkit"
)

// Tool event phases.
const (
	ToolEventStart = "start"
	ToolEventError = "error"
	ToolEventEnd   = "end"
)

// ToolEvent reports tool execution progress to observers.
type ToolEvent struct {
	Phase     string
	CallID    string
	Name      string
	Arguments string
	Result    *toolkit.Result
	Error     string
}

// TaskParams describes one task run. Provider, Model, BaseURL and APIKey
// override the workspace configuration when set.
type TaskParams struct {
	WorkspaceRoot string
	Prompt        string
	SystemPrompt  string
	Provider      string
	Model         string
	BaseURL       string
	APIKey        string
	PriorMessages []provider.Message
	SessionID     string
	Context       map[string]interface{}

	// Timeout is the wall-clock budget of the whole task.
	Timeout time.Duration

	OnStreamDelta func(delta string)
	OnToolEvent   func(event ToolEvent)
}

// TaskResult is the outcome of a task run. Err carries the underlying
// error for errors.As; Error is the user-facing string.
type TaskResult struct {
	OK        bool
	Error     string
	Err       error
	Cancelled bool
	Output    string
	Messages  []provider.Message
	SessionID string
	Streamed  bool
	ToolCalls int
	Provider  string
	Model     string
}

// TurnClient performs one provider turn.
type TurnClient interface {
	Turn(ctx context.Context, req provider.TurnRequest) (provider.TurnResult, error)
}

// ToolRunner executes one tool call.
type ToolRunner func(ctx context.Context, name, argsJSON string, opts toolkit.Options) toolkit.Result

// ConfigLoader is the loadConfig collaborator.
type ConfigLoader func(workspaceRoot string) (*config.Config, error)
