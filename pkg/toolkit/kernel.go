package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/John-Wang-0809/ufoo-sub001/internal/observability"
)

// Options configures one tool call.
type Options struct {
	WorkspaceRoot string
}

// Result is the outcome of a tool call. Fields holds the tool-specific
// values and is flattened next to ok/error when serialized.
type Result struct {
	OK     bool
	Error  string
	Fields map[string]interface{}
}

func okResult(fields map[string]interface{}) Result {
	return Result{OK: true, Fields: fields}
}

func failResult(format string, args ...interface{}) Result {
	return Result{OK: false, Error: fmt.Sprintf(format, args...)}
}

// MarshalJSON renders {ok, error?, ...fields}.
func (r Result) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(r.Fields)+2)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["ok"] = r.OK
	if r.Error != "" {
		out["error"] = r.Error
	}
	return json.Marshal(out)
}

// JSON returns the serialized result fed back to the model.
func (r Result) JSON() string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"ok":false,"error":%q}`, err.Error())
	}
	return string(data)
}

// Run validates argsJSON against the named tool's schema and executes it.
func Run(ctx context.Context, name, argsJSON string, opts Options) (result Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("tool", name).Interface("panic", r).Msg("Tool panicked")
			result = failResult("%s failed: %v", name, r)
		}
		observability.RecordToolExecution(name, time.Since(start), result.OK)
		log.Debug().
			Str("tool", name).
			Bool("ok", result.OK).
			Dur("duration", time.Since(start)).
			Msg("Tool executed")
	}()

	kind, ok := ParseKind(name)
	if !ok {
		return failResult("unknown tool: %s", name)
	}

	root, err := workspaceRoot(opts.WorkspaceRoot)
	if err != nil {
		return failResult("%s failed: %v", kind, err)
	}

	if strings.TrimSpace(argsJSON) == "" {
		argsJSON = "{}"
	}
	if err := validateArguments(kind, argsJSON); err != nil {
		return failResult("%s failed: %v", kind, err)
	}

	switch kind {
	case KindRead:
		var args readArgs
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return failResult("read failed: %v", err)
		}
		return runRead(root, args)
	case KindWrite:
		var args writeArgs
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return failResult("write failed: %v", err)
		}
		return runWrite(root, args)
	case KindEdit:
		var args editArgs
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return failResult("edit failed: %v", err)
		}
		return runEdit(root, args)
	case KindBash:
		var args bashArgs
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return failResult("bash failed: %v", err)
		}
		return runBash(ctx, root, args)
	default:
		return failResult("unknown tool: %s", name)
	}
}

func workspaceRoot(root string) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", fmt.Errorf("workspace root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}
