package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/John-Wang-0809/ufoo-sub001/internal/config"
	"github.com/John-Wang-0809/ufoo-sub001/pkg/provider"
)

// ErrCancelled is returned when the caller cancels a task.
var ErrCancelled = errors.New("cancelled")

// BudgetError is returned when the task exceeds its wall-clock budget.
type BudgetError struct {
	BudgetMs int64
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("timeout (%dms)", e.BudgetMs)
}

// TurnLimitError stops a loop that keeps requesting tools.
type TurnLimitError struct {
	Turns int
}

func (e *TurnLimitError) Error() string {
	return fmt.Sprintf("tool loop exceeded %d turns", e.Turns)
}

// EnrichError renders err with a hint for the common causes.
func EnrichError(err error) string {
	if err == nil {
		return ""
	}

	var cfgErr *config.ConfigError
	if errors.As(err, &cfgErr) {
		if cfgErr.Hint != "" {
			return fmt.Sprintf("%s. Run: %s", cfgErr.Message, cfgErr.Hint)
		}
		return cfgErr.Message
	}

	var reqErr *provider.RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Sprintf("%s. Check the API key: ucode config set apiKey <key>", err.Error())
		case http.StatusNotFound:
			return fmt.Sprintf("%s. Check the model and baseUrl settings", err.Error())
		case http.StatusTooManyRequests:
			return fmt.Sprintf("%s. Rate limited; retry later", err.Error())
		}
		return err.Error()
	}

	var netErr *provider.NetworkError
	if errors.As(err, &netErr) {
		return fmt.Sprintf("%s. Check network connectivity and the configured baseUrl", err.Error())
	}

	var timeoutErr *provider.TimeoutError
	if errors.As(err, &timeoutErr) {
		return fmt.Sprintf("%s. The provider did not respond in time; check connectivity", err.Error())
	}

	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		return ErrCancelled.Error()
	}

	return err.Error()
}
