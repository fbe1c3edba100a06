package taskqueue

import (
	"context"
	"fmt"
	"strings"

	"github.com/John-Wang-0809/ufoo-sub001/pkg/bus"
)

// ResolveSubscriber returns the consumer's bus identity by running command,
// typically "ufoo bus whoami". The last non-empty output line is used.
func ResolveSubscriber(ctx context.Context, shell bus.Shell, command string) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", fmt.Errorf("subscriber command is not configured")
	}
	res := shell.Exec(ctx, command)
	if !res.OK {
		return "", fmt.Errorf("resolve subscriber failed: %s", res.Error)
	}

	lines := strings.Split(res.Output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if id := strings.TrimSpace(lines[i]); id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("resolve subscriber failed: empty output")
}
