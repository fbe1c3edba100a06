package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShellExecutor(t *testing.T) {
	shell := &ShellExecutor{}

	t.Run("success trims output", func(t *testing.T) {
		res := shell.Exec(context.Background(), "echo '  codex:1  '")
		assert.True(t, res.OK)
		assert.Equal(t, "codex:1", res.Output)
	})

	t.Run("failure reports output", func(t *testing.T) {
		res := shell.Exec(context.Background(), "echo nope 1>&2; exit 2")
		assert.False(t, res.OK)
		assert.Equal(t, "nope", res.Error)
	})

	t.Run("failure without output", func(t *testing.T) {
		res := shell.Exec(context.Background(), "exit 4")
		assert.False(t, res.OK)
		assert.Contains(t, res.Error, "exit status 4")
	})

	t.Run("timeout", func(t *testing.T) {
		short := &ShellExecutor{Timeout: 50 * time.Millisecond}
		res := short.Exec(context.Background(), "sleep 5")
		assert.False(t, res.OK)
		assert.Contains(t, res.Error, "timed out")
	})

	t.Run("empty command", func(t *testing.T) {
		res := shell.Exec(context.Background(), "  ")
		assert.False(t, res.OK)
	})
}

func TestQuote(t *testing.T) {
	shell := &ShellExecutor{}
	for _, s := range []string{"plain", "it's", `a "b" $HOME; rm -rf /`, "multi\nline"} {
		res := shell.Exec(context.Background(), "printf %s "+Quote(s))
		assert.True(t, res.OK, res.Error)
		assert.Equal(t, s, res.Output)
	}
}
