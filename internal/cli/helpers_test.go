package cli

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with fresh flag values.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	clearEnv(t)

	cmd := GetRootCmd()
	resetFlags(cmd)

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"UCODE_PROVIDER", "UCODE_MODEL", "UCODE_BASE_URL", "UCODE_API_KEY", "UCODE_TIMEOUT_MS",
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "OPENROUTER_API_KEY",
	} {
		t.Setenv(key, "")
	}
}

// openAIServer answers every request with the same streamed text.
func openAIServer(t *testing.T, text string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\""+text+"\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

// configureWorkspace stores an openai config pointing at baseURL.
func configureWorkspace(t *testing.T, dir, baseURL string) {
	t.Helper()
	for _, kv := range [][2]string{
		{"provider", "openai"},
		{"model", "gpt-test"},
		{"baseUrl", baseURL + "/v1"},
		{"apiKey", "sk-test-1234567890"},
	} {
		_, _, err := execute(t, "config", "set", kv[0], kv[1], "-w", dir)
		require.NoError(t, err)
	}
}
