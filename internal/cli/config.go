package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/John-Wang-0809/ufoo-sub001/internal/config"
	"github.com/John-Wang-0809/ufoo-sub001/pkg/agent"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change the workspace configuration",
	Long: `Show or change the configuration stored in <workspace>/.ucode/config.json.
Environment variables (UCODE_PROVIDER, UCODE_MODEL, UCODE_BASE_URL,
UCODE_API_KEY, UCODE_TIMEOUT_MS) override stored values at run time.`,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store a configuration value",
	Long: `Store a configuration value. Keys: provider, model, baseUrl, apiKey,
timeout (milliseconds), system_prompt, log_level, reply_command,
subscriber_command, bus_url.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := workspaceRoot()
		if err != nil {
			return err
		}
		loader := config.NewLoader(config.Path(root))
		if err := loader.Set(args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Set %s in %s\n", args[0], loader.GetConfigPath())
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored configuration and the resolved runtime settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := workspaceRoot()
		if err != nil {
			return err
		}
		stored, err := config.NewLoader(config.Path(root)).LoadStored()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		errOut := cmd.ErrOrStderr()
		fmt.Fprintln(out, stored.String())
		for _, verr := range config.NewValidator().Validate(stored) {
			fmt.Fprintf(errOut, "warning: stored config: %v\n", verr)
		}

		rc, err := config.ResolveRuntime(root, config.Overrides{})
		var cfgErr *config.ConfigError
		if err != nil && !errors.As(err, &cfgErr) {
			return err
		}
		resolved := map[string]string{
			"provider":  rc.Provider,
			"model":     rc.Model,
			"baseUrl":   rc.BaseURL,
			"transport": string(rc.Transport),
			"apiKey":    (&config.Config{APIKey: rc.APIKey}).Redacted().APIKey,
		}
		data, err := json.MarshalIndent(resolved, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "resolved: %s\n", data)
		if cfgErr != nil {
			fmt.Fprintf(errOut, "warning: %s\n", agent.EnrichError(cfgErr))
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configSetCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
