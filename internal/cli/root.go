package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/John-Wang-0809/ufoo-sub001/internal/config"
	"github.com/John-Wang-0809/ufoo-sub001/internal/logger"
	"github.com/John-Wang-0809/ufoo-sub001/internal/tracing"
)

const version = "0.1.0"

var (
	workspaceDir string
	logLevel     string

	appLogger *logger.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ucode",
	Short: "ucode - native agent execution runtime",
	Long: `ucode runs coding tasks against an LLM provider with a small tool kernel
(read, write, edit, bash) confined to a workspace. Tasks come from the command
line or from an agent's pending-task queue on the ufoo bus.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setupRuntime,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if appLogger != nil {
			_ = appLogger.Close()
			appLogger = nil
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext is Execute with a context that cancels running tasks.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspaceDir, "workspace", "w", "", "workspace root (default is the current directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides logging.level")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// setupRuntime installs the process logger from the workspace config.
func setupRuntime(cmd *cobra.Command, args []string) error {
	root, err := workspaceRoot()
	if err != nil {
		return err
	}

	cfg, err := config.LoadWorkspace(root)
	if err != nil {
		// Broken config must not block "config set" from repairing it.
		cfg = config.DefaultConfig()
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.File = cfg.Logging.File
	logCfg.Redaction = cfg.Logging.Redaction
	logCfg.Output = cmd.ErrOrStderr()
	if logLevel != "" {
		logCfg.Level = logLevel
	}

	l, err := logger.New(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	appLogger = l

	if err := tracing.InitOpenTelemetry("ucode", l.Component("tracing")); err != nil {
		l.Warn().Err(err).Msg("Tracing unavailable")
	}
	return nil
}

func workspaceRoot() (string, error) {
	dir := workspaceDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to determine working directory: %w", err)
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("invalid workspace %q: %w", dir, err)
	}
	return abs, nil
}

// componentLogger returns a logger for a CLI component, silent before setup.
func componentLogger(name string) zerolog.Logger {
	if appLogger == nil {
		return zerolog.Nop()
	}
	return appLogger.Component(name)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}
