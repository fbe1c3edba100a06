package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/John-Wang-0809/ufoo-sub001/pkg/session"
)

var pruneOpts struct {
	olderThan   time.Duration
	maxMessages int
	dryRun      bool
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and manage saved sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recently updated first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := workspaceRoot()
		if err != nil {
			return err
		}
		summaries, err := session.List(root)
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No sessions")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPROVIDER\tMODEL\tMESSAGES\tUPDATED")
		now := time.Now()
		for _, s := range summaries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s ago\n",
				s.SessionID, s.Provider, s.Model, s.Messages, formatDuration(now.Sub(s.UpdatedAt)))
		}
		return w.Flush()
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a session snapshot as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := workspaceRoot()
		if err != nil {
			return err
		}
		snap, err := session.Load(root, args[0])
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode session: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := workspaceRoot()
		if err != nil {
			return err
		}
		if err := session.Delete(root, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
		return nil
	},
}

var sessionPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old sessions and trim long histories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if pruneOpts.olderThan <= 0 && pruneOpts.maxMessages <= 0 {
			return fmt.Errorf("nothing to prune: set --older-than or --max-messages")
		}
		root, err := workspaceRoot()
		if err != nil {
			return err
		}
		report, err := session.Prune(root, session.PruneOptions{
			OlderThan:   pruneOpts.olderThan,
			MaxMessages: pruneOpts.maxMessages,
			DryRun:      pruneOpts.dryRun,
		})
		if err != nil {
			return err
		}

		verb := "Deleted"
		trimVerb := "Trimmed"
		if pruneOpts.dryRun {
			verb, trimVerb = "Would delete", "Would trim"
		}
		out := cmd.OutOrStdout()
		for _, id := range report.Deleted {
			fmt.Fprintf(out, "%s %s\n", verb, id)
		}
		for _, id := range report.Trimmed {
			fmt.Fprintf(out, "%s %s\n", trimVerb, id)
		}
		fmt.Fprintf(out, "%d deleted, %d trimmed\n", len(report.Deleted), len(report.Trimmed))
		return nil
	},
}

func init() {
	sessionPruneCmd.Flags().DurationVar(&pruneOpts.olderThan, "older-than", 0, "delete sessions not updated within this duration")
	sessionPruneCmd.Flags().IntVar(&pruneOpts.maxMessages, "max-messages", 0, "trim histories to their most recent messages")
	sessionPruneCmd.Flags().BoolVar(&pruneOpts.dryRun, "dry-run", false, "report without changing anything")

	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd, sessionDeleteCmd, sessionPruneCmd)
	rootCmd.AddCommand(sessionCmd)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
