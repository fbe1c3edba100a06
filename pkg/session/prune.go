package session

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultMaxMessages is the message history kept by Prune when trimming.
const DefaultMaxMessages = 500

// PruneOptions selects what an explicit prune removes. Sessions are never
// pruned implicitly.
type PruneOptions struct {
	// OlderThan deletes sessions not updated within this duration. Zero
	// disables deletion.
	OlderThan time.Duration
	// MaxMessages trims longer histories to their most recent messages.
	// Zero disables trimming.
	MaxMessages int
	DryRun      bool
}

// PruneReport lists what Prune did (or would do on a dry run).
type PruneReport struct {
	Deleted []string
	Trimmed []string
}

// Prune applies opts to every session in the workspace.
func Prune(workspaceRoot string, opts PruneOptions) (PruneReport, error) {
	var report PruneReport

	summaries, err := List(workspaceRoot)
	if err != nil {
		return report, fmt.Errorf("failed to list sessions: %w", err)
	}

	now := time.Now()
	for _, s := range summaries {
		if opts.OlderThan > 0 && now.Sub(s.UpdatedAt) >= opts.OlderThan {
			if !opts.DryRun {
				if err := Delete(workspaceRoot, s.SessionID); err != nil {
					log.Error().Err(err).Str("session_id", s.SessionID).Msg("Failed to delete session")
					continue
				}
			}
			report.Deleted = append(report.Deleted, s.SessionID)
			continue
		}

		if opts.MaxMessages > 0 && s.Messages > opts.MaxMessages {
			if !opts.DryRun {
				if err := trim(workspaceRoot, s.SessionID, opts.MaxMessages); err != nil {
					log.Warn().Err(err).Str("session_id", s.SessionID).Msg("Failed to trim session")
					continue
				}
			}
			report.Trimmed = append(report.Trimmed, s.SessionID)
		}
	}

	if len(report.Deleted)+len(report.Trimmed) > 0 {
		log.Info().
			Int("deleted", len(report.Deleted)).
			Int("trimmed", len(report.Trimmed)).
			Bool("dry_run", opts.DryRun).
			Msg("Pruned sessions")
	}

	return report, nil
}

// trim keeps the newest maxMessages messages, starting at a user message so
// tool results never lose their originating call.
func trim(workspaceRoot, id string, maxMessages int) error {
	snap, err := Load(workspaceRoot, id)
	if err != nil {
		return err
	}

	cut := len(snap.Messages) - maxMessages
	for cut < len(snap.Messages) && snap.Messages[cut].Role != "user" {
		cut++
	}
	snap.Messages = snap.Messages[cut:]

	_, err = Save(workspaceRoot, snap)
	return err
}
