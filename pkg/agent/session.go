package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/John-Wang-0809/ufoo-sub001/pkg/session"
)

// sessionLocks serializes runs of one session.
var sessionLocks session.KeyedLocks

func sessionKey(root, id string) string {
	return root + "\x00" + id
}

// RunSession runs a task inside a persisted session. The id is resolved
// (a fresh one is generated when empty or invalid), prior messages are
// loaded when the session exists, and the snapshot is saved after a
// successful run. Runs of the same session are serialized.
func (r *Runner) RunSession(ctx context.Context, params TaskParams) TaskResult {
	id := session.ResolveSessionID(params.SessionID)
	if params.SessionID != "" && session.NormalizeSessionID(params.SessionID) == "" {
		r.logger.Warn().
			Str("requested", params.SessionID).
			Str("session_id", id).
			Msg("Invalid session id, started a new session")
	}
	params.SessionID = id

	unlock := sessionLocks.Lock(sessionKey(params.WorkspaceRoot, id))
	defer unlock()

	snapshot, err := session.LoadWithContext(ctx, params.WorkspaceRoot, id)
	switch {
	case err == nil:
		if params.PriorMessages == nil {
			params.PriorMessages = snapshot.Messages
		}
		if params.Context == nil {
			params.Context = snapshot.Context
		}
	case errors.Is(err, session.ErrSessionNotFound):
	default:
		err = fmt.Errorf("failed to load session: %w", err)
		return TaskResult{SessionID: id, Err: err, Error: EnrichError(err)}
	}

	result := r.RunTask(ctx, params)
	result.SessionID = id
	if !result.OK {
		return result
	}

	_, err = session.SaveWithContext(ctx, params.WorkspaceRoot, session.Snapshot{
		SessionID:     id,
		WorkspaceRoot: params.WorkspaceRoot,
		Provider:      result.Provider,
		Model:         result.Model,
		Context:       params.Context,
		Messages:      result.Messages,
		CreatedAt:     snapshot.CreatedAt,
	})
	if err != nil {
		r.logger.Error().Err(err).Str("session_id", id).Msg("Failed to save session")
	}
	return result
}
