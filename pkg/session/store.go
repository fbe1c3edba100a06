package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/John-Wang-0809/ufoo-sub001/internal/config"
	"github.com/John-Wang-0809/ufoo-sub001/internal/observability"
	"github.com/John-Wang-0809/ufoo-sub001/internal/tracing"
	"github.com/John-Wang-0809/ufoo-sub001/pkg/provider"
)

// SnapshotVersion is written into every session file.
const SnapshotVersion = 1

const tracerName = "ucode.session"

// Snapshot is the persisted state of one conversation.
type Snapshot struct {
	Version       int                    `json:"version"`
	SessionID     string                 `json:"sessionId"`
	WorkspaceRoot string                 `json:"workspaceRoot"`
	Provider      string                 `json:"provider"`
	Model         string                 `json:"model"`
	Context       map[string]interface{} `json:"context"`
	Messages      []provider.Message     `json:"nlMessages"`
	CreatedAt     time.Time              `json:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`
}

// Summary describes a stored session without its messages.
type Summary struct {
	SessionID string
	Provider  string
	Model     string
	Messages  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// writeLocks serializes in-process writers of one session file.
var writeLocks KeyedLocks

// Dir returns the sessions directory of a workspace.
func Dir(workspaceRoot string) string {
	return filepath.Join(config.StateDir(workspaceRoot), "sessions")
}

func sessionPath(workspaceRoot, id string) string {
	return filepath.Join(Dir(workspaceRoot), id+".json")
}

// Save writes snap under its session id and returns the id.
func Save(workspaceRoot string, snap Snapshot) (string, error) {
	return SaveWithContext(context.Background(), workspaceRoot, snap)
}

// SaveWithContext writes snap atomically. updatedAt is set to now and
// createdAt is kept from the existing file, then from snap, then now.
func SaveWithContext(ctx context.Context, workspaceRoot string, snap Snapshot) (string, error) {
	id, err := validate(snap.SessionID)
	if err != nil {
		return "", err
	}

	ctx = tracing.WithSessionID(ctx, id)
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.save", attribute.String("session_id", id))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	start := time.Now()
	defer func() {
		observability.RecordSessionSave(time.Since(start))
	}()

	fail := func(err error) (string, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	if workspaceRoot == "" {
		return fail(fmt.Errorf("workspace root is required"))
	}

	path := sessionPath(workspaceRoot, id)
	unlock := writeLocks.Lock(path)
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fail(fmt.Errorf("failed to create sessions directory: %w", err))
	}

	now := time.Now().UTC()
	createdAt := snap.CreatedAt
	if existing, err := readSnapshot(path); err == nil && !existing.CreatedAt.IsZero() {
		createdAt = existing.CreatedAt
	}
	if createdAt.IsZero() {
		createdAt = now
	}

	snap.Version = SnapshotVersion
	snap.SessionID = id
	snap.CreatedAt = createdAt
	snap.UpdatedAt = now
	if snap.WorkspaceRoot == "" {
		snap.WorkspaceRoot = workspaceRoot
	}
	if snap.Context == nil {
		snap.Context = map[string]interface{}{}
	}
	if snap.Messages == nil {
		snap.Messages = []provider.Message{}
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fail(fmt.Errorf("failed to marshal session: %w", err))
	}

	if err := writeAtomic(path, data); err != nil {
		return fail(err)
	}

	logger.Debug().
		Str("path", path).
		Int("messages", len(snap.Messages)).
		Msg("Session saved")

	return id, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close session: %w", err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		cleanup()
		return fmt.Errorf("failed to chmod session: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to rename session: %w", err)
	}
	return nil
}

// Load reads the snapshot stored for id.
func Load(workspaceRoot, id string) (Snapshot, error) {
	return LoadWithContext(context.Background(), workspaceRoot, id)
}

// LoadWithContext reads the snapshot stored for id.
func LoadWithContext(ctx context.Context, workspaceRoot, id string) (Snapshot, error) {
	normalized, err := validate(id)
	if err != nil {
		return Snapshot{}, err
	}

	ctx = tracing.WithSessionID(ctx, normalized)
	_, span := tracing.StartSpan(ctx, tracerName, "session.load", attribute.String("session_id", normalized))
	defer span.End()
	start := time.Now()
	defer func() {
		observability.RecordSessionLoad(time.Since(start))
	}()

	snap, err := readSnapshot(sessionPath(workspaceRoot, normalized))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = fmt.Errorf("%w: %s", ErrSessionNotFound, normalized)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Snapshot{}, err
	}
	if snap.SessionID == "" {
		snap.SessionID = normalized
	}
	return snap, nil
}

func readSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse session %s: %w", filepath.Base(path), err)
	}
	return snap, nil
}

// List returns summaries of every readable session, most recently updated
// first. Unreadable files are skipped.
func List(workspaceRoot string) ([]Summary, error) {
	entries, err := os.ReadDir(Dir(workspaceRoot))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Summary{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	summaries := []Summary{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if !ValidSessionID(id) {
			continue
		}
		snap, err := readSnapshot(filepath.Join(Dir(workspaceRoot), name))
		if err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("Skipping unreadable session")
			continue
		}
		summaries = append(summaries, Summary{
			SessionID: id,
			Provider:  snap.Provider,
			Model:     snap.Model,
			Messages:  len(snap.Messages),
			CreatedAt: snap.CreatedAt,
			UpdatedAt: snap.UpdatedAt,
		})
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

// Delete removes the snapshot stored for id.
func Delete(workspaceRoot, id string) error {
	normalized, err := validate(id)
	if err != nil {
		return err
	}
	path := sessionPath(workspaceRoot, normalized)
	unlock := writeLocks.Lock(path)
	defer unlock()

	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, normalized)
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}
	log.Info().Str("session_id", normalized).Msg("Session deleted")
	return nil
}
