// Package session persists conversation snapshots, one JSON file per
// session id under <workspace>/.ucode/sessions.
//
// Invariants:
// - Session ids are validated; invalid ids are rejected, never substituted.
// - Writes are atomic (temp file + rename) and serialized per id.
// - updatedAt is refreshed on every save; createdAt is preserved.
//
// Usage:
//
//	id := session.ResolveSessionID("")
//	_, _ = session.Save(root, session.Snapshot{SessionID: id, Provider: "openai", Model: "gpt-4o"})
//	snap, _ := session.Load(root, id)
//	_ = snap
package session
