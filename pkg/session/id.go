package session

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{2,127}$`)

var (
	// ErrInvalidSessionID is returned for empty or malformed ids.
	ErrInvalidSessionID = errors.New("invalid session id")
	// ErrSessionNotFound is returned when no snapshot exists for an id.
	ErrSessionNotFound = errors.New("session not found")
)

// NormalizeSessionID trims id and returns it when valid, or "".
func NormalizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if !sessionIDPattern.MatchString(id) {
		return ""
	}
	return id
}

// ValidSessionID reports whether id matches the session id pattern as is.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// ResolveSessionID returns the normalized id, or a fresh one when id is
// empty or invalid.
func ResolveSessionID(id string) string {
	if normalized := NormalizeSessionID(id); normalized != "" {
		return normalized
	}
	return NewSessionID()
}

// NewSessionID generates "sess-<epochMs>-<random>".
func NewSessionID() string {
	suffix, err := gonanoid.Generate(idAlphabet, 8)
	if err != nil {
		suffix = fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff)
	}
	return fmt.Sprintf("sess-%d-%s", time.Now().UnixMilli(), suffix)
}

func validate(id string) (string, error) {
	normalized := NormalizeSessionID(id)
	if normalized == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	return normalized, nil
}
