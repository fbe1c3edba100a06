package taskqueue

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/John-Wang-0809/ufoo-sub001/internal/observability"
)

const (
	// DefaultRecoveryAge is the marker age past which pre-drain recovery
	// treats a marker as abandoned.
	DefaultRecoveryAge = 30 * time.Second
	// DefaultActiveAge is the marker age past which CountActive stops
	// counting a marker as live.
	DefaultActiveAge = 60 * time.Second

	markerInfix = ".processing."
)

var markerSuffix = regexp.MustCompile(`^(\d+)\.(\d+)$`)

// Marker is a pending file renamed for processing.
type Marker struct {
	Path      string
	PID       int
	CreatedAt time.Time
}

// Age returns how long ago the marker was created.
func (m Marker) Age(now time.Time) time.Duration {
	return now.Sub(m.CreatedAt)
}

// Stale reports whether the marker's process is gone or the marker is
// older than threshold.
func (m Marker) Stale(now time.Time, threshold time.Duration) bool {
	return !processAlive(m.PID) || m.Age(now) > threshold
}

// MarkerPath names the marker for pid at t.
func MarkerPath(pending string, pid int, t time.Time) string {
	return fmt.Sprintf("%s%s%d.%d", pending, markerInfix, pid, t.UnixMilli())
}

// ListMarkers returns the markers belonging to pending.
func ListMarkers(pending string) ([]Marker, error) {
	dir := filepath.Dir(pending)
	prefix := filepath.Base(pending) + markerInfix

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read queue directory: %w", err)
	}

	var markers []Marker
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		m := markerSuffix.FindStringSubmatch(strings.TrimPrefix(name, prefix))
		if m == nil {
			continue
		}
		pid, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		ms, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			continue
		}
		markers = append(markers, Marker{
			Path:      filepath.Join(dir, name),
			PID:       pid,
			CreatedAt: time.UnixMilli(ms),
		})
	}
	return markers, nil
}

// RecoverStale appends the lines of every stale marker back to pending and
// removes the marker. It returns the number of markers recovered.
func RecoverStale(pending string, threshold time.Duration) (int, error) {
	if threshold <= 0 {
		threshold = DefaultRecoveryAge
	}
	markers, err := ListMarkers(pending)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	recovered := 0
	for _, m := range markers {
		if !m.Stale(now, threshold) {
			continue
		}
		lines, err := readLines(m.Path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				// Another consumer recovered it first.
				continue
			}
			return recovered, err
		}
		if err := appendLines(pending, lines); err != nil {
			return recovered, err
		}
		if err := os.Remove(m.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return recovered, fmt.Errorf("failed to remove marker: %w", err)
		}
		recovered++
		log.Info().
			Str("marker", filepath.Base(m.Path)).
			Int("pid", m.PID).
			Int("lines", len(lines)).
			Dur("age", m.Age(now)).
			Msg("Recovered stale processing marker")
	}

	if recovered > 0 {
		observability.RecordQueueRecovered(recovered)
	}
	return recovered, nil
}

// CountActive returns the number of markers whose process is alive and
// whose age is within threshold.
func CountActive(pending string, threshold time.Duration) (int, error) {
	if threshold <= 0 {
		threshold = DefaultActiveAge
	}
	markers, err := ListMarkers(pending)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	active := 0
	for _, m := range markers {
		if !m.Stale(now, threshold) {
			active++
		}
	}
	return active, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	return lines, nil
}

// appendLines appends lines to path, creating it when needed.
func appendLines(path string, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open pending file: %w", err)
	}
	var sb strings.Builder
	for _, line := range lines {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	_, err = f.WriteString(sb.String())
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to append pending file: %w", err)
	}
	return nil
}
