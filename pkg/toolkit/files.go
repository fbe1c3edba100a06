package toolkit

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// DefaultMaxReadBytes caps the content returned by read.
const DefaultMaxReadBytes = 200000

// ErrPathEscapes is returned for paths resolving outside the workspace.
var ErrPathEscapes = errors.New("path escapes workspace root")

type readArgs struct {
	Path      string `json:"path"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
	MaxBytes  int    `json:"maxBytes"`
}

type writeArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Append  bool   `json:"append"`
}

type editArgs struct {
	Path    string `json:"path"`
	Find    string `json:"find"`
	Replace string `json:"replace"`
	All     bool   `json:"all"`
}

// resolvePath resolves pathValue against root and rejects anything that
// leaves it, lexically or through a symlink.
func resolvePath(root, pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.Contains(pathValue, "://") {
		return "", fmt.Errorf("path must be a local file")
	}
	candidate := pathValue
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)

	if !within(root, candidate) {
		return "", ErrPathEscapes
	}

	realRoot, err := realAncestorPath(filepath.Clean(root))
	if err != nil {
		return "", err
	}
	resolved, err := realAncestorPath(candidate)
	if err != nil || !within(realRoot, resolved) {
		return "", ErrPathEscapes
	}
	return candidate, nil
}

// realAncestorPath resolves symlinks in the deepest existing ancestor of
// path and re-attaches the components that do not exist yet.
func realAncestorPath(path string) (string, error) {
	existing := path
	var rest []string
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		rest = append(rest, filepath.Base(existing))
		existing = parent
	}

	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}
	for i := len(rest) - 1; i >= 0; i-- {
		resolved = filepath.Join(resolved, rest[i])
	}
	return resolved, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func relPath(root, abs string) string {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

func runRead(root string, args readArgs) Result {
	path, err := resolvePath(root, args.Path)
	if err != nil {
		return failResult("read failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return failResult("read failed: %v", err)
	}
	if info.IsDir() {
		return failResult("read failed: %s is a directory", args.Path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return failResult("read failed: %v", err)
	}

	lines := strings.Split(string(data), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	total := len(lines)

	startLine := args.StartLine
	if startLine < 1 {
		startLine = 1
	}
	endLine := args.EndLine
	if endLine < 1 || endLine > total {
		endLine = total
	}

	content := ""
	if startLine <= endLine {
		content = strings.Join(lines[startLine-1:endLine], "\n")
	}

	maxBytes := args.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxReadBytes
	}
	truncated := false
	if len(content) > maxBytes {
		content = truncateUTF8(content, maxBytes)
		truncated = true
	}

	return okResult(map[string]interface{}{
		"path":       relPath(root, path),
		"content":    content,
		"startLine":  startLine,
		"endLine":    endLine,
		"totalLines": total,
		"truncated":  truncated,
	})
}

func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func runWrite(root string, args writeArgs) Result {
	path, err := resolvePath(root, args.Path)
	if err != nil {
		return failResult("write failed: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return failResult("write failed: %v", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if args.Append {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return failResult("write failed: %v", err)
	}
	n, err := f.WriteString(args.Content)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return failResult("write failed: %v", err)
	}

	return okResult(map[string]interface{}{
		"path":     relPath(root, path),
		"bytes":    n,
		"appended": args.Append,
	})
}

func runEdit(root string, args editArgs) Result {
	if args.Find == "" {
		return failResult("edit failed: find must not be empty")
	}

	path, err := resolvePath(root, args.Path)
	if err != nil {
		return failResult("edit failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return failResult("edit failed: %v", err)
	}
	original := string(data)

	replacements := 0
	updated := original
	if args.All {
		replacements = strings.Count(original, args.Find)
		if replacements > 0 {
			updated = strings.ReplaceAll(original, args.Find, args.Replace)
		}
	} else if strings.Contains(original, args.Find) {
		replacements = 1
		updated = strings.Replace(original, args.Find, args.Replace, 1)
	}

	changed := replacements > 0 && updated != original
	if changed {
		info, err := os.Stat(path)
		if err != nil {
			return failResult("edit failed: %v", err)
		}
		if err := os.WriteFile(path, []byte(updated), info.Mode().Perm()); err != nil {
			return failResult("edit failed: %v", err)
		}
	}

	return okResult(map[string]interface{}{
		"path":         relPath(root, path),
		"replacements": replacements,
		"changed":      changed,
	})
}
