// Package artifact persists generated outputs as immutable markdown files
// outside the relational store, referenced by relative path.
package artifact

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Categories mirror the operation kinds that produce artifacts.
const (
	CategorySummary   = "summary"
	CategoryQuestions = "questions"
	CategoryChat      = "chat"
)

// Store writes artifacts under a single root directory. Paths handed back
// to callers are relative to that root so they stay portable across
// environments.
//
// Writes to different subjects never collide (subject id and timestamp are
// both in the filename). Two writes for the same subject in the same second
// are a known acceptable last-writer-wins race; no locking is applied.
type Store struct {
	root   string
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact root: %w", err)
	}
	return &Store{root: dir, now: time.Now, logger: slog.Default()}, nil
}

// Save writes content as a new artifact file and returns its path relative
// to the store root. Metadata, when present, is prepended as a simple
// key-value header:
//
//	---
//	key: value
//	---
//
// Artifacts are never mutated after write; superseding output is a new file.
func (s *Store) Save(category string, subjectID int64, content string, meta map[string]string) (string, error) {
	dir := filepath.Join(s.root, category)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating category directory: %w", err)
	}

	timestamp := s.now().UTC().Format("20060102_150405")
	filename := fmt.Sprintf("%d_%s.md", subjectID, timestamp)
	fullPath := filepath.Join(dir, filename)

	var sb strings.Builder
	if len(meta) > 0 {
		sb.WriteString("---\n")
		keys := make([]string, 0, len(meta))
		for k := range meta {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(k)
			sb.WriteString(": ")
			sb.WriteString(meta[k])
			sb.WriteString("\n")
		}
		sb.WriteString("---\n\n")
	}
	sb.WriteString(content)

	if err := os.WriteFile(fullPath, []byte(sb.String()), 0o644); err != nil {
		return "", fmt.Errorf("writing artifact: %w", err)
	}

	rel := filepath.Join(category, filename)
	s.logger.Info("artifact saved", "path", rel, "bytes", len(content))
	return rel, nil
}

// Read returns the artifact content at a path previously returned by Save.
// A missing file is reported as ok=false, not an error.
func (s *Store) Read(relPath string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(s.root, relPath))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Error("artifact read failed", "path", relPath, "error", err)
		}
		return "", false
	}
	return string(data), true
}

// Delete removes an artifact, reporting whether a file was actually removed.
// Deleting a path that was never written is not an error.
func (s *Store) Delete(relPath string) bool {
	err := os.Remove(filepath.Join(s.root, relPath))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Error("artifact delete failed", "path", relPath, "error", err)
		}
		return false
	}
	s.logger.Info("artifact deleted", "path", relPath)
	return true
}
