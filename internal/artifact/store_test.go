package artifact

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestSaveReadRoundTrip(t *testing.T) {
	s := newTestStore(t)

	rel, err := s.Save(CategorySummary, 17, "the content", map[string]string{
		"model": "gemini-2.5-flash",
		"user":  "alice",
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.HasPrefix(rel, CategorySummary+string(filepath.Separator)) {
		t.Errorf("path %q not under category dir", rel)
	}
	if !strings.Contains(rel, "17_") {
		t.Errorf("path %q missing subject id prefix", rel)
	}

	got, ok := s.Read(rel)
	if !ok {
		t.Fatalf("Read(%q) not found", rel)
	}
	if !strings.HasPrefix(got, "---\n") {
		t.Errorf("missing metadata header:\n%s", got)
	}
	if !strings.Contains(got, "model: gemini-2.5-flash\n") {
		t.Errorf("missing model metadata:\n%s", got)
	}
	if !strings.HasSuffix(got, "---\n\nthe content") {
		t.Errorf("content not after header:\n%s", got)
	}
}

func TestSaveWithoutMetadata(t *testing.T) {
	s := newTestStore(t)

	rel, err := s.Save(CategoryChat, 3, "plain answer", nil)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, ok := s.Read(rel)
	if !ok {
		t.Fatal("artifact not found")
	}
	if got != "plain answer" {
		t.Errorf("got %q, want bare content without header", got)
	}
}

func TestSaveTimestampedNames(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	first, err := s.Save(CategoryQuestions, 5, "v1", nil)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	s.now = func() time.Time { return base.Add(time.Second) }
	second, err := s.Save(CategoryQuestions, 5, "v2", nil)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if first == second {
		t.Fatalf("second save overwrote first: %q", first)
	}
	if got, _ := s.Read(first); got != "v1" {
		t.Errorf("first artifact mutated: %q", got)
	}
	if got, _ := s.Read(second); got != "v2" {
		t.Errorf("second artifact = %q", got)
	}
}

func TestReadMissing(t *testing.T) {
	s := newTestStore(t)
	if _, ok := s.Read("summary/9_nope.md"); ok {
		t.Error("Read of missing artifact reported ok")
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)

	rel, err := s.Save(CategorySummary, 1, "x", nil)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !s.Delete(rel) {
		t.Error("Delete of existing artifact returned false")
	}
	if _, ok := s.Read(rel); ok {
		t.Error("artifact readable after delete")
	}
	if s.Delete(rel) {
		t.Error("Delete of missing artifact returned true")
	}
}
