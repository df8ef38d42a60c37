package extract

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func TestExtractPlainUTF8(t *testing.T) {
	path := writeFile(t, "notes.txt", []byte("  hello course notes\n"))
	got, err := Extract(path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "hello course notes" {
		t.Errorf("got %q", got)
	}
}

func TestExtractMarkdown(t *testing.T) {
	path := writeFile(t, "lecture.md", []byte("# Title\n\nBody text."))
	got, err := Extract(path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(got, "Body text.") {
		t.Errorf("got %q", got)
	}
}

func TestExtractWindows1256Fallback(t *testing.T) {
	// "مرحبا" encoded as Windows-1256, invalid as UTF-8.
	raw := []byte{0xE3, 0xD1, 0xCD, 0xC8, 0xC7}
	path := writeFile(t, "arabic.txt", raw)
	got, err := Extract(path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "مرحبا" {
		t.Errorf("got %q, want decoded Arabic text", got)
	}
}

func TestExtractUnsupportedFormat(t *testing.T) {
	path := writeFile(t, "slides.pptx", []byte("binary"))
	_, err := Extract(path)
	var extErr *ExtractionError
	if !errors.As(err, &extErr) {
		t.Fatalf("error = %v, want *ExtractionError", err)
	}
	if extErr.Format != "pptx" {
		t.Errorf("Format = %q", extErr.Format)
	}
}

func TestExtractMissingFile(t *testing.T) {
	_, err := Extract(filepath.Join(t.TempDir(), "gone.txt"))
	var extErr *ExtractionError
	if !errors.As(err, &extErr) {
		t.Fatalf("error = %v, want *ExtractionError", err)
	}
}

func TestExtractCorruptPDF(t *testing.T) {
	path := writeFile(t, "broken.pdf", []byte("not a pdf at all"))
	_, err := Extract(path)
	var extErr *ExtractionError
	if !errors.As(err, &extErr) {
		t.Fatalf("error = %v, want *ExtractionError", err)
	}
	if extErr.Format != "pdf" {
		t.Errorf("Format = %q", extErr.Format)
	}
}
