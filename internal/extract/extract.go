// Package extract turns uploaded documents into plain text suitable for
// chunking and generation.
package extract

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding/charmap"
)

// ExtractionError reports a document that could not be converted to text.
// The path and format are kept so callers can surface a precise message
// without string matching.
type ExtractionError struct {
	Path   string
	Format string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extracting %s document %s: %v", e.Format, e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Extract reads the document at path and returns its textual content.
// Supported formats are PDF and plain text (.txt, .md, .text). Anything
// else is an *ExtractionError.
func Extract(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".pdf":
		return extractPDF(path)
	case ".txt", ".md", ".text":
		return extractPlain(path)
	default:
		return "", &ExtractionError{Path: path, Format: strings.TrimPrefix(ext, "."), Err: fmt.Errorf("unsupported format")}
	}
}

func extractPDF(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", &ExtractionError{Path: path, Format: "pdf", Err: err}
	}
	defer f.Close()

	var buf bytes.Buffer
	content, err := reader.GetPlainText()
	if err != nil {
		return "", &ExtractionError{Path: path, Format: "pdf", Err: err}
	}
	if _, err := buf.ReadFrom(content); err != nil {
		return "", &ExtractionError{Path: path, Format: "pdf", Err: err}
	}

	text := strings.TrimSpace(buf.String())
	if text == "" {
		return "", &ExtractionError{Path: path, Format: "pdf", Err: fmt.Errorf("no extractable text")}
	}
	return text, nil
}

// extractPlain reads a text file, falling back to Windows-1256 when the
// bytes are not valid UTF-8. Arabic course material is commonly exported
// with that legacy encoding.
func extractPlain(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &ExtractionError{Path: path, Format: "text", Err: err}
	}
	if utf8.Valid(data) {
		return strings.TrimSpace(string(data)), nil
	}

	decoded, err := charmap.Windows1256.NewDecoder().Bytes(data)
	if err != nil {
		return "", &ExtractionError{Path: path, Format: "text", Err: fmt.Errorf("decoding non-UTF-8 content: %w", err)}
	}
	return strings.TrimSpace(string(decoded)), nil
}
