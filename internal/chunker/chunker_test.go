package chunker

import (
	"strings"
	"testing"
)

func TestSplitShortTextSingleChunk(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"plain", "hello world", "hello world"},
		{"surrounding whitespace", "  hello world \n", "hello world"},
		{"exactly size", strings.Repeat("a", 100), strings.Repeat("a", 100)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := Split(tt.text, 100, 20)
			if err != nil {
				t.Fatalf("Split: %v", err)
			}
			if len(chunks) != 1 {
				t.Fatalf("got %d chunks, want 1", len(chunks))
			}
			if chunks[0] != tt.want {
				t.Errorf("chunk = %q, want %q", chunks[0], tt.want)
			}
		})
	}
}

func TestSplitEmptyText(t *testing.T) {
	chunks, err := Split("   \n\n  ", 100, 20)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("got %d chunks for blank input, want 0", len(chunks))
	}
}

func TestSplitInvalidSize(t *testing.T) {
	for _, size := range []int{0, -5} {
		if _, err := Split("text", size, 0); err == nil {
			t.Errorf("Split with size %d: expected error", size)
		}
	}
}

// TestSplitOverlapSeeding uses three 80-char paragraphs with size 100: each
// paragraph forces a new chunk, and every chunk after the first must begin
// with the last 20 characters of its predecessor.
func TestSplitOverlapSeeding(t *testing.T) {
	paras := []string{
		strings.Repeat("a", 60) + strings.Repeat("b", 20),
		strings.Repeat("c", 60) + strings.Repeat("d", 20),
		strings.Repeat("e", 60) + strings.Repeat("f", 20),
	}
	text := strings.Join(paras, "\n\n")

	chunks, err := Split(text, 100, 20)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(chunks))
	}

	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		tail := prev[len(prev)-20:]
		if !strings.HasPrefix(chunks[i], tail) {
			t.Errorf("chunk %d does not start with the last 20 chars of chunk %d:\nprev tail: %q\nchunk:     %q",
				i, i-1, tail, chunks[i][:min(40, len(chunks[i]))])
		}
	}
}

// TestSplitPreservesParagraphOrder verifies concatenated chunks contain the
// paragraphs in original order.
func TestSplitPreservesParagraphOrder(t *testing.T) {
	paras := []string{
		"First paragraph about introductions and definitions used later.",
		"Second paragraph develops the argument with supporting evidence here.",
		"Third paragraph concludes and summarizes all preceding statements now.",
	}
	text := strings.Join(paras, "\n\n")

	chunks, err := Split(text, 80, 10)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	all := strings.Join(chunks, "\n")
	lastIdx := -1
	for i, p := range paras {
		idx := strings.Index(all, p)
		if idx < 0 {
			t.Fatalf("paragraph %d missing from chunks", i)
		}
		if idx < lastIdx {
			t.Errorf("paragraph %d appears out of order", i)
		}
		lastIdx = idx
	}
}

// TestSplitBoundedSize verifies no chunk exceeds size + overlap except from
// a single unsplittable long sentence.
func TestSplitBoundedSize(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 12; i++ {
		sb.WriteString("This sentence has a reasonable length for testing purposes. ")
		if i%3 == 2 {
			sb.WriteString("\n\n")
		}
	}

	size, overlap := 150, 30
	chunks, err := Split(sb.String(), size, overlap)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > size+overlap+2 {
			t.Errorf("chunk %d has %d chars, exceeds bound %d", i, len(c), size+overlap+2)
		}
		if strings.TrimSpace(c) == "" {
			t.Errorf("chunk %d is empty", i)
		}
	}
}

// TestSplitOversizedParagraph verifies a paragraph larger than size is
// further split on sentence boundaries.
func TestSplitOversizedParagraph(t *testing.T) {
	sentence := "A long sentence that will be repeated to exceed the chunk size bound. "
	para := strings.Repeat(sentence, 5) // ~355 chars, single paragraph

	chunks, err := Split(para, 120, 20)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) < 3 {
		t.Errorf("got %d chunks, want at least 3 for a 350-char paragraph with size 120", len(chunks))
	}
	for i, c := range chunks {
		if strings.TrimSpace(c) == "" {
			t.Errorf("chunk %d is empty", i)
		}
	}
}

// TestSplitArabicSentences verifies Arabic question marks act as sentence
// boundaries for oversized paragraphs.
func TestSplitArabicSentences(t *testing.T) {
	part := "ما هي الفكرة الرئيسية في هذا النص؟ "
	para := strings.Repeat(part, 8)

	chunks, err := Split(para, 150, 0)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) < 2 {
		t.Errorf("got %d chunks, want at least 2", len(chunks))
	}
}

// TestSplitDeterministic verifies Split is a pure function of its inputs.
func TestSplitDeterministic(t *testing.T) {
	text := strings.Repeat("Paragraph content that repeats for determinism checking. \n\n", 20)

	a, err := Split(text, 200, 40)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	b, _ := Split(text, 200, 40)
	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("chunk %d differs between runs", i)
		}
	}
}
