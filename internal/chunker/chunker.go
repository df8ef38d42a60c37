// Package chunker splits large extracted text into bounded, overlapping
// segments that preserve context across boundaries. Splitting is pure: the
// same input always yields the same chunks.
package chunker

import (
	"fmt"
	"strings"
)

// Split divides text into chunks of at most size characters, preferring
// paragraph boundaries and falling back to sentence boundaries for
// paragraphs that exceed size on their own. Each chunk after the first is
// seeded with the trailing overlap characters of its predecessor. Chunks
// are trimmed and never empty.
//
// Text no longer than size is returned as a single trimmed element. A size
// of zero or less is a configuration error.
func Split(text string, size, overlap int) ([]string, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 {
		overlap = 0
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, nil
	}
	if len(trimmed) <= size {
		return []string{trimmed}, nil
	}

	var chunks []string
	var current strings.Builder

	flush := func() string {
		closed := strings.TrimSpace(current.String())
		current.Reset()
		if closed != "" {
			chunks = append(chunks, closed)
		}
		return closed
	}

	for _, para := range strings.Split(trimmed, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		// A paragraph too large for any chunk is split on sentences; the
		// current chunk closes first so sentence chunks stay contiguous.
		if len(para) > size {
			flush()
			chunks = append(chunks, splitSentences(para, size)...)
			continue
		}

		if current.Len()+len(para)+2 > size {
			closed := flush()
			if overlap > 0 && len(closed) > overlap {
				current.WriteString(closed[len(closed)-overlap:])
				current.WriteString("\n\n")
			}
			current.WriteString(para)
			continue
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}

	flush()
	return chunks, nil
}

// sentenceEnders are the boundaries used when a single paragraph exceeds the
// chunk size. Arabic question and exclamation marks are included because
// source documents are frequently Arabic.
var sentenceEnders = []string{". ", ".\n", ".\t", "? ", "! ", "؟ "}

func splitSentences(text string, size int) []string {
	sentences := []string{text}
	for _, sep := range sentenceEnders {
		var next []string
		for _, s := range sentences {
			parts := strings.Split(s, sep)
			for i, part := range parts {
				if i < len(parts)-1 {
					next = append(next, part+strings.TrimSpace(sep))
				} else if strings.TrimSpace(part) != "" {
					next = append(next, part)
				}
			}
		}
		sentences = next
	}

	var chunks []string
	var current strings.Builder
	for _, sentence := range sentences {
		if current.Len()+len(sentence)+1 > size {
			if s := strings.TrimSpace(current.String()); s != "" {
				chunks = append(chunks, s)
			}
			current.Reset()
			current.WriteString(sentence)
			continue
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sentence)
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}
