package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// Question kinds emitted by the provider.
const (
	KindMultipleChoice = "multiple_choice"
	KindTrueFalse      = "true_false"
	KindShortAnswer    = "short_answer"
)

// KindSpec requests a number of questions of one kind, each worth Score.
type KindSpec struct {
	Count int     `json:"count"`
	Score float64 `json:"score"`
}

// MatrixConfig specifies the shape of a generated question set.
type MatrixConfig struct {
	MultipleChoice KindSpec `json:"multiple_choice"`
	TrueFalse      KindSpec `json:"true_false"`
	ShortAnswer    KindSpec `json:"short_answer"`
}

func (m MatrixConfig) TotalQuestions() int {
	return m.MultipleChoice.Count + m.TrueFalse.Count + m.ShortAnswer.Count
}

func (m MatrixConfig) TotalScore() float64 {
	return float64(m.MultipleChoice.Count)*m.MultipleChoice.Score +
		float64(m.TrueFalse.Count)*m.TrueFalse.Score +
		float64(m.ShortAnswer.Count)*m.ShortAnswer.Score
}

// fingerprintArgs flattens the matrix into cache-key arguments.
func (m MatrixConfig) fingerprintArgs() []string {
	return []string{
		fmt.Sprintf("mcq=%d:%g", m.MultipleChoice.Count, m.MultipleChoice.Score),
		fmt.Sprintf("tf=%d:%g", m.TrueFalse.Count, m.TrueFalse.Score),
		fmt.Sprintf("sa=%d:%g", m.ShortAnswer.Count, m.ShortAnswer.Score),
	}
}

// Question is one generated question record.
type Question struct {
	Type        string   `json:"type"`
	Question    string   `json:"question"`
	Options     []string `json:"options,omitempty"`
	Answer      string   `json:"answer"`
	Explanation string   `json:"explanation,omitempty"`
	Score       float64  `json:"score"`
}

// parseQuestions decodes the provider's JSON array defensively. Models
// routinely wrap JSON in markdown code fences; those are stripped before
// parsing. A malformed payload yields an empty list, never an error, since
// the caller can re-request but cannot repair garbage.
func parseQuestions(raw string, logger *slog.Logger) []Question {
	cleaned := stripCodeFences(raw)
	var questions []Question
	if err := json.Unmarshal([]byte(cleaned), &questions); err != nil {
		logger.Warn("discarding unparseable question payload", "error", err, "size", len(raw))
		return []Question{}
	}
	out := questions[:0]
	for _, q := range questions {
		if strings.TrimSpace(q.Question) == "" {
			continue
		}
		out = append(out, q)
	}
	return out
}

// stripCodeFences removes a surrounding ``` block, with or without a
// language tag, leaving inner content intact.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		// Drop the language tag line ("json", "JSON", or empty).
		first := strings.TrimSpace(s[:idx])
		if len(first) <= 10 && !strings.ContainsAny(first, "[{") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
