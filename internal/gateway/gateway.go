// Package gateway orchestrates generation requests across chunks, keys,
// and retries. It is the only component that talks to the provider.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"

	"github.com/afadel/studygate/internal/artifact"
	"github.com/afadel/studygate/internal/chunker"
	"github.com/afadel/studygate/internal/config"
	"github.com/afadel/studygate/internal/keypool"
	"github.com/afadel/studygate/internal/provider"
	"github.com/afadel/studygate/internal/storage"
)

// Generator is the provider call seam; *provider.Client satisfies it.
type Generator interface {
	Generate(ctx context.Context, apiKey string, req provider.Request) (string, error)
}

// SettingsSource yields the live administrator-editable configuration row.
type SettingsSource interface {
	GetSettings() (storage.Settings, error)
}

// UsageLedger records call outcomes and answers quota checks.
type UsageLedger interface {
	WithinQuota(userID string) bool
	Record(userID, operation, document string, tokens int, cached, success bool, errMsg string)
}

// Operation names as recorded in the usage log.
const (
	OpSummary   = "summary"
	OpQuestions = "questions"
	OpChat      = "chat"
)

// CallInfo identifies who asked and about what, for quota and audit.
type CallInfo struct {
	UserID   string
	Document string
}

// Gateway coordinates one logical generation request: settings lookup,
// service switch, user quota, cache, chunking, and the retry/rotation loop
// around provider calls.
type Gateway struct {
	pool     *keypool.Pool
	client   Generator
	settings SettingsSource
	ledger   UsageLedger
	cfg      config.GatewayConfig
	cache    *resultCache
	sleep    func(time.Duration)
	now      func() time.Time
	logger   *slog.Logger
}

func New(pool *keypool.Pool, client Generator, settings SettingsSource, ledger UsageLedger, cfg config.GatewayConfig) *Gateway {
	return &Gateway{
		pool:     pool,
		client:   client,
		settings: settings,
		ledger:   ledger,
		cfg:      cfg,
		cache:    newResultCache(cfg.CacheTTL),
		sleep:    time.Sleep,
		now:      time.Now,
		logger:   slog.Default(),
	}
}

// resolved is the per-call view of the live settings row merged with the
// static configuration fallbacks.
type resolved struct {
	Model              string
	MaxOutputTokens    int
	Temperature        float64
	ChunkSize          int
	ChunkOverlap       int
	ServiceEnabled     bool
	MaintenanceMessage string
}

// currentSettings re-reads the live row on every call so administrator
// changes apply to the next request. A read failure falls back to the
// static configuration with the service enabled.
func (g *Gateway) currentSettings() resolved {
	r := resolved{
		Model:           g.cfg.Model,
		MaxOutputTokens: g.cfg.MaxOutputTokens,
		Temperature:     g.cfg.Temperature,
		ChunkSize:       g.cfg.ChunkSize,
		ChunkOverlap:    g.cfg.ChunkOverlap,
		ServiceEnabled:  true,
	}
	s, err := g.settings.GetSettings()
	if err != nil {
		g.logger.Error("settings read failed, using fallback configuration", "error", err)
		return r
	}
	if s.Model != "" {
		r.Model = s.Model
	}
	if s.MaxOutputTokens > 0 {
		r.MaxOutputTokens = s.MaxOutputTokens
	}
	if s.Temperature > 0 {
		r.Temperature = s.Temperature
	}
	if s.ChunkSize > 0 {
		r.ChunkSize = s.ChunkSize
	}
	if s.ChunkOverlap > 0 {
		r.ChunkOverlap = s.ChunkOverlap
	}
	r.ServiceEnabled = s.ServiceEnabled
	r.MaintenanceMessage = s.MaintenanceMessage
	return r
}

// begin runs the checks shared by every operation: the service switch
// first, then the caller's hourly quota. The switch must trip before any
// quota or key accounting happens.
func (g *Gateway) begin(info CallInfo) (resolved, error) {
	s := g.currentSettings()
	if !s.ServiceEnabled {
		return s, &ServiceDisabledError{Message: s.MaintenanceMessage}
	}
	if !g.ledger.WithinQuota(info.UserID) {
		return s, &UserQuotaError{UserID: info.UserID}
	}
	return s, nil
}

// Summarize produces a markdown summary bounded by maxWords. Oversized
// input is summarized per chunk and merged; if every chunk fails, a local
// extractive summary is returned so the caller always gets something.
func (g *Gateway) Summarize(ctx context.Context, info CallInfo, text string, maxWords int, notes string) (string, error) {
	settings, err := g.begin(info)
	if err != nil {
		return "", err
	}
	if maxWords <= 0 {
		maxWords = 500
	}

	key := fingerprint(OpSummary, text, fmt.Sprintf("max=%d", maxWords), notes)
	if cached, ok := g.cache.get(key); ok {
		g.ledger.Record(info.UserID, OpSummary, info.Document, 0, true, true, "")
		return cached, nil
	}

	chunks, err := chunker.Split(text, settings.ChunkSize, settings.ChunkOverlap)
	if err != nil {
		return "", &ConfigurationError{Reason: "chunking input", Err: err}
	}
	if len(chunks) == 0 {
		return "", &ConfigurationError{Reason: "empty input text"}
	}

	var summary string
	complete := true
	if len(chunks) == 1 {
		summary, err = g.generate(ctx, settings, summaryPrompt(chunks[0], maxWords, notes))
		if err != nil {
			g.ledger.Record(info.UserID, OpSummary, info.Document, 0, false, false, err.Error())
			return "", err
		}
	} else {
		summary, complete = g.summarizeMultipart(ctx, settings, chunks, maxWords, notes)
	}

	// Degraded output from a provider outage must not be memoized, or it
	// would keep serving after the provider recovers.
	if complete {
		g.cache.put(key, summary)
	}
	g.ledger.Record(info.UserID, OpSummary, info.Document, estimateTokens(text)+estimateTokens(summary), false, true, "")
	return summary, nil
}

// summarizeMultipart summarizes each chunk independently, skipping chunks
// whose generation fails, then merges the partials in original order. All
// chunks failing degrades to an extractive summary; a failed merge degrades
// to the joined partials. Neither case returns an error; the second return
// reports whether every chunk and the merge succeeded.
func (g *Gateway) summarizeMultipart(ctx context.Context, settings resolved, chunks []string, maxWords int, notes string) (string, bool) {
	partials := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		partial, err := g.generate(ctx, settings, partialSummaryPrompt(chunk, i+1, len(chunks), notes))
		if err != nil {
			g.logger.Warn("skipping failed chunk", "chunk", i+1, "of", len(chunks), "error", err)
			continue
		}
		partials = append(partials, partial)
	}
	complete := len(partials) == len(chunks)
	if len(partials) == 0 {
		g.logger.Error("all chunks failed, producing extractive summary", "chunks", len(chunks))
		return extractiveSummary(strings.Join(chunks, "\n\n"), maxWords), false
	}
	if len(partials) == 1 {
		return partials[0], complete
	}
	merged, err := g.generate(ctx, settings, mergeSummariesPrompt(partials, maxWords))
	if err != nil {
		g.logger.Warn("merge call failed, returning joined partials", "error", err)
		return strings.Join(partials, "\n\n"), false
	}
	return merged, complete
}

// questionSourceChunks bounds how much of a long document feeds question
// generation.
const questionSourceChunks = 3

// GenerateQuestions asks the provider for a structured question set. A
// matrix requesting zero questions returns an empty set without touching
// the provider, quota, or keys.
func (g *Gateway) GenerateQuestions(ctx context.Context, info CallInfo, text string, matrix MatrixConfig, notes string) ([]Question, error) {
	if matrix.TotalQuestions() == 0 {
		return []Question{}, nil
	}
	settings, err := g.begin(info)
	if err != nil {
		return nil, err
	}

	key := fingerprint(OpQuestions, text, append(matrix.fingerprintArgs(), notes)...)
	if cached, ok := g.cache.get(key); ok {
		g.ledger.Record(info.UserID, OpQuestions, info.Document, 0, true, true, "")
		return parseQuestions(cached, g.logger), nil
	}

	chunks, err := chunker.Split(text, settings.ChunkSize, settings.ChunkOverlap)
	if err != nil {
		return nil, &ConfigurationError{Reason: "chunking input", Err: err}
	}
	if len(chunks) > questionSourceChunks {
		chunks = chunks[:questionSourceChunks]
	}
	source := strings.Join(chunks, "\n\n")

	raw, err := g.generate(ctx, settings, questionsPrompt(source, matrix, notes))
	if err != nil {
		g.ledger.Record(info.UserID, OpQuestions, info.Document, 0, false, false, err.Error())
		return nil, err
	}

	g.cache.put(key, raw)
	questions := parseQuestions(raw, g.logger)
	g.ledger.Record(info.UserID, OpQuestions, info.Document, estimateTokens(source)+estimateTokens(raw), false, true, "")
	return questions, nil
}

// AskDocument answers a question grounded in the document text. For
// multi-chunk documents the three chunks sharing the most words with the
// question are used as context. Answers are never cached; the same question
// about updated notes should see the new text.
func (g *Gateway) AskDocument(ctx context.Context, info CallInfo, text, question, notes string) (string, error) {
	settings, err := g.begin(info)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(question) == "" {
		return "", &ConfigurationError{Reason: "empty question"}
	}

	chunks, err := chunker.Split(text, settings.ChunkSize, settings.ChunkOverlap)
	if err != nil {
		return "", &ConfigurationError{Reason: "chunking input", Err: err}
	}
	excerpts := text
	if len(chunks) > 1 {
		excerpts = strings.Join(relevantChunks(chunks, question, 3), "\n\n")
	}

	answer, err := g.generate(ctx, settings, chatPrompt(excerpts, question, notes))
	if err != nil {
		g.ledger.Record(info.UserID, OpChat, info.Document, 0, false, false, err.Error())
		return "", err
	}
	g.ledger.Record(info.UserID, OpChat, info.Document, estimateTokens(excerpts)+estimateTokens(answer), false, true, "")
	return answer, nil
}

// generate issues one provider call with retry and key rotation. The
// attempt budget is the smaller of the key count and the retry cap, never
// below one. Quota failures cool the key down and honor any provider
// suggested delay; invalid keys rotate immediately; other failures back off
// exponentially before rotating.
func (g *Gateway) generate(ctx context.Context, settings resolved, prompt string) (string, error) {
	maxAttempts := g.pool.TotalKeys()
	if maxAttempts > g.cfg.RetryCap {
		maxAttempts = g.cfg.RetryCap
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.cfg.BackoffBase
	bo.MaxInterval = g.cfg.BackoffCap
	bo.MaxElapsedTime = 0
	bo.Reset()

	req := provider.Request{
		Model:           settings.Model,
		Prompt:          prompt,
		MaxOutputTokens: settings.MaxOutputTokens,
		Temperature:     settings.Temperature,
	}

	var lastErr error
	lastWasQuota := false
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lease, err := g.pool.Acquire()
		if err != nil {
			return "", &ConfigurationError{Reason: "acquiring credential", Err: err}
		}

		start := g.now()
		text, err := g.client.Generate(ctx, lease.Secret, req)
		if err == nil {
			g.pool.ReleaseOnSuccess(lease, g.now().Sub(start), estimateTokens(prompt)+estimateTokens(text))
			return text, nil
		}

		lastErr = err
		lastWasQuota = provider.IsQuotaError(err)
		switch {
		case lastWasQuota:
			g.pool.ReleaseOnError(lease, err.Error(), true)
			if attempt < maxAttempts {
				wait := provider.SuggestedRetryAfter(err, g.cfg.RetryAfterCap)
				if wait <= 0 {
					wait = bo.NextBackOff()
				}
				g.logger.Warn("quota error, rotating key", "attempt", attempt, "wait", wait)
				g.sleep(wait)
			}
		case provider.IsInvalidKeyError(err):
			g.pool.ReleaseOnError(lease, err.Error(), false)
			g.logger.Warn("invalid credential, rotating key", "attempt", attempt)
		default:
			g.pool.ReleaseOnError(lease, err.Error(), false)
			if attempt < maxAttempts {
				wait := bo.NextBackOff()
				g.logger.Warn("provider error, backing off", "attempt", attempt, "wait", wait, "error", err)
				g.sleep(wait)
			}
		}
	}

	if lastWasQuota {
		return "", &RateLimitError{Message: "ai service is busy right now, try again in a minute"}
	}
	return "", fmt.Errorf("generation failed after %d attempts: %w", maxAttempts, lastErr)
}

// relevantChunks ranks chunks by case-insensitive word overlap with the
// question and returns the top n in their original document order. This is
// a cheap lexical heuristic, not semantic retrieval.
func relevantChunks(chunks []string, question string, n int) []string {
	qWords := wordSet(question)
	type scored struct {
		index int
		score int
	}
	ranked := make([]scored, len(chunks))
	for i, c := range chunks {
		overlap := 0
		for w := range wordSet(c) {
			if _, ok := qWords[w]; ok {
				overlap++
			}
		}
		ranked[i] = scored{index: i, score: overlap}
	}
	// Selection by score, stable on index.
	selected := make([]bool, len(chunks))
	for picked := 0; picked < n && picked < len(chunks); picked++ {
		best := -1
		for i, s := range ranked {
			if selected[i] {
				continue
			}
			if best == -1 || s.score > ranked[best].score {
				best = i
			}
		}
		selected[best] = true
	}
	out := make([]string, 0, n)
	for i, ok := range selected {
		if ok {
			out = append(out, chunks[i])
		}
	}
	return out
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,;:!?؟\"'()[]{}")
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}

// extractiveSummary is the non-AI fallback: leading sentences of the
// source concatenated up to the word budget.
func extractiveSummary(text string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	if len(words) > maxWords {
		words = words[:maxWords]
	}
	out := strings.Join(words, " ")
	// End on a sentence boundary when one is close enough.
	if idx := strings.LastIndexAny(out, ".؟?!"); idx > len(out)/2 {
		_, size := utf8.DecodeRuneInString(out[idx:])
		out = out[:idx+size]
	}
	return out
}

// estimateTokens is the usual rough chars/4 heuristic. The ledger needs a
// consistent estimate, not an exact count.
func estimateTokens(s string) int {
	return len(s) / 4
}

// Result is the uniform envelope returned by the save variants.
type Result struct {
	Success      bool       `json:"success"`
	Payload      string     `json:"payload,omitempty"`
	Questions    []Question `json:"questions,omitempty"`
	Error        string     `json:"error,omitempty"`
	ArtifactPath string     `json:"artifact_path,omitempty"`
}

// SaveInfo carries the artifact metadata for the save variants.
type SaveInfo struct {
	SubjectID int64
	Title     string
	Course    string
}

func (g *Gateway) artifactMeta(save SaveInfo) map[string]string {
	return map[string]string{
		"title":     save.Title,
		"course":    save.Course,
		"model":     g.currentSettings().Model,
		"generated": g.now().UTC().Format(time.RFC3339),
	}
}

// SummarizeAndSave runs Summarize and persists the output as a summary
// artifact. Errors are folded into the result envelope.
func (g *Gateway) SummarizeAndSave(ctx context.Context, info CallInfo, save SaveInfo, store *artifact.Store, text string, maxWords int, notes string) Result {
	summary, err := g.Summarize(ctx, info, text, maxWords, notes)
	if err != nil {
		return Result{Error: err.Error()}
	}
	path, err := store.Save(artifact.CategorySummary, save.SubjectID, summary, g.artifactMeta(save))
	if err != nil {
		g.logger.Error("artifact save failed", "error", err)
		return Result{Success: true, Payload: summary, Error: "generated but not archived"}
	}
	return Result{Success: true, Payload: summary, ArtifactPath: path}
}

// QuestionsAndSave runs GenerateQuestions and persists the parsed set as a
// questions artifact in JSON form.
func (g *Gateway) QuestionsAndSave(ctx context.Context, info CallInfo, save SaveInfo, store *artifact.Store, text string, matrix MatrixConfig, notes string) Result {
	questions, err := g.GenerateQuestions(ctx, info, text, matrix, notes)
	if err != nil {
		return Result{Error: err.Error()}
	}
	if len(questions) == 0 {
		return Result{Success: true, Questions: []Question{}}
	}
	encoded, err := json.MarshalIndent(questions, "", "  ")
	if err != nil {
		return Result{Success: true, Questions: questions, Error: "generated but not archived"}
	}
	path, err := store.Save(artifact.CategoryQuestions, save.SubjectID, string(encoded), g.artifactMeta(save))
	if err != nil {
		g.logger.Error("artifact save failed", "error", err)
		return Result{Success: true, Questions: questions, Error: "generated but not archived"}
	}
	return Result{Success: true, Questions: questions, ArtifactPath: path}
}

// AskAndSave runs AskDocument and persists the exchange as a chat artifact.
func (g *Gateway) AskAndSave(ctx context.Context, info CallInfo, save SaveInfo, store *artifact.Store, text, question, notes string) Result {
	answer, err := g.AskDocument(ctx, info, text, question, notes)
	if err != nil {
		return Result{Error: err.Error()}
	}
	body := fmt.Sprintf("## Question\n\n%s\n\n## Answer\n\n%s", question, answer)
	path, err := store.Save(artifact.CategoryChat, save.SubjectID, body, g.artifactMeta(save))
	if err != nil {
		g.logger.Error("artifact save failed", "error", err)
		return Result{Success: true, Payload: answer, Error: "generated but not archived"}
	}
	return Result{Success: true, Payload: answer, ArtifactPath: path}
}
