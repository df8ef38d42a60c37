// Package api exposes the generation gateway over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/afadel/studygate/internal/artifact"
	"github.com/afadel/studygate/internal/gateway"
	"github.com/afadel/studygate/internal/jobs"
	"github.com/afadel/studygate/internal/keypool"
	"github.com/afadel/studygate/internal/storage"
)

const maxRequestBodySize = 10 << 20 // 10MB, lecture transcripts get large

// Generator is the gateway surface the HTTP layer calls.
type Generator interface {
	Summarize(ctx context.Context, info gateway.CallInfo, text string, maxWords int, notes string) (string, error)
	GenerateQuestions(ctx context.Context, info gateway.CallInfo, text string, matrix gateway.MatrixConfig, notes string) ([]gateway.Question, error)
	AskDocument(ctx context.Context, info gateway.CallInfo, text, question, notes string) (string, error)
}

// UsageReader answers quota and history queries.
type UsageReader interface {
	Remaining(userID string) int
	History(userID string, limit int) ([]storage.UsageRecord, error)
}

// Deps holds the wired components the handlers need.
type Deps struct {
	Gateway   Generator
	Pool      *keypool.Pool
	Ledger    UsageReader
	Artifacts *artifact.Store
	Store     *storage.Store
	Token     string
}

// NewHandler builds the REST router. Everything except /health requires the
// bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/v1/summaries", handleSummarize(deps))
		r.Post("/v1/questions", handleQuestions(deps))
		r.Post("/v1/chat", handleChat(deps))
		r.Get("/v1/keys/health", handleKeysHealth(deps))
		r.Get("/v1/usage/{user}", handleUsage(deps))
		r.Get("/v1/artifacts", handleReadArtifact(deps))
		r.Delete("/v1/artifacts", handleDeleteArtifact(deps))
		r.Get("/v1/jobs/{id}", handleGetJob(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// GenerateRequest is the shared request body for the three generation
// endpoints. Async requests are queued and answered with a job id.
type GenerateRequest struct {
	UserID       string               `json:"user_id"`
	SubjectID    int64                `json:"subject_id"`
	Title        string               `json:"title"`
	Course       string               `json:"course"`
	Text         string               `json:"text"`
	DocumentPath string               `json:"document_path"`
	MaxWords     int                  `json:"max_words"`
	Matrix       gateway.MatrixConfig `json:"matrix"`
	Question     string               `json:"question"`
	Notes        string               `json:"notes"`
	Async        bool                 `json:"async"`
	Save         bool                 `json:"save"`
}

func decodeGenerateRequest(w http.ResponseWriter, r *http.Request) (GenerateRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return req, false
	}
	if req.UserID == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
		return req, false
	}
	if req.Text == "" && req.DocumentPath == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "text or document_path is required")
		return req, false
	}
	if req.DocumentPath != "" && !req.Async {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "document_path requires async: extraction runs in the background worker")
		return req, false
	}
	return req, true
}

func (req GenerateRequest) jobPayload() jobs.Payload {
	return jobs.Payload{
		UserID:       req.UserID,
		SubjectID:    req.SubjectID,
		Title:        req.Title,
		Course:       req.Course,
		Text:         req.Text,
		DocumentPath: req.DocumentPath,
		MaxWords:     req.MaxWords,
		Matrix:       req.Matrix,
		Question:     req.Question,
		Notes:        req.Notes,
	}
}

func (req GenerateRequest) callInfo() gateway.CallInfo {
	doc := req.DocumentPath
	if doc == "" {
		doc = req.Title
	}
	return gateway.CallInfo{UserID: req.UserID, Document: doc}
}

func enqueue(w http.ResponseWriter, deps Deps, jobType string, req GenerateRequest) {
	id, err := jobs.Enqueue(deps.Store, jobType, req.jobPayload())
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"job_id": id})
}

// saveArtifact persists a successful sync generation when the caller asked
// for it. Save failures degrade to an unarchived response, not an error.
func saveArtifact(deps Deps, category string, req GenerateRequest, content string) string {
	if !req.Save || req.SubjectID == 0 {
		return ""
	}
	meta := map[string]string{
		"title":     req.Title,
		"course":    req.Course,
		"generated": time.Now().UTC().Format(time.RFC3339),
	}
	if settings, err := deps.Store.GetSettings(); err == nil {
		meta["model"] = settings.Model
	}
	path, err := deps.Artifacts.Save(category, req.SubjectID, content, meta)
	if err != nil {
		return ""
	}
	return path
}

func handleSummarize(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeGenerateRequest(w, r)
		if !ok {
			return
		}
		if req.Async {
			enqueue(w, deps, jobs.TypeSummary, req)
			return
		}

		summary, err := deps.Gateway.Summarize(r.Context(), req.callInfo(), req.Text, req.MaxWords, req.Notes)
		if err != nil {
			writeGenerationError(w, err)
			return
		}
		writeJSON(w, map[string]any{
			"summary":       summary,
			"artifact_path": saveArtifact(deps, artifact.CategorySummary, req, summary),
		})
	}
}

func handleQuestions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeGenerateRequest(w, r)
		if !ok {
			return
		}
		if req.Async {
			enqueue(w, deps, jobs.TypeQuestions, req)
			return
		}

		questions, err := deps.Gateway.GenerateQuestions(r.Context(), req.callInfo(), req.Text, req.Matrix, req.Notes)
		if err != nil {
			writeGenerationError(w, err)
			return
		}

		path := ""
		if len(questions) > 0 {
			if encoded, err := json.MarshalIndent(questions, "", "  "); err == nil {
				path = saveArtifact(deps, artifact.CategoryQuestions, req, string(encoded))
			}
		}
		writeJSON(w, map[string]any{
			"questions":     questions,
			"artifact_path": path,
		})
	}
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeGenerateRequest(w, r)
		if !ok {
			return
		}
		if req.Question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}
		if req.Async {
			enqueue(w, deps, jobs.TypeChat, req)
			return
		}

		answer, err := deps.Gateway.AskDocument(r.Context(), req.callInfo(), req.Text, req.Question, req.Notes)
		if err != nil {
			writeGenerationError(w, err)
			return
		}
		body := fmt.Sprintf("## Question\n\n%s\n\n## Answer\n\n%s", req.Question, answer)
		writeJSON(w, map[string]any{
			"answer":        answer,
			"artifact_path": saveArtifact(deps, artifact.CategoryChat, req, body),
		})
	}
}

func handleKeysHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health, err := deps.Pool.Health()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading key health: %v", err)
			return
		}
		writeJSON(w, map[string]any{"keys": health})
	}
}

func handleUsage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := chi.URLParam(r, "user")
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
				limit = n
			}
		}
		history, err := deps.Ledger.History(user, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading usage: %v", err)
			return
		}
		writeJSON(w, map[string]any{
			"user":      user,
			"remaining": deps.Ledger.Remaining(user),
			"history":   history,
		})
	}
}

func handleReadArtifact(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Query().Get("path")
		if path == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "path is required")
			return
		}
		content, ok := deps.Artifacts.Read(path)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found_error", "no artifact at %q", path)
			return
		}
		writeJSON(w, map[string]string{"path": path, "content": content})
	}
}

func handleDeleteArtifact(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Query().Get("path")
		if path == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "path is required")
			return
		}
		writeJSON(w, map[string]any{"removed": deps.Artifacts.Delete(path)})
	}
}

func handleGetJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Store.GetJob(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "no such job")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading job: %v", err)
			return
		}
		resp := map[string]any{
			"id":       job.ID,
			"type":     job.Type,
			"status":   job.Status,
			"attempts": job.Attempts,
		}
		if job.ResultJSON != "" {
			resp["result"] = json.RawMessage(job.ResultJSON)
		}
		if job.LastError != "" {
			resp["last_error"] = job.LastError
		}
		writeJSON(w, resp)
	}
}

// writeGenerationError maps the gateway error taxonomy onto HTTP statuses
// with friendly messages. Unexpected errors surface only a bounded excerpt.
func writeGenerationError(w http.ResponseWriter, err error) {
	var disabled *gateway.ServiceDisabledError
	var userQuota *gateway.UserQuotaError
	var rateLimit *gateway.RateLimitError
	var cfg *gateway.ConfigurationError
	switch {
	case errors.As(err, &disabled):
		httpError(w, http.StatusServiceUnavailable, "service_disabled", "%s", disabled.Error())
	case errors.As(err, &userQuota):
		httpError(w, http.StatusTooManyRequests, "quota_exceeded", "%s", userQuota.Error())
	case errors.As(err, &rateLimit):
		httpError(w, http.StatusTooManyRequests, "rate_limited", "%s", rateLimit.Message)
	case errors.As(err, &cfg):
		httpError(w, http.StatusInternalServerError, "configuration_error", "%s", cfg.Error())
	default:
		msg := err.Error()
		if len(msg) > 300 {
			msg = msg[:300]
		}
		httpError(w, http.StatusBadGateway, "api_error", "generation failed: %s", msg)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
