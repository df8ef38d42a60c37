// Package jobs runs queued generation requests in the background so the
// HTTP layer can return immediately for long documents.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/afadel/studygate/internal/artifact"
	"github.com/afadel/studygate/internal/extract"
	"github.com/afadel/studygate/internal/gateway"
	"github.com/afadel/studygate/internal/storage"
)

// Job types handled by the worker.
const (
	TypeSummary   = "generate_summary"
	TypeQuestions = "generate_questions"
	TypeChat      = "ask_document"
)

// Types lists every job type the worker claims.
var Types = []string{TypeSummary, TypeQuestions, TypeChat}

// JobStore abstracts the queue operations.
type JobStore interface {
	EnqueueJob(job storage.Job) error
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id, resultJSON string) error
	FailJob(id string, errMsg string) error
}

// Generator is the gateway surface the worker drives.
type Generator interface {
	SummarizeAndSave(ctx context.Context, info gateway.CallInfo, save gateway.SaveInfo, store *artifact.Store, text string, maxWords int, notes string) gateway.Result
	QuestionsAndSave(ctx context.Context, info gateway.CallInfo, save gateway.SaveInfo, store *artifact.Store, text string, matrix gateway.MatrixConfig, notes string) gateway.Result
	AskAndSave(ctx context.Context, info gateway.CallInfo, save gateway.SaveInfo, store *artifact.Store, text, question, notes string) gateway.Result
}

// Payload is the request carried by a queued job. Either Text or
// DocumentPath must be set; a path is extracted when the job runs.
type Payload struct {
	UserID       string                `json:"user_id"`
	SubjectID    int64                 `json:"subject_id"`
	Title        string                `json:"title,omitempty"`
	Course       string                `json:"course,omitempty"`
	Text         string                `json:"text,omitempty"`
	DocumentPath string                `json:"document_path,omitempty"`
	MaxWords     int                   `json:"max_words,omitempty"`
	Matrix       gateway.MatrixConfig  `json:"matrix,omitzero"`
	Question     string                `json:"question,omitempty"`
	Notes        string                `json:"notes,omitempty"`
}

// Enqueue validates a payload and adds it to the queue, returning the job id.
func Enqueue(store JobStore, jobType string, p Payload) (string, error) {
	if p.Text == "" && p.DocumentPath == "" {
		return "", fmt.Errorf("job payload needs text or document_path")
	}
	if jobType == TypeChat && p.Question == "" {
		return "", fmt.Errorf("ask_document job needs a question")
	}
	encoded, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}
	job := storage.Job{
		ID:          uuid.NewString(),
		Type:        jobType,
		PayloadJSON: string(encoded),
	}
	if err := store.EnqueueJob(job); err != nil {
		return "", fmt.Errorf("enqueueing job: %w", err)
	}
	return job.ID, nil
}

// Worker polls the queue and runs generation jobs through the gateway.
type Worker struct {
	jobs      JobStore
	gw        Generator
	artifacts *artifact.Store
	poll      time.Duration
	logger    *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(jobs JobStore, gw Generator, artifacts *artifact.Store, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		jobs:      jobs,
		gw:        gw,
		artifacts: artifacts,
		poll:      pollInterval,
		logger:    slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job. Returns true if a job was
// processed, regardless of its outcome.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.jobs.ClaimNextJob(Types)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	result, err := w.processJob(ctx, job)
	if err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "type", job.Type, "error", err)
		if failErr := w.jobs.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.jobs.CompleteJob(job.ID, result); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) (string, error) {
	var p Payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		return "", fmt.Errorf("parsing payload: %w", err)
	}

	text := p.Text
	document := p.Title
	if p.DocumentPath != "" {
		document = p.DocumentPath
		extracted, err := extract.Extract(p.DocumentPath)
		if err != nil {
			return "", fmt.Errorf("extracting document: %w", err)
		}
		text = extracted
	}

	info := gateway.CallInfo{UserID: p.UserID, Document: document}
	save := gateway.SaveInfo{SubjectID: p.SubjectID, Title: p.Title, Course: p.Course}

	var res gateway.Result
	switch job.Type {
	case TypeSummary:
		res = w.gw.SummarizeAndSave(ctx, info, save, w.artifacts, text, p.MaxWords, p.Notes)
	case TypeQuestions:
		res = w.gw.QuestionsAndSave(ctx, info, save, w.artifacts, text, p.Matrix, p.Notes)
	case TypeChat:
		res = w.gw.AskAndSave(ctx, info, save, w.artifacts, text, p.Question, p.Notes)
	default:
		return "", fmt.Errorf("unknown job type %q", job.Type)
	}
	if !res.Success {
		return "", fmt.Errorf("generation failed: %s", res.Error)
	}

	encoded, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}
	return string(encoded), nil
}
