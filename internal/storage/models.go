package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Credential statuses.
const (
	StatusActive      = "active"
	StatusCoolingDown = "cooling_down"
	StatusDisabled    = "disabled"
	StatusError       = "error"
)

// Credential is a provider API key plus its health and rate bookkeeping.
// The secret itself is stored encrypted; use Store.CredentialSecret to
// recover the plaintext.
type Credential struct {
	ID              int64
	Label           string
	Provider        string
	KeyHint         string
	Priority        int
	Status          string
	RPMLimit        int
	MinuteRequests  int
	MinuteStart     time.Time
	ErrorCount      int
	ErrorStreak     int
	TotalRequests   int64
	TotalTokens     int64
	LastLatencyMS   int64
	LastSuccessAt   time.Time
	LastErrorAt     time.Time
	LastError       string
	CooldownUntil   time.Time
	CreatedAt       time.Time
}

// Settings is the administrator-editable AI configuration row. The gateway
// re-reads it per call; config package fallbacks apply when it is missing.
type Settings struct {
	Model              string
	MaxOutputTokens    int
	Temperature        float64
	ChunkSize          int
	ChunkOverlap       int
	ServiceEnabled     bool
	MaintenanceMessage string
	RequestsPerHour    int
	UpdatedAt          time.Time
}

// UsageRecord is one append-only entry in the usage log.
type UsageRecord struct {
	ID        string
	UserID    string
	Operation string // "summary", "questions", "chat"
	Document  string
	Tokens    int
	WasCached bool
	Success   bool
	Error     string
	CreatedAt time.Time
}

// Job is a queued generation request processed by the background worker.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	ResultJSON  string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
