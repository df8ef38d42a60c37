package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding credentials, AI settings, the usage
// log, and the generation job queue.
type Store struct {
	db  *sql.DB
	box *secretBox
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests); in that case the credential cipher key is ephemeral.
func Open(dataDir string) (*Store, error) {
	var dsn, keyPath string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "studygate.db")
		keyPath = filepath.Join(dataDir, "secret.key")
	}

	box, err := newSecretBox(keyPath)
	if err != nil {
		return nil, fmt.Errorf("loading credential cipher key: %w", err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db, box: box}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Credentials ---

const credentialColumns = `id, label, provider, key_hint, priority, status, rpm_limit,
	minute_requests, minute_start, error_count, error_streak, total_requests, total_tokens,
	last_latency_ms, last_success_at, last_error_at, last_error, cooldown_until, created_at`

// AddCredential encrypts the secret and inserts a new credential row.
// The stored hint is the last four characters of the secret.
func (s *Store) AddCredential(label, provider, secret string, priority, rpmLimit int) (int64, error) {
	enc, err := s.box.Seal(secret)
	if err != nil {
		return 0, fmt.Errorf("sealing credential secret: %w", err)
	}

	hint := secret
	if len(hint) > 4 {
		hint = hint[len(hint)-4:]
	}

	res, err := s.db.Exec(`
		INSERT INTO credentials (label, provider, secret_enc, key_hint, priority, status, rpm_limit, created_at)
		VALUES (?, ?, ?, ?, ?, 'active', ?, ?)`,
		label, provider, enc, hint, priority, rpmLimit, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListCredentials returns all non-disabled credentials ordered by ascending
// priority then id. Disabled and errored keys are excluded; cooling_down keys
// are included so the caller can check cooldown expiry.
func (s *Store) ListCredentials() ([]Credential, error) {
	rows, err := s.db.Query(`SELECT ` + credentialColumns + `
		FROM credentials
		WHERE status NOT IN ('disabled', 'error')
		ORDER BY priority ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCredentials(rows)
}

// AllCredentials returns every credential regardless of status, for the
// health report and admin CLI.
func (s *Store) AllCredentials() ([]Credential, error) {
	rows, err := s.db.Query(`SELECT ` + credentialColumns + `
		FROM credentials ORDER BY priority ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCredentials(rows)
}

// GetCredential returns a single credential by id.
func (s *Store) GetCredential(id int64) (Credential, error) {
	row := s.db.QueryRow(`SELECT `+credentialColumns+` FROM credentials WHERE id = ?`, id)
	c, err := scanCredential(row)
	if err == sql.ErrNoRows {
		return Credential{}, ErrNotFound
	}
	return c, err
}

// CredentialSecret decrypts and returns the plaintext secret for a credential.
func (s *Store) CredentialSecret(id int64) (string, error) {
	var enc []byte
	err := s.db.QueryRow(`SELECT secret_enc FROM credentials WHERE id = ?`, id).Scan(&enc)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	secret, err := s.box.Open(enc)
	if err != nil {
		return "", fmt.Errorf("opening credential secret: %w", err)
	}
	return secret, nil
}

// UpdateCredentialHealth persists the mutable bookkeeping fields after a
// provider call. Identity fields (label, secret, priority) are untouched.
func (s *Store) UpdateCredentialHealth(c Credential) error {
	res, err := s.db.Exec(`
		UPDATE credentials SET
			status = ?, minute_requests = ?, minute_start = ?,
			error_count = ?, error_streak = ?, total_requests = ?, total_tokens = ?,
			last_latency_ms = ?, last_success_at = ?, last_error_at = ?, last_error = ?,
			cooldown_until = ?
		WHERE id = ?`,
		c.Status, c.MinuteRequests, formatTime(c.MinuteStart),
		c.ErrorCount, c.ErrorStreak, c.TotalRequests, c.TotalTokens,
		c.LastLatencyMS, formatTime(c.LastSuccessAt), formatTime(c.LastErrorAt), c.LastError,
		formatTime(c.CooldownUntil), c.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCredentialStatus changes only the status column. Disabling a key is a
// status change, never a row deletion.
func (s *Store) SetCredentialStatus(id int64, status string) error {
	res, err := s.db.Exec(`UPDATE credentials SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanCredentials(rows *sql.Rows) ([]Credential, error) {
	var creds []Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (Credential, error) {
	var c Credential
	var minuteStart, lastSuccess, lastErrorAt, cooldownUntil, createdAt string
	err := row.Scan(
		&c.ID, &c.Label, &c.Provider, &c.KeyHint, &c.Priority, &c.Status, &c.RPMLimit,
		&c.MinuteRequests, &minuteStart, &c.ErrorCount, &c.ErrorStreak, &c.TotalRequests, &c.TotalTokens,
		&c.LastLatencyMS, &lastSuccess, &lastErrorAt, &c.LastError, &cooldownUntil, &createdAt,
	)
	if err != nil {
		return Credential{}, err
	}
	c.MinuteStart = parseTime(minuteStart)
	c.LastSuccessAt = parseTime(lastSuccess)
	c.LastErrorAt = parseTime(lastErrorAt)
	c.CooldownUntil = parseTime(cooldownUntil)
	c.CreatedAt = parseTime(createdAt)
	return c, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// --- AI settings ---

// GetSettings returns the single administrator-editable settings row.
func (s *Store) GetSettings() (Settings, error) {
	var st Settings
	var enabled int
	var updatedAt string
	err := s.db.QueryRow(`
		SELECT model, max_output_tokens, temperature, chunk_size, chunk_overlap,
			service_enabled, maintenance_message, requests_per_hour, updated_at
		FROM ai_settings WHERE id = 1`,
	).Scan(&st.Model, &st.MaxOutputTokens, &st.Temperature, &st.ChunkSize, &st.ChunkOverlap,
		&enabled, &st.MaintenanceMessage, &st.RequestsPerHour, &updatedAt)
	if err == sql.ErrNoRows {
		return Settings{}, ErrNotFound
	}
	if err != nil {
		return Settings{}, err
	}
	st.ServiceEnabled = enabled != 0
	st.UpdatedAt = parseTime(updatedAt)
	return st, nil
}

// UpdateSettings replaces the settings row.
func (s *Store) UpdateSettings(st Settings) error {
	enabled := 0
	if st.ServiceEnabled {
		enabled = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO ai_settings (id, model, max_output_tokens, temperature, chunk_size, chunk_overlap, service_enabled, maintenance_message, requests_per_hour, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			model = excluded.model,
			max_output_tokens = excluded.max_output_tokens,
			temperature = excluded.temperature,
			chunk_size = excluded.chunk_size,
			chunk_overlap = excluded.chunk_overlap,
			service_enabled = excluded.service_enabled,
			maintenance_message = excluded.maintenance_message,
			requests_per_hour = excluded.requests_per_hour,
			updated_at = excluded.updated_at`,
		st.Model, st.MaxOutputTokens, st.Temperature, st.ChunkSize, st.ChunkOverlap,
		enabled, st.MaintenanceMessage, st.RequestsPerHour, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// --- Usage log ---

// InsertUsage appends one usage record. The log is append-only; rows are
// never updated or deleted by normal operation.
func (s *Store) InsertUsage(r UsageRecord) error {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO usage_log (id, user_id, operation, document, tokens, was_cached, success, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.Operation, r.Document, r.Tokens,
		boolToInt(r.WasCached), boolToInt(r.Success), r.Error,
		createdAt.Format(time.RFC3339),
	)
	return err
}

// CountUsageSince counts non-cached usage rows for a user at or after the
// given instant.
func (s *Store) CountUsageSince(userID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM usage_log
		WHERE user_id = ? AND was_cached = 0 AND created_at >= ?`,
		userID, since.UTC().Format(time.RFC3339),
	).Scan(&n)
	return n, err
}

// ListUsage returns the most recent usage rows for a user.
func (s *Store) ListUsage(userID string, limit int) ([]UsageRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, operation, document, tokens, was_cached, success, error, created_at
		FROM usage_log WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []UsageRecord
	for rows.Next() {
		var r UsageRecord
		var cached, success int
		var createdAt string
		if err := rows.Scan(&r.ID, &r.UserID, &r.Operation, &r.Document, &r.Tokens, &cached, &success, &r.Error, &createdAt); err != nil {
			return nil, err
		}
		r.WasCached = cached != 0
		r.Success = success != 0
		r.CreatedAt = parseTime(createdAt)
		results = append(results, r)
	}
	return results, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- Jobs ---

func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	return err
}

// GetJob returns a job by id.
func (s *Store) GetJob(id string) (Job, error) {
	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError, resultJSON sql.NullString
	err := s.db.QueryRow(`
		SELECT id, type, payload_json, result_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs WHERE id = ?`, id,
	).Scan(&j.ID, &j.Type, &j.PayloadJSON, &resultJSON, &j.Status, &j.Attempts, &j.MaxAttempts, &runAfter, &createdAt, &updatedAt, &lastError)
	if err == sql.ErrNoRows {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	j.ResultJSON = resultJSON.String
	j.LastError = lastError.String
	j.RunAfter = parseTime(runAfter)
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	return j, nil
}

// ClaimNextJob atomically selects the next runnable pending job of the given
// types and marks it running. Returns nil when no job is ready.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]any, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	j.RunAfter = parseTime(runAfter)
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(now)
	return &j, nil
}

// CompleteJob marks a job completed and stores its result payload.
func (s *Store) CompleteJob(id, resultJSON string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', result_json = ?, updated_at = ? WHERE id = ?`, resultJSON, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob records a failed attempt. The job is retried with exponential
// backoff until max_attempts, then marked failed.
func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}

	if err != nil {
		return err
	}

	return tx.Commit()
}
