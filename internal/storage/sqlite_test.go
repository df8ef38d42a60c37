package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	s := openTestStore(t)

	id, err := s.AddCredential("primary", "gemini", "sk-test-secret-9876", 10, 15)
	if err != nil {
		t.Fatalf("AddCredential: %v", err)
	}

	c, err := s.GetCredential(id)
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	if c.Label != "primary" {
		t.Errorf("Label = %q, want %q", c.Label, "primary")
	}
	if c.Status != StatusActive {
		t.Errorf("Status = %q, want %q", c.Status, StatusActive)
	}
	if c.KeyHint != "9876" {
		t.Errorf("KeyHint = %q, want %q", c.KeyHint, "9876")
	}
	if c.RPMLimit != 15 {
		t.Errorf("RPMLimit = %d, want 15", c.RPMLimit)
	}

	secret, err := s.CredentialSecret(id)
	if err != nil {
		t.Fatalf("CredentialSecret: %v", err)
	}
	if secret != "sk-test-secret-9876" {
		t.Errorf("secret = %q, want original plaintext", secret)
	}
}

// TestCredentialSecretPersists verifies the cipher key survives reopen so
// secrets written in one process are readable in the next.
func TestCredentialSecretPersists(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id, err := s1.AddCredential("k", "gemini", "persistent-secret", 100, 0)
	if err != nil {
		t.Fatalf("AddCredential: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	secret, err := s2.CredentialSecret(id)
	if err != nil {
		t.Fatalf("CredentialSecret after reopen: %v", err)
	}
	if secret != "persistent-secret" {
		t.Errorf("secret = %q, want %q", secret, "persistent-secret")
	}
}

func TestListCredentialsExcludesDisabled(t *testing.T) {
	s := openTestStore(t)

	id1, _ := s.AddCredential("a", "gemini", "secret-a", 10, 0)
	id2, _ := s.AddCredential("b", "gemini", "secret-b", 20, 0)
	if err := s.SetCredentialStatus(id2, StatusDisabled); err != nil {
		t.Fatalf("SetCredentialStatus: %v", err)
	}

	creds, err := s.ListCredentials()
	if err != nil {
		t.Fatalf("ListCredentials: %v", err)
	}
	if len(creds) != 1 {
		t.Fatalf("got %d credentials, want 1", len(creds))
	}
	if creds[0].ID != id1 {
		t.Errorf("credential ID = %d, want %d", creds[0].ID, id1)
	}

	all, err := s.AllCredentials()
	if err != nil {
		t.Fatalf("AllCredentials: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("AllCredentials returned %d rows, want 2", len(all))
	}
}

func TestListCredentialsPriorityOrder(t *testing.T) {
	s := openTestStore(t)

	s.AddCredential("low", "gemini", "s1", 200, 0)
	s.AddCredential("high", "gemini", "s2", 10, 0)
	s.AddCredential("mid", "gemini", "s3", 100, 0)

	creds, err := s.ListCredentials()
	if err != nil {
		t.Fatalf("ListCredentials: %v", err)
	}
	var labels []string
	for _, c := range creds {
		labels = append(labels, c.Label)
	}
	want := []string{"high", "mid", "low"}
	for i := range want {
		if labels[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, labels[i], want[i])
		}
	}
}

func TestUpdateCredentialHealth(t *testing.T) {
	s := openTestStore(t)

	id, _ := s.AddCredential("k", "gemini", "secret", 100, 5)
	c, _ := s.GetCredential(id)

	c.Status = StatusCoolingDown
	c.ErrorCount = 3
	c.ErrorStreak = 2
	c.CooldownUntil = time.Now().Add(time.Minute).UTC()
	c.LastError = "429 resource exhausted"

	if err := s.UpdateCredentialHealth(c); err != nil {
		t.Fatalf("UpdateCredentialHealth: %v", err)
	}

	got, _ := s.GetCredential(id)
	if got.Status != StatusCoolingDown {
		t.Errorf("Status = %q, want cooling_down", got.Status)
	}
	if got.ErrorCount != 3 || got.ErrorStreak != 2 {
		t.Errorf("error counts = (%d, %d), want (3, 2)", got.ErrorCount, got.ErrorStreak)
	}
	if got.CooldownUntil.IsZero() {
		t.Error("CooldownUntil not persisted")
	}
	if got.LastError != "429 resource exhausted" {
		t.Errorf("LastError = %q", got.LastError)
	}
}

func TestSettingsDefaultRow(t *testing.T) {
	s := openTestStore(t)

	st, err := s.GetSettings()
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if !st.ServiceEnabled {
		t.Error("default settings should have service enabled")
	}
	if st.ChunkSize != 30000 {
		t.Errorf("ChunkSize = %d, want 30000", st.ChunkSize)
	}

	st.ServiceEnabled = false
	st.MaintenanceMessage = "down for exams week"
	if err := s.UpdateSettings(st); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	got, err := s.GetSettings()
	if err != nil {
		t.Fatalf("GetSettings after update: %v", err)
	}
	if got.ServiceEnabled {
		t.Error("ServiceEnabled should be false after update")
	}
	if got.MaintenanceMessage != "down for exams week" {
		t.Errorf("MaintenanceMessage = %q", got.MaintenanceMessage)
	}
}

func TestUsageCountSince(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().UTC()
	insert := func(age time.Duration, cached bool) {
		err := s.InsertUsage(UsageRecord{
			ID:        uuid.New().String(),
			UserID:    "u1",
			Operation: "summary",
			WasCached: cached,
			Success:   true,
			CreatedAt: base.Add(-age),
		})
		if err != nil {
			t.Fatalf("InsertUsage: %v", err)
		}
	}

	insert(5*time.Minute, false)
	insert(30*time.Minute, false)
	insert(10*time.Minute, true)     // cached, excluded
	insert(90*time.Minute, false)    // outside window

	n, err := s.CountUsageSince("u1", base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountUsageSince: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2 (non-cached, in-window)", n)
	}

	n, err = s.CountUsageSince("other", base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountUsageSince other user: %v", err)
	}
	if n != 0 {
		t.Errorf("count for other user = %d, want 0", n)
	}
}

func TestJobLifecycle(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: uuid.New().String(), Type: "generate_summary", PayloadJSON: `{"document_id":"d1"}`}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	claimed, err := s.ClaimNextJob([]string{"generate_summary"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if claimed == nil {
		t.Fatal("expected a job, got nil")
	}
	if claimed.Status != "running" {
		t.Errorf("claimed status = %q, want running", claimed.Status)
	}

	// A second claim finds nothing.
	again, err := s.ClaimNextJob([]string{"generate_summary"})
	if err != nil {
		t.Fatalf("second ClaimNextJob: %v", err)
	}
	if again != nil {
		t.Errorf("second claim returned job %s, want nil", again.ID)
	}

	if err := s.CompleteJob(claimed.ID, `{"artifact_path":"summary/1_x.md"}`); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	got, err := s.GetJob(claimed.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != "completed" {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.ResultJSON == "" {
		t.Error("ResultJSON empty after completion")
	}
}

func TestFailJobRetriesThenFails(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: uuid.New().String(), Type: "generate_questions", PayloadJSON: `{}`, MaxAttempts: 2}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	for i := 1; i <= 2; i++ {
		if err := s.FailJob(job.ID, fmt.Sprintf("attempt %d failed", i)); err != nil {
			t.Fatalf("FailJob %d: %v", i, err)
		}
	}

	got, err := s.GetJob(job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != "failed" {
		t.Errorf("status = %q, want failed after max attempts", got.Status)
	}
	if got.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", got.Attempts)
	}
}

func TestGetCredentialNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetCredential(12345)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
