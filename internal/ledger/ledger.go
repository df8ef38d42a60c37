// Package ledger tracks per-user generation usage and enforces the sliding
// hourly quota.
package ledger

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/afadel/studygate/internal/storage"
)

// UsageStore is the persistence surface the ledger needs.
type UsageStore interface {
	InsertUsage(r storage.UsageRecord) error
	CountUsageSince(userID string, since time.Time) (int, error)
	ListUsage(userID string, limit int) ([]storage.UsageRecord, error)
}

// LimitSource reports the current requests-per-hour limit. Zero means
// unlimited. The gateway backs this with the live ai_settings row so an
// administrator change applies to the next request.
type LimitSource func() int

// Ledger checks quotas against a sliding 60-minute window. Cached
// responses are recorded for audit but never consume quota.
type Ledger struct {
	store  UsageStore
	limit  LimitSource
	now    func() time.Time
	logger *slog.Logger
}

func New(store UsageStore, limit LimitSource) *Ledger {
	return &Ledger{
		store:  store,
		limit:  limit,
		now:    time.Now,
		logger: slog.Default(),
	}
}

// WithinQuota reports whether userID may issue another billable request.
// Counting errors fail open so a storage hiccup does not lock users out.
func (l *Ledger) WithinQuota(userID string) bool {
	limit := l.limit()
	if limit <= 0 {
		return true
	}
	used, err := l.store.CountUsageSince(userID, l.now().Add(-time.Hour))
	if err != nil {
		l.logger.Error("usage count failed, allowing request", "user", userID, "error", err)
		return true
	}
	return used < limit
}

// Remaining returns how many billable requests userID has left in the
// current window. Unlimited quotas report -1.
func (l *Ledger) Remaining(userID string) int {
	limit := l.limit()
	if limit <= 0 {
		return -1
	}
	used, err := l.store.CountUsageSince(userID, l.now().Add(-time.Hour))
	if err != nil {
		l.logger.Error("usage count failed", "user", userID, "error", err)
		return limit
	}
	if used >= limit {
		return 0
	}
	return limit - used
}

// Record appends a usage entry. Failures are logged and swallowed; the
// ledger never blocks a generation that already happened.
func (l *Ledger) Record(userID, operation, document string, tokens int, cached, success bool, errMsg string) {
	rec := storage.UsageRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		Operation: operation,
		Document:  document,
		Tokens:    tokens,
		WasCached: cached,
		Success:   success,
		Error:     errMsg,
		CreatedAt: l.now().UTC(),
	}
	if err := l.store.InsertUsage(rec); err != nil {
		l.logger.Error("usage record failed", "user", userID, "operation", operation, "error", err)
	}
}

// History returns the most recent usage entries for a user.
func (l *Ledger) History(userID string, limit int) ([]storage.UsageRecord, error) {
	return l.store.ListUsage(userID, limit)
}
