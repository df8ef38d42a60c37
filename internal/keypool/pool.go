package keypool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/afadel/studygate/internal/storage"
)

// ErrNoCredentials is returned by Acquire when neither the managed pool nor
// the environment fallback pool has a usable key.
var ErrNoCredentials = errors.New("no credentials available: add keys via the admin CLI or set STUDYGATE_PROVIDER_API_KEY")

// CredentialStore is the persistence surface the pool needs. *storage.Store
// implements it.
type CredentialStore interface {
	ListCredentials() ([]storage.Credential, error)
	AllCredentials() ([]storage.Credential, error)
	CredentialSecret(id int64) (string, error)
	UpdateCredentialHealth(c storage.Credential) error
}

// Options tune pool behavior. Zero values fall back to sane defaults.
type Options struct {
	// DefaultRPM applies to credentials whose row has no explicit limit.
	DefaultRPM int
	// CooldownWindow is how long a key rests after a quota error.
	CooldownWindow time.Duration
	// DisableThreshold is the consecutive error count that disables a key.
	DisableThreshold int
	// FallbackKeys are environment-supplied secrets with no health tracking.
	FallbackKeys []string
}

func (o *Options) fill() {
	if o.DefaultRPM <= 0 {
		o.DefaultRPM = 10
	}
	if o.CooldownWindow <= 0 {
		o.CooldownWindow = 60 * time.Second
	}
	if o.DisableThreshold <= 0 {
		o.DisableThreshold = 5
	}
}

// Lease is the result of one Acquire: the selected credential (nil when the
// key came from the fallback pool) and its plaintext secret.
type Lease struct {
	Credential *storage.Credential
	Secret     string
}

// Fallback reports whether the lease came from the untracked env pool.
func (l *Lease) Fallback() bool {
	return l.Credential == nil
}

// Pool selects provider credentials by ascending priority with round-robin
// among equal priority, enforcing per-key per-minute budgets and cooldowns.
//
// The mutex guards only selection and bookkeeping mutation; provider network
// calls happen outside it, so concurrent generation calls proceed in
// parallel on different keys. Two calls racing the same round may land on
// the same key — the per-minute budget bounds that independently.
type Pool struct {
	store CredentialStore
	opts  Options

	mu          sync.Mutex
	index       int
	fallbackIdx int

	now    func() time.Time
	logger *slog.Logger
}

// New creates a Pool over the given credential store.
func New(store CredentialStore, opts Options) *Pool {
	opts.fill()
	return &Pool{
		store:  store,
		opts:   opts,
		now:    time.Now,
		logger: slog.Default(),
	}
}

// Acquire selects the next usable credential. Managed keys are preferred;
// when none qualify the env fallback pool is used. Returns ErrNoCredentials
// when both are empty.
func (p *Pool) Acquire() (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	eligible, err := p.eligibleLocked()
	if err != nil {
		p.logger.Warn("credential listing failed, trying fallback pool", "error", err)
	}

	for len(eligible) > 0 {
		cred := eligible[p.index%len(eligible)]
		p.index++

		secret, err := p.store.CredentialSecret(cred.ID)
		if err != nil {
			p.logger.Warn("credential secret unreadable, skipping", "credential", cred.Label, "error", err)
			eligible = removeCredential(eligible, cred.ID)
			continue
		}

		// Consume one unit of the per-minute budget at selection time so
		// failed calls still count against the key.
		cred.MinuteRequests++
		if err := p.store.UpdateCredentialHealth(cred); err != nil {
			p.logger.Warn("persisting minute counter failed", "credential", cred.Label, "error", err)
		}

		c := cred
		return &Lease{Credential: &c, Secret: secret}, nil
	}

	if len(p.opts.FallbackKeys) > 0 {
		secret := p.opts.FallbackKeys[p.fallbackIdx%len(p.opts.FallbackKeys)]
		p.fallbackIdx++
		p.index++
		p.logger.Info("using fallback env credential")
		return &Lease{Secret: secret}, nil
	}

	return nil, ErrNoCredentials
}

// eligibleLocked returns usable credentials at the lowest eligible priority
// rank. Expired cooldowns are cleared here, which is what makes a cooled
// key selectable again.
func (p *Pool) eligibleLocked() ([]storage.Credential, error) {
	creds, err := p.store.ListCredentials()
	if err != nil {
		return nil, err
	}

	now := p.now()
	var usable []storage.Credential
	for _, c := range creds {
		if c.Status == storage.StatusCoolingDown {
			if now.Before(c.CooldownUntil) {
				continue
			}
			c.Status = storage.StatusActive
			c.CooldownUntil = time.Time{}
			if err := p.store.UpdateCredentialHealth(c); err != nil {
				p.logger.Warn("clearing cooldown failed", "credential", c.Label, "error", err)
				continue
			}
		}
		if c.Status != storage.StatusActive {
			continue
		}
		if !p.withinMinuteBudget(&c, now) {
			continue
		}
		usable = append(usable, c)
	}

	if len(usable) == 0 {
		return nil, nil
	}

	// ListCredentials orders by ascending priority; restrict round-robin to
	// the best available priority rank.
	best := usable[0].Priority
	n := 0
	for _, c := range usable {
		if c.Priority == best {
			n++
		}
	}
	return usable[:n], nil
}

// withinMinuteBudget resets an expired minute window in place and reports
// whether the credential still has requests left in the current window.
func (p *Pool) withinMinuteBudget(c *storage.Credential, now time.Time) bool {
	limit := c.RPMLimit
	if limit <= 0 {
		limit = p.opts.DefaultRPM
	}

	if c.MinuteStart.IsZero() || now.Sub(c.MinuteStart) >= time.Minute {
		c.MinuteRequests = 0
		c.MinuteStart = now
	}
	return c.MinuteRequests < limit
}

// ReleaseOnSuccess reports a successful provider call back to the pool:
// the error streak resets and latency/usage counters update. Fallback
// leases carry no health state and are ignored.
func (p *Pool) ReleaseOnSuccess(lease *Lease, latency time.Duration, tokens int) {
	if lease == nil || lease.Fallback() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	c := p.refreshLocked(*lease.Credential)
	c.ErrorStreak = 0
	c.LastLatencyMS = latency.Milliseconds()
	c.LastSuccessAt = p.now().UTC()
	c.TotalRequests++
	c.TotalTokens += int64(tokens)
	if err := p.store.UpdateCredentialHealth(c); err != nil {
		p.logger.Warn("persisting success bookkeeping failed", "credential", c.Label, "error", err)
	}
}

// ReleaseOnError marks a failed provider call. Quota errors put the key into
// cooldown; other errors disable the key once the consecutive-error
// threshold is hit. The round-robin index already moved past this key at
// acquire time, so the next Acquire rotates away from it.
func (p *Pool) ReleaseOnError(lease *Lease, msg string, isQuota bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if lease == nil || lease.Fallback() {
		// Fallback keys carry no health state; the fallback index already
		// advanced at acquire time, so the next Acquire rotates naturally.
		return
	}

	c := p.refreshLocked(*lease.Credential)
	now := p.now().UTC()
	c.ErrorCount++
	c.ErrorStreak++
	c.LastError = truncate(msg, 500)
	c.LastErrorAt = now

	if isQuota {
		c.Status = storage.StatusCoolingDown
		c.CooldownUntil = now.Add(p.opts.CooldownWindow)
	} else if c.ErrorStreak >= p.opts.DisableThreshold {
		c.Status = storage.StatusDisabled
		p.logger.Warn("credential disabled after consecutive errors", "credential", c.Label, "errors", c.ErrorStreak)
	}

	if err := p.store.UpdateCredentialHealth(c); err != nil {
		p.logger.Warn("persisting error bookkeeping failed", "credential", c.Label, "error", err)
	}
}

// TotalKeys returns the number of credentials the pool could rotate through:
// managed non-disabled keys plus fallback env keys.
func (p *Pool) TotalKeys() int {
	n := len(p.opts.FallbackKeys)
	creds, err := p.store.ListCredentials()
	if err != nil {
		return n
	}
	return n + len(creds)
}

// KeyHealth is one entry in the pool's health report.
type KeyHealth struct {
	ID            int64     `json:"id"`
	Label         string    `json:"label"`
	Hint          string    `json:"hint"`
	Status        string    `json:"status"`
	Available     bool      `json:"available"`
	ErrorCount    int       `json:"error_count"`
	TotalRequests int64     `json:"total_requests"`
	TotalTokens   int64     `json:"total_tokens"`
	LastLatencyMS int64     `json:"last_latency_ms"`
	LastSuccessAt time.Time `json:"last_success_at,omitzero"`
	LastError     string    `json:"last_error,omitempty"`
	RPMLimit      int       `json:"rpm_limit"`
	CooldownUntil time.Time `json:"cooldown_until,omitzero"`
}

// Health returns a snapshot of every managed credential for the admin surface.
func (p *Pool) Health() ([]KeyHealth, error) {
	creds, err := p.store.AllCredentials()
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}

	now := p.now()
	report := make([]KeyHealth, 0, len(creds))
	for _, c := range creds {
		available := c.Status == storage.StatusActive ||
			(c.Status == storage.StatusCoolingDown && !now.Before(c.CooldownUntil))
		report = append(report, KeyHealth{
			ID:            c.ID,
			Label:         c.Label,
			Hint:          c.KeyHint,
			Status:        c.Status,
			Available:     available,
			ErrorCount:    c.ErrorCount,
			TotalRequests: c.TotalRequests,
			TotalTokens:   c.TotalTokens,
			LastLatencyMS: c.LastLatencyMS,
			LastSuccessAt: c.LastSuccessAt,
			LastError:     c.LastError,
			RPMLimit:      c.RPMLimit,
			CooldownUntil: c.CooldownUntil,
		})
	}
	return report, nil
}

// refreshLocked re-reads the stored row for a lease's credential so the
// release merges into state written since acquire time. Two calls sharing a
// key would otherwise undo each other's minute-counter increment when the
// first release writes back its stale acquire-time snapshot. Falls back to
// the snapshot when the store is unreadable.
func (p *Pool) refreshLocked(snapshot storage.Credential) storage.Credential {
	creds, err := p.store.AllCredentials()
	if err != nil {
		return snapshot
	}
	for _, c := range creds {
		if c.ID == snapshot.ID {
			return c
		}
	}
	return snapshot
}

func removeCredential(creds []storage.Credential, id int64) []storage.Credential {
	out := creds[:0]
	for _, c := range creds {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
