package gateway

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// fingerprintPrefix bounds how much input text feeds the cache key. Long
// documents share a prefix rarely enough that collisions are acceptable,
// and the remaining arguments disambiguate operations.
const fingerprintPrefix = 200

// fingerprint builds a deterministic cache key from the operation name, a
// truncated slice of the input text, and every remaining call argument.
func fingerprint(op, text string, args ...string) string {
	prefix := text
	if len(prefix) > fingerprintPrefix {
		prefix = prefix[:fingerprintPrefix]
	}
	sum := md5.Sum([]byte(op + ":" + prefix + ":" + strings.Join(args, ":")))
	return hex.EncodeToString(sum[:])
}

type cacheEntry struct {
	value   string
	expires time.Time
}

// resultCache memoizes raw generation output for a fixed window. Expired
// entries are evicted lazily on lookup.
type resultCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

func newResultCache(ttl time.Duration) *resultCache {
	return &resultCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *resultCache) get(key string) (string, bool) {
	if c.ttl <= 0 {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.now().After(e.expires) {
		delete(c.entries, key)
		return "", false
	}
	return e.value, true
}

func (c *resultCache) put(key, value string) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expires: c.now().Add(c.ttl)}
}
