package provider

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Error classification is deliberately substring-based: the upstream returns
// generic HTTP errors with message bodies, so classes are keyed off marker
// strings. This is an integration seam — the tables below will need updates
// if the provider's error wording changes.

// quotaMarkers identify rate-limit and quota exhaustion failures.
var quotaMarkers = []string{
	"rate",
	"quota",
	"429",
	"resource_exhausted",
	"resource exhausted",
}

// invalidKeyMarkers identify rejected credentials.
var invalidKeyMarkers = []string{
	"api key not valid",
	"invalid api key",
	"api_key_invalid",
	"permission_denied",
}

// IsQuotaError reports whether the error text indicates rate-limit or quota
// exhaustion.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	if apiErr, ok := err.(*APIError); ok && apiErr.Status == 429 {
		return true
	}
	return matchesAny(err.Error(), quotaMarkers)
}

// IsInvalidKeyError reports whether the error text indicates a rejected
// credential.
func IsInvalidKeyError(err error) bool {
	if err == nil {
		return false
	}
	if apiErr, ok := err.(*APIError); ok && (apiErr.Status == 401 || apiErr.Status == 403) {
		return true
	}
	msg := strings.ToLower(err.Error())
	if matchesAny(msg, invalidKeyMarkers) {
		return true
	}
	// Generic "invalid ... key" phrasing.
	return strings.Contains(msg, "invalid") && strings.Contains(msg, "key")
}

func matchesAny(msg string, markers []string) bool {
	msg = strings.ToLower(msg)
	for _, m := range markers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

var retryInPattern = regexp.MustCompile(`retry in (\d+)`)

// SuggestedRetryAfter parses a provider-suggested delay ("retry in N") out of
// the error text, capped at max. Returns 0 when no suggestion is present.
func SuggestedRetryAfter(err error, max time.Duration) time.Duration {
	if err == nil {
		return 0
	}
	m := retryInPattern.FindStringSubmatch(strings.ToLower(err.Error()))
	if m == nil {
		return 0
	}
	secs, convErr := strconv.Atoi(m[1])
	if convErr != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if max > 0 && d > max {
		return max
	}
	return d
}
