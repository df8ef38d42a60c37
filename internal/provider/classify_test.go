package provider

import (
	"errors"
	"testing"
	"time"
)

func TestIsQuotaError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429 status", &APIError{Status: 429, Message: "too many requests"}, true},
		{"quota text", errors.New("daily quota exceeded for project"), true},
		{"rate text", errors.New("Rate limit reached"), true},
		{"resource exhausted", &APIError{Status: 400, Message: "RESOURCE_EXHAUSTED"}, true},
		{"unrelated", errors.New("connection reset by peer"), false},
		{"server error", &APIError{Status: 500, Message: "internal"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsQuotaError(tt.err); got != tt.want {
				t.Errorf("IsQuotaError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsInvalidKeyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"401", &APIError{Status: 401, Message: "unauthenticated"}, true},
		{"403", &APIError{Status: 403, Message: "forbidden"}, true},
		{"marker text", errors.New("API key not valid. Please pass a valid API key."), true},
		{"generic phrasing", errors.New("the provided key is invalid"), true},
		{"unrelated", errors.New("quota exceeded"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsInvalidKeyError(tt.err); got != tt.want {
				t.Errorf("IsInvalidKeyError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestSuggestedRetryAfter(t *testing.T) {
	tests := []struct {
		name string
		err  error
		max  time.Duration
		want time.Duration
	}{
		{"nil", nil, time.Minute, 0},
		{"no suggestion", errors.New("quota exceeded"), time.Minute, 0},
		{"parsed", errors.New("Quota exceeded. Please retry in 7 seconds."), time.Minute, 7 * time.Second},
		{"capped", errors.New("retry in 300 seconds"), time.Minute, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SuggestedRetryAfter(tt.err, tt.max); got != tt.want {
				t.Errorf("SuggestedRetryAfter = %v, want %v", got, tt.want)
			}
		})
	}
}
