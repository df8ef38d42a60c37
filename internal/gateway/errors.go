package gateway

import "fmt"

// ConfigurationError means the call could not even start: no usable
// credential, or an invalid chunking configuration. It is never retried.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ServiceDisabledError short-circuits every operation before any quota or
// key consumption. Message is the administrator-supplied maintenance text.
type ServiceDisabledError struct {
	Message string
}

func (e *ServiceDisabledError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("ai service disabled: %s", e.Message)
	}
	return "ai service disabled"
}

// UserQuotaError means the calling user exhausted the hourly request
// window. Distinct from RateLimitError, which is about the upstream
// provider.
type UserQuotaError struct {
	UserID string
}

func (e *UserQuotaError) Error() string {
	return "hourly request limit reached, try again later"
}

// RateLimitError is raised after the retry budget is exhausted and the last
// provider failure was quota-related.
type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string { return e.Message }
