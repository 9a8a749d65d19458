// Package connector implements the connector lifecycle (C6): a per-meeting
// state machine, a TTL-bounded operation lock, idempotent join, and
// live-pull, all calls routed through an HTTP resilience layer and the
// circuit breaker (C7).
package connector

import (
	"context"
	"errors"
	"io"
)

// Category classifies a provider error for the retry policy (spec.md §4.6).
type Category string

const (
	CategoryRetryable      Category = "retryable"
	CategoryAuth           Category = "auth"
	CategoryBadRequest     Category = "bad_request"
	CategoryInvalidResponse Category = "invalid_response"
)

// Retryable reports whether the retry loop should attempt this error again.
// Only CategoryRetryable is; auth/bad_request/invalid_response bypass
// retries entirely (spec.md §4.6 "Non-retryable categories").
func (c Category) Retryable() bool { return c == CategoryRetryable }

// ProviderError wraps an error with its retry category.
type ProviderError struct {
	Category Category
	Err      error
}

func (e *ProviderError) Error() string { return string(e.Category) + ": " + e.Err.Error() }
func (e *ProviderError) Unwrap() error { return e.Err }

// CategoryOf extracts the Category from err, defaulting to retryable for any
// error the provider client didn't explicitly categorize (fail-safe: an
// uncategorized transient error should still get retried).
func CategoryOf(err error) Category {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return CategoryRetryable
}

// RawChunk is one chunk fetched from the provider by live-pull, before it
// enters the shared ingest normalization path.
type RawChunk struct {
	ExternalRef string
	ContentType string
	Data        io.Reader
}

// Client is the per-provider-kind capability the lifecycle Manager drives.
// One concrete HTTP-backed implementation per connector kind (e.g. a meeting
// platform's bot API) satisfies this; spec.md explicitly treats the
// provider as pluggable.
type Client interface {
	// Join starts or resumes a session for meetingID, returning the
	// provider's external reference for it.
	Join(ctx context.Context, meetingID string) (externalRef string, err error)
	// Leave ends a session.
	Leave(ctx context.Context, meetingID, externalRef string) error
	// HealthCheck reports whether a session is still alive provider-side.
	HealthCheck(ctx context.Context, meetingID, externalRef string) error
	// Pull fetches up to limit new chunks for a session.
	Pull(ctx context.Context, meetingID, externalRef string, limit int) ([]RawChunk, error)
}
