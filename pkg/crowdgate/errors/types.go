package errors

import (
	"fmt"
	"time"
)

// ValidationError indicates a malformed sensor event or admin request.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Invalid is shorthand for a ValidationError on field.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// RateLimitedError indicates a zone exceeded its ingestion ceiling.
type RateLimitedError struct {
	ZoneID int64
	Limit  int
	Window time.Duration

	// RetryAfter is how long until the oldest attempt leaves the window.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("zone %d rate limited: %d events per %s", e.ZoneID, e.Limit, e.Window)
}

// NotFoundError indicates the referenced resource does not exist.
type NotFoundError struct {
	Resource string
	ID       int64
	Err      error
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

// Unwrap returns the underlying store error.
func (e *NotFoundError) Unwrap() error {
	return e.Err
}
