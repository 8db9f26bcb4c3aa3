// Package errors classifies the failures crowdgate surfaces to callers.
//
// Ingestion and admin operations return typed errors so transports can map
// them onto wire reasons and status codes without string matching:
//   - ValidationError: malformed events or admin input (permanent)
//   - RateLimitedError: per-zone ingestion ceiling hit (transient)
//   - NotFoundError: unknown zone, redirect or escalation (permanent)
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryTransient indicates retry will likely help.
	// Examples: rate limits, timeouts, broker reconnects.
	CategoryTransient Category = iota

	// CategoryPermanent indicates retry won't help.
	// Examples: invalid events, unknown zones.
	CategoryPermanent

	// CategoryHumanRequired indicates an operator has to act.
	// Escalations are logged under this category.
	CategoryHumanRequired
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	case CategoryHumanRequired:
		return "human_required"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Retries is the number of attempts that have been made.
	Retries int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Retries)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Retries)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// NewCategorized creates a new categorized error.
func NewCategorized(err error, category Category, context string) *CategorizedError {
	return &CategorizedError{
		Err:      err,
		Category: category,
		Context:  context,
	}
}

// Transient creates a transient error.
func Transient(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryTransient, context)
}

// Permanent creates a permanent error.
func Permanent(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryPermanent, context)
}

// Categorize determines how an error should be handled.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent // shouldn't happen, fail safe
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	var rateErr *RateLimitedError
	if errors.As(err, &rateErr) {
		return CategoryTransient
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return CategoryPermanent
	}

	var nfErr *NotFoundError
	if errors.As(err, &nfErr) {
		return CategoryPermanent
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}

	// Unknown errors are permanent (fail safe)
	return CategoryPermanent
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}

// Wire reasons reported to ingestion clients.
const (
	ReasonInvalidEvent = "invalid_event"
	ReasonRateLimited  = "rate_limited"
	ReasonNotFound     = "not_found"
	ReasonInternal     = "internal"
)

// Reason maps an error onto the reason string carried in ingestion results.
func Reason(err error) string {
	var valErr *ValidationError
	var rateErr *RateLimitedError
	var nfErr *NotFoundError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &valErr):
		return ReasonInvalidEvent
	case errors.As(err, &rateErr):
		return ReasonRateLimited
	case errors.As(err, &nfErr):
		return ReasonNotFound
	default:
		return ReasonInternal
	}
}
