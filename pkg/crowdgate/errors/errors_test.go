package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestCategoryString(t *testing.T) {
	tests := []struct {
		category Category
		expected string
	}{
		{CategoryTransient, "transient"},
		{CategoryPermanent, "permanent"},
		{CategoryHumanRequired, "human_required"},
		{Category(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.category.String(); got != tt.expected {
				t.Errorf("Category(%d).String() = %s, want %s", tt.category, got, tt.expected)
			}
		})
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Category
	}{
		{"nil error", nil, CategoryPermanent},
		{"rate limited", &RateLimitedError{ZoneID: 1, Limit: 10, Window: time.Second}, CategoryTransient},
		{"validation", &ValidationError{Field: "sensor", Message: "unknown kind"}, CategoryPermanent},
		{"not found", &NotFoundError{Resource: "zone", ID: 9}, CategoryPermanent},
		{"wrapped rate limited", fmt.Errorf("ingest: %w", &RateLimitedError{ZoneID: 1}), CategoryTransient},
		{"deadline", context.DeadlineExceeded, CategoryTransient},
		{"categorized", NewCategorized(errors.New("crush risk"), CategoryHumanRequired, "zone 3"), CategoryHumanRequired},
		{"unknown", errors.New("boom"), CategoryPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Categorize(tt.err); got != tt.expected {
				t.Errorf("Categorize(%v) = %s, want %s", tt.err, got, tt.expected)
			}
		})
	}
}

func TestReason(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"validation", Invalid("event", "must be break or make"), ReasonInvalidEvent},
		{"rate limited", fmt.Errorf("zone 1: %w", &RateLimitedError{ZoneID: 1}), ReasonRateLimited},
		{"not found", &NotFoundError{Resource: "zone", ID: 4}, ReasonNotFound},
		{"other", errors.New("disk full"), ReasonInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Reason(tt.err); got != tt.want {
				t.Errorf("Reason() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	if got := Invalid("zoneId", "must be positive").Error(); got != "validation error on zoneId: must be positive" {
		t.Errorf("unexpected validation message: %s", got)
	}
	if got := (&ValidationError{Message: "empty body"}).Error(); got != "validation error: empty body" {
		t.Errorf("unexpected validation message: %s", got)
	}
	if got := (&RateLimitedError{ZoneID: 2, Limit: 10, Window: time.Second}).Error(); got != "zone 2 rate limited: 10 events per 1s" {
		t.Errorf("unexpected rate limit message: %s", got)
	}
	if got := (&NotFoundError{Resource: "redirect", ID: 7}).Error(); got != "redirect 7 not found" {
		t.Errorf("unexpected not found message: %s", got)
	}
}

func TestNotFoundUnwrap(t *testing.T) {
	sentinel := errors.New("zone not found")
	err := fmt.Errorf("set area: %w", &NotFoundError{Resource: "zone", ID: 1, Err: sentinel})
	if !errors.Is(err, sentinel) {
		t.Error("expected NotFoundError to unwrap to sentinel")
	}
}

func TestRetry(t *testing.T) {
	fast := NewRetryConfig(WithMaxAttempts(3), WithInitialBackoff(time.Millisecond))

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		attempts, err := Retry(context.Background(), fast, func(context.Context) error {
			calls++
			if calls < 3 {
				return Transient(errors.New("broker unavailable"), "connect")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		calls := 0
		attempts, err := Retry(context.Background(), fast, func(context.Context) error {
			calls++
			return Permanent(errors.New("bad dsn"), "connect")
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if attempts != 1 || calls != 1 {
			t.Errorf("attempts = %d calls = %d, want 1", attempts, calls)
		}
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		attempts, err := Retry(context.Background(), fast, func(context.Context) error {
			return context.DeadlineExceeded
		})
		var catErr *CategorizedError
		if !errors.As(err, &catErr) {
			t.Fatalf("expected CategorizedError, got %v", err)
		}
		if catErr.Context != "max retries exceeded" {
			t.Errorf("context = %q", catErr.Context)
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("respects cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		attempts, err := Retry(ctx, fast, func(context.Context) error { return nil })
		if err == nil {
			t.Fatal("expected error")
		}
		if attempts != 0 {
			t.Errorf("attempts = %d, want 0", attempts)
		}
	})

	t.Run("reports each retry", func(t *testing.T) {
		var waits []int
		cfg := NewRetryConfig(
			WithMaxAttempts(3),
			WithInitialBackoff(time.Millisecond),
			WithRetryableFunc(func(error) bool { return true }),
			WithOnRetry(func(attempt int, err error, wait time.Duration) {
				waits = append(waits, attempt)
				if wait <= 0 {
					t.Errorf("wait = %v, want positive", wait)
				}
			}),
		)
		attempts, err := Retry(context.Background(), cfg, func(context.Context) error {
			return errors.New("connection refused")
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
		if len(waits) != 2 || waits[0] != 1 || waits[1] != 2 {
			t.Errorf("OnRetry attempts = %v, want [1 2]", waits)
		}
	})
}
