package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"sparkie/internal/domain"
)

func TestClassifyNilError(t *testing.T) {
	got := NewErrorClassifier().Classify(nil)
	if got.Category != ErrorCategoryUnknown || got.Original != nil {
		t.Errorf("Classify(nil) = %+v", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category ErrorCategory
		sentinel error
		status   int
	}{
		{"wrapped rate limit", fmt.Errorf("%w: API error 429: slow", domain.ErrRateLimit), ErrorCategoryRetryable, domain.ErrRateLimit, 0},
		{"wrapped auth", fmt.Errorf("%w: bad key", domain.ErrAuthInvalid), ErrorCategoryPermanent, domain.ErrAuthInvalid, 0},
		{"wrapped bad request", fmt.Errorf("%w: bad schema", domain.ErrInvalidInput), ErrorCategoryPermanent, domain.ErrInvalidInput, 0},
		{"wrapped server", fmt.Errorf("%w: API error 503: x", domain.ErrServerError), ErrorCategoryRetryable, domain.ErrServerError, 0},
		{"circuit open", fmt.Errorf("%w: m", domain.ErrCircuitOpen), ErrorCategoryRetryable, domain.ErrCircuitOpen, 0},
		{"empty output", domain.ErrEmptyResponse, ErrorCategoryRetryable, domain.ErrEmptyResponse, 0},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), ErrorCategoryRetryable, context.DeadlineExceeded, 0},
		{"status 429", errors.New("API error 429: rate limit exceeded"), ErrorCategoryRetryable, domain.ErrRateLimit, 429},
		{"status 401", errors.New("API error 401: unauthorized"), ErrorCategoryPermanent, domain.ErrAuthInvalid, 401},
		{"status 403", errors.New("API error 403: forbidden"), ErrorCategoryPermanent, domain.ErrAuthInvalid, 403},
		{"status 413", errors.New("API error 413: too large"), ErrorCategoryRetryable, domain.ErrContextOverflow, 413},
		{"status 400 overflow", errors.New("API error 400: maximum context length exceeded"), ErrorCategoryRetryable, domain.ErrContextOverflow, 400},
		{"status 400", errors.New("API error 400: invalid request"), ErrorCategoryPermanent, domain.ErrInvalidInput, 400},
		{"status 404", errors.New("API error 404: no such model"), ErrorCategoryRetryable, nil, 404},
		{"status 502", errors.New("API error 502: bad gateway"), ErrorCategoryRetryable, nil, 502},
		{"status 418", errors.New("API error 418: teapot"), ErrorCategoryPermanent, nil, 418},
		{"string rate limit", errors.New("upstream says too many requests"), ErrorCategoryRetryable, domain.ErrRateLimit, 0},
		{"connection refused", errors.New("dial tcp: connection refused"), ErrorCategoryRetryable, nil, 0},
		{"unexpected eof", errors.New("read: unexpected EOF"), ErrorCategoryRetryable, nil, 0},
		{"unknown", errors.New("something odd"), ErrorCategoryUnknown, nil, 0},
	}

	c := NewErrorClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.err)
			if got.Category != tt.category {
				t.Errorf("Category = %v, want %v", got.Category, tt.category)
			}
			if tt.sentinel != nil && !errors.Is(got.Sentinel, tt.sentinel) {
				t.Errorf("Sentinel = %v, want %v", got.Sentinel, tt.sentinel)
			}
			if tt.sentinel == nil && got.Sentinel != nil {
				t.Errorf("Sentinel = %v, want nil", got.Sentinel)
			}
			if got.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", got.StatusCode, tt.status)
			}
			if got.Original != tt.err {
				t.Error("Original not preserved")
			}
		})
	}
}

func TestClassifiedErrorTransient(t *testing.T) {
	for cat, want := range map[ErrorCategory]bool{
		ErrorCategoryUnknown:   true,
		ErrorCategoryRetryable: true,
		ErrorCategoryPermanent: false,
	} {
		if got := (ClassifiedError{Category: cat}).Transient(); got != want {
			t.Errorf("%v.Transient() = %v, want %v", cat, got, want)
		}
	}
}
