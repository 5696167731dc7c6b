package usecase

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"sparkie/internal/domain"
)

// ErrorCategory indicates whether an error is retryable or permanent.
type ErrorCategory int

const (
	ErrorCategoryUnknown   ErrorCategory = iota
	ErrorCategoryRetryable               // 404, 408, 429, 5xx, timeouts, open circuit, empty output
	ErrorCategoryPermanent               // 400 (non-overflow), 401, 403, 422, malformed
)

func (c ErrorCategory) String() string {
	switch c {
	case ErrorCategoryRetryable:
		return "retryable"
	case ErrorCategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ClassifiedError holds the result of error classification.
type ClassifiedError struct {
	Original   error
	Category   ErrorCategory
	Sentinel   error // mapped domain sentinel (e.g. domain.ErrRateLimit), or nil
	StatusCode int   // extracted HTTP status, or 0 if unknown
}

// Transient reports whether another model may succeed where this one failed.
// Unknown errors count as transient.
func (c ClassifiedError) Transient() bool {
	return c.Category != ErrorCategoryPermanent
}

// ErrorClassifier analyzes LLM provider errors and categorizes them.
type ErrorClassifier struct{}

// NewErrorClassifier creates a new classifier.
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// apiErrorPattern matches "API error <status_code>:" produced by the LLM adapter.
var apiErrorPattern = regexp.MustCompile(`API error (\d+):`)

// contextOverflowKeywords mark a 400 body as a context length problem.
var contextOverflowKeywords = []string{
	"context length", "context window", "too many tokens", "maximum context", "token limit",
}

// sentinelCategories is checked in order; the first wrapped sentinel wins.
var sentinelCategories = []struct {
	sentinel error
	category ErrorCategory
}{
	{domain.ErrAuthInvalid, ErrorCategoryPermanent},
	{domain.ErrInvalidInput, ErrorCategoryPermanent},
	{domain.ErrRateLimit, ErrorCategoryRetryable},
	{domain.ErrContextOverflow, ErrorCategoryRetryable},
	{domain.ErrServerError, ErrorCategoryRetryable},
	{domain.ErrTimeout, ErrorCategoryRetryable},
	{domain.ErrNotFound, ErrorCategoryRetryable},
	{domain.ErrCircuitOpen, ErrorCategoryRetryable},
	{domain.ErrEmptyResponse, ErrorCategoryRetryable},
	{domain.ErrProviderNotFound, ErrorCategoryRetryable},
	{context.DeadlineExceeded, ErrorCategoryRetryable},
}

// Classify inspects an error (typically from an LLM provider) and returns
// a ClassifiedError with category and mapped sentinel.
func (c *ErrorClassifier) Classify(err error) ClassifiedError {
	if err == nil {
		return ClassifiedError{}
	}

	// Check wrapped domain sentinels first (from mapHTTPError).
	if sentinel := c.classifyBySentinel(err); sentinel.Category != ErrorCategoryUnknown {
		return sentinel
	}

	errStr := err.Error()

	// Try to extract HTTP status code from "API error NNN:" pattern.
	if matches := apiErrorPattern.FindStringSubmatch(errStr); len(matches) == 2 {
		code, _ := strconv.Atoi(matches[1])
		return c.classifyByStatus(err, code, errStr)
	}

	// String-based fallback for non-API errors (network, timeout, etc.).
	return c.classifyByString(err, errStr)
}

func (c *ErrorClassifier) classifyBySentinel(err error) ClassifiedError {
	for _, sc := range sentinelCategories {
		if errors.Is(err, sc.sentinel) {
			return ClassifiedError{Original: err, Category: sc.category, Sentinel: sc.sentinel}
		}
	}
	return ClassifiedError{Original: err, Category: ErrorCategoryUnknown}
}

func (c *ErrorClassifier) classifyByStatus(err error, code int, body string) ClassifiedError {
	switch {
	case code == 429:
		return ClassifiedError{
			Original: err, Category: ErrorCategoryRetryable,
			Sentinel: domain.ErrRateLimit, StatusCode: code,
		}
	case code == 401 || code == 403:
		return ClassifiedError{
			Original: err, Category: ErrorCategoryPermanent,
			Sentinel: domain.ErrAuthInvalid, StatusCode: code,
		}
	case code == 413:
		return ClassifiedError{
			Original: err, Category: ErrorCategoryRetryable,
			Sentinel: domain.ErrContextOverflow, StatusCode: code,
		}
	case code == 400 || code == 422:
		lower := strings.ToLower(body)
		for _, kw := range contextOverflowKeywords {
			if strings.Contains(lower, kw) {
				return ClassifiedError{
					Original: err, Category: ErrorCategoryRetryable,
					Sentinel: domain.ErrContextOverflow, StatusCode: code,
				}
			}
		}
		return ClassifiedError{
			Original: err, Category: ErrorCategoryPermanent,
			Sentinel: domain.ErrInvalidInput, StatusCode: code,
		}
	case code == 404 || code == 408 || (code >= 500 && code < 600):
		return ClassifiedError{
			Original: err, Category: ErrorCategoryRetryable, StatusCode: code,
		}
	default:
		return ClassifiedError{
			Original: err, Category: ErrorCategoryPermanent, StatusCode: code,
		}
	}
}

func (c *ErrorClassifier) classifyByString(err error, errStr string) ClassifiedError {
	lower := strings.ToLower(errStr)

	for _, p := range []string{"rate limit", "too many requests"} {
		if strings.Contains(lower, p) {
			return ClassifiedError{
				Original: err, Category: ErrorCategoryRetryable,
				Sentinel: domain.ErrRateLimit,
			}
		}
	}

	for _, p := range contextOverflowKeywords {
		if strings.Contains(lower, p) {
			return ClassifiedError{
				Original: err, Category: ErrorCategoryRetryable,
				Sentinel: domain.ErrContextOverflow,
			}
		}
	}

	for _, p := range []string{
		"connection refused", "no such host", "timeout",
		"deadline exceeded", "connection reset", "eof",
	} {
		if strings.Contains(lower, p) {
			return ClassifiedError{
				Original: err, Category: ErrorCategoryRetryable,
			}
		}
	}

	return ClassifiedError{Original: err, Category: ErrorCategoryUnknown}
}
