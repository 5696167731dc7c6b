package tool

import (
	"errors"
	"strings"

	"sparkie/internal/domain"
)

// retryableSentinels are domain errors for backend trouble that usually
// clears on its own.
var retryableSentinels = []error{
	domain.ErrTimeout,
	domain.ErrProviderError,
	domain.ErrRateLimit,
	domain.ErrServerError,
	domain.ErrConnector,
}

// retryablePatterns are matched case-insensitively against error text of
// errors that carry no sentinel.
var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"timeout",
	"deadline exceeded",
	"temporarily unavailable",
	"service unavailable",
	"too many requests",
	"try again",
}

// classifyToolError reports whether err is transient.
func classifyToolError(err error) bool {
	if err == nil {
		return false
	}
	for _, sentinel := range retryableSentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	lower := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
