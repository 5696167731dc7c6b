package tool

import (
	"fmt"
	"net/mail"
	"slices"
	"strings"
)

// RequireFields validates required string fields given as name, value pairs.
func RequireFields(kvs ...string) error {
	if len(kvs)%2 != 0 {
		return fmt.Errorf("RequireFields: odd number of arguments")
	}
	for i := 0; i < len(kvs); i += 2 {
		if strings.TrimSpace(kvs[i+1]) == "" {
			return fmt.Errorf("'%s' is required", kvs[i])
		}
	}
	return nil
}

// ValidateEnum checks that value is one of allowed. An empty value passes.
func ValidateEnum(name, value string, allowed ...string) error {
	if value == "" || slices.Contains(allowed, value) {
		return nil
	}
	return fmt.Errorf("invalid %s %q (want: %s)", name, value, strings.Join(allowed, ", "))
}

// ValidateMaxLength checks that value does not exceed max runes.
func ValidateMaxLength(name, value string, max int) error {
	if len([]rune(value)) > max {
		return fmt.Errorf("%s exceeds maximum length of %d", name, max)
	}
	return nil
}

// ValidateEmail checks that value is a single RFC 5322 address.
func ValidateEmail(name, value string) error {
	if _, err := mail.ParseAddress(value); err != nil {
		return fmt.Errorf("invalid %s %q", name, value)
	}
	return nil
}

// ValidateAll returns the first non-nil error.
func ValidateAll(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// clampLimit returns n bounded to [1, max], using def when n is unset.
func clampLimit(n, def, max int) int {
	if n <= 0 {
		return def
	}
	return min(n, max)
}
