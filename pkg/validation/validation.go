package validation

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length in runes
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}

// ValidateFileSafeID validates an identifier that ends up as a file name:
// valid UTF-8, no control characters, no path separators and not a dot name.
func ValidateFileSafeID(id, fieldName string, maxLen int) error {
	if err := ValidateNonEmptyString(id, fieldName); err != nil {
		return err
	}
	if err := ValidateStringLength(id, 1, maxLen, fieldName); err != nil {
		return err
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%s is not valid UTF-8", fieldName)
	}
	if id == "." || id == ".." {
		return fmt.Errorf("%s must not be a dot name", fieldName)
	}
	for _, r := range id {
		if r == '/' || r == '\\' || unicode.IsControl(r) {
			return fmt.Errorf("%s contains invalid character %q", fieldName, r)
		}
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateTimeWindow checks that end does not precede start. Zero values are
// treated as unknown and accepted.
func ValidateTimeWindow(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return nil
	}
	if end.Before(start) {
		return fmt.Errorf("end date %s is before start date %s",
			end.UTC().Format(time.RFC3339), start.UTC().Format(time.RFC3339))
	}
	return nil
}
