package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)
	controlRegex  = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
)

// ValidateCurrency checks for a three-letter ISO 4217 style code, any case
func ValidateCurrency(code string) error {
	if !currencyRegex.MatchString(strings.ToUpper(strings.TrimSpace(code))) {
		return fmt.Errorf("invalid currency code: %q", code)
	}
	return nil
}

// SanitizeString removes control characters other than tab and newlines
// and trims surrounding whitespace
func SanitizeString(s string) string {
	return strings.TrimSpace(controlRegex.ReplaceAllString(s, ""))
}
