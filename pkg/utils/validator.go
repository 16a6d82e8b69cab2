package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	serialNoRegex = regexp.MustCompile(`^[0-9]{4}[0-9]{5}$`)
	controlChars  = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
)

// ValidateSerialNo checks the financial-year serial format, e.g. 262700042
func ValidateSerialNo(serial string) error {
	if !serialNoRegex.MatchString(serial) {
		return fmt.Errorf("invalid serial number format: %s", serial)
	}
	return nil
}

// SanitizeString removes control characters but keeps newlines and tabs
func SanitizeString(s string) string {
	return strings.TrimSpace(controlChars.ReplaceAllString(s, ""))
}

// SanitizeRemarks cleans free-text remarks and caps their length
func SanitizeRemarks(s string, max int) string {
	s = SanitizeString(s)
	if max > 0 && len([]rune(s)) > max {
		s = string([]rune(s)[:max])
	}
	return s
}
