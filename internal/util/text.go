package util

import "strings"

func SanitizePostgresText(value string) string {
	if value == "" {
		return value
	}

	sanitized := strings.ToValidUTF8(value, "")
	return strings.ReplaceAll(sanitized, "\x00", "")
}

// CleanField sanitizes a free-text field and trims surrounding whitespace.
func CleanField(value string) string {
	return strings.TrimSpace(SanitizePostgresText(value))
}
