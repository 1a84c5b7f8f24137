package util

import (
	"html"
	"strings"
)

// NormalizeEmail lower-cases and trims an email address so lookups are
// case-insensitive. Callers must normalize before hashing or querying.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SanitizeInput escapes HTML/script-like characters
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}
