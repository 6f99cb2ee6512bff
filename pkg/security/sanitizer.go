// Package security sanitizes outbound text and records security events on
// the audit channel. Error messages and composed answers pass through
// Sanitize before they reach a client.
package security

import (
	"regexp"

	"github.com/linecook-ai/linecook/pkg/log"
)

const redacted = "[REDACTED]"

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`(\+?\d{1,2}[\s.\-]?)?(\(?\d{3}\)?[\s.\-]?)\d{3}[\s.\-]?\d{4}\b`)
	// password=..., api_key: ..., token = "...", secret: ...
	secretPattern = regexp.MustCompile(`(?i)\b(password|passwd|pwd|api[_\-]?key|secret|token|credential)s?\b\s*[:=]\s*\S+`)
)

// Sanitize replaces email-like, phone-like, and password-keyed tokens with
// [REDACTED]. Replacement is unconditional; there is no allow list.
func Sanitize(s string) string {
	out := secretPattern.ReplaceAllStringFunc(s, func(m string) string {
		loc := regexp.MustCompile(`[:=]`).FindStringIndex(m)
		return m[:loc[1]] + " " + redacted
	})
	out = emailPattern.ReplaceAllString(out, redacted)
	out = phonePattern.ReplaceAllString(out, redacted)

	if out != s {
		log.Audit("output sanitized", "replaced", true)
	}
	return out
}

// SanitizeError renders an error for clients, redacting anything
// sensitive. A nil error yields an empty string.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return Sanitize(err.Error())
}
