package logging

import (
	"regexp"
	"strings"
)

var (
	credentialPattern = regexp.MustCompile(`(?i)(access[_-]?token|auth[_-]?token|authorization|bearer)([=:\s]+["']?(?:bearer\s+)?)([^\s"'&,}]+)`)
	// Upstox access tokens are JWTs.
	jwtPattern = regexp.MustCompile(`eyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`)
)

// MaskCredential keeps at most the first and last four characters of value.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// Redact masks access tokens found in s, such as provider error bodies that
// echo the request.
func Redact(s string) string {
	s = jwtPattern.ReplaceAllStringFunc(s, MaskCredential)
	return credentialPattern.ReplaceAllStringFunc(s, func(match string) string {
		m := credentialPattern.FindStringSubmatch(match)
		if strings.Contains(m[3], "*") {
			return match
		}
		return m[1] + m[2] + MaskCredential(m[3])
	})
}
