// Package redact strips credentials from strings before they are logged.
//
// The imitator handles three kinds of secrets: the Matrix access token of the
// user account, generation backend keys, and short-lived backend OAuth
// tokens. None of them may appear in log output, and error messages from
// HTTP clients frequently echo request headers or URLs that carry them.
//
// Redaction is best-effort. It does not replace keeping secrets out of log
// call-sites in the first place.
package redact

import (
	"regexp"
	"strings"
)

const placeholder = "[REDACTED]"

var (
	bearerPattern      = regexp.MustCompile(`(?i)(bearer|basic)\s+[A-Za-z0-9._~+/=-]{8,}`)
	accessTokenPattern = regexp.MustCompile(`(?i)(access_token=)[^&\s"]+`)
)

// String replaces every occurrence of each sensitive value in s with
// [REDACTED]. Values shorter than 4 characters are skipped to avoid spurious
// redaction of common substrings.
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Headers masks Authorization-style credentials ("Bearer …", "Basic …") and
// access_token query parameters that HTTP client errors tend to echo.
func Headers(s string) string {
	s = bearerPattern.ReplaceAllString(s, "$1 "+placeholder)
	return accessTokenPattern.ReplaceAllString(s, "${1}"+placeholder)
}

// Map returns a shallow copy of m with string values replaced by [REDACTED]
// for every key whose name suggests a secret. Used before metadata or audit
// payloads are logged.
func Map(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if isSensitiveKey(k) {
			if str, ok := v.(string); ok && str != "" {
				out[k] = placeholder
				continue
			}
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, word := range []string{"password", "token", "secret", "key", "credential", "auth"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}
