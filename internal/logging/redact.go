package logging

import (
	"regexp"
	"strings"
)

// Field names whose values are never logged.
var sensitiveFields = []string{
	"password",
	"passphrase",
	"secret",
	"token",
	"credential",
	"privatekey",
	"private_key",
}

var secretPatterns = []*regexp.Regexp{
	// sshpass style inline passwords
	regexp.MustCompile(`(sshpass\s+-p\s*)(\S+)`),

	// key=value and key: value assignments
	regexp.MustCompile(`(?i)((?:password|passphrase|secret|token)\s*[=:]\s*["']?)([^\s"',;]+)`),

	// Credentials embedded in URLs
	regexp.MustCompile(`(://[^/:@\s]+:)([^@\s]+)(@)`),
}

// RedactedValue is the replacement for sensitive values.
const RedactedValue = "[REDACTED]"

// Redact replaces inline secrets in a string, keeping the surrounding key.
func Redact(s string) string {
	result := secretPatterns[0].ReplaceAllString(s, "${1}"+RedactedValue)
	result = secretPatterns[1].ReplaceAllString(result, "${1}"+RedactedValue)
	return secretPatterns[2].ReplaceAllString(result, "${1}"+RedactedValue+"${3}")
}

// RedactMap returns a copy of m with sensitive keys masked, recursing into
// nested maps.
func RedactMap(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		switch value := v.(type) {
		case map[string]any:
			result[k] = RedactMap(value)
		case string:
			if IsSensitiveField(k) && value != "" {
				result[k] = RedactedValue
			} else {
				result[k] = Redact(value)
			}
		default:
			if IsSensitiveField(k) && v != nil {
				result[k] = RedactedValue
			} else {
				result[k] = v
			}
		}
	}
	return result
}

// RedactEnv redacts KEY=VALUE pairs, returning a safe copy.
func RedactEnv(env []string) []string {
	result := make([]string, len(env))
	for i, e := range env {
		key, value, ok := strings.Cut(e, "=")
		switch {
		case !ok:
			result[i] = e
		case IsSensitiveField(key):
			result[i] = key + "=" + RedactedValue
		default:
			result[i] = key + "=" + Redact(value)
		}
	}
	return result
}

// IsSensitiveField checks if a field name is considered sensitive.
func IsSensitiveField(name string) bool {
	lowerName := strings.ToLower(name)
	for _, field := range sensitiveFields {
		if strings.Contains(lowerName, field) {
			return true
		}
	}
	return false
}
