package logger

import (
	"log/slog"
	"strings"
)

// Value prefixes of plaintext credentials. Matching values are masked but
// keep a short hint for correlation.
var sensitiveValuePrefixes = []string{
	"tvdl_", // download token
	"Bearer ",
}

// Key fragments whose non-empty string values are fully redacted.
var sensitiveKeyPatterns = []string{
	"password",
	"secret",
	"credential",
	"authorization",
	"bearer",
	"jwt",
	"dsn",
}

const redactedValue = "***REDACTED***"

func redactSensitive(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		v := a.Value.String()
		if prefix, ok := sensitivePrefix(v); ok {
			return slog.String(a.Key, maskValue(v, prefix))
		}
		if v != "" && IsSensitiveKey(a.Key) {
			return slog.String(a.Key, redactedValue)
		}
	case slog.KindGroup:
		attrs := a.Value.Group()
		out := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			out[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}
	return a
}

func sensitivePrefix(v string) (string, bool) {
	for _, p := range sensitiveValuePrefixes {
		if strings.HasPrefix(v, p) {
			return p, true
		}
	}
	return "", false
}

// maskValue keeps prefix, the first and last three characters.
func maskValue(value, prefix string) string {
	body := value[len(prefix):]
	if len(body) <= 6 {
		return prefix + "***"
	}
	return prefix + body[:3] + "..." + body[len(body)-3:]
}

// RedactString masks value if it carries a sensitive prefix.
func RedactString(value string) string {
	if prefix, ok := sensitivePrefix(value); ok {
		return maskValue(value, prefix)
	}
	return value
}

// IsSensitiveKey checks if a key name suggests sensitive content.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, p := range sensitiveKeyPatterns {
		if strings.Contains(k, p) {
			return true
		}
	}
	return false
}

// IsSensitiveValue checks if a value appears to be a credential.
func IsSensitiveValue(value string) bool {
	_, ok := sensitivePrefix(value)
	return ok
}
