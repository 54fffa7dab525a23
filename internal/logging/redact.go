package logging

import (
	"encoding/json"
	"strings"
)

// Content fields that must never reach a log line verbatim.
var sensitiveFields = []string{
	"body",
	"formatted_body",
	"ciphertext",
	"session_key",
	"sender_key",
	"access_token",
}

// RedactedValue is the replacement for sensitive values.
const RedactedValue = "[REDACTED]"

// RedactMap redacts sensitive fields in a map, recursing into nested maps.
func RedactMap(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))

	for k, v := range m {
		switch {
		case isSensitive(k):
			result[k] = RedactedValue
		default:
			if nested, ok := v.(map[string]any); ok {
				result[k] = RedactMap(nested)
			} else {
				result[k] = v
			}
		}
	}

	return result
}

// RedactJSON returns raw JSON content with sensitive fields replaced.
// Content that is not a JSON object is replaced entirely.
func RedactJSON(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return RedactedValue
	}
	out, err := json.Marshal(RedactMap(m))
	if err != nil {
		return RedactedValue
	}
	return string(out)
}

func isSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, field := range sensitiveFields {
		if lower == field {
			return true
		}
	}
	return false
}
