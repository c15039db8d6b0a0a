package logger

import (
	"net/url"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const redacted = "***"

var sensitiveTokens = []string{
	"password",
	"token",
	"apikey",
	"secret",
	"authorization",
	"cookie",
}

// SanitizeFields masks values whose key, or any nested map key, looks like a
// credential. Scalar fields under other keys pass through untouched.
func SanitizeFields(fields []zap.Field) []zap.Field {
	if len(fields) == 0 {
		return fields
	}

	sanitized := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		if isSensitiveKey(field.Key) {
			sanitized = append(sanitized, zap.String(field.Key, redacted))
			continue
		}

		switch field.Type {
		case zapcore.ReflectType, zapcore.ObjectMarshalerType, zapcore.ArrayMarshalerType:
		default:
			sanitized = append(sanitized, field)
			continue
		}

		enc := zapcore.NewMapObjectEncoder()
		field.AddTo(enc)
		value, ok := enc.Fields[field.Key]
		if !ok {
			sanitized = append(sanitized, field)
			continue
		}
		sanitized = append(sanitized, zap.Any(field.Key, sanitizeValue(value)))
	}

	return sanitized
}

func sanitizeValue(value interface{}) interface{} {
	switch typed := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			if isSensitiveKey(k) {
				out[k] = redacted
				continue
			}
			out[k] = sanitizeValue(v)
		}
		return out
	case url.Values:
		return sanitizeValue(map[string][]string(typed))
	case map[string][]string:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			if isSensitiveKey(k) {
				out[k] = redacted
				continue
			}
			out[k] = v
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(typed))
		for _, item := range typed {
			out = append(out, sanitizeValue(item))
		}
		return out
	default:
		return typed
	}
}

func isSensitiveKey(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "" {
		return false
	}
	normalized = strings.NewReplacer("-", "", "_", "").Replace(normalized)

	for _, token := range sensitiveTokens {
		if strings.Contains(normalized, token) {
			return true
		}
	}
	return false
}
