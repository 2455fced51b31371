package core

import "strings"

const RedactedValue = "[REDACTED]"

// RedactFields masks values whose keys look like credentials or webhook
// signatures. Nested maps and slices are walked; the input is not modified.
func RedactFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	return redactMap(fields)
}

// RedactHeaders masks signature and authorization headers in a normalized
// header map.
func RedactHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for key, value := range headers {
		if shouldRedactKey(key) {
			out[key] = RedactedValue
			continue
		}
		out[key] = value
	}
	return out
}

func redactMap(source map[string]any) map[string]any {
	target := make(map[string]any, len(source))
	for key, value := range source {
		if shouldRedactKey(key) {
			target[key] = RedactedValue
			continue
		}
		target[key] = redactValue(value)
	}
	return target
}

func redactValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return redactMap(typed)
	case map[string]string:
		return RedactHeaders(typed)
	case []any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = redactValue(typed[i])
		}
		return out
	default:
		return value
	}
}

var sensitiveTokens = []string{
	"password",
	"secret",
	"token",
	"authorization",
	"api_key",
	"apikey",
	"x-api-key",
	"signature",
	"seal_key",
}

func shouldRedactKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || isTraceabilityKey(key) {
		return false
	}
	for _, token := range sensitiveTokens {
		if strings.Contains(key, token) {
			return true
		}
	}
	return false
}

// isTraceabilityKey keeps correlation ids readable even when they contain a
// sensitive token.
func isTraceabilityKey(key string) bool {
	switch key {
	case "delivery_id",
		"request_id",
		"requestid",
		"payment_reference",
		"claim_id",
		"idempotency_key",
		"trace_id",
		"signature_header",
		"x-request-network-delivery":
		return true
	default:
		return false
	}
}
