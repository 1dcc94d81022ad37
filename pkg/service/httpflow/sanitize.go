package httpflow

import (
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

const (
	redactedValue = "[REDACTED]"

	// maxLoggedBody bounds logged response bodies; full payloads go to the
	// archive sink when one is configured
	maxLoggedBody = 10 * 1024
)

// sensitiveKey matches JSON and form field names whose values must never be
// written to a log sink
var sensitiveKey = regexp.MustCompile(`(?i)password|token|secret|key|auth`)

// sensitiveFormFields are OAuth form fields redacted beyond the generic
// pattern: authorization codes and PKCE verifiers are credentials too
var sensitiveFormFields = map[string]bool{
	"code":          true,
	"code_verifier": true,
}

var sensitiveHeaders = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
	"x-auth-token":  true,
}

// SanitizeHeaders returns a loggable copy of headers with credential values
// redacted
func SanitizeHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for name, values := range headers {
		if sensitiveHeaders[strings.ToLower(name)] {
			out[name] = redactedValue
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

// SanitizeBody returns a loggable form of a response or request body: JSON
// bodies have sensitive keys redacted recursively, anything else is logged
// as-is, and the result is truncated to the logging bound.
func SanitizeBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var parsed any
	if err := json.Unmarshal(body, &parsed); err == nil {
		redacted := redactValue(parsed)
		if out, err := json.Marshal(redacted); err == nil {
			return truncate(string(out))
		}
	}

	return truncate(string(body))
}

// SanitizeForm returns a loggable copy of an OAuth form body
func SanitizeForm(form url.Values) map[string]string {
	out := make(map[string]string, len(form))
	for name, values := range form {
		if sensitiveKey.MatchString(name) || sensitiveFormFields[strings.ToLower(name)] {
			out[name] = redactedValue
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

func redactValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, child := range value {
			if sensitiveKey.MatchString(k) {
				out[k] = redactedValue
				continue
			}
			out[k] = redactValue(child)
		}
		return out
	case []any:
		out := make([]any, len(value))
		for i, child := range value {
			out[i] = redactValue(child)
		}
		return out
	default:
		return v
	}
}

func truncate(s string) string {
	if len(s) <= maxLoggedBody {
		return s
	}
	return s[:maxLoggedBody] + "...(truncated)"
}
