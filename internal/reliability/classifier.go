package reliability

import (
	"net/http"
	"strings"
)

// IsTransientAPIError reports whether a model API failure is worth retrying,
// judged by its HTTP status code or the canonical RPC status name in the
// error body. Either signal is enough.
func IsTransientAPIError(code int, status string) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "RESOURCE_EXHAUSTED", "UNAVAILABLE", "INTERNAL", "DEADLINE_EXCEEDED", "ABORTED":
		return true
	}
	return false
}
