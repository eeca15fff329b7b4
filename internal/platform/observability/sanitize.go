package observability

import (
	"strings"
	"unicode"
)

// Length caps for values copied from requests into log fields.
const (
	maxRouteLen  = 180
	maxMethodLen = 10
	maxIDLen     = 64
)

// logSafe drops control characters (tabs and newlines survive) and caps the rune count.
func logSafe(value string, limit int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, value)
	if runes := []rune(cleaned); len(runes) > limit {
		return string(runes[:limit])
	}
	return cleaned
}

// SanitizeRoute prepares a route pattern or raw path for logging.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return logSafe(route, maxRouteLen)
}

// SanitizeMethod prepares an HTTP method for logging.
func SanitizeMethod(method string) string {
	return logSafe(method, maxMethodLen)
}

// SanitizeID prepares a user, order or request identifier for logging.
func SanitizeID(id string) string {
	return logSafe(id, maxIDLen)
}
