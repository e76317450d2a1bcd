package observability

import "unicode"

// sanitizeString drops control characters and caps the rune count to keep log lines safe.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	cleaned := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) {
			continue
		}
		cleaned = append(cleaned, r)
		if len(cleaned) == limit {
			break
		}
	}
	return string(cleaned)
}

// SanitizeRoute cleans a route pattern for logging.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeMethod cleans an HTTP method.
func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeSubject cleans a caller identifier (Firebase uid or service account e-mail).
func SanitizeSubject(subject string) string {
	return sanitizeString(subject, 64)
}
