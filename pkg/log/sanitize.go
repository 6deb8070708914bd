package log

import (
	"net/url"
	"strings"
)

var sensitiveKeywords = []string{
	"password", "passwd", "pwd",
	"api_key", "apikey", "api-key", "servicekey", "service_key",
	"token", "secret", "authorization",
	"credential", "private_key", "dsn",
}

// SanitizeField checks if the key contains sensitive keywords and sanitizes the value
func SanitizeField(key, value string) string {
	if value == "" {
		return value
	}

	lowerKey := strings.ToLower(key)

	for _, keyword := range sensitiveKeywords {
		if strings.Contains(lowerKey, keyword) {
			return sanitizeToken(value)
		}
	}

	// probe targets and webhook endpoints may carry credentials in userinfo or query
	if strings.HasSuffix(lowerKey, "url") || lowerKey == "endpoint" {
		return SanitizeURL(value)
	}

	return value
}

// sanitizeToken masks values showing only first 4 and last 4 characters
func sanitizeToken(value string) string {
	if len(value) <= 8 {
		if len(value) <= 2 {
			return strings.Repeat("*", len(value))
		}
		return string(value[0]) + strings.Repeat("*", len(value)-2) + string(value[len(value)-1])
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// SanitizeURL masks the password and any credential-looking query parameters
// of raw. Unparseable input is returned unchanged.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "redacted")
		}
	}
	if u.RawQuery != "" {
		q := u.Query()
		masked := false
		for k, vs := range q {
			lk := strings.ToLower(k)
			for _, keyword := range sensitiveKeywords {
				if strings.Contains(lk, keyword) {
					for i := range vs {
						vs[i] = sanitizeToken(vs[i])
					}
					masked = true
					break
				}
			}
		}
		if masked {
			u.RawQuery = q.Encode()
		}
	}
	return u.String()
}
