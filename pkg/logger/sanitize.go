package logger

import (
	"net/url"
	"sort"
	"strings"
)

const redacted = "[REDACTED]"

// sensitiveParams are query keys whose values never reach the logs
var sensitiveParams = map[string]struct{}{
	"answer":      {},
	"code":        {},
	"email":       {},
	"fingerprint": {},
	"otp":         {},
	"password":    {},
	"secret":      {},
	"token":       {},
}

// SanitizedEmail masks an address for logging, e.g. "anna@example.com" becomes "a***@*******.com"
func SanitizedEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return "[invalid-email]"
	}

	masked := local[:1] + strings.Repeat("*", len(local)-1)

	if dot := strings.LastIndexByte(domain, '.'); dot > 0 {
		labels := strings.Split(domain[:dot], ".")
		for i, l := range labels {
			labels[i] = strings.Repeat("*", len(l))
		}
		domain = strings.Join(labels, ".") + domain[dot:]
	}
	return masked + "@" + domain
}

// RedactQuery replaces the values of sensitive query parameters. Keys are matched
// case-insensitively and by substring, so "challenge_token" and "Email" are both caught.
// A query that does not parse is redacted whole.
func RedactQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return redacted
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		sensitive := isSensitive(k)
		for _, v := range values[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			if sensitive {
				b.WriteString(redacted)
			} else {
				b.WriteString(url.QueryEscape(v))
			}
		}
	}
	return b.String()
}

func isSensitive(key string) bool {
	key = strings.ToLower(key)
	for p := range sensitiveParams {
		if strings.Contains(key, p) {
			return true
		}
	}
	return false
}
