package security

import (
	"html"
	"strings"
)

// SanitizeEmailForLog HTML-escapes and truncates an email before it reaches
// log output. Defense in depth against injection into downstream log
// viewers, not primary validation.
func SanitizeEmailForLog(email string) string {
	email = strings.TrimSpace(email)
	if len(email) > 254 {
		email = email[:254]
	}
	return html.EscapeString(email)
}
