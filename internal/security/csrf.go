package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

const csrfTokenBytes = 32

// NewCSRFToken mints an opaque anti-forgery token. Rotated on every login
// and refresh.
func NewCSRFToken() (string, error) {
	buf := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("csrf token: secure random unavailable: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// CSRFTokenEqual compares two CSRF tokens in constant time.
func CSRFTokenEqual(a, b string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ValidCSRFTokenFormat checks structural plausibility of a presented token
// before any store lookup. Value binding against the session is enforced by
// the session service.
func ValidCSRFTokenFormat(token string) bool {
	if len(token) < 16 || len(token) > 128 {
		return false
	}
	for _, c := range token {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}
