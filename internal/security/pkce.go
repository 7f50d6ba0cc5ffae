package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const pkceVerifierBytes = 32

// GenerateCodeVerifier returns a fresh PKCE code verifier: 32 bytes from the
// platform CSPRNG, base64url without padding (RFC 7636 §4.1). Fails closed if
// the random source is unavailable; there is no PRNG fallback for anything
// feeding the challenge/verifier pair.
func GenerateCodeVerifier() (string, error) {
	buf := make([]byte, pkceVerifierBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("pkce verifier: secure random unavailable: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// CodeChallengeS256 derives the S256 code challenge from a verifier:
// base64url(SHA-256(ascii(verifier))) without padding. Pure function of the
// verifier. The plain challenge method is intentionally not offered.
func CodeChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// GenerateState returns a 16-byte hex-encoded CSRF protection token for the
// OAuth authorization round-trip. Verified independently of PKCE on callback.
func GenerateState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("oauth state: secure random unavailable: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
