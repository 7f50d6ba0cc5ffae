package security

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"
)

func TestGenerateCodeVerifierShapeAndUniqueness(t *testing.T) {
	v1, err := GenerateCodeVerifier()
	if err != nil {
		t.Fatalf("generate verifier: %v", err)
	}
	v2, err := GenerateCodeVerifier()
	if err != nil {
		t.Fatalf("generate second verifier: %v", err)
	}
	if v1 == v2 {
		t.Fatal("two verifiers must not collide")
	}
	// 32 bytes -> 43 chars of unpadded base64url
	if len(v1) != 43 {
		t.Fatalf("expected 43-char verifier, got %d", len(v1))
	}
	if strings.ContainsAny(v1, "+/=") {
		t.Fatalf("verifier must be base64url without padding, got %q", v1)
	}
	if _, err := base64.RawURLEncoding.DecodeString(v1); err != nil {
		t.Fatalf("verifier not decodable: %v", err)
	}
}

func TestCodeChallengeS256Deterministic(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	c1 := CodeChallengeS256(verifier)
	c2 := CodeChallengeS256(verifier)
	if c1 != c2 {
		t.Fatalf("challenge must be a pure function of the verifier: %q vs %q", c1, c2)
	}
	sum := sha256.Sum256([]byte(verifier))
	if want := base64.RawURLEncoding.EncodeToString(sum[:]); c1 != want {
		t.Fatalf("challenge mismatch: got %q want %q", c1, want)
	}
}

func TestCodeChallengeS256DistinctInputs(t *testing.T) {
	if CodeChallengeS256("verifier-a") == CodeChallengeS256("verifier-b") {
		t.Fatal("distinct verifiers must produce distinct challenges")
	}
}

func TestGenerateStateHexEncoded(t *testing.T) {
	state, err := GenerateState()
	if err != nil {
		t.Fatalf("generate state: %v", err)
	}
	if len(state) != 32 {
		t.Fatalf("expected 32 hex chars for 16 bytes, got %d", len(state))
	}
	if _, err := hex.DecodeString(state); err != nil {
		t.Fatalf("state not hex: %v", err)
	}
	other, err := GenerateState()
	if err != nil {
		t.Fatalf("generate second state: %v", err)
	}
	if state == other {
		t.Fatal("two states must not collide")
	}
}
