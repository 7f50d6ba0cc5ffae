package security

import "testing"

func TestNewCSRFTokenUniqueAndWellFormed(t *testing.T) {
	t1, err := NewCSRFToken()
	if err != nil {
		t.Fatalf("mint csrf token: %v", err)
	}
	t2, err := NewCSRFToken()
	if err != nil {
		t.Fatalf("mint second csrf token: %v", err)
	}
	if t1 == t2 {
		t.Fatal("csrf tokens must not collide")
	}
	if !ValidCSRFTokenFormat(t1) {
		t.Fatalf("minted token failed its own format check: %q", t1)
	}
}

func TestCSRFTokenEqual(t *testing.T) {
	if !CSRFTokenEqual("abc123", "abc123") {
		t.Fatal("identical tokens must compare equal")
	}
	if CSRFTokenEqual("abc123", "abc124") {
		t.Fatal("distinct tokens must not compare equal")
	}
	if CSRFTokenEqual("", "") {
		t.Fatal("empty tokens never compare equal")
	}
}

func TestValidCSRFTokenFormat(t *testing.T) {
	cases := map[string]bool{
		"":                  false,
		"short":             false,
		"valid_token-12345": true,
		"has space in it 1": false,
		"semi;colon-tokens": false,
	}
	for input, want := range cases {
		if got := ValidCSRFTokenFormat(input); got != want {
			t.Fatalf("ValidCSRFTokenFormat(%q)=%v want %v", input, got, want)
		}
	}
}
