package integration

import (
	"encoding/json"
	"net/http"
	"testing"
)

func TestRegisterThenLoginLifecycle(t *testing.T) {
	baseURL, client, closeFn := newAuthTestServer(t)
	defer closeFn()

	register(t, client, baseURL, "lifecycle@example.com", "correct-horse-battery")
	if cookieValue(t, client, baseURL, "session_token") == "" {
		t.Fatal("register must set the session cookie")
	}
	if cookieValue(t, client, baseURL, "csrf_token") == "" {
		t.Fatal("register must set the csrf cookie")
	}

	resp, env := login(t, client, baseURL, "lifecycle@example.com", "correct-horse-battery")
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("login failed: status=%d error=%+v", resp.StatusCode, env.Error)
	}

	resp, env = doJSON(t, client, http.MethodGet, baseURL+"/api/v1/me", nil, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("me failed: status=%d error=%+v", resp.StatusCode, env.Error)
	}
	var me struct {
		User struct {
			Email string `json:"email"`
		} `json:"user"`
		AuthMethod string `json:"auth_method"`
	}
	if err := json.Unmarshal(env.Data, &me); err != nil {
		t.Fatalf("decode me payload: %v", err)
	}
	if me.User.Email != "lifecycle@example.com" {
		t.Fatalf("me email = %q", me.User.Email)
	}
	if me.AuthMethod != "email" {
		t.Fatalf("auth_method = %q, want email", me.AuthMethod)
	}
}

// The login body itself may carry the csrf token; no header is required.
func TestLoginAcceptsCSRFTokenInBody(t *testing.T) {
	baseURL, client, closeFn := newAuthTestServer(t)
	defer closeFn()

	register(t, client, baseURL, "body-csrf@example.com", "correct-horse-battery")

	resp, env := doJSON(t, client, http.MethodPost, baseURL+"/api/v1/auth/login", map[string]string{
		"email":     "body-csrf@example.com",
		"password":  "correct-horse-battery",
		"csrfToken": testCSRFToken,
	}, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("login with body csrf token failed: status=%d error=%+v", resp.StatusCode, env.Error)
	}

	// Wrong credentials with the same body shape reach the credential check,
	// not a body-decoding rejection.
	resp, env = doJSON(t, client, http.MethodPost, baseURL+"/api/v1/auth/login", map[string]string{
		"email":     "body-csrf@example.com",
		"password":  "not-the-password-1",
		"csrfToken": testCSRFToken,
	}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong password with body csrf = %d, want 401", resp.StatusCode)
	}
	if env.Error == nil || env.Error.Code != "INVALID_CREDENTIALS" {
		t.Fatalf("unexpected envelope: %+v", env.Error)
	}
}

func TestLoginDoesNotRevealWhichFieldWasWrong(t *testing.T) {
	baseURL, client, closeFn := newAuthTestServer(t)
	defer closeFn()

	register(t, client, baseURL, "resident@example.com", "correct-horse-battery")

	respUnknown, envUnknown := login(t, client, baseURL, "nobody@example.com", "correct-horse-battery")
	respWrong, envWrong := login(t, client, baseURL, "resident@example.com", "wrong-password-here")

	if respUnknown.StatusCode != http.StatusUnauthorized || respWrong.StatusCode != http.StatusUnauthorized {
		t.Fatalf("both failures must be 401, got %d and %d", respUnknown.StatusCode, respWrong.StatusCode)
	}
	if envUnknown.Error == nil || envWrong.Error == nil {
		t.Fatal("both failures must carry an error envelope")
	}
	if envUnknown.Error.Code != envWrong.Error.Code || envUnknown.Error.Message != envWrong.Error.Message {
		t.Fatalf("unknown-email and wrong-password answers differ: %+v vs %+v", envUnknown.Error, envWrong.Error)
	}
}

func TestLoginRateLimitEngagesAfterBudget(t *testing.T) {
	baseURL, client, closeFn := newAuthTestServer(t)
	defer closeFn()

	register(t, client, baseURL, "throttled@example.com", "correct-horse-battery")

	var resp *http.Response
	var env envelope
	for i := 0; i < 11; i++ {
		resp, env = login(t, client, baseURL, "throttled@example.com", "wrong-password-here")
	}
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("11th attempt = %d, want 429", resp.StatusCode)
	}
	if env.Error == nil || env.Error.Code != "RATE_LIMIT_EXCEEDED" {
		t.Fatalf("unexpected error envelope: %+v", env.Error)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("429 must carry Retry-After")
	}
	if got := resp.Header.Get("X-RateLimit-Limit"); got != "10" {
		t.Fatalf("X-RateLimit-Limit = %q, want 10", got)
	}
	if got := resp.Header.Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("X-RateLimit-Remaining = %q, want 0", got)
	}

	// The throttle keys on client address, so even the right password is
	// refused until the window passes.
	resp, _ = login(t, client, baseURL, "throttled@example.com", "correct-horse-battery")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("correct password during lockout = %d, want 429", resp.StatusCode)
	}
}

func TestRegisterRejectsDuplicateCredentialAccount(t *testing.T) {
	baseURL, client, closeFn := newAuthTestServer(t)
	defer closeFn()

	register(t, client, baseURL, "taken@example.com", "correct-horse-battery")

	resp, env := doJSON(t, client, http.MethodPost, baseURL+"/api/v1/auth/register", map[string]string{
		"email":    "taken@example.com",
		"password": "another-password-1",
		"name":     "Second Try",
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("duplicate register = %d, want 400", resp.StatusCode)
	}
	if env.Error == nil || env.Error.Code != "VALIDATION_ERROR" {
		t.Fatalf("unexpected error envelope: %+v", env.Error)
	}
}
