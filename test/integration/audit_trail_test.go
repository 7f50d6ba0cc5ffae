package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/brewlog/auth-service/internal/config"
)

// A rotation is a fresh credential grant, so it lands in the audit trail as a
// login with the refreshed_session marker.
func TestRefreshRotationAuditsLogin(t *testing.T) {
	baseURL, client, closeFn := newAuthTestServerWithOptions(t, authTestServerOptions{
		cfgOverride: func(cfg *config.Config) {
			// Guard wider than the ttl forces every refresh to rotate.
			cfg.SessionTTL = time.Hour
			cfg.RefreshGuard = 2 * time.Hour
		},
	})
	defer closeFn()

	register(t, client, baseURL, "rotator@example.com", "correct-horse-battery")
	csrf := cookieValue(t, client, baseURL, "csrf_token")

	events := captureAuditEvents(t, func() {
		resp, env := doJSON(t, client, http.MethodPost, baseURL+"/api/v1/session/refresh", nil, map[string]string{
			"X-CSRF-Token": csrf,
		})
		if resp.StatusCode != http.StatusOK || !env.Success {
			t.Fatalf("refresh failed: status=%d error=%+v", resp.StatusCode, env.Error)
		}
	})

	for _, record := range events {
		if record["event"] == "login" && record["refreshed_session"] == true {
			return
		}
	}
	t.Fatalf("expected login audit with refreshed_session=true, got %#v", events)
}

func TestRefreshOfExpiredSessionAuditsFailedLogin(t *testing.T) {
	baseURL, client, closeFn := newAuthTestServerWithOptions(t, authTestServerOptions{
		cfgOverride: func(cfg *config.Config) {
			cfg.SessionTTL = 200 * time.Millisecond
		},
	})
	defer closeFn()

	register(t, client, baseURL, "expired-refresh@example.com", "correct-horse-battery")
	// The jar drops the cookie once it expires, so keep the raw values to
	// replay them the way a stale tab would.
	session := cookieValue(t, client, baseURL, "session_token")
	csrf := cookieValue(t, client, baseURL, "csrf_token")

	time.Sleep(300 * time.Millisecond)

	events := captureAuditEvents(t, func() {
		resp, env := doJSON(t, client, http.MethodPost, baseURL+"/api/v1/session/refresh", nil, map[string]string{
			"Cookie":       "session_token=" + session + "; csrf_token=" + csrf,
			"X-CSRF-Token": csrf,
		})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("refresh of expired session = %d, want 401", resp.StatusCode)
		}
		if env.Error == nil || env.Error.Code != "SESSION_EXPIRED" {
			t.Fatalf("unexpected error envelope: %+v", env.Error)
		}
	})

	requireAuditEvent(t, events, "failed_login", "session_expired")
}

func TestValidateOfExpiredSessionAuditsFailedLogin(t *testing.T) {
	baseURL, client, closeFn := newAuthTestServerWithOptions(t, authTestServerOptions{
		cfgOverride: func(cfg *config.Config) {
			cfg.SessionTTL = 200 * time.Millisecond
		},
	})
	defer closeFn()

	register(t, client, baseURL, "expired-validate@example.com", "correct-horse-battery")
	session := cookieValue(t, client, baseURL, "session_token")

	time.Sleep(300 * time.Millisecond)

	events := captureAuditEvents(t, func() {
		resp, env := doJSON(t, client, http.MethodGet, baseURL+"/api/v1/session/validate", nil, map[string]string{
			"Cookie": "session_token=" + session,
		})
		if resp.StatusCode != http.StatusOK || !env.Success {
			t.Fatalf("validate of expired session = %d error=%+v, want 200", resp.StatusCode, env.Error)
		}
		if validityOf(t, env) {
			t.Fatal("expired session must validate as invalid")
		}
	})

	requireAuditEvent(t, events, "failed_login", "session_expired")
}
