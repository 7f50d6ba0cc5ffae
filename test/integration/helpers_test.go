// Package integration boots the fully composed service and drives it over
// HTTP the way a browser would: cookies in a jar, csrf tokens echoed in
// headers, and no shortcuts through the service layer.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/brewlog/auth-service/internal/app"
	"github.com/brewlog/auth-service/internal/config"
)

var dbSeq atomic.Int64

// testCSRFToken is structurally valid for the pre-session format check.
const testCSRFToken = "integration-test-csrf-token-0123456789ab"

type apiError struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apiError       `json:"error"`
}

type authTestServerOptions struct {
	redis       bool
	cfgOverride func(*config.Config)
}

func newAuthTestServer(t *testing.T) (string, *http.Client, func()) {
	t.Helper()
	return newAuthTestServerWithOptions(t, authTestServerOptions{})
}

func newAuthTestServerWithOptions(t *testing.T, opts authTestServerOptions) (string, *http.Client, func()) {
	t.Helper()

	cfg := &config.Config{
		Profile:              "test",
		HTTPAddr:             "127.0.0.1:0",
		CORSOrigins:          []string{"http://localhost:3000"},
		SessionSecret:        "integration-secret-at-least-32-chars!!",
		SessionIssuer:        "brewlog-auth",
		SessionAudience:      "brewlog",
		SessionTTL:           7 * 24 * time.Hour,
		RefreshGuard:         15 * time.Minute,
		LoginRateLimit:       10,
		LoginRateWindow:      15 * time.Minute,
		LoginLockout:         30 * time.Minute,
		APIRateLimitRPM:      100000,
		AuthRateLimitRPM:     100000,
		DBDriver:             "sqlite",
		DBDSN:                fmt.Sprintf("file:integration_test_%d?mode=memory&cache=shared", dbSeq.Add(1)),
		OAuthEnabled:         true,
		OAuthStateTTL:        10 * time.Minute,
		OAuthExchangeTimeout: 2 * time.Second,
		OAuthProviders: map[string]config.OAuthProviderConfig{
			"google": {
				ClientID:     "integration-client",
				ClientSecret: "integration-secret",
				RedirectURL:  "http://localhost:8080/api/v1/auth/oauth/google/callback",
			},
		},
		ShutdownTimeout: 5 * time.Second,
	}
	if opts.redis {
		mr := miniredis.RunT(t)
		cfg.RedisEnabled = true
		cfg.RedisAddr = mr.Addr()
	}
	if opts.cfgOverride != nil {
		opts.cfgOverride(cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("compose app: %v", err)
	}

	srv := httptest.NewServer(a.Server.Handler)
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	client := &http.Client{Jar: jar, Timeout: 10 * time.Second}

	closeFn := func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	}
	return srv.URL, client, closeFn
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode envelope from %q: %v", raw, err)
		}
	}
	return resp, env
}

// doNoRedirect issues a request without following redirects, for inspecting
// OAuth authorize hops.
func doNoRedirect(t *testing.T, client *http.Client, method, url string) *http.Response {
	t.Helper()
	clone := *client
	clone.CheckRedirect = func(_ *http.Request, _ []*http.Request) error {
		return http.ErrUseLastResponse
	}
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := clone.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	_ = resp.Body.Close()
	return resp
}

func cookieValue(t *testing.T, client *http.Client, baseURL, name string) string {
	t.Helper()
	u, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("parse base url: %v", err)
	}
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// register creates a credential account and leaves its fresh session in the
// client's cookie jar.
func register(t *testing.T, client *http.Client, baseURL, email, password string) envelope {
	t.Helper()
	resp, env := doJSON(t, client, http.MethodPost, baseURL+"/api/v1/auth/register", map[string]string{
		"email":    email,
		"password": password,
		"name":     "Integration User",
	}, nil)
	if resp.StatusCode != http.StatusCreated || !env.Success {
		t.Fatalf("register %s failed: status=%d success=%v error=%+v", email, resp.StatusCode, env.Success, env.Error)
	}
	return env
}

func login(t *testing.T, client *http.Client, baseURL, email, password string) (*http.Response, envelope) {
	t.Helper()
	return doJSON(t, client, http.MethodPost, baseURL+"/api/v1/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, map[string]string{"X-CSRF-Token": testCSRFToken})
}

// captureAuditEvents swaps the default logger for the duration of fn and
// returns the audit records it emitted.
func captureAuditEvents(t *testing.T, fn func()) []map[string]any {
	t.Helper()
	var buf bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	defer slog.SetDefault(previous)

	fn()

	events := make([]map[string]any, 0)
	for _, line := range bytes.Split(buf.Bytes(), []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal(line, &record); err != nil {
			continue
		}
		if msg, _ := record["msg"].(string); msg == "audit" {
			events = append(events, record)
		}
	}
	return events
}

func requireAuditEvent(t *testing.T, events []map[string]any, event, reason string) {
	t.Helper()
	for _, record := range events {
		gotEvent, _ := record["event"].(string)
		gotReason, _ := record["reason"].(string)
		if gotEvent == event && (reason == "" || gotReason == reason) {
			return
		}
	}
	t.Fatalf("expected audit event=%q reason=%q, got %#v", event, reason, events)
}
