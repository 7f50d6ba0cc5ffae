package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brewlog/auth-service/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Profile:          "test",
		HTTPAddr:         "127.0.0.1:0",
		CORSOrigins:      []string{"http://localhost:3000"},
		SessionSecret:    "test-secret-at-least-32-characters!!",
		SessionIssuer:    "brewlog-auth",
		SessionAudience:  "brewlog",
		SessionTTL:       7 * 24 * time.Hour,
		RefreshGuard:     15 * time.Minute,
		LoginRateLimit:   10,
		LoginRateWindow:  15 * time.Minute,
		LoginLockout:     30 * time.Minute,
		APIRateLimitRPM:  1000,
		AuthRateLimitRPM: 1000,
		DBDriver:         "sqlite",
		DBDSN:            "file:app_test?mode=memory&cache=shared",
		OAuthEnabled:     false,
		ShutdownTimeout:  5 * time.Second,
	}
}

func TestNewComposesWorkingServer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(context.Background(), testConfig(), logger)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.RemoteAddr = "10.10.10.10:1234"
	rr := httptest.NewRecorder()
	a.Server.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("health live = %d, want 200", rr.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestNewRejectsBadDatabase(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig()
	cfg.DBDriver = "oracle"
	if _, err := New(context.Background(), cfg, logger); err == nil {
		t.Fatal("unsupported driver should fail composition")
	}
}
