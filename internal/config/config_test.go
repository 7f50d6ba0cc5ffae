package config

import (
	"context"
	"strings"
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SESSION_SECRET", strings.Repeat("s", 32))
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)
	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.SessionTTL != 7*24*time.Hour {
		t.Fatalf("expected 7-day session TTL default, got %v", cfg.SessionTTL)
	}
	if cfg.RefreshGuard != 15*time.Minute {
		t.Fatalf("expected 15-minute refresh guard default, got %v", cfg.RefreshGuard)
	}
	if cfg.LoginRateLimit != 10 || cfg.LoginRateWindow != 15*time.Minute || cfg.LoginLockout != 30*time.Minute {
		t.Fatalf("unexpected login rate defaults: %d %v %v", cfg.LoginRateLimit, cfg.LoginRateWindow, cfg.LoginLockout)
	}
	if cfg.OAuthStateTTL != 10*time.Minute {
		t.Fatalf("expected 10-minute oauth state TTL, got %v", cfg.OAuthStateTTL)
	}
	if cfg.OAuthExchangeTimeout != 10*time.Second {
		t.Fatalf("expected 10s exchange timeout, got %v", cfg.OAuthExchangeTimeout)
	}
	if cfg.DBDriver != "sqlite" {
		t.Fatalf("expected sqlite default driver, got %q", cfg.DBDriver)
	}
}

func TestLoadRejectsShortSessionSecret(t *testing.T) {
	t.Setenv("SESSION_SECRET", "too-short")
	if _, err := Load(context.Background()); err == nil {
		t.Fatal("expected validation error for short secret")
	} else if !strings.Contains(err.Error(), "validate config:") {
		t.Fatalf("expected validate config prefix, got %v", err)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("SESSION_TTL", "not-a-duration")
	_, err := Load(context.Background())
	if err == nil {
		t.Fatal("expected duration parse error")
	}
	if got := classifyConfigLoadError(err); got != "parse" {
		t.Fatalf("expected parse classification, got %q (%v)", got, err)
	}
}

func TestLoadRejectsOversizedSessionTTL(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("SESSION_TTL", "200h")
	if _, err := Load(context.Background()); err == nil {
		t.Fatal("expected validation error for TTL above 7 days")
	}
}

func TestLoadProvidersFromEnv(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("OAUTH_GOOGLE_CLIENT_ID", "google-id")
	t.Setenv("OAUTH_GOOGLE_CLIENT_SECRET", "google-secret")
	t.Setenv("OAUTH_GOOGLE_REDIRECT_URL", "https://app.example.com/auth/callback/google")
	t.Setenv("OAUTH_GITHUB_CLIENT_ID", "github-id")

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.OAuthProviders) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(cfg.OAuthProviders))
	}
	google, ok := cfg.OAuthProviders["google"]
	if !ok || google.ClientID != "google-id" || google.RedirectURL != "https://app.example.com/auth/callback/google" {
		t.Fatalf("unexpected google provider config: %+v", google)
	}
}
