package observability

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/brewlog/auth-service/internal/config"
)

func TestInitLoggingDisabledBuildsNoProvider(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	lp, err := InitLogging(context.Background(), &config.Config{}, logger)
	if err != nil {
		t.Fatalf("disabled log export must not fail: %v", err)
	}
	if lp != nil {
		t.Fatal("disabled log export must not build a provider")
	}
}

func TestFanoutHandlerDuplicatesRecords(t *testing.T) {
	var local, bridge bytes.Buffer
	h := fanoutHandler{
		local:  slog.NewJSONHandler(&local, nil),
		bridge: slog.NewJSONHandler(&bridge, nil),
	}

	logger := slog.New(h).With("event", "login")
	logger.Info("audit", "severity", "low")

	for name, out := range map[string]*bytes.Buffer{"local": &local, "bridge": &bridge} {
		if !strings.Contains(out.String(), `"event":"login"`) {
			t.Fatalf("%s handler missing the record: %q", name, out.String())
		}
	}
}

func TestFanoutHandlerEnablementFollowsLocal(t *testing.T) {
	h := fanoutHandler{
		local:  slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}),
		bridge: slog.NewJSONHandler(io.Discard, nil),
	}
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info must be disabled while the local handler is warn-level")
	}
	if !h.Enabled(context.Background(), slog.LevelWarn) {
		t.Fatal("warn must stay enabled")
	}
}
