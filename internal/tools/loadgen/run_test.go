package loadgen

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClassifyStatusClass(t *testing.T) {
	cases := map[int]string{
		200: "2xx",
		302: "3xx",
		401: "4xx",
		429: "4xx",
		503: "5xx",
		100: "other",
	}
	for status, want := range cases {
		if got := classifyStatusClass(status); got != want {
			t.Fatalf("classifyStatusClass(%d)=%q want %q", status, got, want)
		}
	}
}

func TestNormalizeProfileDefaultsToMixed(t *testing.T) {
	if got := normalizeProfile(""); got != "mixed" {
		t.Fatalf("empty profile = %q, want mixed", got)
	}
	if got := normalizeProfile("  AUTH  "); got != "auth" {
		t.Fatalf("padded profile = %q, want auth", got)
	}
}

func TestRunRejectsUnknownProfile(t *testing.T) {
	_, err := Run(context.Background(), Config{
		BaseURL:     "http://127.0.0.1:1",
		Profile:     "stampede",
		Duration:    time.Second,
		RPS:         1,
		Concurrency: 1,
	})
	if err == nil {
		t.Fatal("unknown profile must be rejected before any request fires")
	}
}

// Failed logins answer 401, which the generator treats as expected traffic,
// not a failure.
func TestRunCountsAuthRejectionsAsExpected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res, err := Run(context.Background(), Config{
		BaseURL:     srv.URL,
		Profile:     "auth",
		Duration:    300 * time.Millisecond,
		RPS:         50,
		Concurrency: 4,
		Seed:        1,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.TotalRequests == 0 {
		t.Fatal("generator produced no traffic")
	}
	if res.Failures != 0 {
		t.Fatalf("4xx answers must not count as failures, got %d of %d", res.Failures, res.TotalRequests)
	}
	if res.StatusClasses["5xx"] != 0 {
		t.Fatalf("unexpected 5xx traffic: %+v", res.StatusClasses)
	}
}

func TestWeightedPickerIsDeterministicPerSeed(t *testing.T) {
	targets := profiles["auth"]
	a := newWeightedPicker(targets, 42)
	b := newWeightedPicker(targets, 42)
	for i := 0; i < 100; i++ {
		if got, want := a.next().path, b.next().path; got != want {
			t.Fatalf("draw %d diverged: %q vs %q", i, got, want)
		}
	}
}
