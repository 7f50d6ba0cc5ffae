package integration

import (
	"bytes"
	"net/http"
	"sync"
	"testing"
)

// The redis-backed login throttle counts atomically, so concurrent attempts
// from one address can never slip past the budget regardless of interleaving.
func TestRedisLoginThrottleHoldsUnderConcurrency(t *testing.T) {
	baseURL, client, closeFn := newAuthTestServerWithOptions(t, authTestServerOptions{redis: true})
	defer closeFn()

	register(t, client, baseURL, "swarm@example.com", "correct-horse-battery")

	const attempts = 30
	statuses := make([]int, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			body := []byte(`{"email":"swarm@example.com","password":"wrong-password-here"}`)
			req, err := http.NewRequest(http.MethodPost, baseURL+"/api/v1/auth/login", bytes.NewReader(body))
			if err != nil {
				return
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-CSRF-Token", testCSRFToken)
			resp, err := client.Do(req)
			if err != nil {
				return
			}
			_ = resp.Body.Close()
			statuses[slot] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	var rejected, throttled int
	for _, status := range statuses {
		switch status {
		case http.StatusUnauthorized:
			rejected++
		case http.StatusTooManyRequests:
			throttled++
		default:
			t.Fatalf("unexpected status %d", status)
		}
	}
	if rejected != 10 {
		t.Fatalf("exactly the attempt budget may reach password verification, got %d", rejected)
	}
	if throttled != attempts-10 {
		t.Fatalf("remaining attempts must be throttled, got %d", throttled)
	}
}

func TestRedisBackedSessionsSurviveAcrossRequests(t *testing.T) {
	baseURL, client, closeFn := newAuthTestServerWithOptions(t, authTestServerOptions{redis: true})
	defer closeFn()

	register(t, client, baseURL, "redis-session@example.com", "correct-horse-battery")

	for i := 0; i < 5; i++ {
		resp, env := doJSON(t, client, http.MethodGet, baseURL+"/api/v1/me", nil, nil)
		if resp.StatusCode != http.StatusOK || !env.Success {
			t.Fatalf("me #%d failed: status=%d error=%+v", i+1, resp.StatusCode, env.Error)
		}
	}
}
