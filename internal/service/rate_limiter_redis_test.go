package service

import (
	"context"
	"testing"
	"time"
)

func TestRedisRateLimitStoreBump(t *testing.T) {
	server, client := newRedisStoreFixture(t)
	store := NewRedisRateLimitStore(client, "")
	policy := testPolicy()
	ctx := context.Background()
	now := time.Now()

	for i := 1; i <= 10; i++ {
		state, err := store.Bump(ctx, "203.0.113.7", policy, now)
		if err != nil {
			t.Fatalf("bump %d: %v", i, err)
		}
		if !state.Allowed {
			t.Fatalf("bump %d should be allowed", i)
		}
		if state.Count != i {
			t.Fatalf("bump %d: count = %d", i, state.Count)
		}
	}

	state, err := store.Bump(ctx, "203.0.113.7", policy, now)
	if err != nil {
		t.Fatalf("bump: %v", err)
	}
	if state.Allowed {
		t.Fatal("11th bump should be rejected")
	}
	if state.LockedUntil.IsZero() {
		t.Fatal("11th bump should set a lockout")
	}
	if got := state.LockedUntil.Sub(now); got < 29*time.Minute || got > 31*time.Minute {
		t.Fatalf("lockout = %v, want ~30m", got)
	}

	if server.Exists("login_rate:203.0.113.7") != true {
		t.Fatal("record should exist with a ttl")
	}
}

func TestRedisRateLimitStoreLockoutHolds(t *testing.T) {
	_, client := newRedisStoreFixture(t)
	store := NewRedisRateLimitStore(client, "")
	policy := testPolicy()
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 11; i++ {
		if _, err := store.Bump(ctx, "203.0.113.8", policy, now); err != nil {
			t.Fatalf("bump: %v", err)
		}
	}

	// Still rejected five minutes in; fresh again once the lockout lapses.
	state, err := store.Bump(ctx, "203.0.113.8", policy, now.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("bump: %v", err)
	}
	if state.Allowed {
		t.Fatal("bump during lockout should be rejected")
	}

	state, err = store.Bump(ctx, "203.0.113.8", policy, now.Add(31*time.Minute))
	if err != nil {
		t.Fatalf("bump: %v", err)
	}
	if !state.Allowed || state.Count != 1 {
		t.Fatalf("after lockout expiry: allowed=%v count=%d, want fresh record", state.Allowed, state.Count)
	}
}

func TestRedisRateLimitStoreClear(t *testing.T) {
	_, client := newRedisStoreFixture(t)
	store := NewRedisRateLimitStore(client, "")
	policy := testPolicy()
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 8; i++ {
		if _, err := store.Bump(ctx, "203.0.113.9", policy, now); err != nil {
			t.Fatalf("bump: %v", err)
		}
	}
	if err := store.Clear(ctx, "203.0.113.9"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	state, err := store.Bump(ctx, "203.0.113.9", policy, now)
	if err != nil {
		t.Fatalf("bump: %v", err)
	}
	if state.Count != 1 {
		t.Fatalf("count after clear = %d, want 1", state.Count)
	}
}
