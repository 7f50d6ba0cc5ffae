package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testOAuthState(state, clientKey string) OAuthState {
	return OAuthState{
		State:         state,
		CodeVerifier:  "verifier-" + state,
		CodeChallenge: "challenge-" + state,
		Provider:      "google",
		ClientKey:     clientKey,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestInMemoryOAuthStateSingleUse(t *testing.T) {
	store := NewInMemoryOAuthStateStore()
	ctx := context.Background()

	if err := store.Save(ctx, testOAuthState("abc123", "client-1"), time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Take(ctx, "google", "abc123")
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if got.CodeVerifier != "verifier-abc123" {
		t.Fatalf("verifier = %q", got.CodeVerifier)
	}

	// Replay must miss.
	if _, err := store.Take(ctx, "google", "abc123"); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("replayed take: %v, want ErrStateNotFound", err)
	}
}

func TestInMemoryOAuthStateRejectsSecondFlow(t *testing.T) {
	store := NewInMemoryOAuthStateStore()
	ctx := context.Background()

	if err := store.Save(ctx, testOAuthState("first", "client-2"), time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	err := store.Save(ctx, testOAuthState("second", "client-2"), time.Minute)
	if !errors.Is(err, ErrFlowInFlight) {
		t.Fatalf("second save: %v, want ErrFlowInFlight", err)
	}

	// Consuming the first flow frees the client for a new one.
	if _, err := store.Take(ctx, "google", "first"); err != nil {
		t.Fatalf("take: %v", err)
	}
	if err := store.Save(ctx, testOAuthState("third", "client-2"), time.Minute); err != nil {
		t.Fatalf("save after take: %v", err)
	}
}

func TestInMemoryOAuthStateExpires(t *testing.T) {
	store := NewInMemoryOAuthStateStore()
	ctx := context.Background()

	if err := store.Save(ctx, testOAuthState("shortlived", "client-3"), -time.Second); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.Take(ctx, "google", "shortlived"); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("expired take: %v, want ErrStateNotFound", err)
	}
	// The expired flow no longer blocks a new one.
	if err := store.Save(ctx, testOAuthState("fresh", "client-3"), time.Minute); err != nil {
		t.Fatalf("save after expiry: %v", err)
	}
}

func TestInMemoryOAuthStateProviderScoped(t *testing.T) {
	store := NewInMemoryOAuthStateStore()
	ctx := context.Background()

	if err := store.Save(ctx, testOAuthState("scoped", "client-4"), time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.Take(ctx, "github", "scoped"); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("cross-provider take: %v, want ErrStateNotFound", err)
	}
}

func TestInMemoryLinkDecisionSingleUse(t *testing.T) {
	store := NewInMemoryLinkDecisionStore()
	ctx := context.Background()

	pending := PendingLink{
		Token:          "pending-1",
		Provider:       "google",
		ProviderUserID: "sub-1",
		Email:          "link@example.com",
		ExistingUserID: 42,
		CreatedAt:      time.Now().UTC(),
	}
	if err := store.Save(ctx, pending, time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Take(ctx, "pending-1")
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if got.ExistingUserID != 42 {
		t.Fatalf("existing user = %d, want 42", got.ExistingUserID)
	}
	if _, err := store.Take(ctx, "pending-1"); !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("replayed take: %v, want ErrLinkNotFound", err)
	}
}
