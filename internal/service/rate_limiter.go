package service

import (
	"context"
	"sync"
	"time"
)

// LoginRatePolicy is the credential-login throttling policy: a fixed window
// with a hard lockout once the window budget is exhausted.
type LoginRatePolicy struct {
	MaxAttempts int
	Window      time.Duration
	Lockout     time.Duration
}

func DefaultLoginRatePolicy() LoginRatePolicy {
	return LoginRatePolicy{
		MaxAttempts: 10,
		Window:      15 * time.Minute,
		Lockout:     30 * time.Minute,
	}
}

// RateLimitState is the stored per-key record after a bump has been applied.
type RateLimitState struct {
	Count       int
	ResetAt     time.Time
	LockedUntil time.Time
	Allowed     bool
}

// RateLimitStore applies the whole window/lockout transition atomically.
// Concurrent bumps for the same key must serialize; an undercount would let
// an attacker exceed the intended budget.
type RateLimitStore interface {
	Bump(ctx context.Context, key string, policy LoginRatePolicy, now time.Time) (RateLimitState, error)
	Clear(ctx context.Context, key string) error
}

// RateLimitDecision is what callers act on.
type RateLimitDecision struct {
	Allowed     bool
	Remaining   int
	ResetAt     time.Time
	LockedUntil time.Time
	RetryAfter  time.Duration
}

type LoginRateLimiter struct {
	store  RateLimitStore
	policy LoginRatePolicy
}

func NewLoginRateLimiter(store RateLimitStore, policy LoginRatePolicy) *LoginRateLimiter {
	if policy.MaxAttempts <= 0 {
		policy = DefaultLoginRatePolicy()
	}
	return &LoginRateLimiter{store: store, policy: policy}
}

// Check records one attempt for the key and decides whether it may proceed.
func (l *LoginRateLimiter) Check(ctx context.Context, key string) (RateLimitDecision, error) {
	now := time.Now()
	state, err := l.store.Bump(ctx, key, l.policy, now)
	if err != nil {
		return RateLimitDecision{}, err
	}
	d := RateLimitDecision{
		Allowed:     state.Allowed,
		Remaining:   l.policy.MaxAttempts - state.Count,
		ResetAt:     state.ResetAt,
		LockedUntil: state.LockedUntil,
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !d.Allowed {
		until := state.ResetAt
		if !state.LockedUntil.IsZero() && state.LockedUntil.After(now) {
			until = state.LockedUntil
		}
		d.RetryAfter = until.Sub(now)
		if d.RetryAfter < time.Second {
			d.RetryAfter = time.Second
		}
	}
	return d, nil
}

// Reset deletes the record for a key. Called on successful authentication:
// a successful login is never penalized by prior failures.
func (l *LoginRateLimiter) Reset(ctx context.Context, key string) error {
	return l.store.Clear(ctx, key)
}

// bumpRecord is the shared window/lockout transition used by both store
// implementations. An expired lockout together with an expired window makes
// the record fresh again; lockout does not compound indefinitely.
func bumpRecord(count int, resetAt, lockedUntil time.Time, policy LoginRatePolicy, now time.Time) RateLimitState {
	if !lockedUntil.IsZero() && now.Before(lockedUntil) {
		return RateLimitState{Count: count, ResetAt: resetAt, LockedUntil: lockedUntil, Allowed: false}
	}
	if resetAt.IsZero() || now.After(resetAt) {
		return RateLimitState{Count: 1, ResetAt: now.Add(policy.Window), Allowed: true}
	}
	count++
	if count > policy.MaxAttempts {
		return RateLimitState{Count: count, ResetAt: resetAt, LockedUntil: now.Add(policy.Lockout), Allowed: false}
	}
	return RateLimitState{Count: count, ResetAt: resetAt, Allowed: true}
}

// InMemoryRateLimitStore is the single-process implementation: a mutex-held
// map keyed by client IP. Multi-instance deployments use the Redis store.
type InMemoryRateLimitStore struct {
	mu      sync.Mutex
	records map[string]*memoryRateRecord
	sweepAt time.Time
}

type memoryRateRecord struct {
	count       int
	resetAt     time.Time
	lockedUntil time.Time
}

func NewInMemoryRateLimitStore() *InMemoryRateLimitStore {
	return &InMemoryRateLimitStore{
		records: make(map[string]*memoryRateRecord),
		sweepAt: time.Now().Add(time.Minute),
	}
}

func (s *InMemoryRateLimitStore) Bump(_ context.Context, key string, policy LoginRatePolicy, now time.Time) (RateLimitState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.After(s.sweepAt) {
		for k, rec := range s.records {
			if now.After(rec.resetAt) && (rec.lockedUntil.IsZero() || now.After(rec.lockedUntil)) {
				delete(s.records, k)
			}
		}
		s.sweepAt = now.Add(policy.Window)
	}

	rec, ok := s.records[key]
	if !ok {
		rec = &memoryRateRecord{}
		s.records[key] = rec
	}
	state := bumpRecord(rec.count, rec.resetAt, rec.lockedUntil, policy, now)
	rec.count = state.Count
	rec.resetAt = state.ResetAt
	rec.lockedUntil = state.LockedUntil
	return state, nil
}

func (s *InMemoryRateLimitStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}
