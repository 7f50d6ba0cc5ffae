package service

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrStateNotFound = errors.New("oauth state not found")
	ErrFlowInFlight  = errors.New("oauth flow already in flight")
	ErrLinkNotFound  = errors.New("link decision not found")
)

// OAuthState is the ephemeral PKCE handshake record. It survives exactly one
// authorization round-trip; the verifier never travels to the provider until
// the code exchange.
type OAuthState struct {
	State         string    `json:"state"`
	CodeVerifier  string    `json:"code_verifier"`
	CodeChallenge string    `json:"code_challenge"`
	RedirectURI   string    `json:"redirect_uri"`
	Provider      string    `json:"provider"`
	ClientKey     string    `json:"client_key"`
	CreatedAt     time.Time `json:"created_at"`
}

// OAuthStateStore holds in-flight PKCE state. Save enforces one flow per
// provider per client; Take consumes the record, so a replayed state always
// misses. Records expire by TTL so abandoned redirects cannot accumulate.
type OAuthStateStore interface {
	Save(ctx context.Context, st OAuthState, ttl time.Duration) error
	Take(ctx context.Context, provider, state string) (*OAuthState, error)
}

// PendingLink is the held OAuth identity while the user decides between
// linking and a separate account. No account is created or modified until
// the decision arrives.
type PendingLink struct {
	Token          string    `json:"token"`
	Provider       string    `json:"provider"`
	ProviderUserID string    `json:"provider_user_id"`
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	Avatar         string    `json:"avatar"`
	ExistingUserID uint      `json:"existing_user_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// LinkDecisionStore holds pending link decisions, single-use like the PKCE
// state.
type LinkDecisionStore interface {
	Save(ctx context.Context, pl PendingLink, ttl time.Duration) error
	Take(ctx context.Context, token string) (*PendingLink, error)
}

func stateKey(provider, state string) string     { return provider + ":" + state }
func inflightKey(provider, client string) string { return provider + ":" + client }

type memoryStateEntry struct {
	st        OAuthState
	expiresAt time.Time
}

// InMemoryOAuthStateStore is the single-process implementation.
type InMemoryOAuthStateStore struct {
	mu       sync.Mutex
	states   map[string]memoryStateEntry
	inflight map[string]string // provider + clientKey -> state
}

func NewInMemoryOAuthStateStore() *InMemoryOAuthStateStore {
	return &InMemoryOAuthStateStore{
		states:   make(map[string]memoryStateEntry),
		inflight: make(map[string]string),
	}
}

func (s *InMemoryOAuthStateStore) Save(_ context.Context, st OAuthState, ttl time.Duration) error {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune(now)

	ik := inflightKey(st.Provider, st.ClientKey)
	if prior, ok := s.inflight[ik]; ok {
		if entry, live := s.states[stateKey(st.Provider, prior)]; live && now.Before(entry.expiresAt) {
			return ErrFlowInFlight
		}
	}
	s.states[stateKey(st.Provider, st.State)] = memoryStateEntry{st: st, expiresAt: now.Add(ttl)}
	s.inflight[ik] = st.State
	return nil
}

func (s *InMemoryOAuthStateStore) Take(_ context.Context, provider, state string) (*OAuthState, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	key := stateKey(provider, state)
	entry, ok := s.states[key]
	if ok {
		delete(s.states, key)
		delete(s.inflight, inflightKey(provider, entry.st.ClientKey))
	}
	if !ok || now.After(entry.expiresAt) {
		return nil, ErrStateNotFound
	}
	st := entry.st
	return &st, nil
}

func (s *InMemoryOAuthStateStore) prune(now time.Time) {
	for k, entry := range s.states {
		if now.After(entry.expiresAt) {
			delete(s.states, k)
			delete(s.inflight, inflightKey(entry.st.Provider, entry.st.ClientKey))
		}
	}
}

type memoryLinkEntry struct {
	pl        PendingLink
	expiresAt time.Time
}

// InMemoryLinkDecisionStore is the single-process implementation.
type InMemoryLinkDecisionStore struct {
	mu    sync.Mutex
	links map[string]memoryLinkEntry
}

func NewInMemoryLinkDecisionStore() *InMemoryLinkDecisionStore {
	return &InMemoryLinkDecisionStore{links: make(map[string]memoryLinkEntry)}
}

func (s *InMemoryLinkDecisionStore) Save(_ context.Context, pl PendingLink, ttl time.Duration) error {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, entry := range s.links {
		if now.After(entry.expiresAt) {
			delete(s.links, k)
		}
	}
	s.links[pl.Token] = memoryLinkEntry{pl: pl, expiresAt: now.Add(ttl)}
	return nil
}

func (s *InMemoryLinkDecisionStore) Take(_ context.Context, token string) (*PendingLink, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.links[token]
	if ok {
		delete(s.links, token)
	}
	if !ok || now.After(entry.expiresAt) {
		return nil, ErrLinkNotFound
	}
	pl := entry.pl
	return &pl, nil
}
