package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOAuthStateStore shares in-flight PKCE state across instances. The
// single-use invariant rides on GETDEL: whoever consumes a state first wins,
// every replay misses.
type RedisOAuthStateStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisOAuthStateStore(client redis.UniversalClient, prefix string) *RedisOAuthStateStore {
	if prefix == "" {
		prefix = "oauth_state"
	}
	return &RedisOAuthStateStore{client: client, prefix: prefix}
}

func (s *RedisOAuthStateStore) dataKey(provider, state string) string {
	return fmt.Sprintf("%s:data:%s:%s", s.prefix, provider, state)
}

func (s *RedisOAuthStateStore) inflightKey(provider, clientKey string) string {
	return fmt.Sprintf("%s:inflight:%s:%s", s.prefix, provider, clientKey)
}

func (s *RedisOAuthStateStore) Save(ctx context.Context, st OAuthState, ttl time.Duration) error {
	ok, err := s.client.SetNX(ctx, s.inflightKey(st.Provider, st.ClientKey), st.State, ttl).Result()
	if err != nil {
		return fmt.Errorf("oauth state save: %w", err)
	}
	if !ok {
		return ErrFlowInFlight
	}
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("oauth state save: %w", err)
	}
	if err := s.client.Set(ctx, s.dataKey(st.Provider, st.State), payload, ttl).Err(); err != nil {
		return fmt.Errorf("oauth state save: %w", err)
	}
	return nil
}

func (s *RedisOAuthStateStore) Take(ctx context.Context, provider, state string) (*OAuthState, error) {
	payload, err := s.client.GetDel(ctx, s.dataKey(provider, state)).Result()
	if err == redis.Nil {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("oauth state take: %w", err)
	}
	var st OAuthState
	if err := json.Unmarshal([]byte(payload), &st); err != nil {
		return nil, fmt.Errorf("oauth state take: %w", err)
	}
	if err := s.client.Del(ctx, s.inflightKey(provider, st.ClientKey)).Err(); err != nil {
		return nil, fmt.Errorf("oauth state take: %w", err)
	}
	return &st, nil
}

// RedisLinkDecisionStore shares pending link decisions across instances.
type RedisLinkDecisionStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisLinkDecisionStore(client redis.UniversalClient, prefix string) *RedisLinkDecisionStore {
	if prefix == "" {
		prefix = "link_decision"
	}
	return &RedisLinkDecisionStore{client: client, prefix: prefix}
}

func (s *RedisLinkDecisionStore) key(token string) string {
	return fmt.Sprintf("%s:%s", s.prefix, token)
}

func (s *RedisLinkDecisionStore) Save(ctx context.Context, pl PendingLink, ttl time.Duration) error {
	payload, err := json.Marshal(pl)
	if err != nil {
		return fmt.Errorf("link decision save: %w", err)
	}
	if err := s.client.Set(ctx, s.key(pl.Token), payload, ttl).Err(); err != nil {
		return fmt.Errorf("link decision save: %w", err)
	}
	return nil
}

func (s *RedisLinkDecisionStore) Take(ctx context.Context, token string) (*PendingLink, error) {
	payload, err := s.client.GetDel(ctx, s.key(token)).Result()
	if err == redis.Nil {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("link decision take: %w", err)
	}
	var pl PendingLink
	if err := json.Unmarshal([]byte(payload), &pl); err != nil {
		return nil, fmt.Errorf("link decision take: %w", err)
	}
	return &pl, nil
}
