package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smallbiznis/tokenauth/internal/domain/oauth"
	"github.com/smallbiznis/tokenauth/internal/repository"
)

// RedisStateStore keeps OIDC authorization state between redirect and callback.
type RedisStateStore struct {
	client redis.UniversalClient
}

var _ repository.OAuthStateStore = (*RedisStateStore)(nil)

func NewRedisStateStore(client redis.UniversalClient) *RedisStateStore {
	return &RedisStateStore{client: client}
}

// SaveState stores the JSON-encoded state with ttl. An existing key is
// overwritten.
func (s *RedisStateStore) SaveState(ctx context.Context, key string, data oauth.OAuthState, ttl time.Duration) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

// TakeState reads and deletes key with GETDEL, so two callbacks racing on
// the same state cannot both succeed.
func (s *RedisStateStore) TakeState(ctx context.Context, key string) (*oauth.OAuthState, error) {
	raw, err := s.client.GetDel(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("take state: %w", err)
	}
	var state oauth.OAuthState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &state, nil
}
