package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smallbiznis/tokenauth/internal/domain"
	"github.com/smallbiznis/tokenauth/internal/repository"
)

const (
	accessTokenPrefix  = "access_token:"
	refreshTokenPrefix = "refresh_token:"
	userSessionPrefix  = "user_session:"
	revokedPrefix      = "revoked:"
	userTokensPrefix   = "user_tokens:"
)

// RedisSessionCache implements SessionCache backed by Redis.
type RedisSessionCache struct {
	client redis.UniversalClient
}

var _ repository.SessionCache = (*RedisSessionCache)(nil)

// NewRedisSessionCache constructs a Redis-backed session cache.
func NewRedisSessionCache(client redis.UniversalClient) *RedisSessionCache {
	return &RedisSessionCache{client: client}
}

func accessKey(hash string) string    { return accessTokenPrefix + hash }
func refreshKey(hash string) string   { return refreshTokenPrefix + hash }
func revokedKey(hash string) string   { return revokedPrefix + hash }
func sessionKey(userID string) string { return userSessionPrefix + userID }
func indexKey(userID string) string   { return userTokensPrefix + userID }

// SetAccessToken caches the access token claims and tracks the hash for the user.
func (c *RedisSessionCache) SetAccessToken(ctx context.Context, tokenHash string, payload domain.TokenPayload, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal access token: %w", err)
	}
	if err := c.client.Set(ctx, accessKey(tokenHash), body, ttl).Err(); err != nil {
		return fmt.Errorf("cache access token: %w", err)
	}
	return c.track(ctx, payload.Sub, tokenHash, ttl)
}

// GetAccessToken returns cached claims, nil on a miss, or ErrTokenRevoked.
func (c *RedisSessionCache) GetAccessToken(ctx context.Context, tokenHash string) (*domain.TokenPayload, error) {
	if err := c.checkRevoked(ctx, tokenHash); err != nil {
		return nil, err
	}
	body, err := c.client.Get(ctx, accessKey(tokenHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load access token: %w", err)
	}
	var payload domain.TokenPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		// A corrupt entry is treated as a miss so the caller re-verifies the JWT.
		return nil, nil
	}
	return &payload, nil
}

func (c *RedisSessionCache) RevokeAccessToken(ctx context.Context, tokenHash string) error {
	ttl, err := c.dropEntry(ctx, accessKey(tokenHash))
	if err != nil {
		return err
	}
	return c.markRevoked(ctx, tokenHash, ttl)
}

// SetRefreshToken caches the owner of a refresh token.
func (c *RedisSessionCache) SetRefreshToken(ctx context.Context, tokenHash, userID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, refreshKey(tokenHash), userID, ttl).Err(); err != nil {
		return fmt.Errorf("cache refresh token: %w", err)
	}
	return c.track(ctx, userID, tokenHash, ttl)
}

// GetRefreshToken returns the owning user id, "" on a miss, or ErrTokenRevoked.
func (c *RedisSessionCache) GetRefreshToken(ctx context.Context, tokenHash string) (string, error) {
	if err := c.checkRevoked(ctx, tokenHash); err != nil {
		return "", err
	}
	userID, err := c.client.Get(ctx, refreshKey(tokenHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("load refresh token: %w", err)
	}
	return userID, nil
}

func (c *RedisSessionCache) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	ttl, err := c.dropEntry(ctx, refreshKey(tokenHash))
	if err != nil {
		return err
	}
	return c.markRevoked(ctx, tokenHash, ttl)
}

// RevokeAllForUser revokes every token hash tracked for the user and clears the index.
func (c *RedisSessionCache) RevokeAllForUser(ctx context.Context, userID string) error {
	hashes, err := c.client.SMembers(ctx, indexKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("load user tokens: %w", err)
	}

	for _, hash := range hashes {
		accessTTL, err := c.dropEntry(ctx, accessKey(hash))
		if err != nil {
			return err
		}
		refreshTTL, err := c.dropEntry(ctx, refreshKey(hash))
		if err != nil {
			return err
		}
		if err := c.markRevoked(ctx, hash, max(accessTTL, refreshTTL)); err != nil {
			return err
		}
	}

	if err := c.client.Del(ctx, indexKey(userID)).Err(); err != nil {
		return fmt.Errorf("clear user tokens: %w", err)
	}
	return nil
}

func (c *RedisSessionCache) IsRevoked(ctx context.Context, tokenHash string) (bool, error) {
	n, err := c.client.Exists(ctx, revokedKey(tokenHash)).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked: %w", err)
	}
	return n > 0, nil
}

func (c *RedisSessionCache) SetUserSession(ctx context.Context, userID string, session domain.Session, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	body, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := c.client.Set(ctx, sessionKey(userID), body, ttl).Err(); err != nil {
		return fmt.Errorf("cache session: %w", err)
	}
	return nil
}

func (c *RedisSessionCache) GetUserSession(ctx context.Context, userID string) (*domain.Session, error) {
	body, err := c.client.Get(ctx, sessionKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	var session domain.Session
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, nil
	}
	return &session, nil
}

func (c *RedisSessionCache) DeleteUserSession(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, sessionKey(userID)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (c *RedisSessionCache) checkRevoked(ctx context.Context, tokenHash string) error {
	revoked, err := c.IsRevoked(ctx, tokenHash)
	if err != nil {
		return err
	}
	if revoked {
		return domain.ErrTokenRevoked
	}
	return nil
}

// dropEntry deletes key and returns the lifetime it had left. Missing keys
// and keys without expiry report zero.
func (c *RedisSessionCache) dropEntry(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := c.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("read ttl: %w", err)
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return 0, fmt.Errorf("delete entry: %w", err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// markRevoked writes a marker that lives exactly as long as the entry it replaces.
func (c *RedisSessionCache) markRevoked(ctx context.Context, tokenHash string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, revokedKey(tokenHash), "1", ttl).Err(); err != nil {
		return fmt.Errorf("mark revoked: %w", err)
	}
	return nil
}

// track adds the hash to the user's index and keeps the index alive at
// least as long as the longest entry it points to.
func (c *RedisSessionCache) track(ctx context.Context, userID, tokenHash string, ttl time.Duration) error {
	if userID == "" {
		return nil
	}
	key := indexKey(userID)
	if err := c.client.SAdd(ctx, key, tokenHash).Err(); err != nil {
		return fmt.Errorf("track user token: %w", err)
	}
	current, err := c.client.TTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("read index ttl: %w", err)
	}
	if current < ttl {
		if err := c.client.Expire(ctx, key, ttl).Err(); err != nil {
			return fmt.Errorf("extend index ttl: %w", err)
		}
	}
	return nil
}
