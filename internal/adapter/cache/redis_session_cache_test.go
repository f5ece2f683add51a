package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/tokenauth/internal/adapter/cache"
	"github.com/smallbiznis/tokenauth/internal/domain"
)

func newTestCache(t *testing.T) (*miniredis.Miniredis, *cache.RedisSessionCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, cache.NewRedisSessionCache(client)
}

func TestAccessTokenSetGet(t *testing.T) {
	mr, c := newTestCache(t)
	ctx := context.Background()
	payload := domain.TokenPayload{Sub: "u1", Email: "a@x.com", Type: domain.TokenTypeAccess, Exp: 42}

	require.NoError(t, c.SetAccessToken(ctx, "h1", payload, time.Minute))
	require.Equal(t, time.Minute, mr.TTL("access_token:h1"))

	members, err := mr.Members("user_tokens:u1")
	require.NoError(t, err)
	require.Equal(t, []string{"h1"}, members)

	got, err := c.GetAccessToken(ctx, "h1")
	require.NoError(t, err)
	require.Equal(t, &payload, got)

	got, err = c.GetAccessToken(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestRevokedMarkerWinsOverLiveEntry(t *testing.T) {
	mr, c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetAccessToken(ctx, "h1", domain.TokenPayload{Sub: "u1"}, time.Minute))
	require.NoError(t, mr.Set("revoked:h1", "1"))

	got, err := c.GetAccessToken(ctx, "h1")
	require.ErrorIs(t, err, domain.ErrTokenRevoked)
	require.Nil(t, got)
}

func TestRevokeRefreshTokenKeepsRemainingTTL(t *testing.T) {
	mr, c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetRefreshToken(ctx, "r1", "u1", time.Hour))
	mr.FastForward(20 * time.Minute)

	require.NoError(t, c.RevokeRefreshToken(ctx, "r1"))
	require.False(t, mr.Exists("refresh_token:r1"))
	require.True(t, mr.Exists("revoked:r1"))
	require.Equal(t, 40*time.Minute, mr.TTL("revoked:r1"))

	owner, err := c.GetRefreshToken(ctx, "r1")
	require.ErrorIs(t, err, domain.ErrTokenRevoked)
	require.Empty(t, owner)

	revoked, err := c.IsRevoked(ctx, "r1")
	require.NoError(t, err)
	require.True(t, revoked)

	// The marker never outlives the token it guards.
	mr.FastForward(41 * time.Minute)
	revoked, err = c.IsRevoked(ctx, "r1")
	require.NoError(t, err)
	require.False(t, revoked)
}

func TestRevokeExpiredEntryWritesNoMarker(t *testing.T) {
	mr, c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetAccessToken(ctx, "h1", domain.TokenPayload{Sub: "u1"}, time.Minute))
	mr.FastForward(2 * time.Minute)

	require.NoError(t, c.RevokeAccessToken(ctx, "h1"))
	require.False(t, mr.Exists("revoked:h1"))

	// Revoking something never cached is a no-op.
	require.NoError(t, c.RevokeRefreshToken(ctx, "unknown"))
	require.False(t, mr.Exists("revoked:unknown"))
}

func TestRevokeAllForUser(t *testing.T) {
	mr, c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetAccessToken(ctx, "a1", domain.TokenPayload{Sub: "u1"}, 15*time.Minute))
	require.NoError(t, c.SetRefreshToken(ctx, "r1", "u1", 24*time.Hour))
	require.NoError(t, c.SetRefreshToken(ctx, "other", "u2", 24*time.Hour))

	require.NoError(t, c.RevokeAllForUser(ctx, "u1"))

	require.False(t, mr.Exists("user_tokens:u1"))
	require.False(t, mr.Exists("access_token:a1"))
	require.False(t, mr.Exists("refresh_token:r1"))
	require.Equal(t, 15*time.Minute, mr.TTL("revoked:a1"))
	require.Equal(t, 24*time.Hour, mr.TTL("revoked:r1"))

	owner, err := c.GetRefreshToken(ctx, "other")
	require.NoError(t, err)
	require.Equal(t, "u2", owner)
}

func TestUserTokenIndexTracksLongestEntry(t *testing.T) {
	mr, c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetRefreshToken(ctx, "r1", "u1", time.Hour))
	require.NoError(t, c.SetAccessToken(ctx, "a1", domain.TokenPayload{Sub: "u1"}, time.Minute))
	require.Equal(t, time.Hour, mr.TTL("user_tokens:u1"))
}

func TestUserSession(t *testing.T) {
	_, c := newTestCache(t)
	ctx := context.Background()
	session := domain.Session{
		UserID:       "u1",
		Email:        "a@x.com",
		AuthProvider: "local",
		LastLogin:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	require.NoError(t, c.SetUserSession(ctx, "u1", session, time.Hour))
	got, err := c.GetUserSession(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, &session, got)

	require.NoError(t, c.DeleteUserSession(ctx, "u1"))
	got, err = c.GetUserSession(ctx, "u1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestCacheSurfacesConnectivityErrors(t *testing.T) {
	mr, c := newTestCache(t)
	mr.SetError("LOADING")

	_, err := c.GetAccessToken(context.Background(), "h1")
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrTokenRevoked)
}
