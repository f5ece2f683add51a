package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/tokenauth/internal/adapter/cache"
	"github.com/smallbiznis/tokenauth/internal/domain"
	"github.com/smallbiznis/tokenauth/internal/jwt"
	"github.com/smallbiznis/tokenauth/internal/password"
	"github.com/smallbiznis/tokenauth/internal/repository"
	"github.com/smallbiznis/tokenauth/internal/service"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

const (
	testAccessTTL  = 15 * time.Minute
	testRefreshTTL = 24 * time.Hour
	testPassword   = "correct horse battery"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memoryTokenRepo struct {
	mu      sync.Mutex
	clock   *fakeClock
	byHash  map[string]domain.AuthToken
	nextID  int64
	saveErr error
	getErr  error
}

func newMemoryTokenRepo(clock *fakeClock) *memoryTokenRepo {
	return &memoryTokenRepo{clock: clock, byHash: map[string]domain.AuthToken{}}
}

func (m *memoryTokenRepo) Save(_ context.Context, token domain.AuthToken) (domain.AuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return domain.AuthToken{}, m.saveErr
	}
	if token.ID == 0 {
		m.nextID++
		token.ID = m.nextID
	}
	m.byHash[token.Token] = token
	return token, nil
}

func (m *memoryTokenRepo) GetByValue(_ context.Context, hash string) (domain.AuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return domain.AuthToken{}, m.getErr
	}
	token, ok := m.byHash[hash]
	if !ok {
		return domain.AuthToken{}, fmt.Errorf("get token: %w", repository.ErrNotFound)
	}
	return token, nil
}

func (m *memoryTokenRepo) GetAllForUser(_ context.Context, userID string) ([]domain.AuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuthToken
	for _, token := range m.byHash {
		if token.UserID == userID {
			out = append(out, token)
		}
	}
	return out, nil
}

func (m *memoryTokenRepo) Revoke(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token, ok := m.byHash[hash]; ok {
		token.Revoked = true
		m.byHash[hash] = token
	}
	return nil
}

func (m *memoryTokenRepo) RevokeAllForUser(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for hash, token := range m.byHash {
		if token.UserID == userID && !token.Revoked {
			token.Revoked = true
			m.byHash[hash] = token
			n++
		}
	}
	return n, nil
}

func (m *memoryTokenRepo) CleanupExpired(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	var n int64
	for hash, token := range m.byHash {
		if token.ExpiresAt.Before(now) {
			delete(m.byHash, hash)
			n++
		}
	}
	return n, nil
}

func (m *memoryTokenRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byHash)
}

type memoryUserRepo struct {
	mu         sync.Mutex
	users      map[string]domain.UserProfile
	lastLogins map[string]time.Time
}

func newMemoryUserRepo(users ...domain.UserProfile) *memoryUserRepo {
	repo := &memoryUserRepo{users: map[string]domain.UserProfile{}, lastLogins: map[string]time.Time{}}
	for _, u := range users {
		repo.users[u.ID] = u
	}
	return repo
}

func (m *memoryUserRepo) GetByID(_ context.Context, userID string) (domain.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return domain.UserProfile{}, repository.ErrNotFound
	}
	return u, nil
}

func (m *memoryUserRepo) GetByEmail(_ context.Context, email string) (domain.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, strings.TrimSpace(email)) {
			return u, nil
		}
	}
	return domain.UserProfile{}, repository.ErrNotFound
}

func (m *memoryUserRepo) UpdateLastLogin(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLogins[userID] = at
	return nil
}

func (m *memoryUserRepo) Create(_ context.Context, user domain.UserProfile) (domain.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	return user, nil
}

func (m *memoryUserRepo) lastLogin(userID string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.lastLogins[userID]
	return at, ok
}

type memoryCredentialRepo struct {
	mu      sync.Mutex
	byEmail map[string]domain.UserCredential
	err     error
}

func (m *memoryCredentialRepo) GetByEmail(_ context.Context, email string) (domain.UserCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.UserCredential{}, m.err
	}
	cred, ok := m.byEmail[email]
	if !ok {
		return domain.UserCredential{}, fmt.Errorf("get credential: %w", repository.ErrNotFound)
	}
	return cred, nil
}

func (m *memoryCredentialRepo) GetByUserID(_ context.Context, userID string) (domain.UserCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cred := range m.byEmail {
		if cred.UserID == userID {
			return cred, nil
		}
	}
	return domain.UserCredential{}, repository.ErrNotFound
}

func (m *memoryCredentialRepo) Create(context.Context, domain.UserCredential) (domain.UserCredential, error) {
	return domain.UserCredential{}, errors.New("not supported")
}

func (m *memoryCredentialRepo) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for email, cred := range m.byEmail {
		if cred.UserID == userID {
			cred.PasswordHash = passwordHash
			m.byEmail[email] = cred
			return nil
		}
	}
	return repository.ErrNotFound
}

type harness struct {
	clock     *fakeClock
	codec     *jwt.Codec
	tokens    *memoryTokenRepo
	users     *memoryUserRepo
	creds     *memoryCredentialRepo
	mr        *miniredis.Miniredis
	cache     repository.SessionCache
	lifecycle *service.TokenLifecycle
	local     *service.LocalProvider
}

var alice = domain.UserProfile{ID: "u-alice", Email: "alice@example.com", Name: "Alice", Status: "ACTIVE"}

func newHarness(t *testing.T, withCache bool) *harness {
	t.Helper()
	h := &harness{clock: &fakeClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}}

	codec, err := jwt.NewCodec(testSecret, "tokenauth-test", jwt.WithClock(h.clock.Now))
	require.NoError(t, err)
	h.codec = codec

	hash, err := password.Hash(testPassword)
	require.NoError(t, err)

	h.tokens = newMemoryTokenRepo(h.clock)
	h.users = newMemoryUserRepo(alice)
	h.creds = &memoryCredentialRepo{byEmail: map[string]domain.UserCredential{
		alice.Email: {ID: 1, UserID: alice.ID, PasswordHash: hash},
	}}

	opts := []service.LifecycleOption{
		service.WithClock(h.clock.Now),
		service.WithLogger(zap.NewNop()),
	}
	if withCache {
		h.mr = miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: h.mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		h.cache = cache.NewRedisSessionCache(client)
		opts = append(opts, service.WithSessionCache(h.cache))
	}

	h.lifecycle, err = service.NewTokenLifecycle(codec, h.tokens, h.users, service.TTLConfig{
		AccessTTL:  testAccessTTL,
		RefreshTTL: testRefreshTTL,
	}, opts...)
	require.NoError(t, err)

	h.local, err = service.NewLocalProvider(h.lifecycle, h.creds, password.NewHasher())
	require.NoError(t, err)
	return h
}

// advance moves the fake clock and the cache clock together.
func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	if h.mr != nil {
		h.mr.FastForward(d)
	}
}

func forEachTier(t *testing.T, fn func(t *testing.T, h *harness)) {
	for _, tc := range []struct {
		name      string
		withCache bool
	}{
		{name: "store only", withCache: false},
		{name: "store and cache", withCache: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fn(t, newHarness(t, tc.withCache))
		})
	}
}
