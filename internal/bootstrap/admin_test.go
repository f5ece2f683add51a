package bootstrap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/tokenauth/internal/config"
	"github.com/smallbiznis/tokenauth/internal/domain"
	"github.com/smallbiznis/tokenauth/internal/password"
	"github.com/smallbiznis/tokenauth/internal/repository"
)

type fakeUsers struct {
	byEmail map[string]domain.UserProfile
	err     error
}

func (f *fakeUsers) GetByID(context.Context, string) (domain.UserProfile, error) {
	return domain.UserProfile{}, repository.ErrNotFound
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (domain.UserProfile, error) {
	if f.err != nil {
		return domain.UserProfile{}, f.err
	}
	u, ok := f.byEmail[email]
	if !ok {
		return domain.UserProfile{}, repository.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) UpdateLastLogin(context.Context, string, time.Time) error { return nil }

func (f *fakeUsers) Create(_ context.Context, u domain.UserProfile) (domain.UserProfile, error) {
	f.byEmail[u.Email] = u
	return u, nil
}

type fakeCreds struct {
	byUser map[string]domain.UserCredential
}

func (f *fakeCreds) GetByEmail(context.Context, string) (domain.UserCredential, error) {
	return domain.UserCredential{}, repository.ErrNotFound
}

func (f *fakeCreds) GetByUserID(_ context.Context, userID string) (domain.UserCredential, error) {
	c, ok := f.byUser[userID]
	if !ok {
		return domain.UserCredential{}, repository.ErrNotFound
	}
	return c, nil
}

func (f *fakeCreds) Create(_ context.Context, c domain.UserCredential) (domain.UserCredential, error) {
	f.byUser[c.UserID] = c
	return c, nil
}

func (f *fakeCreds) UpdatePassword(context.Context, string, string) error { return nil }

func newNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

func TestEnsureAdminCreatesUserAndCredential(t *testing.T) {
	users := &fakeUsers{byEmail: map[string]domain.UserProfile{}}
	creds := &fakeCreds{byUser: map[string]domain.UserCredential{}}
	cfg := config.Config{AdminEmail: " Admin@Example.com ", AdminPassword: "s3cret-pass"}

	require.NoError(t, ensureAdmin(context.Background(), cfg, users, creds, newNode(t), zap.NewNop()))

	user, ok := users.byEmail["admin@example.com"]
	require.True(t, ok)
	require.Equal(t, "ACTIVE", user.Status)
	require.NotEmpty(t, user.ID)

	cred, ok := creds.byUser[user.ID]
	require.True(t, ok)
	valid, err := password.Verify("s3cret-pass", cred.PasswordHash)
	require.NoError(t, err)
	require.True(t, valid)

	// Second run is a no-op.
	require.NoError(t, ensureAdmin(context.Background(), cfg, users, creds, newNode(t), zap.NewNop()))
	require.Len(t, users.byEmail, 1)
	require.Len(t, creds.byUser, 1)
}

func TestEnsureAdminAddsMissingCredential(t *testing.T) {
	existing := domain.UserProfile{ID: "42", Email: "admin@example.com", Status: "ACTIVE"}
	users := &fakeUsers{byEmail: map[string]domain.UserProfile{existing.Email: existing}}
	creds := &fakeCreds{byUser: map[string]domain.UserCredential{}}
	cfg := config.Config{AdminEmail: existing.Email, AdminPassword: "s3cret-pass"}

	require.NoError(t, ensureAdmin(context.Background(), cfg, users, creds, newNode(t), nil))
	require.Contains(t, creds.byUser, "42")
}

func TestEnsureAdminSkipsWhenUnset(t *testing.T) {
	users := &fakeUsers{byEmail: map[string]domain.UserProfile{}, err: errors.New("must not be called")}
	creds := &fakeCreds{byUser: map[string]domain.UserCredential{}}

	require.NoError(t, ensureAdmin(context.Background(), config.Config{AdminEmail: "admin@example.com"}, users, creds, newNode(t), nil))
	require.Empty(t, users.byEmail)
}

func TestEnsureAdminSurfacesLookupErrors(t *testing.T) {
	users := &fakeUsers{byEmail: map[string]domain.UserProfile{}, err: errors.New("db down")}
	creds := &fakeCreds{byUser: map[string]domain.UserCredential{}}
	cfg := config.Config{AdminEmail: "admin@example.com", AdminPassword: "s3cret-pass"}

	err := ensureAdmin(context.Background(), cfg, users, creds, newNode(t), nil)
	require.ErrorContains(t, err, "bootstrap lookup user")
}
