package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func setBase(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/tokenauth")
	t.Setenv("JWT_SECRET", secret)
}

func TestLoadDefaults(t *testing.T) {
	setBase(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.HTTPPort)
	require.Equal(t, "tokenauth", cfg.JWTIssuer)
	require.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	require.Equal(t, 30*24*time.Hour, cfg.RefreshTokenTTL)
	require.Equal(t, time.Minute, cfg.OIDCJWKSMinRefresh)
	require.Equal(t, 10*time.Minute, cfg.OIDCStateTTL)
	require.Equal(t, 60, cfg.LoginRateLimitRPM)
	require.Equal(t, 1.0, cfg.TelemetrySampleRatio)
	require.True(t, cfg.DBAutoMigrate)
	require.False(t, cfg.CacheEnabled())
	require.Empty(t, cfg.OIDCProviders)
}

func TestLoadRequiresDatabaseAndSecret(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", secret)
	_, err := Load()
	require.ErrorContains(t, err, "DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://localhost/tokenauth")
	t.Setenv("JWT_SECRET", "too-short")
	_, err = Load()
	require.ErrorContains(t, err, "JWT_SECRET")
}

func TestLoadRejectsAccessLongerThanRefresh(t *testing.T) {
	setBase(t)
	t.Setenv("ACCESS_TOKEN_TTL", "2h")
	t.Setenv("REFRESH_TOKEN_TTL", "1h")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsSampleRatioOutOfRange(t *testing.T) {
	setBase(t)
	t.Setenv("OTEL_TRACES_SAMPLE_RATIO", "1.5")

	_, err := Load()
	require.ErrorContains(t, err, "OTEL_TRACES_SAMPLE_RATIO")
}

func TestLoadOIDCProviders(t *testing.T) {
	setBase(t)
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("OIDC_PROVIDERS", "google, my-idp")
	t.Setenv("OIDC_GOOGLE_CLIENT_ID", "gid")
	t.Setenv("OIDC_GOOGLE_CLIENT_SECRET", "gsecret")
	t.Setenv("OIDC_GOOGLE_DISCOVERY_URL", "https://accounts.google.com/.well-known/openid-configuration")
	t.Setenv("OIDC_GOOGLE_REDIRECT_URI", "https://app.example.com/auth/oidc/google/callback")
	t.Setenv("OIDC_GOOGLE_SCOPES", "openid,email")
	t.Setenv("OIDC_MY_IDP_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.CacheEnabled())
	require.Len(t, cfg.OIDCProviders, 2)

	google := cfg.OIDCProviders[0]
	require.Equal(t, "google", google.Name)
	require.Equal(t, "gid", google.ClientID)
	require.Equal(t, []string{"openid", "email"}, google.Scopes)
	require.True(t, google.Enabled)

	disabled := cfg.OIDCProviders[1]
	require.Equal(t, "my-idp", disabled.Name)
	require.False(t, disabled.Enabled)
	require.Equal(t, []string{"openid", "email", "profile"}, disabled.EffectiveScopes())
}

func TestLoadOIDCProviderMissingClientID(t *testing.T) {
	setBase(t)
	t.Setenv("OIDC_PROVIDERS", "keycloak")
	t.Setenv("OIDC_KEYCLOAK_DISCOVERY_URL", "https://kc.example.com/realms/a/.well-known/openid-configuration")

	_, err := Load()
	require.ErrorContains(t, err, "OIDC_KEYCLOAK_CLIENT_ID")
}
