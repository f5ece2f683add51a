package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/smallbiznis/tokenauth/internal/domain"
	"github.com/smallbiznis/tokenauth/internal/jwt"
	"github.com/smallbiznis/tokenauth/internal/metrics"
	"github.com/smallbiznis/tokenauth/internal/repository"
)

// TTLConfig holds token lifetimes.
type TTLConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// TokenLifecycle issues, refreshes, verifies and revokes tokens against the
// durable store and the optional session cache. Providers embed it.
type TokenLifecycle struct {
	codec   *jwt.Codec
	tokens  repository.TokenRepository
	cache   repository.SessionCache
	users   repository.UserRepository
	ttl     TTLConfig
	metrics *metrics.Collector
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// LifecycleOption customises a TokenLifecycle.
type LifecycleOption func(*TokenLifecycle)

// WithSessionCache enables the cache tier. A nil cache leaves it disabled.
func WithSessionCache(cache repository.SessionCache) LifecycleOption {
	return func(l *TokenLifecycle) { l.cache = cache }
}

// WithMetrics records token and cache outcomes on m.
func WithMetrics(m *metrics.Collector) LifecycleOption {
	return func(l *TokenLifecycle) { l.metrics = m }
}

// WithLogger sets the audit and warning logger. Defaults to zap.L().
func WithLogger(logger *zap.Logger) LifecycleOption {
	return func(l *TokenLifecycle) { l.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) LifecycleOption {
	return func(l *TokenLifecycle) { l.now = now }
}

// NewTokenLifecycle wires the lifecycle. codec, tokens and users are required.
func NewTokenLifecycle(codec *jwt.Codec, tokens repository.TokenRepository, users repository.UserRepository, ttl TTLConfig, opts ...LifecycleOption) (*TokenLifecycle, error) {
	if codec == nil || tokens == nil || users == nil {
		return nil, fmt.Errorf("token lifecycle: %w", domain.ErrProviderNotConfigured)
	}
	if ttl.AccessTTL <= 0 || ttl.RefreshTTL <= 0 {
		return nil, fmt.Errorf("token lifecycle: ttl must be positive: %w", domain.ErrProviderNotConfigured)
	}
	l := &TokenLifecycle{
		codec:  codec,
		tokens: tokens,
		users:  users,
		ttl:    ttl,
		tracer: otel.Tracer("github.com/smallbiznis/tokenauth/internal/service"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// TTL returns the configured token lifetimes.
func (l *TokenLifecycle) TTL() TTLConfig { return l.ttl }

// Issue signs a token pair for profile, persists the refresh token and
// populates the cache. A store failure aborts before anything is cached.
func (l *TokenLifecycle) Issue(ctx context.Context, profile domain.UserProfile, authProvider string) (*domain.TokenPair, error) {
	ctx, span := l.startSpan(ctx, "TokenLifecycle.Issue")
	defer span.End()
	span.SetAttributes(attribute.String("auth.provider", authProvider), attribute.String("user.id", profile.ID))

	now := l.now().UTC()
	payload := domain.TokenPayload{Sub: profile.ID, Email: profile.Email, Name: profile.Name}

	access, err := l.codec.CreateAccessToken(payload, l.ttl.AccessTTL)
	if err != nil {
		span.RecordError(err)
		l.metrics.RecordTokenOp("issue", metrics.ResultError)
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := l.codec.CreateRefreshToken(payload, l.ttl.RefreshTTL)
	if err != nil {
		span.RecordError(err)
		l.metrics.RecordTokenOp("issue", metrics.ResultError)
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	refreshHash := jwt.HashToken(refresh)
	if _, err := l.tokens.Save(ctx, domain.AuthToken{
		UserID:    profile.ID,
		Token:     refreshHash,
		ExpiresAt: now.Add(l.ttl.RefreshTTL),
		CreatedAt: now,
	}); err != nil {
		span.RecordError(err)
		l.metrics.RecordTokenOp("issue", metrics.ResultError)
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	if l.cache != nil {
		accessPayload := payload
		accessPayload.Type = domain.TokenTypeAccess
		accessPayload.Exp = now.Add(l.ttl.AccessTTL).Unix()
		if err := l.cache.SetAccessToken(ctx, jwt.HashToken(access), accessPayload, l.ttl.AccessTTL); err != nil {
			l.cacheWarn("cache access token", err)
		}
		if err := l.cache.SetRefreshToken(ctx, refreshHash, profile.ID, l.ttl.RefreshTTL); err != nil {
			l.cacheWarn("cache refresh token", err)
		}
		session := domain.Session{
			UserID:       profile.ID,
			Email:        profile.Email,
			Name:         profile.Name,
			AuthProvider: authProvider,
			LastLogin:    now,
		}
		if err := l.cache.SetUserSession(ctx, profile.ID, session, l.ttl.RefreshTTL); err != nil {
			l.cacheWarn("cache user session", err)
		}
	}

	if err := l.users.UpdateLastLogin(ctx, profile.ID, now); err != nil {
		l.log().Warn("update last login failed", zap.String("user_id", profile.ID), zap.Error(err))
	}

	l.metrics.RecordTokenOp("issue", metrics.ResultSuccess)
	l.audit("token.issued", "user_id", profile.ID, "auth_provider", authProvider)
	return &domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		UserID:       profile.ID,
		ExpiresIn:    l.ttl.AccessTTL,
	}, nil
}

// RefreshToken validates refreshToken and signs a new access token from its
// claims. The refresh token itself is not rotated.
func (l *TokenLifecycle) RefreshToken(ctx context.Context, refreshToken string) (string, error) {
	ctx, span := l.startSpan(ctx, "TokenLifecycle.RefreshToken")
	defer span.End()

	claims, ok := l.codec.Verify(refreshToken)
	if !ok || claims.Type != domain.TokenTypeRefresh {
		l.metrics.RecordTokenOp("refresh", metrics.ResultFailure)
		return "", domain.ErrInvalidToken
	}

	owner, err := l.resolveRefreshOwner(ctx, jwt.HashToken(refreshToken))
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, domain.ErrInvalidToken) {
			l.metrics.RecordTokenOp("refresh", metrics.ResultFailure)
		} else {
			l.metrics.RecordTokenOp("refresh", metrics.ResultError)
		}
		return "", err
	}
	if owner != claims.Sub {
		l.metrics.RecordTokenOp("refresh", metrics.ResultFailure)
		l.log().Warn("refresh token owner mismatch", zap.String("sub", claims.Sub), zap.String("owner", owner))
		return "", domain.ErrInvalidToken
	}

	payload := domain.TokenPayload{Sub: claims.Sub, Email: claims.Email, Name: claims.Name}
	access, err := l.codec.CreateAccessToken(payload, l.ttl.AccessTTL)
	if err != nil {
		span.RecordError(err)
		l.metrics.RecordTokenOp("refresh", metrics.ResultError)
		return "", fmt.Errorf("sign access token: %w", err)
	}

	if l.cache != nil {
		payload.Type = domain.TokenTypeAccess
		payload.Exp = l.now().UTC().Add(l.ttl.AccessTTL).Unix()
		if err := l.cache.SetAccessToken(ctx, jwt.HashToken(access), payload, l.ttl.AccessTTL); err != nil {
			l.cacheWarn("cache access token", err)
		}
	}

	l.metrics.RecordTokenOp("refresh", metrics.ResultSuccess)
	l.audit("token.refreshed", "user_id", claims.Sub)
	return access, nil
}

// resolveRefreshOwner returns the user owning the refresh token hash, reading
// the cache first and the store on a miss.
func (l *TokenLifecycle) resolveRefreshOwner(ctx context.Context, hash string) (string, error) {
	if l.cache != nil {
		owner, err := l.cache.GetRefreshToken(ctx, hash)
		switch {
		case errors.Is(err, domain.ErrTokenRevoked):
			l.metrics.RecordCacheLookup("refresh", metrics.ResultRevoked)
			return "", domain.ErrInvalidToken
		case err != nil:
			l.metrics.RecordCacheLookup("refresh", metrics.ResultError)
			l.cacheWarn("read refresh token", err)
		case owner != "":
			l.metrics.RecordCacheLookup("refresh", metrics.ResultHit)
			return owner, nil
		default:
			l.metrics.RecordCacheLookup("refresh", metrics.ResultMiss)
		}
	}

	record, err := l.tokens.GetByValue(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", domain.ErrInvalidToken
		}
		return "", fmt.Errorf("load refresh token: %w", err)
	}
	now := l.now()
	if !record.IsValid(now) {
		return "", domain.ErrInvalidToken
	}

	if l.cache != nil {
		if err := l.cache.SetRefreshToken(ctx, hash, record.UserID, record.Remaining(now)); err != nil {
			l.cacheWarn("repopulate refresh token", err)
		}
	}
	return record.UserID, nil
}

// RevokeToken revokes the refresh token in the store and then the cache.
// Revoking an unknown or already revoked token succeeds.
func (l *TokenLifecycle) RevokeToken(ctx context.Context, refreshToken string) error {
	ctx, span := l.startSpan(ctx, "TokenLifecycle.RevokeToken")
	defer span.End()

	hash := jwt.HashToken(refreshToken)
	if err := l.tokens.Revoke(ctx, hash); err != nil {
		span.RecordError(err)
		l.metrics.RecordTokenOp("revoke", metrics.ResultError)
		return fmt.Errorf("revoke token: %w", err)
	}
	if l.cache != nil {
		if err := l.cache.RevokeRefreshToken(ctx, hash); err != nil {
			span.RecordError(err)
			l.metrics.RecordTokenOp("revoke", metrics.ResultError)
			return fmt.Errorf("revoke cached token: %w", err)
		}
	}

	l.metrics.RecordTokenOp("revoke", metrics.ResultSuccess)
	l.audit("token.revoked", "token_hash", hash)
	return nil
}

// RevokeAccessToken drops a cached access token and leaves a revocation
// marker for its remaining lifetime. Access tokens are not stored durably,
// so without a cache this is a no-op.
func (l *TokenLifecycle) RevokeAccessToken(ctx context.Context, accessToken string) error {
	if l.cache == nil {
		return nil
	}
	ctx, span := l.startSpan(ctx, "TokenLifecycle.RevokeAccessToken")
	defer span.End()

	hash := jwt.HashToken(accessToken)
	if err := l.cache.RevokeAccessToken(ctx, hash); err != nil {
		span.RecordError(err)
		return fmt.Errorf("revoke cached access token: %w", err)
	}
	return nil
}

// VerifyAccessToken returns the claims of a valid access token. Cached claims
// are trusted as-is; a miss falls back to signature verification.
func (l *TokenLifecycle) VerifyAccessToken(ctx context.Context, accessToken string) (*domain.TokenPayload, error) {
	ctx, span := l.startSpan(ctx, "TokenLifecycle.VerifyAccessToken")
	defer span.End()

	hash := jwt.HashToken(accessToken)
	if l.cache != nil {
		payload, err := l.cache.GetAccessToken(ctx, hash)
		switch {
		case errors.Is(err, domain.ErrTokenRevoked):
			l.metrics.RecordCacheLookup("access", metrics.ResultRevoked)
			l.metrics.RecordTokenOp("verify", metrics.ResultFailure)
			return nil, domain.ErrInvalidToken
		case err != nil:
			l.metrics.RecordCacheLookup("access", metrics.ResultError)
			l.cacheWarn("read access token", err)
		case payload != nil:
			l.metrics.RecordCacheLookup("access", metrics.ResultHit)
			l.metrics.RecordTokenOp("verify", metrics.ResultSuccess)
			return payload, nil
		default:
			l.metrics.RecordCacheLookup("access", metrics.ResultMiss)
		}
	}

	payload, ok := l.codec.Verify(accessToken)
	if !ok || payload.Type != domain.TokenTypeAccess {
		l.metrics.RecordTokenOp("verify", metrics.ResultFailure)
		return nil, domain.ErrInvalidToken
	}

	if l.cache != nil {
		remaining := payload.ExpiresAt().Sub(l.now())
		if err := l.cache.SetAccessToken(ctx, hash, *payload, remaining); err != nil {
			l.cacheWarn("repopulate access token", err)
		}
	}

	l.metrics.RecordTokenOp("verify", metrics.ResultSuccess)
	return payload, nil
}

// RevokeAllForUser revokes every refresh token of userID and drops the
// cached tokens and session.
func (l *TokenLifecycle) RevokeAllForUser(ctx context.Context, userID string) error {
	ctx, span := l.startSpan(ctx, "TokenLifecycle.RevokeAllForUser")
	defer span.End()

	n, err := l.tokens.RevokeAllForUser(ctx, userID)
	if err != nil {
		span.RecordError(err)
		l.metrics.RecordTokenOp("revoke_all", metrics.ResultError)
		return fmt.Errorf("revoke user tokens: %w", err)
	}
	if l.cache != nil {
		if err := l.cache.RevokeAllForUser(ctx, userID); err != nil {
			span.RecordError(err)
			l.metrics.RecordTokenOp("revoke_all", metrics.ResultError)
			return fmt.Errorf("revoke cached user tokens: %w", err)
		}
		if err := l.cache.DeleteUserSession(ctx, userID); err != nil {
			span.RecordError(err)
			l.metrics.RecordTokenOp("revoke_all", metrics.ResultError)
			return fmt.Errorf("delete user session: %w", err)
		}
	}

	l.metrics.RecordTokenOp("revoke_all", metrics.ResultSuccess)
	l.audit("token.revoked_all", "user_id", userID, "count", n)
	return nil
}

// GetSession returns the cached session for userID, or nil when there is
// none or no cache is configured.
func (l *TokenLifecycle) GetSession(ctx context.Context, userID string) (*domain.Session, error) {
	if l.cache == nil {
		return nil, nil
	}
	session, err := l.cache.GetUserSession(ctx, userID)
	if err != nil {
		l.cacheWarn("read user session", err)
		return nil, nil
	}
	return session, nil
}

func (l *TokenLifecycle) cacheWarn(op string, err error) {
	l.log().Warn("session cache degraded", zap.String("op", op), zap.Error(err))
}

func (l *TokenLifecycle) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if l == nil || l.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return l.tracer.Start(ctx, name)
}

func (l *TokenLifecycle) audit(event string, attrs ...any) {
	logger := l.log()
	fields := make([]zap.Field, 0, len(attrs)/2+2)
	fields = append(fields, zap.String("event", event), zap.Time("timestamp", l.now().UTC()))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	logger.Info("audit", fields...)
}

func (l *TokenLifecycle) log() *zap.Logger {
	if l != nil && l.logger != nil {
		return l.logger
	}
	return zap.L()
}
