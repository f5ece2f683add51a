package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/smallbiznis/tokenauth/internal/domain"
	"github.com/smallbiznis/tokenauth/internal/metrics"
	"github.com/smallbiznis/tokenauth/internal/password"
	"github.com/smallbiznis/tokenauth/internal/repository"
)

// LocalProviderName is the registry key of the email/password provider.
const LocalProviderName = "local"

// LocalProvider authenticates users against locally stored password hashes.
type LocalProvider struct {
	*TokenLifecycle
	creds  repository.CredentialRepository
	hasher *password.Hasher
}

var _ AuthProvider = (*LocalProvider)(nil)

// NewLocalProvider wires the email/password provider.
func NewLocalProvider(lifecycle *TokenLifecycle, creds repository.CredentialRepository, hasher *password.Hasher) (*LocalProvider, error) {
	if lifecycle == nil || creds == nil {
		return nil, fmt.Errorf("local provider: %w", domain.ErrProviderNotConfigured)
	}
	if hasher == nil {
		hasher = password.NewHasher()
	}
	return &LocalProvider{TokenLifecycle: lifecycle, creds: creds, hasher: hasher}, nil
}

func (p *LocalProvider) Name() string { return LocalProviderName }

// Authenticate verifies email and password and issues a token pair.
func (p *LocalProvider) Authenticate(ctx context.Context, email, plain string) (*domain.TokenPair, error) {
	ctx, span := p.startSpan(ctx, "LocalProvider.Authenticate")
	defer span.End()

	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" || plain == "" {
		return nil, p.reject(normalized, "missing credentials")
	}

	cred, err := p.creds.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, p.reject(normalized, "unknown email")
		}
		span.RecordError(err)
		p.metrics.RecordAuthAttempt(LocalProviderName, metrics.ResultError)
		return nil, fmt.Errorf("load credential: %w", err)
	}

	ok, err := p.hasher.Verify(plain, cred.PasswordHash)
	if err != nil {
		p.log().Warn("stored password hash unusable", zap.String("user_id", cred.UserID), zap.Error(err))
		return nil, p.reject(normalized, "malformed hash")
	}
	if !ok {
		return nil, p.reject(normalized, "wrong password")
	}

	user, err := p.users.GetByID(ctx, cred.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, p.reject(normalized, "user missing")
		}
		span.RecordError(err)
		p.metrics.RecordAuthAttempt(LocalProviderName, metrics.ResultError)
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !user.Active() {
		return nil, p.reject(normalized, "user inactive")
	}

	p.upgradeHash(ctx, cred, plain)

	pair, err := p.Issue(ctx, user, LocalProviderName)
	if err != nil {
		span.RecordError(err)
		p.metrics.RecordAuthAttempt(LocalProviderName, metrics.ResultError)
		return nil, err
	}
	p.metrics.RecordAuthAttempt(LocalProviderName, metrics.ResultSuccess)
	p.audit("password.login.success", "user_id", user.ID)
	return pair, nil
}

// upgradeHash re-hashes a credential stored with bcrypt or weaker argon2id
// costs. Failures are logged and never block the login.
func (p *LocalProvider) upgradeHash(ctx context.Context, cred domain.UserCredential, plain string) {
	if !p.hasher.NeedsRehash(cred.PasswordHash) {
		return
	}
	hash, err := p.hasher.Hash(plain)
	if err == nil {
		err = p.creds.UpdatePassword(ctx, cred.UserID, hash)
	}
	if err != nil {
		p.log().Warn("password rehash failed", zap.String("user_id", cred.UserID), zap.Error(err))
		return
	}
	p.audit("password.rehashed", "user_id", cred.UserID)
}

func (p *LocalProvider) reject(email, reason string) error {
	p.metrics.RecordAuthAttempt(LocalProviderName, metrics.ResultFailure)
	p.audit("password.login.failure", "email", email, "reason", reason)
	return domain.ErrInvalidCredentials
}
