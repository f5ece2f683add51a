package repository

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/tokenauth/internal/domain"
	"github.com/smallbiznis/tokenauth/internal/domain/oauth"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("repository: not found")

// UserRepository is the user-information collaborator.
type UserRepository interface {
	GetByID(ctx context.Context, userID string) (domain.UserProfile, error)
	GetByEmail(ctx context.Context, email string) (domain.UserProfile, error)
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
	Create(ctx context.Context, user domain.UserProfile) (domain.UserProfile, error)
}

// CredentialRepository stores local password credentials.
type CredentialRepository interface {
	GetByEmail(ctx context.Context, email string) (domain.UserCredential, error)
	GetByUserID(ctx context.Context, userID string) (domain.UserCredential, error)
	Create(ctx context.Context, cred domain.UserCredential) (domain.UserCredential, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}

// TokenRepository is the durable refresh-token store. Tokens are addressed
// by the hash of their raw value.
type TokenRepository interface {
	Save(ctx context.Context, token domain.AuthToken) (domain.AuthToken, error)
	GetByValue(ctx context.Context, tokenHash string) (domain.AuthToken, error)
	GetAllForUser(ctx context.Context, userID string) ([]domain.AuthToken, error)
	Revoke(ctx context.Context, tokenHash string) error
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
	CleanupExpired(ctx context.Context) (int64, error)
}

// SessionCache is the optional fast tier in front of TokenRepository.
// Lookups return a zero value and nil error on a miss, and
// domain.ErrTokenRevoked when a revocation marker exists.
type SessionCache interface {
	SetAccessToken(ctx context.Context, tokenHash string, payload domain.TokenPayload, ttl time.Duration) error
	GetAccessToken(ctx context.Context, tokenHash string) (*domain.TokenPayload, error)
	RevokeAccessToken(ctx context.Context, tokenHash string) error

	SetRefreshToken(ctx context.Context, tokenHash, userID string, ttl time.Duration) error
	GetRefreshToken(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshToken(ctx context.Context, tokenHash string) error

	RevokeAllForUser(ctx context.Context, userID string) error
	IsRevoked(ctx context.Context, tokenHash string) (bool, error)

	SetUserSession(ctx context.Context, userID string, session domain.Session, ttl time.Duration) error
	GetUserSession(ctx context.Context, userID string) (*domain.Session, error)
	DeleteUserSession(ctx context.Context, userID string) error
}

// OAuthStateStore persists short-lived authorization state between the
// redirect and the callback. TakeState is single-use: it returns the entry and
// removes it in one step, yielding nil when absent or expired.
type OAuthStateStore interface {
	SaveState(ctx context.Context, key string, data oauth.OAuthState, ttl time.Duration) error
	TakeState(ctx context.Context, key string) (*oauth.OAuthState, error)
}
