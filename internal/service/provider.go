package service

import (
	"context"

	"github.com/smallbiznis/tokenauth/internal/domain"
)

// AuthProvider is the contract shared by every credential source. Tokens
// issued by any provider share one codec, so refresh, revoke and verify are
// provider independent.
type AuthProvider interface {
	Name() string
	// Authenticate exchanges credentials for a token pair. Failures return
	// domain.ErrInvalidCredentials without saying which part was wrong.
	Authenticate(ctx context.Context, email, password string) (*domain.TokenPair, error)
	// RefreshToken mints a new access token from a valid refresh token.
	RefreshToken(ctx context.Context, refreshToken string) (string, error)
	// RevokeToken invalidates a refresh token. Unknown tokens are not an error.
	RevokeToken(ctx context.Context, refreshToken string) error
	VerifyAccessToken(ctx context.Context, accessToken string) (*domain.TokenPayload, error)
}

// OpenIDFlow is implemented by providers that log users in through an
// external authorization-code redirect.
type OpenIDFlow interface {
	InitiateAuth(ctx context.Context, state string) (authURL string, outState string, err error)
	HandleCallback(ctx context.Context, code, state string) (*domain.TokenPair, error)
}
