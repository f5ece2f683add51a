package domain

import "time"

// TokenType distinguishes access tokens from refresh tokens.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// AuthToken persists a refresh token by its hash. The raw value is never stored.
type AuthToken struct {
	ID        int64
	UserID    string
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   bool
}

// IsExpired reports whether the token lifetime has elapsed at now.
func (t AuthToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsValid reports whether the token is neither expired nor revoked.
func (t AuthToken) IsValid(now time.Time) bool {
	return !t.Revoked && !t.IsExpired(now)
}

// Remaining returns the lifetime left at now, never negative.
func (t AuthToken) Remaining(now time.Time) time.Duration {
	if d := t.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// TokenPayload is the signed claim set carried by internal JWTs.
type TokenPayload struct {
	Sub   string    `json:"sub"`
	Email string    `json:"email"`
	Name  string    `json:"name,omitempty"`
	Exp   int64     `json:"exp"`
	Type  TokenType `json:"type"`
}

// ExpiresAt converts the exp claim to a UTC time.
func (p TokenPayload) ExpiresAt() time.Time {
	return time.Unix(p.Exp, 0).UTC()
}

// TokenPair is returned by a successful authentication.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	UserID       string
	ExpiresIn    time.Duration
}
