package jwt

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/smallbiznis/tokenauth/internal/domain"
)

// MinSecretLength is the smallest HMAC key accepted for HS256.
const MinSecretLength = 32

var errSecretTooShort = fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)

// Codec is responsible for signing and validating internal JWTs.
type Codec struct {
	secret []byte
	alg    gojose.SignatureAlgorithm
	issuer string
	signer gojose.Signer
	now    func() time.Time
}

// Option customizes a Codec.
type Option func(*Codec)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// NewCodec constructs an HS256 codec for the given secret and issuer.
func NewCodec(secret []byte, issuer string, opts ...Option) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, errSecretTooShort
	}
	c := &Codec{
		secret: append([]byte(nil), secret...),
		alg:    gojose.HS256,
		issuer: issuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	signer, err := gojose.NewSigner(gojose.SigningKey{Algorithm: c.alg, Key: c.secret}, (&gojose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return nil, fmt.Errorf("new signer: %w", err)
	}
	c.signer = signer
	return c, nil
}

// tokenClaims is the private claim set embedded next to the registered claims.
type tokenClaims struct {
	Email string           `json:"email"`
	Name  string           `json:"name,omitempty"`
	Type  domain.TokenType `json:"type"`
}

// CreateAccessToken signs an access token expiring after ttl.
func (c *Codec) CreateAccessToken(payload domain.TokenPayload, ttl time.Duration) (string, error) {
	return c.create(payload, domain.TokenTypeAccess, ttl)
}

// CreateRefreshToken signs a refresh token expiring after ttl.
func (c *Codec) CreateRefreshToken(payload domain.TokenPayload, ttl time.Duration) (string, error) {
	return c.create(payload, domain.TokenTypeRefresh, ttl)
}

func (c *Codec) create(payload domain.TokenPayload, typ domain.TokenType, ttl time.Duration) (string, error) {
	if payload.Sub == "" {
		return "", errors.New("jwt subject required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("jwt ttl must be positive, got %s", ttl)
	}

	now := c.now().UTC()
	std := gojwt.Claims{
		ID:        uuid.NewString(),
		Subject:   payload.Sub,
		Issuer:    c.issuer,
		IssuedAt:  gojwt.NewNumericDate(now),
		NotBefore: gojwt.NewNumericDate(now),
		Expiry:    gojwt.NewNumericDate(now.Add(ttl)),
	}
	custom := tokenClaims{
		Email: payload.Email,
		Name:  payload.Name,
		Type:  typ,
	}

	token, err := gojwt.Signed(c.signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize jwt: %w", err)
	}
	return token, nil
}

// Verify checks signature, issuer and expiry. Any failure yields (nil, false).
func (c *Codec) Verify(token string) (*domain.TokenPayload, bool) {
	parsed, err := gojwt.ParseSigned(token, []gojose.SignatureAlgorithm{c.alg})
	if err != nil {
		return nil, false
	}

	var std gojwt.Claims
	var custom tokenClaims
	if err := parsed.Claims(c.secret, &std, &custom); err != nil {
		return nil, false
	}

	now := c.now().UTC()
	expected := gojwt.Expected{Issuer: c.issuer, Time: now}
	if err := std.ValidateWithLeeway(expected, 0); err != nil {
		return nil, false
	}
	// A token is dead at its exp instant, not one second after.
	if std.Subject == "" || std.Expiry == nil || !now.Before(std.Expiry.Time()) {
		return nil, false
	}
	if custom.Type != domain.TokenTypeAccess && custom.Type != domain.TokenTypeRefresh {
		return nil, false
	}

	return &domain.TokenPayload{
		Sub:   std.Subject,
		Email: custom.Email,
		Name:  custom.Name,
		Exp:   std.Expiry.Time().Unix(),
		Type:  custom.Type,
	}, true
}

// Hash returns the hex SHA-256 digest used to key stored and cached tokens.
func (c *Codec) Hash(token string) string {
	return HashToken(token)
}

// HashToken is the package-level form of Codec.Hash.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
