package domain

import "errors"

var (
	// ErrInvalidCredentials is returned for any failed login, without saying which part was wrong.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrInvalidToken covers malformed, expired, revoked and wrong-type tokens.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrTokenRevoked is reported by the session cache when a revocation marker exists.
	ErrTokenRevoked = errors.New("auth: token revoked")
	ErrUnknownProvider = errors.New("auth: unknown provider")
	// ErrUnsupportedOperation signals an operation the provider variant does not offer.
	ErrUnsupportedOperation = errors.New("auth: unsupported operation")
	// ErrProviderNotConfigured is a wiring error: a provider was built without a required dependency.
	ErrProviderNotConfigured = errors.New("auth: provider not configured")
)
