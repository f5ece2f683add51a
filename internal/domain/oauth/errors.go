package oauth

import "errors"

var (
	// ErrInvalidRequest indicates caller input validation errors.
	ErrInvalidRequest = errors.New("oauth: invalid request")
	// ErrInvalidState indicates the OAuth state/nonce pair is invalid or missing.
	ErrInvalidState = errors.New("oauth: invalid state")
	// ErrProviderUnavailable wraps discovery, key set and token endpoint failures.
	ErrProviderUnavailable = errors.New("oauth: provider unavailable")
	// ErrDiscoveryInvalid signals a discovery document missing required endpoints.
	ErrDiscoveryInvalid = errors.New("oauth: invalid discovery document")
)
