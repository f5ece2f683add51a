package oauth

import "time"

// ProviderConfig is the static configuration of one external OpenID Connect provider.
type ProviderConfig struct {
	Name         string
	ClientID     string
	ClientSecret string
	DiscoveryURL string
	RedirectURI  string
	Scopes       []string
	Enabled      bool
}

// DefaultScopes are requested when a provider configures none.
var DefaultScopes = []string{"openid", "email", "profile"}

// EffectiveScopes returns the configured scopes or DefaultScopes.
func (c ProviderConfig) EffectiveScopes() []string {
	if len(c.Scopes) == 0 {
		return append([]string(nil), DefaultScopes...)
	}
	return append([]string(nil), c.Scopes...)
}

// OAuthState captures the state/nonce/pkce tuple persisted during authorization.
type OAuthState struct {
	State        string    `json:"state"`
	Nonce        string    `json:"nonce"`
	CodeVerifier string    `json:"code_verifier"`
	Provider     string    `json:"provider"`
	CreatedAt    time.Time `json:"created_at"`
}

// OAuthTokenResponse models the response from an external IdP token endpoint.
type OAuthTokenResponse struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	IDToken      string
	Expiry       time.Time
}

// IdentityClaims are the ID token claims used to resolve an internal user.
type IdentityClaims struct {
	Issuer            string `json:"iss"`
	Subject           string `json:"sub"`
	Email             string `json:"email"`
	EmailVerified     *bool  `json:"email_verified,omitempty"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	Nonce             string `json:"nonce"`
}

// DisplayName prefers name and falls back to preferred_username.
func (c IdentityClaims) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.PreferredUsername
}
