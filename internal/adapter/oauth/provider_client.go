package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/smallbiznis/tokenauth/internal/domain"
	domainoauth "github.com/smallbiznis/tokenauth/internal/domain/oauth"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultMaxTries = 3
	maxBodyBytes    = 1 << 20
)

// Client performs the outbound calls to an external IdP: discovery, key set
// download and the authorization code exchange.
type Client struct {
	httpClient      *http.Client
	logger          *zap.Logger
	maxTries        uint
	initialInterval time.Duration
}

// Option customises a Client.
type Option func(*Client)

// WithLogger sets the logger used for retry notices.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRetry caps the attempts made for discovery and key set downloads.
func WithRetry(maxTries uint, initialInterval time.Duration) Option {
	return func(c *Client) {
		if maxTries > 0 {
			c.maxTries = maxTries
		}
		if initialInterval > 0 {
			c.initialInterval = initialInterval
		}
	}
}

// NewClient constructs a Client. A nil httpClient gets a 10s timeout.
func NewClient(httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	c := &Client{
		httpClient:      httpClient,
		logger:          zap.NewNop(),
		maxTries:        defaultMaxTries,
		initialInterval: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HTTPClient returns the client used for IdP calls.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Context attaches the http client so go-oidc and oauth2 use it.
func (c *Client) Context(ctx context.Context) context.Context {
	ctx = oidc.ClientContext(ctx, c.httpClient)
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// Discover downloads and validates the provider's discovery document.
func (c *Client) Discover(ctx context.Context, discoveryURL string) (*oidc.ProviderConfig, error) {
	if strings.TrimSpace(discoveryURL) == "" {
		return nil, fmt.Errorf("discovery url missing: %w", domainoauth.ErrDiscoveryInvalid)
	}
	var doc oidc.ProviderConfig
	if err := c.getJSON(ctx, discoveryURL, &doc); err != nil {
		return nil, fmt.Errorf("discover %s: %w", discoveryURL, err)
	}

	var missing []string
	if doc.IssuerURL == "" {
		missing = append(missing, "issuer")
	}
	if doc.AuthURL == "" {
		missing = append(missing, "authorization_endpoint")
	}
	if doc.TokenURL == "" {
		missing = append(missing, "token_endpoint")
	}
	if doc.JWKSURL == "" {
		missing = append(missing, "jwks_uri")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("discovery missing %s: %w", strings.Join(missing, ", "), domainoauth.ErrDiscoveryInvalid)
	}
	return &doc, nil
}

// FetchKeySet downloads the JSON Web Key Set published at jwksURL.
func (c *Client) FetchKeySet(ctx context.Context, jwksURL string) (*jose.JSONWebKeySet, error) {
	var set jose.JSONWebKeySet
	if err := c.getJSON(ctx, jwksURL, &set); err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	return &set, nil
}

// ExchangeCode redeems an authorization code at the token endpoint of conf.
// A rejected grant maps to domain.ErrInvalidCredentials; transport failures
// and 5xx responses map to ErrProviderUnavailable.
func (c *Client) ExchangeCode(ctx context.Context, conf *oauth2.Config, code string, opts ...oauth2.AuthCodeOption) (*domainoauth.OAuthTokenResponse, error) {
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("authorization code missing: %w", domainoauth.ErrInvalidRequest)
	}

	tok, err := conf.Exchange(c.Context(ctx), code, opts...)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil && rerr.Response.StatusCode < http.StatusInternalServerError {
			return nil, fmt.Errorf("token exchange rejected (%s): %w", rerr.ErrorCode, domain.ErrInvalidCredentials)
		}
		return nil, fmt.Errorf("token exchange: %v: %w", err, domainoauth.ErrProviderUnavailable)
	}

	idToken, _ := tok.Extra("id_token").(string)
	return &domainoauth.OAuthTokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		IDToken:      idToken,
		Expiry:       tok.Expiry,
	}, nil
}

// getJSON fetches url and decodes the body into out. Network errors and 5xx
// responses are retried with exponential backoff; 4xx responses are final.
func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.initialInterval
	expBackoff.MaxInterval = 20 * c.initialInterval
	expBackoff.Reset()

	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("status=%d", resp.StatusCode)
		}
		if resp.StatusCode >= 300 {
			return nil, backoff.Permanent(fmt.Errorf("status=%d", resp.StatusCode))
		}
		return body, nil
	}

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Warn("idp request failed, retrying", zap.String("url", url), zap.Duration("wait", wait), zap.Error(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("%v: %w", err, domainoauth.ErrProviderUnavailable)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %v: %w", err, domainoauth.ErrProviderUnavailable)
	}
	return nil
}
