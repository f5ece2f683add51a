// Package openid implements the AuthProvider variant that logs users in
// through an external OpenID Connect identity provider.
package openid

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	oauthadapter "github.com/smallbiznis/tokenauth/internal/adapter/oauth"
	"github.com/smallbiznis/tokenauth/internal/domain"
	domainoauth "github.com/smallbiznis/tokenauth/internal/domain/oauth"
	"github.com/smallbiznis/tokenauth/internal/jwt"
	"github.com/smallbiznis/tokenauth/internal/metrics"
	"github.com/smallbiznis/tokenauth/internal/repository"
	"github.com/smallbiznis/tokenauth/internal/service"
)

// AuthProviderTag is recorded on sessions created through any OpenID provider.
const AuthProviderTag = "openid"

const (
	statePrefix           = "oauth_state:"
	defaultStateTTL       = 10 * time.Minute
	defaultJWKSMinRefresh = time.Minute
)

// Options holds the optional collaborators of a Provider.
type Options struct {
	// StateStore enables state, nonce and PKCE validation. Without it the
	// callback trusts the state value it is given.
	StateStore     repository.OAuthStateStore
	StateTTL       time.Duration
	JWKSMinRefresh time.Duration
	Metrics        *metrics.Collector
	Logger         *zap.Logger
}

// providerState is the discovery result, resolved once per provider.
type providerState struct {
	discovery *oidc.ProviderConfig
	oauth2    *oauth2.Config
	verifier  *oidc.IDTokenVerifier
	keys      *jwt.KeySet
}

// Provider authenticates users with the authorization-code flow of one
// external IdP and issues internal tokens through the shared lifecycle.
type Provider struct {
	*service.TokenLifecycle

	cfg            domainoauth.ProviderConfig
	client         *oauthadapter.Client
	users          repository.UserRepository
	states         repository.OAuthStateStore
	stateTTL       time.Duration
	jwksMinRefresh time.Duration
	metrics        *metrics.Collector
	logger         *zap.Logger
	tracer         trace.Tracer

	mu    sync.Mutex
	state *providerState
}

var (
	_ service.AuthProvider = (*Provider)(nil)
	_ service.OpenIDFlow   = (*Provider)(nil)
)

// New builds a Provider. Discovery is deferred to the first flow call.
func New(lifecycle *service.TokenLifecycle, users repository.UserRepository, client *oauthadapter.Client, cfg domainoauth.ProviderConfig, opts Options) (*Provider, error) {
	if lifecycle == nil || users == nil {
		return nil, fmt.Errorf("openid provider %q: %w", cfg.Name, domain.ErrProviderNotConfigured)
	}
	if strings.TrimSpace(cfg.Name) == "" || strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.DiscoveryURL) == "" {
		return nil, fmt.Errorf("openid provider %q: name, client id and discovery url required: %w", cfg.Name, domain.ErrProviderNotConfigured)
	}
	if client == nil {
		client = oauthadapter.NewClient(nil)
	}
	p := &Provider{
		TokenLifecycle: lifecycle,
		cfg:            cfg,
		client:         client,
		users:          users,
		states:         opts.StateStore,
		stateTTL:       opts.StateTTL,
		jwksMinRefresh: opts.JWKSMinRefresh,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		tracer:         otel.Tracer("github.com/smallbiznis/tokenauth/internal/service/openid"),
	}
	if p.stateTTL <= 0 {
		p.stateTTL = defaultStateTTL
	}
	if p.jwksMinRefresh <= 0 {
		p.jwksMinRefresh = defaultJWKSMinRefresh
	}
	return p, nil
}

func (p *Provider) Name() string { return p.cfg.Name }

// Authenticate is not offered: OpenID users log in through the redirect flow.
func (p *Provider) Authenticate(context.Context, string, string) (*domain.TokenPair, error) {
	return nil, fmt.Errorf("%s password login: %w", p.cfg.Name, domain.ErrUnsupportedOperation)
}

// ensureState runs discovery and downloads the key set the first time it is
// needed. A failure leaves nothing cached so the next call retries.
func (p *Provider) ensureState(ctx context.Context) (*providerState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != nil {
		return p.state, nil
	}

	started := time.Now()
	doc, err := p.client.Discover(ctx, p.cfg.DiscoveryURL)
	p.metrics.ObserveUpstream(p.cfg.Name, "discovery", time.Since(started))
	if err != nil {
		return nil, err
	}

	started = time.Now()
	initial, err := p.client.FetchKeySet(ctx, doc.JWKSURL)
	p.metrics.ObserveUpstream(p.cfg.Name, "jwks", time.Since(started))
	if err != nil {
		return nil, err
	}

	jwksURL := doc.JWKSURL
	keys := jwt.NewKeySet(func(ctx context.Context) (*jose.JSONWebKeySet, error) {
		started := time.Now()
		defer func() { p.metrics.ObserveUpstream(p.cfg.Name, "jwks", time.Since(started)) }()
		return p.client.FetchKeySet(ctx, jwksURL)
	}, initial, p.jwksMinRefresh)

	verifier := oidc.NewVerifier(doc.IssuerURL, keys, &oidc.Config{
		ClientID:             p.cfg.ClientID,
		SupportedSigningAlgs: doc.Algorithms,
	})

	p.state = &providerState{
		discovery: doc,
		oauth2: &oauth2.Config{
			ClientID:     p.cfg.ClientID,
			ClientSecret: p.cfg.ClientSecret,
			RedirectURL:  p.cfg.RedirectURI,
			Scopes:       p.cfg.EffectiveScopes(),
			Endpoint: oauth2.Endpoint{
				AuthURL:   doc.AuthURL,
				TokenURL:  doc.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		verifier: verifier,
		keys:     keys,
	}
	p.log().Info("openid provider discovered",
		zap.String("provider", p.cfg.Name),
		zap.String("issuer", doc.IssuerURL),
		zap.Int("keys", len(initial.Keys)),
	)
	return p.state, nil
}

// InitiateAuth returns the IdP authorization URL. An empty state is replaced
// with a random one. With a state store, a nonce and PKCE verifier are bound
// to the state for the callback.
func (p *Provider) InitiateAuth(ctx context.Context, state string) (string, string, error) {
	ctx, span := p.startSpan(ctx, "openid.InitiateAuth")
	defer span.End()

	ps, err := p.ensureState(ctx)
	if err != nil {
		span.RecordError(err)
		return "", "", err
	}

	state = strings.TrimSpace(state)
	if state == "" {
		if state, err = secureRandomString(32); err != nil {
			return "", "", fmt.Errorf("generate state: %w", err)
		}
	}

	var opts []oauth2.AuthCodeOption
	if p.states != nil {
		nonce, err := secureRandomString(32)
		if err != nil {
			return "", "", fmt.Errorf("generate nonce: %w", err)
		}
		verifier := oauth2.GenerateVerifier()
		payload := domainoauth.OAuthState{
			State:        state,
			Nonce:        nonce,
			CodeVerifier: verifier,
			Provider:     p.cfg.Name,
			CreatedAt:    time.Now().UTC(),
		}
		if err := p.states.SaveState(ctx, buildStateKey(p.cfg.Name, state), payload, p.stateTTL); err != nil {
			span.RecordError(err)
			return "", "", fmt.Errorf("persist state: %w", err)
		}
		opts = append(opts, oidc.Nonce(nonce), oauth2.S256ChallengeOption(verifier))
	}

	return ps.oauth2.AuthCodeURL(state, opts...), state, nil
}

// HandleCallback exchanges the authorization code, verifies the ID token and
// issues internal tokens for the matching local user.
func (p *Provider) HandleCallback(ctx context.Context, code, state string) (*domain.TokenPair, error) {
	ctx, span := p.startSpan(ctx, "openid.HandleCallback")
	defer span.End()
	span.SetAttributes(attribute.String("auth.provider", p.cfg.Name))

	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("authorization code missing: %w", domainoauth.ErrInvalidRequest)
	}

	ps, err := p.ensureState(ctx)
	if err != nil {
		span.RecordError(err)
		p.metrics.RecordAuthAttempt(p.cfg.Name, metrics.ResultError)
		return nil, err
	}

	var (
		expectedNonce string
		exchangeOpts  []oauth2.AuthCodeOption
	)
	if p.states != nil {
		stored, err := p.takeCallbackState(ctx, state)
		if err != nil {
			p.reject("invalid state")
			return nil, err
		}
		expectedNonce = stored.Nonce
		if stored.CodeVerifier != "" {
			exchangeOpts = append(exchangeOpts, oauth2.VerifierOption(stored.CodeVerifier))
		}
	}

	started := time.Now()
	tok, err := p.client.ExchangeCode(ctx, ps.oauth2, code, exchangeOpts...)
	p.metrics.ObserveUpstream(p.cfg.Name, "exchange", time.Since(started))
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, domain.ErrInvalidCredentials) {
			p.reject("code rejected")
		} else {
			p.metrics.RecordAuthAttempt(p.cfg.Name, metrics.ResultError)
		}
		return nil, err
	}
	if tok.IDToken == "" {
		p.reject("id_token missing")
		return nil, fmt.Errorf("token response without id_token: %w", domain.ErrInvalidToken)
	}

	claims, err := p.verifyIDToken(ctx, ps, tok.IDToken, expectedNonce)
	if err != nil {
		span.RecordError(err)
		p.reject("id_token rejected")
		return nil, err
	}

	user, err := p.users.GetByEmail(ctx, claims.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			p.reject("no local user")
			return nil, domain.ErrInvalidCredentials
		}
		p.metrics.RecordAuthAttempt(p.cfg.Name, metrics.ResultError)
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !user.Active() {
		p.reject("user inactive")
		return nil, domain.ErrInvalidCredentials
	}

	pair, err := p.Issue(ctx, user, AuthProviderTag)
	if err != nil {
		p.metrics.RecordAuthAttempt(p.cfg.Name, metrics.ResultError)
		return nil, err
	}
	p.metrics.RecordAuthAttempt(p.cfg.Name, metrics.ResultSuccess)
	p.audit("openid.login.success", zap.String("user_id", user.ID), zap.String("subject", claims.Subject))
	return pair, nil
}

func (p *Provider) verifyIDToken(ctx context.Context, ps *providerState, raw, expectedNonce string) (*domainoauth.IdentityClaims, error) {
	idToken, err := ps.verifier.Verify(p.client.Context(ctx), raw)
	if err != nil {
		p.log().Warn("id token verification failed", zap.String("provider", p.cfg.Name), zap.Error(err))
		return nil, fmt.Errorf("verify id token: %w", domain.ErrInvalidToken)
	}
	if expectedNonce != "" && idToken.Nonce != expectedNonce {
		return nil, fmt.Errorf("id token nonce mismatch: %w", domain.ErrInvalidToken)
	}

	var claims domainoauth.IdentityClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decode id token claims: %w", domain.ErrInvalidToken)
	}
	if claims.Subject == "" || strings.TrimSpace(claims.Email) == "" {
		return nil, fmt.Errorf("id token lacks sub or email: %w", domain.ErrInvalidToken)
	}
	if claims.EmailVerified != nil && !*claims.EmailVerified {
		return nil, fmt.Errorf("id token email not verified: %w", domain.ErrInvalidToken)
	}
	claims.Email = strings.ToLower(strings.TrimSpace(claims.Email))
	return &claims, nil
}

// takeCallbackState consumes the stored state. A replayed or forged state
// finds nothing.
func (p *Provider) takeCallbackState(ctx context.Context, state string) (*domainoauth.OAuthState, error) {
	state = strings.TrimSpace(state)
	if state == "" {
		return nil, domainoauth.ErrInvalidState
	}
	stored, err := p.states.TakeState(ctx, buildStateKey(p.cfg.Name, state))
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if stored == nil || !strings.EqualFold(stored.Provider, p.cfg.Name) || stored.State != state {
		return nil, domainoauth.ErrInvalidState
	}
	return stored, nil
}

func (p *Provider) reject(reason string) {
	p.metrics.RecordAuthAttempt(p.cfg.Name, metrics.ResultFailure)
	p.audit("openid.login.failure", zap.String("reason", reason))
}

func (p *Provider) audit(event string, fields ...zap.Field) {
	fields = append([]zap.Field{
		zap.String("event", event),
		zap.String("provider", p.cfg.Name),
		zap.Time("timestamp", time.Now().UTC()),
	}, fields...)
	p.log().Info("audit", fields...)
}

func (p *Provider) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if p == nil || p.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return p.tracer.Start(ctx, name)
}

func (p *Provider) log() *zap.Logger {
	if p != nil && p.logger != nil {
		return p.logger
	}
	return zap.L()
}

func buildStateKey(provider, state string) string {
	return statePrefix + provider + ":" + strings.TrimSpace(state)
}

func secureRandomString(size int) (string, error) {
	if size <= 0 {
		size = 32
	}
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
