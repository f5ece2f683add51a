package jwt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"golang.org/x/time/rate"
)

// FetchFunc loads a published JSON Web Key Set.
type FetchFunc func(ctx context.Context) (*jose.JSONWebKeySet, error)

// ErrNoMatchingKey is returned when no key in the set verifies the signature.
var ErrNoMatchingKey = errors.New("jwks: no matching key")

// asymmetricAlgorithms are accepted when parsing upstream ID tokens. The
// verifier narrows these further to what the provider advertises.
var asymmetricAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.EdDSA,
}

// KeySet caches a provider's signing keys and refetches them when a token
// references a kid it has not seen. Refetches after the first load are
// limited to one per refresh interval; a failed refetch keeps the old keys.
type KeySet struct {
	fetch   FetchFunc
	limiter *rate.Limiter

	mu   sync.RWMutex
	keys *jose.JSONWebKeySet
}

// NewKeySet creates a KeySet. initial may be nil, in which case keys are
// fetched on first use.
func NewKeySet(fetch FetchFunc, initial *jose.JSONWebKeySet, minRefresh time.Duration) *KeySet {
	if minRefresh <= 0 {
		minRefresh = time.Minute
	}
	return &KeySet{
		fetch:   fetch,
		limiter: rate.NewLimiter(rate.Every(minRefresh), 1),
		keys:    initial,
	}
}

// VerifySignature implements oidc.KeySet.
func (s *KeySet) VerifySignature(ctx context.Context, token string) ([]byte, error) {
	jws, err := jose.ParseSigned(token, asymmetricAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("parse jws: %w", err)
	}
	if len(jws.Signatures) != 1 {
		return nil, fmt.Errorf("expected one signature, got %d", len(jws.Signatures))
	}
	kid := jws.Signatures[0].Header.KeyID

	keys := s.current()
	if keys == nil || len(candidates(keys, kid)) == 0 {
		if keys, err = s.refresh(ctx, keys); err != nil {
			return nil, err
		}
	}

	for _, key := range candidates(keys, kid) {
		if payload, err := jws.Verify(key); err == nil {
			return payload, nil
		}
	}
	return nil, ErrNoMatchingKey
}

// Keys returns the cached key set, or nil before the first fetch.
func (s *KeySet) Keys() *jose.JSONWebKeySet {
	return s.current()
}

func (s *KeySet) current() *jose.JSONWebKeySet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys
}

func (s *KeySet) refresh(ctx context.Context, stale *jose.JSONWebKeySet) (*jose.JSONWebKeySet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Another caller refreshed while we waited for the lock.
	if s.keys != stale {
		return s.keys, nil
	}
	if stale != nil && !s.limiter.Allow() {
		return stale, nil
	}

	fetched, err := s.fetch(ctx)
	if err != nil {
		if stale != nil {
			return stale, nil
		}
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	s.keys = fetched
	return fetched, nil
}

func candidates(set *jose.JSONWebKeySet, kid string) []jose.JSONWebKey {
	if set == nil {
		return nil
	}
	if kid != "" {
		return set.Key(kid)
	}
	out := make([]jose.JSONWebKey, 0, len(set.Keys))
	for _, key := range set.Keys {
		if key.Use == "" || key.Use == "sig" {
			out = append(out, key)
		}
	}
	return out
}
