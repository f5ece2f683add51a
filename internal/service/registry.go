package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/smallbiznis/tokenauth/internal/domain"
)

// Registry resolves providers by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]AuthProvider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]AuthProvider)}
}

// Register adds p under p.Name(). Names are unique.
func (r *Registry) Register(p AuthProvider) error {
	if p == nil {
		return fmt.Errorf("register provider: %w", domain.ErrProviderNotConfigured)
	}
	name := p.Name()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.providers[name] = p
	return nil
}

// Get returns the provider registered under name or domain.ErrUnknownProvider.
func (r *Registry) Get(name string) (AuthProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q: %w", name, domain.ErrUnknownProvider)
	}
	return p, nil
}

// Names lists registered providers in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) flow(name string) (OpenIDFlow, error) {
	p, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	flow, ok := p.(OpenIDFlow)
	if !ok {
		return nil, fmt.Errorf("provider %q has no redirect flow: %w", name, domain.ErrUnsupportedOperation)
	}
	return flow, nil
}

// InitiateAuth starts the authorization-code flow of an OpenID provider.
func (r *Registry) InitiateAuth(ctx context.Context, provider, state string) (string, string, error) {
	flow, err := r.flow(provider)
	if err != nil {
		return "", "", err
	}
	return flow.InitiateAuth(ctx, state)
}

// HandleCallback completes the authorization-code flow of an OpenID provider.
func (r *Registry) HandleCallback(ctx context.Context, provider, code, state string) (*domain.TokenPair, error) {
	flow, err := r.flow(provider)
	if err != nil {
		return nil, err
	}
	return flow.HandleCallback(ctx, code, state)
}
