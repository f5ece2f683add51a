package oauth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	adapteroauth "github.com/smallbiznis/tokenauth/internal/adapter/oauth"
	"github.com/smallbiznis/tokenauth/internal/domain"
	domainoauth "github.com/smallbiznis/tokenauth/internal/domain/oauth"
)

func newClient() *adapteroauth.Client {
	return adapteroauth.NewClient(nil, adapteroauth.WithRetry(3, time.Millisecond))
}

func TestDiscoverRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 "https://idp.example.com",
			"authorization_endpoint": "https://idp.example.com/authorize",
			"token_endpoint":         "https://idp.example.com/token",
			"jwks_uri":               "https://idp.example.com/jwks",
		})
	}))
	defer srv.Close()

	doc, err := newClient().Discover(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "https://idp.example.com", doc.IssuerURL)
	require.Equal(t, "https://idp.example.com/jwks", doc.JWKSURL)
	require.Equal(t, int32(2), calls.Load())
}

func TestDiscoverRejectsIncompleteDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"issuer":"https://idp.example.com","authorization_endpoint":"https://idp.example.com/authorize"}`))
	}))
	defer srv.Close()

	_, err := newClient().Discover(context.Background(), srv.URL)
	require.ErrorIs(t, err, domainoauth.ErrDiscoveryInvalid)
	require.NotErrorIs(t, err, domainoauth.ErrProviderUnavailable)
}

func TestDiscoverClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newClient().Discover(context.Background(), srv.URL)
	require.ErrorIs(t, err, domainoauth.ErrProviderUnavailable)
	require.Equal(t, int32(1), calls.Load())
}

func TestDiscoverUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newClient().Discover(context.Background(), url)
	require.ErrorIs(t, err, domainoauth.ErrProviderUnavailable)
}

func TestFetchKeySet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"keys":[]}`))
	}))
	defer srv.Close()

	set, err := newClient().FetchKeySet(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Empty(t, set.Keys)
}

func tokenServer(t *testing.T, status int, body map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExchangeCode(t *testing.T) {
	srv := tokenServer(t, http.StatusOK, map[string]any{
		"access_token": "at",
		"token_type":   "Bearer",
		"expires_in":   3600,
		"id_token":     "header.payload.sig",
	})
	conf := &oauth2.Config{
		ClientID: "client",
		Endpoint: oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams},
	}

	tok, err := newClient().ExchangeCode(context.Background(), conf, "code-1")
	require.NoError(t, err)
	require.Equal(t, "at", tok.AccessToken)
	require.Equal(t, "header.payload.sig", tok.IDToken)
	require.False(t, tok.Expiry.IsZero())
}

func TestExchangeCodeRejectedGrant(t *testing.T) {
	srv := tokenServer(t, http.StatusBadRequest, map[string]any{"error": "invalid_grant"})
	conf := &oauth2.Config{
		ClientID: "client",
		Endpoint: oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams},
	}

	_, err := newClient().ExchangeCode(context.Background(), conf, "code-1")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestExchangeCodeUpstreamFailure(t *testing.T) {
	srv := tokenServer(t, http.StatusBadGateway, map[string]any{"error": "server_error"})
	conf := &oauth2.Config{
		ClientID: "client",
		Endpoint: oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams},
	}

	_, err := newClient().ExchangeCode(context.Background(), conf, "code-1")
	require.ErrorIs(t, err, domainoauth.ErrProviderUnavailable)

	_, err = newClient().ExchangeCode(context.Background(), conf, " ")
	require.ErrorIs(t, err, domainoauth.ErrInvalidRequest)
}
