package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/tokenauth/internal/domain"
	domainoauth "github.com/smallbiznis/tokenauth/internal/domain/oauth"
	"github.com/smallbiznis/tokenauth/internal/http/middleware"
	"github.com/smallbiznis/tokenauth/internal/service"
)

const tokenTypeBearer = "Bearer"

// AuthHandler exposes the token lifecycle over HTTP.
type AuthHandler struct {
	Registry  *service.Registry
	Lifecycle *service.TokenLifecycle
	Logger    *zap.Logger
}

// NewAuthHandler creates the handler set.
func NewAuthHandler(registry *service.Registry, lifecycle *service.TokenLifecycle, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{Registry: registry, Lifecycle: lifecycle, Logger: logger}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	UserID       string `json:"user_id,omitempty"`
}

func newTokenResponse(pair *domain.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    int64(pair.ExpiresIn / time.Second),
		UserID:       pair.UserID,
	}
}

// Login authenticates email/password credentials.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
		Provider string `json:"provider"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "email and password are required."})
		return
	}
	provider, err := h.Registry.Get(providerOrLocal(req.Provider))
	if err != nil {
		h.respondError(c, err)
		return
	}
	pair, err := provider.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTokenResponse(pair))
}

// Refresh exchanges a refresh token for a new access token.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
		Provider     string `json:"provider"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "refresh_token is required."})
		return
	}
	provider, err := h.Registry.Get(providerOrLocal(req.Provider))
	if err != nil {
		h.respondError(c, err)
		return
	}
	access, err := provider.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken: access,
		TokenType:   tokenTypeBearer,
		ExpiresIn:   int64(h.Lifecycle.TTL().AccessTTL / time.Second),
	})
}

// Logout revokes a refresh token. A bearer access token, when sent, is
// revoked as well.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
		Provider     string `json:"provider"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "refresh_token is required."})
		return
	}
	provider, err := h.Registry.Get(providerOrLocal(req.Provider))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := provider.RevokeToken(c.Request.Context(), req.RefreshToken); err != nil {
		h.respondError(c, err)
		return
	}
	if access, ok := middleware.BearerToken(c); ok {
		if err := h.Lifecycle.RevokeAccessToken(c.Request.Context(), access); err != nil {
			h.respondError(c, err)
			return
		}
	}
	c.Status(http.StatusNoContent)
}

// LogoutAll revokes every token of the authenticated user.
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Missing access token."})
		return
	}
	if err := h.Lifecycle.RevokeAllForUser(c.Request.Context(), claims.Sub); err != nil {
		h.respondError(c, err)
		return
	}
	if access, ok := middleware.GetAccessToken(c); ok {
		if err := h.Lifecycle.RevokeAccessToken(c.Request.Context(), access); err != nil {
			h.respondError(c, err)
			return
		}
	}
	c.Status(http.StatusNoContent)
}

// Verify reports whether an access token is currently valid.
func (h *AuthHandler) Verify(c *gin.Context) {
	var req struct {
		Token    string `json:"token" binding:"required"`
		Provider string `json:"provider"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "token is required."})
		return
	}
	provider, err := h.Registry.Get(providerOrLocal(req.Provider))
	if err != nil {
		h.respondError(c, err)
		return
	}
	claims, err := provider.VerifyAccessToken(c.Request.Context(), req.Token)
	if errors.Is(err, domain.ErrInvalidToken) {
		c.JSON(http.StatusOK, gin.H{"valid": false})
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":      true,
		"user_id":    claims.Sub,
		"email":      claims.Email,
		"expires_at": claims.ExpiresAt(),
	})
}

// Me returns the cached session of the caller, or the token claims when no
// session is cached.
func (h *AuthHandler) Me(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Missing access token."})
		return
	}
	session, err := h.Lifecycle.GetSession(c.Request.Context(), claims.Sub)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if session != nil {
		c.JSON(http.StatusOK, session)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id": claims.Sub,
		"email":   claims.Email,
		"name":    claims.Name,
	})
}

// Providers lists registered provider names.
func (h *AuthHandler) Providers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.Registry.Names()})
}

// OIDCAuthorize starts the redirect flow. mode=json returns the URL instead
// of redirecting.
func (h *AuthHandler) OIDCAuthorize(c *gin.Context) {
	authURL, state, err := h.Registry.InitiateAuth(c.Request.Context(), c.Param("provider"), strings.TrimSpace(c.Query("state")))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if c.Query("mode") == "json" {
		c.JSON(http.StatusOK, gin.H{"authorization_url": authURL, "state": state})
		return
	}
	c.Redirect(http.StatusFound, authURL)
}

// OIDCCallback completes the redirect flow and returns a token pair.
func (h *AuthHandler) OIDCCallback(c *gin.Context) {
	if upstream := c.Query("error"); upstream != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": upstream, "error_description": c.Query("error_description")})
		return
	}
	code := strings.TrimSpace(c.Query("code"))
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "code is required."})
		return
	}
	pair, err := h.Registry.HandleCallback(c.Request.Context(), c.Param("provider"), code, c.Query("state"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTokenResponse(pair))
}

// Health is the liveness check.
func (h *AuthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *AuthHandler) respondError(c *gin.Context, err error) {
	logger := h.log()
	switch {
	case errors.Is(err, domain.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_grant", "error_description": "Invalid credentials."})
	case errors.Is(err, domain.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Token is invalid or expired."})
	case errors.Is(err, domain.ErrUnknownProvider):
		c.JSON(http.StatusNotFound, gin.H{"error": "provider_not_found", "error_description": "Auth provider not configured."})
	case errors.Is(err, domain.ErrUnsupportedOperation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_operation", "error_description": "Operation not supported by provider."})
	case errors.Is(err, domainoauth.ErrInvalidState), errors.Is(err, domainoauth.ErrInvalidRequest):
		logger.Warn("oauth invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": err.Error()})
	case errors.Is(err, domainoauth.ErrProviderUnavailable), errors.Is(err, domainoauth.ErrDiscoveryInvalid):
		logger.Error("identity provider unavailable", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "temporarily_unavailable", "error_description": "Identity provider unavailable."})
	default:
		logger.Error("auth service failure", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal server error."})
	}
}

func (h *AuthHandler) log() *zap.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return zap.L()
}

func providerOrLocal(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return service.LocalProviderName
}
