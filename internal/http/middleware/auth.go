package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/tokenauth/internal/domain"
	"github.com/smallbiznis/tokenauth/internal/service"
)

const (
	claimsKey      = "tokenClaims"
	accessTokenKey = "accessToken"
)

// Auth validates the Authorization header and attaches claims.
type Auth struct {
	Lifecycle *service.TokenLifecycle
}

// ValidateJWT ensures the request carries a valid bearer access token.
func (m *Auth) ValidateJWT(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authorization header required."})
		return
	}
	token, ok := BearerToken(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Bearer token required."})
		return
	}
	claims, err := m.Lifecycle.VerifyAccessToken(c.Request.Context(), token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Invalid access token."})
		return
	}
	c.Set(claimsKey, claims)
	c.Set(accessTokenKey, token)
	c.Next()
}

// BearerToken extracts the bearer credential from the Authorization header.
func BearerToken(c *gin.Context) (string, bool) {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// GetClaims exposes verified access token claims to handlers.
func GetClaims(c *gin.Context) (*domain.TokenPayload, bool) {
	value, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := value.(*domain.TokenPayload)
	return claims, ok
}

// GetAccessToken returns the raw bearer token validated by ValidateJWT.
func GetAccessToken(c *gin.Context) (string, bool) {
	return c.GetString(accessTokenKey), c.GetString(accessTokenKey) != ""
}
