package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/smallbiznis/tokenauth/internal/config"
	"github.com/smallbiznis/tokenauth/internal/http/handler"
	httpmiddleware "github.com/smallbiznis/tokenauth/internal/http/middleware"
	"github.com/smallbiznis/tokenauth/internal/metrics"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, authHandler *handler.AuthHandler, authMiddleware *httpmiddleware.Auth, limiter *httpmiddleware.CredentialLimiter, collector *metrics.Collector, gatherer prometheus.Gatherer, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger))
	r.Use(httpmiddleware.Metrics(collector))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.GET("/healthz", authHandler.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler(gatherer)))

	throttle := limiter.Handler()

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/login", throttle, authHandler.Login)
		authGroup.POST("/refresh", throttle, authHandler.Refresh)
		authGroup.POST("/logout", authHandler.Logout)
		authGroup.POST("/logout-all", authMiddleware.ValidateJWT, authHandler.LogoutAll)
		authGroup.POST("/verify", authHandler.Verify)
		authGroup.GET("/me", authMiddleware.ValidateJWT, authHandler.Me)
		authGroup.GET("/providers", authHandler.Providers)

		oidc := authGroup.Group("/oidc/:provider")
		{
			oidc.GET("/authorize", authHandler.OIDCAuthorize)
			oidc.GET("/callback", throttle, authHandler.OIDCCallback)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "error_description": "Route not found."})
	})

	return r
}
