package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/smallbiznis/tokenauth/internal/adapter/cache"
	oauthadapter "github.com/smallbiznis/tokenauth/internal/adapter/oauth"
	"github.com/smallbiznis/tokenauth/internal/bootstrap"
	"github.com/smallbiznis/tokenauth/internal/config"
	"github.com/smallbiznis/tokenauth/internal/database"
	httptransport "github.com/smallbiznis/tokenauth/internal/http"
	"github.com/smallbiznis/tokenauth/internal/http/handler"
	httpmiddleware "github.com/smallbiznis/tokenauth/internal/http/middleware"
	"github.com/smallbiznis/tokenauth/internal/jwt"
	"github.com/smallbiznis/tokenauth/internal/metrics"
	"github.com/smallbiznis/tokenauth/internal/password"
	"github.com/smallbiznis/tokenauth/internal/repository"
	"github.com/smallbiznis/tokenauth/internal/server"
	"github.com/smallbiznis/tokenauth/internal/service"
	"github.com/smallbiznis/tokenauth/internal/service/openid"
	"github.com/smallbiznis/tokenauth/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newUserRepository,
			newCredentialRepository,
			newTokenRepository,
			newRedisClient,
			newSessionCache,
			newOAuthStateStore,
			newMetricsRegistry,
			newMetricsCollector,
			newTokenCodec,
			newOAuthProviderClient,
			newTokenLifecycle,
			newLocalProvider,
			newProviderRegistry,
			newJanitor,
			handler.NewAuthHandler,
			newAuthMiddleware,
			newCredentialLimiter,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, bootstrap.EnsureAdmin, startJanitor, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger.With(zap.String("service", cfg.ServiceName)), nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	node, err := snowflake.NewNode(1)
	return node, err
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	if cfg.DBAutoMigrate {
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		logger.Info("database migrations applied")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newUserRepository(pool *pgxpool.Pool) repository.UserRepository {
	return repository.NewPostgresUserRepo(pool)
}

func newCredentialRepository(pool *pgxpool.Pool, node *snowflake.Node) repository.CredentialRepository {
	return repository.NewPostgresCredentialRepo(pool, node)
}

func newTokenRepository(pool *pgxpool.Pool, node *snowflake.Node) repository.TokenRepository {
	return repository.NewPostgresTokenRepo(pool, node)
}

// newRedisClient returns nil when REDIS_ADDR is unset; the service then runs
// on the durable store alone.
func newRedisClient(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (redis.UniversalClient, error) {
	if !cfg.CacheEnabled() {
		logger.Info("session cache disabled")
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newSessionCache(client redis.UniversalClient) repository.SessionCache {
	if client == nil {
		return nil
	}
	return cacheadapter.NewRedisSessionCache(client)
}

func newOAuthStateStore(client redis.UniversalClient) repository.OAuthStateStore {
	if client == nil {
		return nil
	}
	return cacheadapter.NewRedisStateStore(client)
}

func newMetricsRegistry() (*prometheus.Registry, prometheus.Gatherer) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, reg
}

func newMetricsCollector(reg *prometheus.Registry) *metrics.Collector {
	return metrics.NewCollector(reg)
}

func newTokenCodec(cfg config.Config) (*jwt.Codec, error) {
	return jwt.NewCodec([]byte(cfg.JWTSecret), cfg.JWTIssuer)
}

func newOAuthProviderClient(cfg config.Config, logger *zap.Logger) *oauthadapter.Client {
	return oauthadapter.NewClient(&http.Client{Timeout: cfg.OIDCHTTPTimeout}, oauthadapter.WithLogger(logger))
}

func newTokenLifecycle(cfg config.Config, codec *jwt.Codec, tokens repository.TokenRepository, users repository.UserRepository, cache repository.SessionCache, collector *metrics.Collector, logger *zap.Logger) (*service.TokenLifecycle, error) {
	return service.NewTokenLifecycle(codec, tokens, users, service.TTLConfig{
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	},
		service.WithSessionCache(cache),
		service.WithMetrics(collector),
		service.WithLogger(logger),
	)
}

func newLocalProvider(lifecycle *service.TokenLifecycle, creds repository.CredentialRepository) (*service.LocalProvider, error) {
	return service.NewLocalProvider(lifecycle, creds, password.NewHasher())
}

func newProviderRegistry(cfg config.Config, lifecycle *service.TokenLifecycle, local *service.LocalProvider, users repository.UserRepository, client *oauthadapter.Client, states repository.OAuthStateStore, collector *metrics.Collector, logger *zap.Logger) (*service.Registry, error) {
	registry := service.NewRegistry()
	if err := registry.Register(local); err != nil {
		return nil, err
	}

	if states == nil && len(cfg.OIDCProviders) > 0 {
		logger.Warn("oidc state store unavailable, callback state is not validated")
	}
	for _, pc := range cfg.OIDCProviders {
		if !pc.Enabled {
			logger.Info("oidc provider disabled", zap.String("provider", pc.Name))
			continue
		}
		provider, err := openid.New(lifecycle, users, client, pc, openid.Options{
			StateStore:     states,
			StateTTL:       cfg.OIDCStateTTL,
			JWKSMinRefresh: cfg.OIDCJWKSMinRefresh,
			Metrics:        collector,
			Logger:         logger,
		})
		if err != nil {
			return nil, err
		}
		if err := registry.Register(provider); err != nil {
			return nil, err
		}
		logger.Info("oidc provider registered", zap.String("provider", pc.Name))
	}
	return registry, nil
}

func newJanitor(cfg config.Config, tokens repository.TokenRepository, logger *zap.Logger) *service.Janitor {
	return service.NewJanitor(tokens, cfg.TokenCleanupInterval, logger)
}

func startJanitor(lc fx.Lifecycle, janitor *service.Janitor) {
	lc.Append(fx.Hook{
		OnStart: janitor.Start,
		OnStop:  janitor.Stop,
	})
}

func newAuthMiddleware(lifecycle *service.TokenLifecycle) *httpmiddleware.Auth {
	return &httpmiddleware.Auth{Lifecycle: lifecycle}
}

func newCredentialLimiter(cfg config.Config) *httpmiddleware.CredentialLimiter {
	return httpmiddleware.NewCredentialLimiter(cfg.LoginRateLimitRPM)
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
