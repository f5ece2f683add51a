package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	domainoauth "github.com/smallbiznis/tokenauth/internal/domain/oauth"
)

// MinJWTSecretLength matches the HS256 key size.
const MinJWTSecretLength = 32

// Config contains runtime configuration values.
type Config struct {
	Environment          string
	HTTPPort             string
	ServiceName          string
	DatabaseURL          string
	DBAutoMigrate        bool
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	JWTSecret            string
	JWTIssuer            string
	AccessTokenTTL       time.Duration
	RefreshTokenTTL      time.Duration
	TokenCleanupInterval time.Duration
	OIDCHTTPTimeout      time.Duration
	OIDCJWKSMinRefresh   time.Duration
	OIDCStateTTL         time.Duration
	OIDCProviders        []domainoauth.ProviderConfig
	LoginRateLimitRPM    int
	AdminEmail           string
	AdminPassword        string
	TelemetryEndpoint    string
	TelemetryInsecure    bool
	TelemetrySampleRatio float64
}

// CacheEnabled reports whether a Redis address was configured.
func (c Config) CacheEnabled() bool {
	return strings.TrimSpace(c.RedisAddr) != ""
}

// Load reads configuration from .env (if present) and the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:          getEnv("APP_ENV", "development"),
		HTTPPort:             getEnv("HTTP_PORT", "8080"),
		ServiceName:          getEnv("SERVICE_NAME", "tokenauth"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		DBAutoMigrate:        getBool("DB_AUTO_MIGRATE", true),
		RedisAddr:            strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              getInt("REDIS_DB", 0),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		JWTIssuer:            getEnv("JWT_ISSUER", "tokenauth"),
		AccessTokenTTL:       getDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:      getDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		TokenCleanupInterval: getDuration("TOKEN_CLEANUP_INTERVAL", time.Hour),
		OIDCHTTPTimeout:      getDuration("OIDC_HTTP_TIMEOUT", 10*time.Second),
		OIDCJWKSMinRefresh:   getDuration("OIDC_JWKS_MIN_REFRESH", time.Minute),
		OIDCStateTTL:         getDuration("OIDC_STATE_TTL", 10*time.Minute),
		LoginRateLimitRPM:    getInt("LOGIN_RATE_LIMIT_RPM", 60),
		AdminEmail:           strings.TrimSpace(os.Getenv("ADMIN_EMAIL")),
		AdminPassword:        strings.TrimSpace(os.Getenv("ADMIN_PASSWORD")),
		TelemetryEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:    getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		TelemetrySampleRatio: getFloat("OTEL_TRACES_SAMPLE_RATIO", 1),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if len(cfg.JWTSecret) < MinJWTSecretLength {
		return Config{}, fmt.Errorf("JWT_SECRET must be at least %d bytes", MinJWTSecretLength)
	}
	if cfg.AccessTokenTTL <= 0 || cfg.RefreshTokenTTL <= 0 {
		return Config{}, fmt.Errorf("ACCESS_TOKEN_TTL and REFRESH_TOKEN_TTL must be positive")
	}
	if cfg.AccessTokenTTL > cfg.RefreshTokenTTL {
		return Config{}, fmt.Errorf("ACCESS_TOKEN_TTL must not exceed REFRESH_TOKEN_TTL")
	}

	if cfg.TelemetrySampleRatio < 0 || cfg.TelemetrySampleRatio > 1 {
		return Config{}, fmt.Errorf("OTEL_TRACES_SAMPLE_RATIO must be within [0, 1]")
	}

	providers, err := loadOIDCProviders()
	if err != nil {
		return Config{}, err
	}
	cfg.OIDCProviders = providers

	return cfg, nil
}

// loadOIDCProviders reads OIDC_PROVIDERS and the OIDC_<NAME>_* block of each
// listed provider. Disabled providers are kept so callers can log them.
func loadOIDCProviders() ([]domainoauth.ProviderConfig, error) {
	names := getList("OIDC_PROVIDERS", nil)
	providers := make([]domainoauth.ProviderConfig, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, raw := range names {
		name := strings.ToLower(raw)
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("OIDC_PROVIDERS lists %q twice", name)
		}
		seen[name] = struct{}{}

		prefix := "OIDC_" + envName(name) + "_"
		p := domainoauth.ProviderConfig{
			Name:         name,
			ClientID:     strings.TrimSpace(os.Getenv(prefix + "CLIENT_ID")),
			ClientSecret: os.Getenv(prefix + "CLIENT_SECRET"),
			DiscoveryURL: strings.TrimSpace(os.Getenv(prefix + "DISCOVERY_URL")),
			RedirectURI:  strings.TrimSpace(os.Getenv(prefix + "REDIRECT_URI")),
			Scopes:       getList(prefix+"SCOPES", nil),
			Enabled:      getBool(prefix+"ENABLED", true),
		}
		if p.Enabled && (p.ClientID == "" || p.DiscoveryURL == "") {
			return nil, fmt.Errorf("%sCLIENT_ID and %sDISCOVERY_URL are required", prefix, prefix)
		}
		providers = append(providers, p)
	}
	return providers, nil
}

func envName(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
