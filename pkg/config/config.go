package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App      AppConfig
	Sync     SyncConfig
	Sessions SessionsConfig
	Gateway  GatewayConfig
	Redis    RedisConfig
	Catalog  CatalogConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CARTSYNC_APP_ENV" required:"true"`
	Port         string `envconfig:"CARTSYNC_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"CARTSYNC_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"CARTSYNC_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"CARTSYNC_LOG_WARN_STACK" default:"false"`

	CORSAllowedOrigins []string `envconfig:"CARTSYNC_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000,http://localhost:5173"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// SyncConfig tunes the optimistic mutation engine.
type SyncConfig struct {
	DebounceInterval    time.Duration `envconfig:"CARTSYNC_DEBOUNCE_INTERVAL" default:"500ms"`
	RemoteTimeout       time.Duration `envconfig:"CARTSYNC_REMOTE_TIMEOUT" default:"10s"`
	RefetchAfterSuccess bool          `envconfig:"CARTSYNC_REFETCH_AFTER_SUCCESS" default:"false"`
	MessageCapacity     int           `envconfig:"CARTSYNC_MESSAGE_CAPACITY" default:"50"`
}

type SessionsConfig struct {
	MaxSessions int `envconfig:"CARTSYNC_MAX_SESSIONS" default:"1000"`
}

type GatewayConfig struct {
	Kind    string        `envconfig:"CARTSYNC_GATEWAY_KIND" default:"http"`
	BaseURL string        `envconfig:"CARTSYNC_GATEWAY_BASE_URL"`
	APIKey  string        `envconfig:"CARTSYNC_GATEWAY_API_KEY"`
	Timeout time.Duration `envconfig:"CARTSYNC_GATEWAY_TIMEOUT" default:"10s"`
}

// NormalizedKind returns the lower-cased gateway kind, defaulting to http.
func (g GatewayConfig) NormalizedKind() string {
	kind := strings.ToLower(strings.TrimSpace(g.Kind))
	if kind == "" {
		return GatewayKindHTTP
	}
	return kind
}

type RedisConfig struct {
	URL          string        `envconfig:"CARTSYNC_REDIS_URL"`
	Address      string        `envconfig:"CARTSYNC_REDIS_ADDR"`
	Password     string        `envconfig:"CARTSYNC_REDIS_PASSWORD"`
	DB           int           `envconfig:"CARTSYNC_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CARTSYNC_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CARTSYNC_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CARTSYNC_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CARTSYNC_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CARTSYNC_REDIS_WRITE_TIMEOUT" default:"5s"`
	CartTTL      time.Duration `envconfig:"CARTSYNC_REDIS_CART_TTL" default:"168h"`
}

type CatalogConfig struct {
	File string `envconfig:"CARTSYNC_CATALOG_FILE"`
}

func (c *Config) validate() error {
	switch c.Gateway.NormalizedKind() {
	case GatewayKindHTTP:
		if strings.TrimSpace(c.Gateway.BaseURL) == "" {
			return fmt.Errorf("%s is required when %s=%s", EnvGatewayBaseURL, EnvGatewayKind, GatewayKindHTTP)
		}
	case GatewayKindRedis:
		if c.Redis.URL == "" && c.Redis.Address == "" {
			return fmt.Errorf("either %s or %s is required when %s=%s", EnvRedisURL, EnvRedisAddr, EnvGatewayKind, GatewayKindRedis)
		}
	case GatewayKindMemory:
	default:
		return fmt.Errorf("unsupported %s %q", EnvGatewayKind, c.Gateway.Kind)
	}
	if c.Sync.DebounceInterval <= 0 {
		return fmt.Errorf("%s must be positive", EnvDebounceInterval)
	}
	if c.Sync.RemoteTimeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvRemoteTimeout)
	}
	return nil
}
