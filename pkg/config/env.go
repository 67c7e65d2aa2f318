package config

// EnvPrefix is passed to envconfig; every field carries its full name via tags.
const EnvPrefix = "CARTSYNC"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	GatewayKindHTTP   = "http"
	GatewayKindRedis  = "redis"
	GatewayKindMemory = "memory"
)

const (
	EnvAppEnv              = "CARTSYNC_APP_ENV"
	EnvPort                = "CARTSYNC_APP_PORT"
	EnvLogLevel            = "CARTSYNC_LOG_LEVEL"
	EnvCORSAllowedOrigins  = "CARTSYNC_CORS_ALLOWED_ORIGINS"
	EnvDebounceInterval    = "CARTSYNC_DEBOUNCE_INTERVAL"
	EnvRemoteTimeout       = "CARTSYNC_REMOTE_TIMEOUT"
	EnvRefetchAfterSuccess = "CARTSYNC_REFETCH_AFTER_SUCCESS"
	EnvMaxSessions         = "CARTSYNC_MAX_SESSIONS"
	EnvGatewayKind         = "CARTSYNC_GATEWAY_KIND"
	EnvGatewayBaseURL      = "CARTSYNC_GATEWAY_BASE_URL"
	EnvRedisURL            = "CARTSYNC_REDIS_URL"
	EnvRedisAddr           = "CARTSYNC_REDIS_ADDR"
	EnvCatalogFile         = "CARTSYNC_CATALOG_FILE"
)
