package config

import "time"

// ServiceConfig holds runtime configuration for the measurement service.
type ServiceConfig struct {
	Environment        string
	Addr               string
	InspectorURL       string
	AttachTimeout      time.Duration
	CommandTimeout     time.Duration
	TraceGracePeriod   time.Duration
	EventBuffer        int
	HistoryRedisAddr   string
	HistoryRedisPass   string
	HistoryRedisDB     int
	DatabaseURL        string
	MigrationsDir      string
	JWTSecret          string
	AccessTokenTTL     time.Duration
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadServiceConfig constructs a ServiceConfig from environment variables.
func LoadServiceConfig() ServiceConfig {
	return ServiceConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("PERFCHECK_ADDR", ":4600"),
		InspectorURL:       GetString("INSPECTOR_URL", "http://127.0.0.1:9222"),
		AttachTimeout:      GetDuration("INSPECTOR_ATTACH_TIMEOUT", 5*time.Second),
		CommandTimeout:     GetDuration("INSPECTOR_COMMAND_TIMEOUT", 10*time.Second),
		TraceGracePeriod:   GetDuration("TRACE_GRACE_PERIOD", 2*time.Second),
		EventBuffer:        GetInt("INSPECTOR_EVENT_BUFFER", 256),
		HistoryRedisAddr:   GetString("HISTORY_REDIS_ADDR", ""),
		HistoryRedisPass:   GetString("HISTORY_REDIS_PASSWORD", ""),
		HistoryRedisDB:     GetInt("HISTORY_REDIS_DB", 0),
		DatabaseURL:        GetString("DATABASE_URL", ""),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "./db/migrations"),
		JWTSecret:          GetString("JWT_SECRET", "supersecuresecret"),
		AccessTokenTTL:     GetDuration("ACCESS_TOKEN_TTL", 12*time.Hour),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
