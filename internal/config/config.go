package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	EnvDevelopment = "dev"
	EnvProduction  = "production"
)

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
	BackendRedis    = "redis"
)

type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Server    ServerConfig
	Store     StoreConfig
	DynamoDB  DynamoDBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	OTP       OTPConfig
	RateLimit RateLimitConfig
	Cookie    CookieConfig
	CORS      CORSConfig
	Google    GoogleConfig

	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"0s"`
}

type ServerConfig struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"15s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

type StoreConfig struct {
	Backend    string `env:"STORE_BACKEND" envDefault:"memory"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"oems-auth.db"`
}

type DynamoDBConfig struct {
	Endpoint  string `env:"DYNAMODB_ENDPOINT"`
	Region    string `env:"DYNAMODB_REGION" envDefault:"us-east-1"`
	TableName string `env:"DYNAMODB_TABLE_NAME" envDefault:"OEMSAuth"`
}

type RedisConfig struct {
	Endpoint string `env:"REDIS_ENDPOINT" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type JWTConfig struct {
	SecretKey     string        `env:"JWT_SECRET_KEY"`
	AccessExpiry  time.Duration `env:"JWT_ACCESS_EXPIRY" envDefault:"24h"`
	RefreshExpiry time.Duration `env:"JWT_REFRESH_EXPIRY" envDefault:"168h"`
}

type OTPConfig struct {
	Expiry   time.Duration `env:"OTP_TTL" envDefault:"180s"`
	HashCost int           `env:"OTP_HASH_COST" envDefault:"10"`
}

// RateLimitConfig bounds OTP requests per phone number.
type RateLimitConfig struct {
	Backend     string        `env:"RATE_LIMIT_BACKEND" envDefault:"memory"`
	MaxRequests int           `env:"OTP_RATE_LIMIT_MAX" envDefault:"3"`
	Window      time.Duration `env:"OTP_RATE_LIMIT_WINDOW" envDefault:"1h"`
}

type CookieConfig struct {
	Secure      *bool  `env:"COOKIE_SECURE"`
	Domain      string `env:"COOKIE_DOMAIN"`
	RefreshPath string `env:"COOKIE_REFRESH_PATH" envDefault:"/api/auth"`
}

type CORSConfig struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
}

type GoogleConfig struct {
	ClientID string `env:"GOOGLE_CLIENT_ID"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values the env parser cannot.
func (c *Config) Validate() error {
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY environment variable is required")
	}

	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 bytes (256 bits)")
	}

	if c.JWT.AccessExpiry <= 0 || c.JWT.RefreshExpiry <= 0 {
		return fmt.Errorf("JWT expiries must be positive")
	}

	if c.OTP.Expiry <= 0 {
		return fmt.Errorf("OTP_TTL must be positive")
	}

	if c.RateLimit.MaxRequests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("OTP_RATE_LIMIT_MAX and OTP_RATE_LIMIT_WINDOW must be positive")
	}

	switch c.Store.Backend {
	case BackendMemory, BackendSQLite, BackendDynamoDB, BackendRedis:
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q", c.Store.Backend)
	}

	switch c.RateLimit.Backend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unsupported RATE_LIMIT_BACKEND %q", c.RateLimit.Backend)
	}

	return nil
}

// IsDevelopment reports whether development-only behavior is enabled.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, EnvDevelopment)
}

// SecureCookies resolves COOKIE_SECURE, defaulting to secure outside development.
func (c *Config) SecureCookies() bool {
	if c.Cookie.Secure != nil {
		return *c.Cookie.Secure
	}
	return !c.IsDevelopment()
}

// UsesRedis reports whether any component needs a Redis client.
func (c *Config) UsesRedis() bool {
	return c.Store.Backend == BackendRedis || c.RateLimit.Backend == BackendRedis
}
