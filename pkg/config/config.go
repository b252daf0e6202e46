// Package config loads service configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Auth          AuthConfig
	Redis         RedisConfig
	Observability ObservabilityConfig
	Entitlements  EntitlementsConfig
}

type ServerConfig struct {
	Port               int           `validate:"min=1,max=65535"`
	RateLimitPerSecond int           `validate:"min=0"`
	RateLimitBurst     int           `validate:"min=0"`
	ReadTimeout        time.Duration `validate:"gt=0"`
	WriteTimeout       time.Duration `validate:"gt=0"`
	ShutdownTimeout    time.Duration `validate:"gt=0"`
	AllowedOrigins     []string
}

// DatabaseConfig holds the store base URL and the privileged service
// credential used for writes such as trial expiration.
type DatabaseConfig struct {
	URL             string `validate:"required,url"`
	ServiceKey      string
	MaxConns        int32 `validate:"min=1"`
	MinConns        int32 `validate:"min=0,ltefield=MaxConns"`
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	RunMigrations   bool
}

type AuthConfig struct {
	JWTSecret string
}

// RedisConfig enables the Redis stream event publisher when Addr is set.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int    `validate:"min=0"`
	Stream       string `validate:"required_with=Addr"`
	StreamMaxLen int64  `validate:"min=0"`
}

type ObservabilityConfig struct {
	MetricsEnabled bool
	LogLevel       string `validate:"oneof=debug info warn error"`
	LogFormat      string `validate:"oneof=json text"`
}

type EntitlementsConfig struct {
	TrialPeriod time.Duration `validate:"gt=0"`
	// ExpirationInterval is the in-process sweep period. Zero leaves
	// expiration to the HTTP trigger.
	ExpirationInterval time.Duration `validate:"min=0"`
	EventQueueSize     int           `validate:"min=1"`
	EventDedupeWindow  time.Duration `validate:"min=0"`
}

// Load reads .env (when present) and the environment, applies defaults and
// validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (*Config, error) {
	var errs []error
	e := &envReader{errs: &errs}

	cfg := &Config{
		Server: ServerConfig{
			Port:               e.int("PORT", 8080),
			RateLimitPerSecond: e.int("RATE_LIMIT_PER_SECOND", 50),
			RateLimitBurst:     e.int("RATE_LIMIT_BURST", 100),
			ReadTimeout:        e.duration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:       e.duration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout:    e.duration("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
			AllowedOrigins:     e.list("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			URL:             e.string("DATABASE_URL", ""),
			ServiceKey:      e.string("DATABASE_SERVICE_KEY", ""),
			MaxConns:        int32(e.int("DATABASE_MAX_CONNS", 25)),
			MinConns:        int32(e.int("DATABASE_MIN_CONNS", 2)),
			MaxConnLifetime: e.duration("DATABASE_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime: e.duration("DATABASE_MAX_CONN_IDLE_TIME", 10*time.Minute),
			RunMigrations:   e.bool("DATABASE_RUN_MIGRATIONS", true),
		},
		Auth: AuthConfig{
			JWTSecret: e.string("JWT_SECRET", ""),
		},
		Redis: RedisConfig{
			Addr:         e.string("REDIS_ADDR", ""),
			Password:     e.string("REDIS_PASSWORD", ""),
			DB:           e.int("REDIS_DB", 0),
			Stream:       e.string("REDIS_EVENT_STREAM", "paywall_events"),
			StreamMaxLen: int64(e.int("REDIS_EVENT_STREAM_MAXLEN", 100000)),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: e.bool("METRICS_ENABLED", true),
			LogLevel:       strings.ToLower(e.string("LOG_LEVEL", "info")),
			LogFormat:      strings.ToLower(e.string("LOG_FORMAT", "json")),
		},
		Entitlements: EntitlementsConfig{
			TrialPeriod:        e.duration("TRIAL_PERIOD", 7*24*time.Hour),
			ExpirationInterval: e.duration("TRIAL_EXPIRATION_INTERVAL", time.Hour),
			EventQueueSize:     e.int("EVENT_QUEUE_SIZE", 1024),
			EventDedupeWindow:  e.duration("EVENT_DEDUPE_WINDOW", 30*time.Second),
		},
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DSN returns the connection string. A configured service key is used as
// the password when the URL carries none.
func (d DatabaseConfig) DSN() string {
	if d.ServiceKey == "" {
		return d.URL
	}
	u, err := url.Parse(d.URL)
	if err != nil || u.User == nil {
		return d.URL
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		return d.URL
	}
	u.User = url.UserPassword(u.User.Username(), d.ServiceKey)
	return u.String()
}

// Addr is the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return ":" + strconv.Itoa(s.Port)
}

type envReader struct {
	errs *[]error
}

func (e *envReader) string(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func (e *envReader) int(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*e.errs = append(*e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (e *envReader) bool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*e.errs = append(*e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*e.errs = append(*e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (e *envReader) list(key string, def []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
