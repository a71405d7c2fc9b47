package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Session  SessionConfig
	CSRF     CSRFConfig
	Client   ClientConfig
}

type ServerConfig struct {
	Host         string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port         int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout  time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	Environment  string        `envconfig:"ENVIRONMENT" default:"development"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Enabled         bool          `envconfig:"DB_ENABLED" default:"true"`
	Host            string        `envconfig:"DB_HOST" default:"localhost"`
	Port            int           `envconfig:"DB_PORT" default:"3306"`
	User            string        `envconfig:"DB_USER" default:"app"`
	Password        string        `envconfig:"DB_PASSWORD" default:"apppassword"`
	Name            string        `envconfig:"DB_NAME" default:"csrf_recovery"`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// SessionConfig controls the server-side session cookie and storage.
type SessionConfig struct {
	// Driver selects the store: "redis" or "mysql".
	Driver     string        `envconfig:"SESSION_DRIVER" default:"redis"`
	CookieName string        `envconfig:"SESSION_COOKIE" default:"app_session"`
	Lifetime   time.Duration `envconfig:"SESSION_LIFETIME" default:"2h"`
	Secure     bool          `envconfig:"SESSION_SECURE_COOKIE" default:"false"`
	Domain     string        `envconfig:"SESSION_DOMAIN" default:""`
}

// CSRFConfig controls token verification and the refresh endpoint.
type CSRFConfig struct {
	HeaderName   string   `envconfig:"CSRF_HEADER" default:"X-CSRF-TOKEN"`
	FieldName    string   `envconfig:"CSRF_FIELD" default:"_token"`
	RefreshPath  string   `envconfig:"CSRF_REFRESH_PATH" default:"/refresh-csrf"`
	Except       []string `envconfig:"CSRF_EXCEPT" default:"/webhook"`
	RefreshRate  float64  `envconfig:"CSRF_REFRESH_RATE" default:"1"`
	RefreshBurst int      `envconfig:"CSRF_REFRESH_BURST" default:"5"`
}

// ClientConfig configures the recovery client used by sessionctl.
type ClientConfig struct {
	BaseURL     string        `envconfig:"CLIENT_BASE_URL" default:"http://localhost:8080"`
	MaxAttempts int           `envconfig:"CLIENT_MAX_ATTEMPTS" default:"3"`
	BaseDelay   time.Duration `envconfig:"CLIENT_BASE_DELAY" default:"1s"`
	Timeout     time.Duration `envconfig:"CLIENT_TIMEOUT" default:"30s"`
	Coalesce    bool          `envconfig:"CLIENT_COALESCE_REFRESH" default:"true"`
	NoticeTTL   time.Duration `envconfig:"CLIENT_NOTICE_TTL" default:"10s"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Session.Driver != "redis" && cfg.Session.Driver != "mysql" {
		return nil, fmt.Errorf("failed to load config: unknown session driver %q", cfg.Session.Driver)
	}
	if cfg.Session.Driver == "mysql" && !cfg.Database.Enabled {
		return nil, fmt.Errorf("failed to load config: mysql session driver requires DB_ENABLED")
	}
	return &cfg, nil
}
