package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	BackendMemory    = "memory"
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
	BackendRedis     = "redis"
)

// Config holds all application configuration
type Config struct {
	Env      string `env:"ENV" env-default:"local"`
	LogLevel string `env:"LOG_LEVEL" env-default:"INFO"`

	Server   ServerConfig
	Store    StoreConfig
	Firebase FirebaseConfig
	Postgres PostgresConfig
	Redis    RedisConfig
}

type ServerConfig struct {
	Port            int           `env:"SERVER_PORT" env-default:"8080"`
	AllowedOrigins  []string      `env:"CORS_ALLOWED_ORIGINS" env-separator:"," env-default:"*"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"15s"`
}

type StoreConfig struct {
	Backend    string `env:"STORE_BACKEND" env-default:"memory"`
	Collection string `env:"TASKS_COLLECTION" env-default:"tasks"`
	// WriteTimeout bounds every store call made on behalf of a caller.
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" env-default:"10s"`
	// ResubscribeDelay is the pause before a failed change feed is reopened.
	ResubscribeDelay time.Duration `env:"RESUBSCRIBE_DELAY" env-default:"2s"`
}

type FirebaseConfig struct {
	CredentialsPath string `env:"FIREBASE_CREDENTIALS_PATH"`
	ProjectID       string `env:"FIREBASE_PROJECT_ID"`
}

type PostgresConfig struct {
	Host     string `env:"DB_HOST" env-default:"localhost"`
	Port     int    `env:"DB_PORT" env-default:"5432"`
	User     string `env:"DB_USER" env-default:"postgres"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME" env-default:"tasks"`
	SSLMode  string `env:"DB_SSLMODE" env-default:"disable"`
}

type RedisConfig struct {
	URL string `env:"REDIS_URL" env-default:"redis://localhost:6379/0"`
}

// Load reads a .env file when one is present, then the process
// environment, and validates the result.
func Load(envFiles ...string) (*Config, bool, error) {
	dotenvLoaded := godotenv.Load(envFiles...) == nil

	cfg := new(Config)
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, dotenvLoaded, fmt.Errorf("read env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, dotenvLoaded, err
	}
	return cfg, dotenvLoaded, nil
}

// Address returns the server address in host:port format
func (c *Config) Address() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// DSN builds the lib/pq connection string.
func (p PostgresConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Name, p.SSLMode)
	if p.Password != "" {
		dsn += fmt.Sprintf(" password=%s", p.Password)
	}
	return dsn
}

// Validate checks ranges and normalizes case-insensitive values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d: must be between 1 and 65535", c.Server.Port)
	}

	validLevels := map[string]bool{
		"TRACE": true, "DEBUG": true, "INFO": true, "WARN": true, "ERROR": true,
	}
	upperLevel := strings.ToUpper(strings.TrimSpace(c.LogLevel))
	if !validLevels[upperLevel] {
		return fmt.Errorf("invalid log level '%s': must be TRACE, DEBUG, INFO, WARN or ERROR", c.LogLevel)
	}
	c.LogLevel = upperLevel

	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	switch c.Store.Backend {
	case BackendMemory, BackendFirestore, BackendPostgres, BackendRedis:
	default:
		return fmt.Errorf("invalid store backend '%s': must be memory, firestore, postgres or redis", c.Store.Backend)
	}

	if strings.TrimSpace(c.Store.Collection) == "" {
		return fmt.Errorf("tasks collection cannot be empty")
	}
	if c.Store.WriteTimeout <= 0 {
		return fmt.Errorf("invalid write timeout %v: must be positive", c.Store.WriteTimeout)
	}
	if c.Store.ResubscribeDelay <= 0 {
		return fmt.Errorf("invalid resubscribe delay %v: must be positive", c.Store.ResubscribeDelay)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout %v: must be positive", c.Server.ShutdownTimeout)
	}
	if c.Server.ShutdownTimeout > 5*time.Minute {
		return fmt.Errorf("invalid shutdown timeout %v: must not exceed 5 minutes", c.Server.ShutdownTimeout)
	}

	switch c.Store.Backend {
	case BackendFirestore:
		if c.Firebase.CredentialsPath == "" && c.Firebase.ProjectID == "" {
			return fmt.Errorf("firestore backend needs FIREBASE_CREDENTIALS_PATH or FIREBASE_PROJECT_ID")
		}
	case BackendRedis:
		if strings.TrimSpace(c.Redis.URL) == "" {
			return fmt.Errorf("redis URL cannot be empty when the redis backend is selected")
		}
	case BackendPostgres:
		if strings.TrimSpace(c.Postgres.Host) == "" || strings.TrimSpace(c.Postgres.Name) == "" {
			return fmt.Errorf("postgres backend needs DB_HOST and DB_NAME")
		}
	}

	origins := c.Server.AllowedOrigins[:0]
	for _, origin := range c.Server.AllowedOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c.Server.AllowedOrigins = origins

	return nil
}
