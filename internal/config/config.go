package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/unmappedos-sys/unmappedOS-sub002/internal/domain"
)

// Config represents application configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Logging   LoggingConfig   `json:"logging"`
	Security  SecurityConfig  `json:"security"`
	Engine    EngineConfig    `json:"engine"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Policy    domain.Policy   `json:"policy"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Port            string        `json:"port"`
	Host            string        `json:"host"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	Environment     string        `json:"environment"`
	AllowedOrigins  []string      `json:"allowed_origins"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver         string        `json:"driver"` // memory, postgres
	URL            string        `json:"-"`
	MaxConnections int           `json:"max_connections"`
	MaxIdleTime    time.Duration `json:"max_idle_time"`
	MigrationsPath string        `json:"migrations_path"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Enabled bool          `json:"enabled"`
	URL     string        `json:"-"`
	Channel string        `json:"channel"`
	LockTTL time.Duration `json:"lock_ttl"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // json, text
}

// SecurityConfig represents operator authentication configuration
type SecurityConfig struct {
	JWTSecret string `json:"-"`
	JWTIssuer string `json:"jwt_issuer"`
}

// EngineConfig tunes the write path and the reconciliation loop
type EngineConfig struct {
	ReconcileInterval    time.Duration `json:"reconcile_interval"`
	ReconcileConcurrency int           `json:"reconcile_concurrency"`
	PersistTimeout       time.Duration `json:"persist_timeout"`
	ConflictRetries      int           `json:"conflict_retries"`
	PolicyFile           string        `json:"policy_file"`
}

// RateLimitConfig throttles report submissions per reporter
type RateLimitConfig struct {
	Reports int           `json:"reports"`
	Window  time.Duration `json:"window"`
}

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"

	defaultJWTSecret = "change-me-in-production"
)

// Load reads .env (if present) and the environment, then applies the
// policy file on top of the default thresholds.
func Load() (*Config, error) {
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			Environment:     getEnv("ENVIRONMENT", "development"),
			AllowedOrigins:  getEnvList("CORS_ALLOWED_ORIGINS"),
		},
		Database: DatabaseConfig{
			Driver:         strings.ToLower(getEnv("STORE_DRIVER", DriverMemory)),
			URL:            getEnv("DATABASE_URL", ""),
			MaxConnections: getEnvInt("DB_MAX_CONNECTIONS", 20),
			MaxIdleTime:    getEnvDuration("DB_MAX_IDLE_TIME", 30*time.Minute),
			MigrationsPath: getEnv("DB_MIGRATIONS_PATH", "./migrations"),
		},
		Redis: RedisConfig{
			Enabled: getEnvBool("REDIS_ENABLED", false),
			URL:     getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Channel: getEnv("REDIS_CHANNEL", "zonetrust:transitions"),
			LockTTL: getEnvDuration("LOCK_TTL", 10*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Security: SecurityConfig{
			JWTSecret: getEnv("JWT_SECRET", defaultJWTSecret),
			JWTIssuer: getEnv("JWT_ISSUER", "zonetrust"),
		},
		Engine: EngineConfig{
			ReconcileInterval:    getEnvDuration("RECONCILE_INTERVAL", 24*time.Hour),
			ReconcileConcurrency: getEnvInt("RECONCILE_CONCURRENCY", 8),
			PersistTimeout:       getEnvDuration("PERSIST_TIMEOUT", 5*time.Second),
			ConflictRetries:      getEnvInt("CONFLICT_RETRIES", 3),
			PolicyFile:           getEnv("POLICY_FILE", ""),
		},
		RateLimit: RateLimitConfig{
			Reports: getEnvInt("REPORT_RATE_LIMIT", 30),
			Window:  getEnvDuration("REPORT_RATE_WINDOW", time.Hour),
		},
	}

	policy, err := LoadPolicy(config.Engine.PolicyFile)
	if err != nil {
		return nil, err
	}
	config.Policy = policy

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadPolicy overlays a YAML file on domain.DefaultPolicy. Keys missing from
// the file keep their defaults. An empty path returns the defaults.
func LoadPolicy(path string) (domain.Policy, error) {
	policy := domain.DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return domain.Policy{}, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}
	if err := policy.Validate(); err != nil {
		return domain.Policy{}, err
	}
	return policy, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}

	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.URL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Database.Driver)
	}

	if c.Engine.ReconcileInterval <= 0 {
		return errors.New("RECONCILE_INTERVAL must be positive")
	}
	if c.Engine.ReconcileConcurrency < 1 {
		return errors.New("RECONCILE_CONCURRENCY must be at least 1")
	}
	if c.Engine.ConflictRetries < 0 {
		return errors.New("CONFLICT_RETRIES must not be negative")
	}
	if c.RateLimit.Reports > 0 && c.RateLimit.Window <= 0 {
		return errors.New("REPORT_RATE_WINDOW must be positive")
	}

	if c.IsProduction() && (c.Security.JWTSecret == "" || c.Security.JWTSecret == defaultJWTSecret) {
		return errors.New("JWT secret must be set in production")
	}
	return nil
}

// IsProduction checks if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Address returns the listen address of the HTTP server
func (c *Config) Address() string {
	return c.Server.Host + ":" + c.Server.Port
}

// Helper functions for environment variables

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty items
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
