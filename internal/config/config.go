// Package config assembles process configuration from environment
// variables, following the teacher's config.Load pattern: one
// aggregate Config struct of sub-structs, loaded with fail-fast
// validation of the variables the rest of the system cannot run
// without.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config aggregates every collaborator's connection settings.
type Config struct {
	Environment string // "dev" or "prod"

	Store  StoreConfig
	Redis  RedisConfig
	Vault  VaultConfig
	Lock   LockConfig
	Server ServerConfig

	JWTSecretKey string

	UsersTable     string
	OrdersTable    string
	InventoryTable string
}

// StoreConfig configures the Postgres connection pool backing the C1
// item-store adapter.
type StoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// RedisConfig configures the C8 read-through cache.
type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	PoolSize int
}

// VaultConfig configures the C9 secrets Resolver.
type VaultConfig struct {
	Enabled   bool
	Address   string
	Token     string
	MountPath string
	BasePath  string
}

// LockConfig holds the LOCK_MAX_RETRIES/LOCK_RETRY_DELAY settings.
// Nothing in this repository reads them: lockmgr.Acquire makes a
// single attempt, and its per-operation TTL table (internal/lockmgr.TTL)
// is fixed, not configurable per deployment.
type LockConfig struct {
	MaxRetries int
	RetryDelay time.Duration
}

// ServerConfig configures the C11 HTTP surface.
type ServerConfig struct {
	Port            int
	AllowedOrigins  string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Load reads Config from the environment, returning an error on the
// first missing required variable rather than starting in a partially
// configured state. AWS_REGION is required for interface parity with
// spec.md's environment contract even though this store is Postgres,
// not DynamoDB (see DESIGN.md).
func Load() (*Config, error) {
	if _, err := requireEnv("AWS_REGION"); err != nil {
		return nil, err
	}
	dsn, err := requireEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	jwtSecret, err := requireEnv("JWT_SECRET_KEY")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment:  getEnvOrDefault("ENVIRONMENT", "dev"),
		JWTSecretKey: jwtSecret,

		UsersTable:     getEnvOrDefault("USERS_TABLE", "users"),
		OrdersTable:    getEnvOrDefault("ORDERS_TABLE", "orders"),
		InventoryTable: getEnvOrDefault("INVENTORY_TABLE", "inventory"),

		Store: StoreConfig{
			DSN:             dsn,
			MaxConns:        int32(getEnvIntOrDefault("DATABASE_MAX_CONNS", 20)),
			MinConns:        int32(getEnvIntOrDefault("DATABASE_MIN_CONNS", 2)),
			MaxConnLifetime: getEnvDurationOrDefault("DATABASE_MAX_CONN_LIFETIME", time.Hour),
			MaxConnIdleTime: getEnvDurationOrDefault("DATABASE_MAX_CONN_IDLE_TIME", 30*time.Minute),
		},

		Redis: RedisConfig{
			Enabled:  getEnvOrDefault("REDIS_ENABLED", "false") == "true",
			Address:  getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvIntOrDefault("REDIS_DB", 0),
			PoolSize: getEnvIntOrDefault("REDIS_POOL_SIZE", 10),
		},

		Vault: VaultConfig{
			Enabled:   getEnvOrDefault("VAULT_ENABLED", "false") == "true",
			Address:   getEnvOrDefault("VAULT_ADDR", "http://localhost:8200"),
			Token:     os.Getenv("VAULT_TOKEN"),
			MountPath: getEnvOrDefault("VAULT_MOUNT_PATH", "secret"),
			BasePath:  getEnvOrDefault("VAULT_BASE_PATH", "cnop/transactional-core"),
		},

		Lock: LockConfig{
			MaxRetries: getEnvIntOrDefault("LOCK_MAX_RETRIES", 3),
			RetryDelay: getEnvDurationOrDefault("LOCK_RETRY_DELAY", 100*time.Millisecond),
		},

		Server: ServerConfig{
			Port:            getEnvIntOrDefault("SERVER_PORT", 8080),
			AllowedOrigins:  getEnvOrDefault("SERVER_ALLOWED_ORIGINS", "*"),
			ReadTimeout:     getEnvDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
	}

	if cfg.Environment != "dev" && cfg.Environment != "prod" {
		return nil, fmt.Errorf("invalid ENVIRONMENT %q: must be dev or prod", cfg.Environment)
	}

	return cfg, nil
}

func requireEnv(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("required environment variable %s is not set", key)
	}
	return v, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
