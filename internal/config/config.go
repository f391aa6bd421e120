package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	GRPCPort    string
	Environment string

	// Storage
	StoreDriver string // memory, mysql or sqlite
	MySQLDSN    string
	SQLitePath  string
	DataDir     string // JSON snapshots for the memory store, empty keeps state in RAM

	// Locking
	LockDriver string // local or redis
	RedisAddr  string
	LockWait   time.Duration
	LockTTL    time.Duration

	// Dashboard
	LowStockThreshold int
	RecentOrdersLimit int
	RevenuePolicy     string

	// Auth
	JWTSecret     string
	JWTTTL        time.Duration
	AllowDevLogin bool

	OTelEnabled bool
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		Port:              getEnv("PORT", "8080"),
		GRPCPort:          getEnv("GRPC_PORT", "50051"),
		Environment:       getEnv("ENVIRONMENT", "development"),
		StoreDriver:       getEnv("STORE_DRIVER", "memory"),
		MySQLDSN:          getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/farmfulfillment?parseTime=true"),
		SQLitePath:        getEnv("SQLITE_PATH", "farm.db"),
		DataDir:           getEnv("DATA_DIR", ""),
		LockDriver:        getEnv("LOCK_DRIVER", "local"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		LockWait:          getEnvAsDuration("LOCK_WAIT", 2*time.Second),
		LockTTL:           getEnvAsDuration("LOCK_TTL", 10*time.Second),
		LowStockThreshold: getEnvAsInt("LOW_STOCK_THRESHOLD", 5),
		RecentOrdersLimit: getEnvAsInt("RECENT_ORDERS_LIMIT", 12),
		RevenuePolicy:     getEnv("REVENUE_POLICY", "all"),
		JWTSecret:         getEnv("JWT_SECRET", "change-me-in-production-min-32-chars"),
		JWTTTL:            getEnvAsDuration("JWT_TTL", time.Hour),
		AllowDevLogin:     getEnvAsBool("ALLOW_DEV_LOGIN", true),
		OTelEnabled:       getEnvAsBool("OTEL_ENABLED", false),
	}
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "memory", "mysql", "sqlite":
	default:
		return fmt.Errorf("STORE_DRIVER must be memory, mysql or sqlite, got %q", c.StoreDriver)
	}
	switch c.LockDriver {
	case "local", "redis":
	default:
		return fmt.Errorf("LOCK_DRIVER must be local or redis, got %q", c.LockDriver)
	}
	if c.LockWait <= 0 {
		return fmt.Errorf("LOCK_WAIT must be positive, got %s", c.LockWait)
	}
	if c.LockDriver == "redis" && c.LockTTL <= c.LockWait {
		return fmt.Errorf("LOCK_TTL (%s) must exceed LOCK_WAIT (%s)", c.LockTTL, c.LockWait)
	}
	if c.LowStockThreshold < 0 {
		return fmt.Errorf("LOW_STOCK_THRESHOLD must be >= 0, got %d", c.LowStockThreshold)
	}
	if c.Environment == "production" && c.AllowDevLogin {
		return fmt.Errorf("ALLOW_DEV_LOGIN must be off in production")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return result
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return result
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	result, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return result
}
