package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Storage  StorageConfig
	Logging  LoggingConfig
	Player   PlayerConfig
	Sync     SyncConfig
	Live     LiveConfig
	Metrics  MetricsConfig
	Auth     AuthConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
	URLExpiry       time.Duration
	CatalogCacheTTL time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// PlayerConfig holds chunk playback tuning
type PlayerConfig struct {
	ProbeTimeout      time.Duration
	DefaultChunkSecs  float64
	FineChunkSecs     float64
	MaxRetries        int
	RetryBackoff      time.Duration
	PrefetchDepth     int
	PrefetchThreshold float64
	PrefetchInterval  time.Duration
	WatchdogInterval  time.Duration
}

// SyncConfig holds dual-stream synchronization tuning
type SyncConfig struct {
	DriftThreshold    float64
	Cooldown          time.Duration
	ReconcileInterval time.Duration
}

// LiveConfig holds live-manifest polling configuration
type LiveConfig struct {
	PollInterval time.Duration
	MaxAttempts  int
	RetryDelay   time.Duration
	RebuildDelay time.Duration
}

// MetricsConfig holds the metrics server configuration
type MetricsConfig struct {
	Port int
}

// AuthConfig holds reviewer authentication settings
type AuthConfig struct {
	JWTSecret      string
	RateLimitRPS   int
	RateLimitBurst int
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.readTimeout", "30s")
	viper.SetDefault("server.writeTimeout", "30s")
	viper.SetDefault("server.shutdownTimeout", "10s")

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "proctorview")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.maxConns", 25)
	viper.SetDefault("database.minConns", 5)

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Storage defaults
	viper.SetDefault("storage.endpoint", "localhost:9000")
	viper.SetDefault("storage.accessKeyID", "minioadmin")
	viper.SetDefault("storage.secretAccessKey", "minioadmin")
	viper.SetDefault("storage.bucketName", "recordings")
	viper.SetDefault("storage.region", "us-east-1")
	viper.SetDefault("storage.useSSL", false)
	viper.SetDefault("storage.urlExpiry", "1h")
	viper.SetDefault("storage.catalogCacheTTL", "5m")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")

	// Player defaults
	viper.SetDefault("player.probeTimeout", "5s")
	viper.SetDefault("player.defaultChunkSecs", 4.0)
	viper.SetDefault("player.fineChunkSecs", 1.0)
	viper.SetDefault("player.maxRetries", 2)
	viper.SetDefault("player.retryBackoff", "500ms")
	viper.SetDefault("player.prefetchDepth", 3)
	viper.SetDefault("player.prefetchThreshold", 0.75)
	viper.SetDefault("player.prefetchInterval", "250ms")
	viper.SetDefault("player.watchdogInterval", "1s")

	// Sync defaults
	viper.SetDefault("sync.driftThreshold", 1.5)
	viper.SetDefault("sync.cooldown", "2s")
	viper.SetDefault("sync.reconcileInterval", "1s")

	// Live defaults
	viper.SetDefault("live.pollInterval", "3s")
	viper.SetDefault("live.maxAttempts", 0) // unlimited
	viper.SetDefault("live.retryDelay", "1s")
	viper.SetDefault("live.rebuildDelay", "2s")

	// Metrics defaults
	viper.SetDefault("metrics.port", 9091)

	// Auth defaults
	viper.SetDefault("auth.jwtSecret", "change-me")
	viper.SetDefault("auth.rateLimitRPS", 20)
	viper.SetDefault("auth.rateLimitBurst", 40)
}
