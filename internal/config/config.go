package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds all configuration for the bot
type Config struct {
	Discord   DiscordConfig
	Storage   StorageConfig
	Provider  ProviderConfig
	Throttle  ThrottleConfig
	Cache     CacheConfig
	Scheduler SchedulerConfig
	Server    ServerConfig
	Logging   LoggingConfig
	Metrics   MetricsConfig
	Targets   TargetsConfig
}

// DiscordConfig holds Discord session settings
type DiscordConfig struct {
	Token             string
	GuildID           string
	AnnounceChannelID string // optional; empty disables announcements
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type                 string // "sqlite" or "postgres"
	Postgres             PostgresConfig
	SQLite               SQLiteConfig
	OutcomeLogMaxEntries int
}

// PostgresConfig holds Postgres connection settings
type PostgresConfig struct {
	URL string
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string
}

// ProviderConfig holds evidence provider settings
type ProviderConfig struct {
	Type    string // "explorer" or "dashboard"
	BaseURL string
	APIKey  string
}

// ThrottleConfig holds outbound rate limiting and retry settings
type ThrottleConfig struct {
	RequestsPerSecond     float64
	MaxRetries            int
	RequestTimeoutSeconds int
	RetryBackoffMs        int
}

// CacheConfig holds evidence cache settings
type CacheConfig struct {
	TTLSeconds int
}

// SchedulerConfig holds batch scheduler settings
type SchedulerConfig struct {
	BatchSize           int
	BatchIntervalMin    int
	BatchDelayMs        int
	MaxIdentitiesPerRun int
}

// ServerConfig holds the admin HTTP server configuration
type ServerConfig struct {
	Port         int
	Host         string
	ReadTimeout  int // seconds
	WriteTimeout int // seconds
	IdleTimeout  int // seconds
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string
	Format string // "text" or "json"
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool
}

// TargetsConfig holds the location of the target definition file
type TargetsConfig struct {
	File string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Discord: DiscordConfig{
			Token:             getEnv("DISCORD_TOKEN", ""),
			GuildID:           getEnv("DISCORD_GUILD_ID", ""),
			AnnounceChannelID: getEnv("DISCORD_ANNOUNCE_CHANNEL_ID", ""),
		},
		Storage: StorageConfig{
			Type: getEnv("STORAGE_TYPE", "sqlite"),
			Postgres: PostgresConfig{
				URL: getEnv("DATABASE_URL", ""),
			},
			SQLite: SQLiteConfig{
				Path: getEnv("SQLITE_PATH", "./data/rolewarden.db"),
			},
			OutcomeLogMaxEntries: getEnvInt("OUTCOME_LOG_MAX_ENTRIES", 10000),
		},
		Provider: ProviderConfig{
			Type:    getEnv("PROVIDER_TYPE", "explorer"),
			BaseURL: getEnv("PROVIDER_BASE_URL", ""),
			APIKey:  getEnv("PROVIDER_API_KEY", ""),
		},
		Throttle: ThrottleConfig{
			RequestsPerSecond:     getEnvFloat("REQUESTS_PER_SECOND", 5),
			MaxRetries:            getEnvInt("MAX_RETRIES", 3),
			RequestTimeoutSeconds: getEnvInt("REQUEST_TIMEOUT_SECONDS", 20),
			RetryBackoffMs:        getEnvInt("RETRY_BACKOFF_MS", 500),
		},
		Cache: CacheConfig{
			TTLSeconds: getEnvInt("CACHE_TTL_SECONDS", 900),
		},
		Scheduler: SchedulerConfig{
			BatchSize:           getEnvInt("BATCH_SIZE", 50),
			BatchIntervalMin:    getEnvInt("BATCH_INTERVAL_MINUTES", 30),
			BatchDelayMs:        getEnvInt("BATCH_DELAY_MS", 2000),
			MaxIdentitiesPerRun: getEnvInt("MAX_IDENTITIES_PER_RUN", 1000),
		},
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8080),
			Host:         getEnv("SERVER_HOST", "127.0.0.1"),
			ReadTimeout:  getEnvInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout: getEnvInt("SERVER_WRITE_TIMEOUT", 60),
			IdleTimeout:  getEnvInt("SERVER_IDLE_TIMEOUT", 120),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
		},
		Targets: TargetsConfig{
			File: getEnv("TARGETS_FILE", "./targets.toml"),
		},
	}

	// If DATABASE_URL is set, default to postgres
	if cfg.Storage.Postgres.URL != "" && cfg.Storage.Type == "sqlite" {
		cfg.Storage.Type = "postgres"
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}
