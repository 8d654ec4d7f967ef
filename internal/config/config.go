package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	NewRelic  NewRelicConfig
	Log       LogConfig
	Detention DetentionConfig
	Remote    RemoteConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration for the SQL event store.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis configuration for durable state and the facility index.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level       string
	Development bool
	Service     string
}

// DetentionConfig holds session core defaults. Grace period and hourly rate
// are only defaults; each session snapshots its own values at start.
type DetentionConfig struct {
	DefaultGraceMinutes int
	DefaultHourlyRate   float64
	GeofenceRadiusM     float64
	FacilitySearchKm    float64
	PollInterval        time.Duration
	StateKey            string
	StateStore          string // "sqlite" or "memory"; ignored when Redis is enabled
	StatePath           string
	SyncInterval        time.Duration
	GraceReminderLead   time.Duration
	LocationTimeout     time.Duration
}

// RemoteConfig selects and configures the remote event store binding.
type RemoteConfig struct {
	Backend string // "postgres" or "rest"
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "detention"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("DB_MAX_CONNS", 10),
		},
		Redis: RedisConfig{
			Enabled:  getBoolEnv("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "detention-tracker"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
		Log: LogConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getBoolEnv("LOG_DEVELOPMENT", false),
			Service:     getEnv("LOG_SERVICE", "detention"),
		},
		Detention: DetentionConfig{
			DefaultGraceMinutes: getIntEnv("DETENTION_GRACE_MINUTES", 120),
			DefaultHourlyRate:   getFloatEnv("DETENTION_HOURLY_RATE", 75),
			GeofenceRadiusM:     getFloatEnv("GEOFENCE_RADIUS_METERS", 200),
			FacilitySearchKm:    getFloatEnv("FACILITY_SEARCH_KM", 5),
			PollInterval:        getDurationEnv("GEOFENCE_POLL_INTERVAL", 30*time.Second),
			StateKey:            getEnv("DETENTION_STATE_KEY", "detention-storage"),
			StateStore:          getEnv("STATE_STORE", "sqlite"),
			StatePath:           getEnv("STATE_PATH", "detention-state.db"),
			SyncInterval:        getDurationEnv("SYNC_INTERVAL", time.Minute),
			GraceReminderLead:   getDurationEnv("GRACE_REMINDER_LEAD", 15*time.Minute),
			LocationTimeout:     getDurationEnv("LOCATION_TIMEOUT", 15*time.Second),
		},
		Remote: RemoteConfig{
			Backend: getEnv("EVENT_STORE_BACKEND", "postgres"),
			BaseURL: getEnv("EVENT_STORE_URL", ""),
			Token:   getEnv("EVENT_STORE_TOKEN", ""),
			Timeout: getDurationEnv("EVENT_STORE_TIMEOUT", 10*time.Second),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
