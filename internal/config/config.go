package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// StorageBackendFile keeps products in a local JSON file.
	StorageBackendFile = "file"
	// StorageBackendPostgres keeps products in Postgres and enables the
	// outbox relay.
	StorageBackendPostgres = "postgres"
)

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Storage  StorageConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type ScraperConfig struct {
	SearchTerms     []string
	MaxAttempts     int
	RetryDelay      time.Duration
	Workers         int
	NavigateTimeout time.Duration
	ExtractTimeout  time.Duration
	RateLimitMin    time.Duration
	RateLimitMax    time.Duration
	MetricsAddr     string
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	UserAgents     []string
	Proxy          string
}

type StorageConfig struct {
	Backend  string
	FilePath string
}

type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	Name          string
	SSLMode       string
	MaxConns      int32
	MinConns      int32
	MigrationsDir string
}

type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	RelayInterval  time.Duration
	RelayBatchSize int
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getIntOrDefault("SERVER_PORT", 8080),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Scraper: ScraperConfig{
			SearchTerms:     getStringSliceOrDefault("SCRAPER_SEARCH_TERMS", defaultSearchTerms()),
			MaxAttempts:     getIntOrDefault("SCRAPER_MAX_ATTEMPTS", 4),
			RetryDelay:      getDurationOrDefault("SCRAPER_RETRY_DELAY", 10*time.Second),
			Workers:         getIntOrDefault("SCRAPER_WORKERS", 2),
			NavigateTimeout: getDurationOrDefault("SCRAPER_NAVIGATE_TIMEOUT", 30*time.Second),
			ExtractTimeout:  getDurationOrDefault("SCRAPER_EXTRACT_TIMEOUT", 120*time.Second),
			RateLimitMin:    getDurationOrDefault("SCRAPER_RATE_LIMIT_MIN", 2*time.Second),
			RateLimitMax:    getDurationOrDefault("SCRAPER_RATE_LIMIT_MAX", 5*time.Second),
			MetricsAddr:     getEnvOrDefault("SCRAPER_METRICS_ADDR", ""),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "de-DE,de;q=0.9,en;q=0.8"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "Europe/Berlin"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "de-DE"),
			UserAgents:     getStringSliceOrDefault("BROWSER_USER_AGENTS", nil),
			Proxy:          getEnvOrDefault("BROWSER_PROXY", ""),
		},
		Storage: StorageConfig{
			Backend:  getEnvOrDefault("STORAGE_BACKEND", StorageBackendFile),
			FilePath: getEnvOrDefault("STORAGE_FILE_PATH", "products.json"),
		},
		Database: DatabaseConfig{
			Host:          getEnvOrDefault("DB_HOST", "localhost"),
			Port:          getIntOrDefault("DB_PORT", 5432),
			User:          getEnvOrDefault("DB_USER", "postgres"),
			Password:      getEnvOrDefault("DB_PASSWORD", ""),
			Name:          getEnvOrDefault("DB_NAME", "wool_pilot"),
			SSLMode:       getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns:      int32(getIntOrDefault("DB_MAX_CONNS", 20)),
			MinConns:      int32(getIntOrDefault("DB_MIN_CONNS", 2)),
			MigrationsDir: getEnvOrDefault("DB_MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			Addr:           getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password:       getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:             getIntOrDefault("REDIS_DB", 0),
			RelayInterval:  getDurationOrDefault("OUTBOX_POLL_INTERVAL", 5*time.Second),
			RelayBatchSize: getIntOrDefault("OUTBOX_BATCH_SIZE", 100),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Scraper.MaxAttempts < 1 {
		return fmt.Errorf("SCRAPER_MAX_ATTEMPTS must be at least 1")
	}

	if c.Scraper.Workers < 1 {
		return fmt.Errorf("SCRAPER_WORKERS must be at least 1")
	}

	if c.Scraper.RateLimitMin > c.Scraper.RateLimitMax {
		return fmt.Errorf("SCRAPER_RATE_LIMIT_MIN cannot be greater than SCRAPER_RATE_LIMIT_MAX")
	}

	switch c.Storage.Backend {
	case StorageBackendFile:
		if c.Storage.FilePath == "" {
			return fmt.Errorf("STORAGE_FILE_PATH is required for the file backend")
		}
	case StorageBackendPostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database name is required")
		}
	default:
		return fmt.Errorf("unknown storage backend: %q", c.Storage.Backend)
	}

	return nil
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

// defaultSearchTerms is the standing catalog watchlist. Override with
// SCRAPER_SEARCH_TERMS or the -terms flag.
func defaultSearchTerms() []string {
	return []string{
		"DMC Natura XL",
		"Drops Safran",
		"Drops Baby Merino Mix",
		"Hahn Alpacca Speciale",
		"Stylecraft Special double knit",
	}
}
