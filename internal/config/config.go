package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Fetcher modes selectable via FETCH_MODE.
const (
	FetchModeBrowser  = "browser"
	FetchModeUnlocker = "unlocker"
)

type Config struct {
	Server   ServerConfig
	Fetch    FetchConfig
	Browser  BrowserConfig
	Pipeline PipelineConfig
	Redis    RedisConfig
	Database DatabaseConfig
	API      APIConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type FetchConfig struct {
	// Mode selects the page fetcher: "browser" drives a headless
	// browser, "unlocker" proxies through an unblocking gateway.
	Mode               string
	BlockSizeThreshold int
	UnlockerEndpoint   string
	UnlockerAPIToken   string
	UnlockerRPS        float64
	UnlockerBurst      int
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
}

type PipelineConfig struct {
	ListingTimeout time.Duration
	ProductTimeout time.Duration
	TotalTimeout   time.Duration
	MaxProducts    int
	FailureRatio   float64
	PacerDelayMin  time.Duration
	PacerDelayMax  time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type APIConfig struct {
	AllowedOrigins []string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 0),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Fetch: FetchConfig{
			Mode:               getEnvOrDefault("FETCH_MODE", FetchModeBrowser),
			BlockSizeThreshold: getIntOrDefault("FETCH_BLOCK_SIZE_THRESHOLD", 2048),
			UnlockerEndpoint:   getEnvOrDefault("FETCH_UNLOCKER_ENDPOINT", ""),
			UnlockerAPIToken:   getEnvOrDefault("FETCH_UNLOCKER_API_TOKEN", ""),
			UnlockerRPS:        getFloatOrDefault("FETCH_UNLOCKER_RPS", 2),
			UnlockerBurst:      getIntOrDefault("FETCH_UNLOCKER_BURST", 4),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "de-DE,de;q=0.9,en;q=0.8"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "Europe/Berlin"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "de-DE"),
			ProxyServer:    getEnvOrDefault("BROWSER_PROXY_SERVER", ""),
		},
		Pipeline: PipelineConfig{
			ListingTimeout: getDurationOrDefault("PIPELINE_LISTING_TIMEOUT", 25*time.Second),
			ProductTimeout: getDurationOrDefault("PIPELINE_PRODUCT_TIMEOUT", 20*time.Second),
			TotalTimeout:   getDurationOrDefault("PIPELINE_TOTAL_TIMEOUT", 90*time.Second),
			MaxProducts:    getIntOrDefault("PIPELINE_MAX_PRODUCTS", 10),
			FailureRatio:   getFloatOrDefault("PIPELINE_MAX_PRODUCT_FAILURE_RATIO", 1.0),
			PacerDelayMin:  getDurationOrDefault("PIPELINE_PACER_DELAY_MIN", 150*time.Millisecond),
			PacerDelayMax:  getDurationOrDefault("PIPELINE_PACER_DELAY_MAX", 600*time.Millisecond),
		},
		Redis: RedisConfig{
			Enabled:  getBoolOrDefault("REDIS_ENABLED", false),
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolOrDefault("DB_ENABLED", false),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "shophound"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
		},
		API: APIConfig{
			AllowedOrigins: getStringSliceOrDefault("API_ALLOWED_ORIGINS", []string{"*"}),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Fetch.Mode {
	case FetchModeBrowser, FetchModeUnlocker:
	default:
		return fmt.Errorf("FETCH_MODE must be %q or %q, got %q", FetchModeBrowser, FetchModeUnlocker, c.Fetch.Mode)
	}

	if c.Fetch.Mode == FetchModeUnlocker && c.Fetch.UnlockerEndpoint == "" {
		return fmt.Errorf("FETCH_UNLOCKER_ENDPOINT is required when FETCH_MODE=unlocker")
	}

	if c.Pipeline.MaxProducts < 0 {
		return fmt.Errorf("PIPELINE_MAX_PRODUCTS cannot be negative")
	}

	if c.Pipeline.FailureRatio < 0 || c.Pipeline.FailureRatio > 1 {
		return fmt.Errorf("PIPELINE_MAX_PRODUCT_FAILURE_RATIO must be within [0, 1]")
	}

	if c.Pipeline.PacerDelayMin > c.Pipeline.PacerDelayMax {
		return fmt.Errorf("PIPELINE_PACER_DELAY_MIN cannot be greater than PIPELINE_PACER_DELAY_MAX")
	}

	if c.Pipeline.ListingTimeout > c.Pipeline.TotalTimeout {
		return fmt.Errorf("PIPELINE_LISTING_TIMEOUT cannot be greater than PIPELINE_TOTAL_TIMEOUT")
	}

	return nil
}

// DSN renders the pgx connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
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

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
