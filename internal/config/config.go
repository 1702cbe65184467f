package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server  ServerConfig
	CMP     CMPConfig
	Export  ExportConfig
	Store   StoreConfig
	Cache   CacheConfig
	Batch   BatchConfig
	Logging LoggingConfig
	Metrics MetricsConfig
	Mapping Mapping
}

type ServerConfig struct {
	ListenAddr string
}

type CMPConfig struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	PageSize     int
	Timeout      time.Duration
}

type ExportConfig struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Audience     string
	RowLimit     int
	PollInterval time.Duration
	PollAttempts int
	Timeout      time.Duration
}

type StoreConfig struct {
	PostgresDSN string
}

type CacheConfig struct {
	Dir string
}

type BatchConfig struct {
	Enabled bool
	At      string // "HH:MM", local time of the daily run
}

type LoggingConfig struct {
	Format string
	Level  string
}

type MetricsConfig struct {
	Enabled bool
	Address string
}

// MustLoad reads configuration from the environment, applying the optional
// YAML mapping file named by MAPPING_FILE on top of the built-in purpose and
// channel defaults.
func MustLoad() Config {
	log.Println("[config] loading")

	mapping := DefaultMapping()
	if path := os.Getenv("MAPPING_FILE"); path != "" {
		m, err := LoadMapping(path)
		if err != nil {
			log.Fatalf("[config] load mapping file %s: %v", path, err)
		}
		mapping = m
	}

	return Config{
		Server: ServerConfig{
			ListenAddr: getenvDefault("LISTEN_ADDR", ":8001"),
		},
		CMP: CMPConfig{
			BaseURL:      getenvDefault("CMP_BASE_URL", "https://app-apac.onetrust.com/api/consentmanager/v1"),
			TokenURL:     getenvDefault("CMP_TOKEN_URL", "https://app-apac.onetrust.com/api/access/v1/oauth/token"),
			ClientID:     os.Getenv("CMP_CLIENT_ID"),
			ClientSecret: os.Getenv("CMP_CLIENT_SECRET"),
			PageSize:     parseInt(getenvDefault("CMP_PAGE_SIZE", "50")),
			Timeout:      parseDuration(getenvDefault("CMP_TIMEOUT", "30s")),
		},
		Export: ExportConfig{
			BaseURL:      os.Getenv("IDP_BASE_URL"),
			TokenURL:     os.Getenv("IDP_TOKEN_URL"),
			ClientID:     os.Getenv("IDP_CLIENT_ID"),
			ClientSecret: os.Getenv("IDP_CLIENT_SECRET"),
			Audience:     os.Getenv("IDP_AUDIENCE"),
			RowLimit:     parseInt(getenvDefault("EXPORT_ROW_LIMIT", "999999")),
			PollInterval: parseDuration(getenvDefault("EXPORT_POLL_INTERVAL", "2s")),
			PollAttempts: parseInt(getenvDefault("EXPORT_POLL_ATTEMPTS", "10")),
			Timeout:      parseDuration(getenvDefault("EXPORT_TIMEOUT", "30s")),
		},
		Store: StoreConfig{
			PostgresDSN: os.Getenv("SNAPSHOT_DSN"),
		},
		Cache: CacheConfig{
			Dir: getenvDefault("EXPORT_CACHE_DIR", "./data"),
		},
		Batch: BatchConfig{
			Enabled: getenvDefault("DAILY_BATCH_ENABLED", "true") == "true",
			At:      getenvDefault("DAILY_BATCH_AT", "05:00"),
		},
		Logging: LoggingConfig{
			Format: getenvDefault("LOG_FORMAT", "text"),
			Level:  getenvDefault("LOG_LEVEL", "info"),
		},
		Metrics: MetricsConfig{
			Enabled: os.Getenv("METRICS_ENABLED") != "false",
			Address: getenvDefault("METRICS_ADDR", ":9090"),
		},
		Mapping: mapping,
	}
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func parseInt(v string) int {
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return parsed
}

func parseDuration(v string) time.Duration {
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return parsed
}
