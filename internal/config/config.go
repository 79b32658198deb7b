package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config represents runtime configuration derived from environment variables.
type Config struct {
	Server     ServerConfig
	Logging    LoggingConfig
	Feeds      FeedConfig
	Scoring    ScoringConfig
	Database   DatabaseConfig
	Enrichment EnrichmentConfig
	Auth       AuthConfig
}

// ServerConfig holds HTTP server runtime parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string
}

// FeedConfig controls the refresh scheduler and feed connectors.
type FeedConfig struct {
	UpdateInterval  time.Duration
	FetchTimeout    time.Duration
	MaxIOCsPerFeed  int
	OTXAPIKey       string
	StalenessWindow time.Duration
}

// ScoringConfig holds the threat level bucket thresholds. Thresholds must be
// strictly decreasing from critical to low.
type ScoringConfig struct {
	CriticalThreshold int
	HighThreshold     int
	MediumThreshold   int
	LowThreshold      int
}

// DatabaseConfig holds optional snapshot persistence settings. An empty URL
// disables persistence entirely.
type DatabaseConfig struct {
	URL string
}

// EnrichmentConfig holds optional OpenAI summary settings. An empty key
// selects the deterministic mock enricher.
type EnrichmentConfig struct {
	OpenAIAPIKey string
	Model        string
}

// AuthConfig holds admin authentication settings for the manual refresh
// trigger. Empty values disable authentication.
type AuthConfig struct {
	JWTSecret     string
	AdminPassword string
	TokenTTL      time.Duration
}

const (
	defaultPort            = "8080"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second

	defaultLogFormat = "json"

	defaultUpdateInterval  = 300 * time.Second
	defaultFetchTimeout    = 30 * time.Second
	defaultMaxIOCsPerFeed  = 1000
	defaultStalenessWindow = 30 * 24 * time.Hour

	defaultCriticalThreshold = 80
	defaultHighThreshold     = 60
	defaultMediumThreshold   = 40
	defaultLowThreshold      = 20

	defaultOpenAIModel = "gpt-4o-mini"
	defaultTokenTTL    = time.Hour
)

// Load reads configuration from environment variables, applying defaults when
// values are not provided.
func Load() (Config, error) {
	// Cloud Run sets PORT, but allow SERVER_PORT override for local dev
	port := getEnv("PORT", "")
	if port == "" {
		port = getEnv("SERVER_PORT", defaultPort)
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            port,
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: defaultLogFormat,
		},
		Feeds: FeedConfig{
			UpdateInterval:  defaultUpdateInterval,
			FetchTimeout:    defaultFetchTimeout,
			MaxIOCsPerFeed:  defaultMaxIOCsPerFeed,
			OTXAPIKey:       os.Getenv("ALIENVAULT_OTX_API_KEY"),
			StalenessWindow: defaultStalenessWindow,
		},
		Scoring: ScoringConfig{
			CriticalThreshold: defaultCriticalThreshold,
			HighThreshold:     defaultHighThreshold,
			MediumThreshold:   defaultMediumThreshold,
			LowThreshold:      defaultLowThreshold,
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Enrichment: EnrichmentConfig{
			OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
			Model:        getEnv("OPENAI_MODEL", defaultOpenAIModel),
		},
		Auth: AuthConfig{
			JWTSecret:     os.Getenv("ADMIN_JWT_SECRET"),
			AdminPassword: os.Getenv("ADMIN_PASSWORD"),
			TokenTTL:      defaultTokenTTL,
		},
	}

	if v := os.Getenv("SERVER_READ_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_READ_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.ReadTimeout = d
	}

	if v := os.Getenv("SERVER_WRITE_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_WRITE_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.WriteTimeout = d
	}

	if v := os.Getenv("SERVER_SHUTDOWN_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_SHUTDOWN_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.ShutdownTimeout = d
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch v {
		case "json", "text":
			cfg.Logging.Format = v
		default:
			return Config{}, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'text'")
		}
	}

	if v := os.Getenv("FEED_UPDATE_INTERVAL"); v != "" {
		d, err := parseSeconds(v)
		if err != nil || d == 0 {
			return Config{}, fmt.Errorf("invalid FEED_UPDATE_INTERVAL: must be a positive integer of seconds")
		}
		cfg.Feeds.UpdateInterval = d
	}

	if v := os.Getenv("FEED_FETCH_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil || d == 0 {
			return Config{}, fmt.Errorf("invalid FEED_FETCH_TIMEOUT_SECONDS: must be a positive integer of seconds")
		}
		cfg.Feeds.FetchTimeout = d
	}

	if v := os.Getenv("MAX_IOCS_PER_FEED"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid MAX_IOCS_PER_FEED: %w", err)
		}
		cfg.Feeds.MaxIOCsPerFeed = n
	}

	if v := os.Getenv("STALENESS_WINDOW_HOURS"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid STALENESS_WINDOW_HOURS: %w", err)
		}
		cfg.Feeds.StalenessWindow = time.Duration(n) * time.Hour
	}

	if err := loadThreshold("SCORE_CRITICAL_THRESHOLD", &cfg.Scoring.CriticalThreshold); err != nil {
		return Config{}, err
	}
	if err := loadThreshold("SCORE_HIGH_THRESHOLD", &cfg.Scoring.HighThreshold); err != nil {
		return Config{}, err
	}
	if err := loadThreshold("SCORE_MEDIUM_THRESHOLD", &cfg.Scoring.MediumThreshold); err != nil {
		return Config{}, err
	}
	if err := loadThreshold("SCORE_LOW_THRESHOLD", &cfg.Scoring.LowThreshold); err != nil {
		return Config{}, err
	}

	s := cfg.Scoring
	if s.CriticalThreshold <= s.HighThreshold || s.HighThreshold <= s.MediumThreshold ||
		s.MediumThreshold <= s.LowThreshold || s.LowThreshold <= 0 {
		return Config{}, fmt.Errorf("score thresholds must be strictly decreasing and positive")
	}

	return cfg, nil
}

func loadThreshold(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n > 100 {
		return fmt.Errorf("invalid %s: must be an integer in [0,100]", key)
	}
	*dst = n
	return nil
}

func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return time.Duration(seconds) * time.Second, nil
}

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return n, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}
