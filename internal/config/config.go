package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the trustgate server.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Extraction ExtractionConfig
	Worker     WorkerConfig
	Gate       GateConfig
	Patterns   PatternsConfig
	Records    RecordsConfig
	Documents  DocumentsConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	RequestsPerMin  int
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
}

type ExtractionConfig struct {
	Provider string
	// PatternThreshold is the match confidence a pattern must reach to skip the model.
	PatternThreshold float64
	RateLimit        float64
	RateBurst        int
	Timeouts         TimeoutTiers
	Anthropic        AnthropicConfig
	HTTP             HTTPExtractorConfig
}

// TimeoutTiers is the fixed page-count to timeout lookup for extraction calls.
type TimeoutTiers struct {
	SmallMaxPages  int
	MediumMaxPages int
	Small          time.Duration
	Medium         time.Duration
	Large          time.Duration
}

type AnthropicConfig struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
}

type HTTPExtractorConfig struct {
	BaseURL string
	APIKey  string
}

type WorkerConfig struct {
	LeaseKey                string
	LeaseTTL                time.Duration
	RenewInterval           time.Duration
	AcquireInterval         time.Duration
	ExtractionConcurrency   int
	DistributionConcurrency int
	MaxAttempts             int
	BackoffBase             time.Duration
	BackoffMax              time.Duration
	PollInterval            time.Duration
	StaleAfter              time.Duration
	SweepSchedule           string
}

type GateConfig struct {
	AutoActivateThreshold float64
	BlockingThreshold     float64
}

type PatternsConfig struct {
	MinOccurrences int
}

type RecordsConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type DocumentsConfig struct {
	Root string
}

var validProviders = map[string]bool{
	"anthropic": true,
	"http":      true,
	"mock":      true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	leaseTTL := envDuration("WORKER_LEASE_TTL", 30*time.Second)

	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("TRUSTGATE_PORT", 8080),
			Env:             envString("TRUSTGATE_ENV", "development"),
			RequestsPerMin:  envInt("TRUSTGATE_REQUESTS_PER_MIN", 120),
			ShutdownTimeout: envDuration("TRUSTGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("DATABASE_MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Extraction: ExtractionConfig{
			Provider:         os.Getenv("EXTRACTION_PROVIDER"),
			PatternThreshold: envFloat("EXTRACTION_PATTERN_THRESHOLD", 0.9),
			RateLimit:        envFloat("EXTRACTION_RATE_LIMIT", 2),
			RateBurst:        envInt("EXTRACTION_RATE_BURST", 4),
			Timeouts: TimeoutTiers{
				SmallMaxPages:  envInt("EXTRACTION_SMALL_MAX_PAGES", 10),
				MediumMaxPages: envInt("EXTRACTION_MEDIUM_MAX_PAGES", 50),
				Small:          envDurationSecs("EXTRACTION_SMALL_TIMEOUT_SECS", 30*time.Second),
				Medium:         envDurationSecs("EXTRACTION_MEDIUM_TIMEOUT_SECS", 90*time.Second),
				Large:          envDurationSecs("EXTRACTION_LARGE_TIMEOUT_SECS", 180*time.Second),
			},
			Anthropic: AnthropicConfig{
				APIKey:    os.Getenv("ANTHROPIC_API_KEY"),
				Model:     envString("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
				BaseURL:   os.Getenv("ANTHROPIC_BASE_URL"),
				MaxTokens: envInt("ANTHROPIC_MAX_TOKENS", 8192),
			},
			HTTP: HTTPExtractorConfig{
				BaseURL: os.Getenv("EXTRACTION_SERVICE_URL"),
				APIKey:  os.Getenv("EXTRACTION_SERVICE_API_KEY"),
			},
		},
		Worker: WorkerConfig{
			LeaseKey:                envString("WORKER_LEASE_KEY", "trustgate:workers:leader"),
			LeaseTTL:                leaseTTL,
			RenewInterval:           envDuration("WORKER_RENEW_INTERVAL", leaseTTL/3),
			AcquireInterval:         envDuration("WORKER_ACQUIRE_INTERVAL", leaseTTL),
			ExtractionConcurrency:   envInt("WORKER_EXTRACTION_CONCURRENCY", 4),
			DistributionConcurrency: envInt("WORKER_DISTRIBUTION_CONCURRENCY", 2),
			MaxAttempts:             envInt("WORKER_MAX_ATTEMPTS", 5),
			BackoffBase:             envDuration("WORKER_BACKOFF_BASE", 5*time.Second),
			BackoffMax:              envDuration("WORKER_BACKOFF_MAX", 10*time.Minute),
			PollInterval:            envDuration("WORKER_POLL_INTERVAL", 5*time.Second),
			StaleAfter:              envDuration("WORKER_STALE_AFTER", 10*time.Minute),
			SweepSchedule:           envString("WORKER_SWEEP_SCHEDULE", "@every 1m"),
		},
		Gate: GateConfig{
			AutoActivateThreshold: envFloat("GATE_AUTO_ACTIVATE_THRESHOLD", 0.8),
			BlockingThreshold:     envFloat("GATE_BLOCKING_THRESHOLD", 0.5),
		},
		Patterns: PatternsConfig{
			MinOccurrences: envInt("PATTERN_MIN_OCCURRENCES", 3),
		},
		Records: RecordsConfig{
			BaseURL: os.Getenv("RECORDS_BASE_URL"),
			APIKey:  os.Getenv("RECORDS_API_KEY"),
			Timeout: envDuration("RECORDS_TIMEOUT", 10*time.Second),
		},
		Documents: DocumentsConfig{
			Root: envString("DOCUMENTS_ROOT", "/var/lib/trustgate/documents"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Records.BaseURL == "" {
		return fmt.Errorf("RECORDS_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Records.BaseURL, "http://") && !strings.HasPrefix(c.Records.BaseURL, "https://") {
		return fmt.Errorf("RECORDS_BASE_URL must start with http:// or https://, got %q", c.Records.BaseURL)
	}

	if c.Extraction.Provider == "" {
		return fmt.Errorf("EXTRACTION_PROVIDER is required")
	}
	if !validProviders[c.Extraction.Provider] {
		return fmt.Errorf("EXTRACTION_PROVIDER must be one of anthropic, http, mock; got %q", c.Extraction.Provider)
	}
	if c.Extraction.Provider == "anthropic" && c.Extraction.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when EXTRACTION_PROVIDER is anthropic")
	}
	if c.Extraction.Provider == "http" && c.Extraction.HTTP.BaseURL == "" {
		return fmt.Errorf("EXTRACTION_SERVICE_URL is required when EXTRACTION_PROVIDER is http")
	}
	if c.Extraction.Provider == "mock" && c.Server.Env == "production" {
		return fmt.Errorf("EXTRACTION_PROVIDER mock is not allowed in production")
	}
	if c.Extraction.PatternThreshold <= 0 || c.Extraction.PatternThreshold > 1 {
		return fmt.Errorf("EXTRACTION_PATTERN_THRESHOLD must be in (0, 1], got %v", c.Extraction.PatternThreshold)
	}

	if c.Worker.LeaseTTL <= 0 {
		return fmt.Errorf("WORKER_LEASE_TTL must be positive")
	}
	if c.Worker.RenewInterval <= 0 || c.Worker.RenewInterval >= c.Worker.LeaseTTL {
		return fmt.Errorf("WORKER_RENEW_INTERVAL must be positive and shorter than WORKER_LEASE_TTL (%s), got %s",
			c.Worker.LeaseTTL, c.Worker.RenewInterval)
	}
	if c.Worker.ExtractionConcurrency < 1 || c.Worker.DistributionConcurrency < 1 {
		return fmt.Errorf("worker concurrency must be at least 1")
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("WORKER_MAX_ATTEMPTS must be at least 1, got %d", c.Worker.MaxAttempts)
	}

	if c.Gate.BlockingThreshold < 0 || c.Gate.AutoActivateThreshold > 1 ||
		c.Gate.BlockingThreshold > c.Gate.AutoActivateThreshold {
		return fmt.Errorf("gate thresholds must satisfy 0 <= GATE_BLOCKING_THRESHOLD <= GATE_AUTO_ACTIVATE_THRESHOLD <= 1, got %v and %v",
			c.Gate.BlockingThreshold, c.Gate.AutoActivateThreshold)
	}

	if c.Patterns.MinOccurrences < 1 {
		return fmt.Errorf("PATTERN_MIN_OCCURRENCES must be at least 1, got %d", c.Patterns.MinOccurrences)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
