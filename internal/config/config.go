package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/smallbiznis/catalogsync/internal/failure"
)

const (
	DefaultCatalogURL = "https://catalog.civicdataecosystem.org"
	DefaultUserAgent  = "CKAN-Ecosystem-Catalog/1.0 (https://ecosystem.ckan.org)"
)

// Config holds application configuration. It is built once by Load and
// injected into every component.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	DataDir          string
	SeriesConfigPath string
	DryRun           bool

	Catalog   CatalogConfig
	GitHub    GitHubConfig
	Pool      PoolConfig
	RateLimit RateLimitConfig
	Metrics   MetricsConfig

	OTLPEndpoint string
}

type CatalogConfig struct {
	URL          string
	APIKey       string
	UserAgent    string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type GitHubConfig struct {
	Token   string
	BaseURL string
}

type PoolConfig struct {
	Size    int
	Timeout time.Duration
}

type RateLimitConfig struct {
	Threshold       int
	CheckEvery      int
	ResetGrace      time.Duration
	RequestInterval time.Duration
}

type MetricsConfig struct {
	Exporter  string
	Endpoint  string
	AuthToken string
}

// Load loads configuration from environment variables and the given .env
// files. With no files, ./.env is tried.
func Load(envFiles ...string) Config {
	_ = godotenv.Load(envFiles...)

	return Config{
		AppName:          getenv("APP_SERVICE", "catalogsync"),
		AppVersion:       getenv("APP_VERSION", "0.1.0"),
		Environment:      getenv("ENVIRONMENT", "development"),
		DataDir:          getenv("DATA_DIR", "."),
		SeriesConfigPath: strings.TrimSpace(getenv("SERIES_CONFIG", "")),
		DryRun:           getenvBool("DRY_RUN", false),
		Catalog: CatalogConfig{
			URL:          strings.TrimRight(strings.TrimSpace(getenv("CKAN_URL", DefaultCatalogURL)), "/"),
			APIKey:       strings.TrimSpace(getenv("CKAN_API_KEY", "")),
			UserAgent:    getenv("CKAN_USER_AGENT", DefaultUserAgent),
			ReadTimeout:  getenvDuration("HTTP_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getenvDuration("HTTP_WRITE_TIMEOUT", 60*time.Second),
		},
		GitHub: GitHubConfig{
			Token:   strings.TrimSpace(getenv("GITHUB_TOKEN", "")),
			BaseURL: strings.TrimSpace(getenv("GITHUB_API_URL", "")),
		},
		Pool: PoolConfig{
			Size:    getenvInt("WORKER_POOL_SIZE", 10),
			Timeout: getenvDuration("WORKER_TIMEOUT", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			Threshold:       getenvInt("RATE_LIMIT_THRESHOLD", 100),
			CheckEvery:      getenvInt("RATE_LIMIT_CHECK_EVERY", 10),
			ResetGrace:      getenvDuration("RATE_LIMIT_RESET_GRACE", 60*time.Second),
			RequestInterval: getenvDuration("REQUEST_INTERVAL", time.Second),
		},
		Metrics: MetricsConfig{
			Exporter:  strings.ToLower(strings.TrimSpace(getenv("METRICS_EXPORTER", ""))),
			Endpoint:  strings.TrimSpace(getenv("METRICS_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("METRICS_AUTH_TOKEN", "")),
		},
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
	}
}

// Requirement names a setting a job cannot run without.
type Requirement string

const (
	RequireCatalogURL    Requirement = "CKAN_URL"
	RequireCatalogAPIKey Requirement = "CKAN_API_KEY"
	RequireGitHubToken   Requirement = "GITHUB_TOKEN"
)

// Validate checks the always-required settings plus the given requirements.
// It returns a *failure.ConfigurationError so callers can abort before any
// remote call is made.
func (c Config) Validate(reqs ...Requirement) error {
	if c.Pool.Size <= 0 {
		return &failure.ConfigurationError{Key: "WORKER_POOL_SIZE", Reason: "must be positive"}
	}
	if c.Catalog.ReadTimeout <= 0 || c.Catalog.WriteTimeout <= 0 {
		return &failure.ConfigurationError{Key: "HTTP_READ_TIMEOUT/HTTP_WRITE_TIMEOUT", Reason: "must be positive"}
	}
	for _, req := range reqs {
		switch req {
		case RequireCatalogURL:
			if c.Catalog.URL == "" {
				return &failure.ConfigurationError{Key: string(req), Reason: "required"}
			}
		case RequireCatalogAPIKey:
			if c.Catalog.APIKey == "" {
				return &failure.ConfigurationError{Key: string(req), Reason: "required for catalog writes"}
			}
		case RequireGitHubToken:
			if c.GitHub.Token == "" {
				return &failure.ConfigurationError{Key: string(req), Reason: "required"}
			}
		}
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go durations ("90s") or plain seconds ("90").
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
