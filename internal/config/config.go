package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v2"
)

// DefaultSourceURL is the DailyMed label scraped when none is configured.
const DefaultSourceURL = "https://dailymed.nlm.nih.gov/dailymed/drugInfo.cfm?setid=595f437d-2729-40bb-9c62-c8ece1f82780"

type SourceConfig struct {
	URL           string        `yaml:"url" env:"DAILYMED_URL"`
	TitleSelector string        `yaml:"title_selector"`
	TextSelector  string        `yaml:"text_selector"`
	UserAgent     string        `yaml:"user_agent"`
	Timeout       time.Duration `yaml:"timeout" env:"DAILYMED_FETCH_TIMEOUT"`
	// MaxBodyBytes caps the downloaded page; zero uses 32 MiB.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

type CacheConfig struct {
	Path      string        `yaml:"path" env:"DAILYMED_CACHE_PATH"`
	Retention time.Duration `yaml:"retention" env:"DAILYMED_CACHE_RETENTION"`
}

type ClassifierConfig struct {
	APIKey      string        `yaml:"api_key" env:"GROQ_API_KEY"`
	BaseURL     string        `yaml:"base_url" env:"DAILYMED_LLM_BASE_URL"`
	Model       string        `yaml:"model" env:"DAILYMED_LLM_MODEL"`
	Temperature float64       `yaml:"temperature"`
	TopP        float64       `yaml:"top_p"`
	MaxTokens   int64         `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	// Concurrency caps in-flight classification calls per mapping cycle.
	Concurrency int `yaml:"concurrency" env:"DAILYMED_LLM_CONCURRENCY"`
	// RequestsPerSecond throttles calls to the provider; zero disables it.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

type StorageConfig struct {
	Type   string `yaml:"type" env:"DAILYMED_STORAGE"`
	SQLite struct {
		DSN string `yaml:"dsn" env:"DAILYMED_SQLITE_DSN"`
	} `yaml:"sqlite"`
}

type RetryConfig struct {
	Attempts int `yaml:"attempts"`
	DelayMS  int `yaml:"delay_ms"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"DAILYMED_LOG_LEVEL"`
	Format string `yaml:"format"`
}

type AdminConfig struct {
	Enabled bool   `yaml:"enabled" env:"DAILYMED_ADMIN_ENABLED"`
	Addr    string `yaml:"addr" env:"DAILYMED_ADMIN_ADDR"`
}

type Config struct {
	Source     SourceConfig     `yaml:"source"`
	Cache      CacheConfig      `yaml:"cache"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Storage    StorageConfig    `yaml:"storage"`
	Retry      RetryConfig      `yaml:"retry"`
	// Schedule is a robfig/cron spec for the scrape trigger.
	Schedule string      `yaml:"schedule" env:"DAILYMED_SCHEDULE"`
	Log      LogConfig   `yaml:"log"`
	Admin    AdminConfig `yaml:"admin"`
}

// Load reads the YAML file at path, applies a sibling .env file and process
// environment overrides, fills defaults and validates the result. A missing
// config file is not an error: defaults and environment are used instead.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}

		data, err := os.ReadFile(absPath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", absPath, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, err
		}

		if err := loadDotEnv(filepath.Join(filepath.Dir(absPath), ".env")); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDotEnv populates unset environment variables from file when it exists.
func loadDotEnv(file string) error {
	if _, err := os.Stat(file); err != nil {
		return nil
	}
	if err := godotenv.Load(file); err != nil {
		return fmt.Errorf("load %s: %w", file, err)
	}
	return nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Source.URL == "" {
		cfg.Source.URL = DefaultSourceURL
	}
	if cfg.Source.Timeout == 0 {
		cfg.Source.Timeout = 30 * time.Second
	}

	if cfg.Cache.Path == "" {
		cfg.Cache.Path = "tmp/dailymed-indications.json"
	}
	if cfg.Cache.Retention == 0 {
		cfg.Cache.Retention = 7 * 24 * time.Hour
	}

	if cfg.Classifier.BaseURL == "" {
		cfg.Classifier.BaseURL = "https://api.groq.com/openai/v1"
	}
	if cfg.Classifier.Model == "" {
		cfg.Classifier.Model = "meta-llama/llama-4-maverick-17b-128e-instruct"
	}
	if cfg.Classifier.Temperature == 0 {
		cfg.Classifier.Temperature = 1
	}
	if cfg.Classifier.TopP == 0 {
		cfg.Classifier.TopP = 1
	}
	if cfg.Classifier.MaxTokens == 0 {
		cfg.Classifier.MaxTokens = 1024
	}
	if cfg.Classifier.Timeout == 0 {
		cfg.Classifier.Timeout = 60 * time.Second
	}
	if cfg.Classifier.Concurrency <= 0 {
		cfg.Classifier.Concurrency = 4
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "sqlite"
	}
	if cfg.Storage.Type == "sqlite" && cfg.Storage.SQLite.DSN == "" {
		cfg.Storage.SQLite.DSN = "file:tmp/dailymed.db?_pragma=busy_timeout(5000)"
	}

	// Default retry values if not set
	if cfg.Retry.Attempts == 0 {
		cfg.Retry.Attempts = 3
	}
	if cfg.Retry.DelayMS == 0 {
		cfg.Retry.DelayMS = 1500
	}

	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1m"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	if cfg.Admin.Addr == "" {
		cfg.Admin.Addr = ":8080"
	}
}

// Validate checks values that have no sensible default.
func (cfg *Config) Validate() error {
	if cfg.Source.URL == "" {
		return fmt.Errorf("source.url is required")
	}
	if cfg.Cache.Retention < 0 {
		return fmt.Errorf("cache.retention must not be negative")
	}

	switch cfg.Storage.Type {
	case "memory":
	case "sqlite":
		if cfg.Storage.SQLite.DSN == "" {
			return fmt.Errorf("storage.sqlite.dsn is required when storage type is sqlite")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log format: %s", cfg.Log.Format)
	}

	if cfg.Retry.Attempts < 1 {
		return fmt.Errorf("retry.attempts must be at least 1")
	}
	return nil
}

// RequireClassifier reports an error when no API key is available. Only the
// commands that classify call it.
func (cfg *Config) RequireClassifier() error {
	if cfg.Classifier.APIKey == "" {
		return fmt.Errorf("classifier.api_key (or GROQ_API_KEY) is required")
	}
	return nil
}
