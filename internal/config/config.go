// Package config loads the querygate configuration from YAML with
// environment overrides.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Config holds all querygate configuration.
type Config struct {
	// Namespace membership storage
	Store StoreConfig `yaml:"store"`

	// Stage tuning
	Schema     SchemaConfig     `yaml:"schema"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Semantic   SemanticConfig   `yaml:"semantic"`

	// Delegated reasoning capability
	Reasoning ReasoningConfig `yaml:"reasoning"`

	Batch     BatchConfig     `yaml:"batch"`
	Grammar   GrammarConfig   `yaml:"grammar"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// StoreConfig selects and configures the membership backend.
type StoreConfig struct {
	Backend string       `yaml:"backend" validate:"oneof=memory redis sqlite badger"`
	Redis   RedisConfig  `yaml:"redis"`
	SQLite  SQLiteConfig `yaml:"sqlite"`
	Badger  BadgerConfig `yaml:"badger"`
}

// RedisConfig configures the Redis backend. URL wins over Addr when set.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	URL       string `yaml:"url"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db" validate:"gte=0"`
	KeyPrefix string `yaml:"key_prefix"`
}

// SQLiteConfig configures the SQL backend.
type SQLiteConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite sqlite3"` // sqlite (pure Go) or sqlite3 (cgo)
	DSN    string `yaml:"dsn"`
}

// BadgerConfig configures the embedded KV backend.
type BadgerConfig struct {
	Dir      string `yaml:"dir"`
	InMemory bool   `yaml:"in_memory"`
}

// SchemaConfig configures the schema stage.
type SchemaConfig struct {
	// Identifier count at or above which the whole catalog is fetched once.
	BulkFetchThreshold int `yaml:"bulk_fetch_threshold" validate:"gte=1"`
}

// ExtractionConfig configures identifier extraction.
type ExtractionConfig struct {
	Strategy      string  `yaml:"strategy" validate:"oneof=ast delegated"`
	MinConfidence float64 `yaml:"min_confidence" validate:"gte=0,lte=1"`
}

// SemanticConfig configures the semantic stage.
type SemanticConfig struct {
	Scoring       string  `yaml:"scoring" validate:"oneof=boolean five_point"`
	MinConfidence float64 `yaml:"min_confidence" validate:"gte=0,lte=1"`
	Reasoner      bool    `yaml:"reasoner"`
	PolicyPath    string  `yaml:"policy_path"` // empty uses the embedded kind policy
}

// ReasoningConfig configures the language model provider and its guard.
type ReasoningConfig struct {
	Provider    string  `yaml:"provider" validate:"oneof=gemini openai"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"` // empty picks the provider default
	BaseURL     string  `yaml:"base_url"`
	Timeout     string  `yaml:"timeout"`
	Temperature float32 `yaml:"temperature" validate:"gte=0,lte=2"`

	// Token bucket in front of the provider
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gt=0"`
	Burst             int     `yaml:"burst" validate:"gte=1"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the reasoning circuit breaker.
type BreakerConfig struct {
	ConsecutiveFailures uint32 `yaml:"consecutive_failures" validate:"gte=1"`
	OpenTimeout         string `yaml:"open_timeout"`
	HalfOpenRequests    uint32 `yaml:"half_open_requests" validate:"gte=1"`
}

// BatchConfig configures batch validation.
type BatchConfig struct {
	Workers int `yaml:"workers" validate:"gte=1,lte=256"`
}

// GrammarConfig points at an override grammar directory.
type GrammarConfig struct {
	Dir string `yaml:"dir"` // empty uses the embedded grammars
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level       string          `yaml:"level" validate:"oneof=debug info warn error"`
	Format      string          `yaml:"format" validate:"oneof=json console"`
	File        string          `yaml:"file"`
	Development bool            `yaml:"development"`
	Categories  map[string]bool `yaml:"categories,omitempty"`
}

// TelemetryConfig configures metrics exposure.
type TelemetryConfig struct {
	MetricsAddr string `yaml:"metrics_addr"` // empty disables the /metrics listener
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: "memory",
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "querygate:",
			},
			SQLite: SQLiteConfig{
				Driver: "sqlite",
				DSN:    "data/querygate.db",
			},
			Badger: BadgerConfig{
				Dir: "data/badger",
			},
		},

		Schema: SchemaConfig{
			BulkFetchThreshold: 20,
		},

		Extraction: ExtractionConfig{
			Strategy: "ast",
		},

		Semantic: SemanticConfig{
			Scoring:       "boolean",
			MinConfidence: 0.5,
		},

		Reasoning: ReasoningConfig{
			Provider:          "gemini",
			Timeout:           "30s",
			Temperature:       0.1,
			RequestsPerSecond: 2,
			Burst:             4,
			Breaker: BreakerConfig{
				ConsecutiveFailures: 5,
				OpenTimeout:         "30s",
				HalfOpenRequests:    1,
			},
		},

		Batch: BatchConfig{
			Workers: 8,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, errors.Wrap(err, "failed to read config")
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write config")
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("QUERYGATE_REDIS_ADDR"); addr != "" {
		c.Store.Redis.Addr = addr
	}
	if backend := os.Getenv("QUERYGATE_STORE_BACKEND"); backend != "" {
		c.Store.Backend = backend
	}

	// Provider keys, later entries win
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.Reasoning.APIKey = key
		c.Reasoning.Provider = "openai"
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Reasoning.APIKey = key
		c.Reasoning.Provider = "gemini"
	}
}

// ReasoningEnabled reports whether any stage delegates to the reasoner.
func (c *Config) ReasoningEnabled() bool {
	return c.Extraction.Strategy == "delegated" || c.Semantic.Reasoner
}

// GetReasoningTimeout returns the reasoning timeout as a duration.
func (c *Config) GetReasoningTimeout() time.Duration {
	d, err := time.ParseDuration(c.Reasoning.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetBreakerOpenTimeout returns how long the breaker stays open.
func (c *Config) GetBreakerOpenTimeout() time.Duration {
	d, err := time.ParseDuration(c.Reasoning.Breaker.OpenTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
