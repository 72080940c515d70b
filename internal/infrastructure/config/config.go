// Package config provides centralized configuration management.
//
// Configuration can be loaded from:
//  1. YAML file (config.yaml)
//  2. Environment variables (fallback)
//
// Example usage:
//
//	cfg := config.LoadOrEnv()
//	dbPath := cfg.Storage.DatabasePath
//	thresholds := cfg.Matching.MatcherConfig()
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/eshaffer321/commission-recon/internal/domain/matcher"
)

const (
	defaultDatabasePath = "recon.db"
	defaultDataDir      = "data"
	defaultPort         = 8080
	defaultSweepEvery   = 15 * time.Minute
	defaultSweepCount   = 3
)

// Config represents the entire application configuration
type Config struct {
	Storage       StorageConfig       `yaml:"storage"`
	Data          DataConfig          `yaml:"data"`
	Matching      MatchingConfig      `yaml:"matching"`
	API           APIConfig           `yaml:"api"`
	Sweep         SweepConfig         `yaml:"sweep"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// StorageConfig holds database configuration
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// DataConfig locates the statement and bank CSV exports
type DataConfig struct {
	Dir           string `yaml:"dir"`
	StatementPath string `yaml:"statement_path"` // default: <dir>/raw/statements/statement_lines.csv
	BankPath      string `yaml:"bank_path"`      // default: <dir>/raw/bank/bank_feed.csv
}

// MatchingConfig holds classification thresholds
type MatchingConfig struct {
	AutoMatchThreshold float64 `yaml:"auto_match_threshold"`
	ReviewThreshold    float64 `yaml:"review_threshold"`
}

// MatcherConfig converts the thresholds for the matcher.
func (m MatchingConfig) MatcherConfig() matcher.Config {
	return matcher.Config{
		AutoMatchThreshold: m.AutoMatchThreshold,
		ReviewThreshold:    m.ReviewThreshold,
	}
}

// APIConfig holds HTTP server settings
type APIConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// SweepConfig controls the periodic background reconciliation sweep
type SweepConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"` // e.g. "15m"
	Count    int           `yaml:"count"`    // exceptions resolved per sweep
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" (default) or "json"
}

// Load reads and parses the config file. Unset fields get their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read %s", path)
	}

	// Expand environment variables (e.g., ${RECON_DB_PATH})
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, eris.Wrapf(err, "config: parse %s", path)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv loads configuration from environment variables only
func LoadFromEnv() *Config {
	defaults := matcher.DefaultConfig()
	cfg := &Config{
		Storage: StorageConfig{
			DatabasePath: getEnv("RECON_DB_PATH", defaultDatabasePath),
		},
		Data: DataConfig{
			Dir:           getEnv("RECON_DATA_DIR", defaultDataDir),
			StatementPath: os.Getenv("RECON_STATEMENT_PATH"),
			BankPath:      os.Getenv("RECON_BANK_PATH"),
		},
		Matching: MatchingConfig{
			AutoMatchThreshold: getEnvFloat("RECON_AUTO_MATCH_THRESHOLD", defaults.AutoMatchThreshold),
			ReviewThreshold:    getEnvFloat("RECON_REVIEW_THRESHOLD", defaults.ReviewThreshold),
		},
		API: APIConfig{
			Port: getEnvInt("RECON_PORT", defaultPort),
		},
		Sweep: SweepConfig{
			Enabled:  getEnvBool("RECON_SWEEP_ENABLED", false),
			Interval: getEnvDuration("RECON_SWEEP_INTERVAL", defaultSweepEvery),
			Count:    getEnvInt("RECON_SWEEP_COUNT", defaultSweepCount),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "text"),
			},
		},
	}
	cfg.applyDefaults()
	return cfg
}

// LoadOrEnv tries to load from config.yaml, falls back to environment variables
func LoadOrEnv() *Config {
	return LoadOrEnvWithPath("config.yaml")
}

// LoadOrEnvWithPath tries to load from specified path, falls back to environment variables
func LoadOrEnvWithPath(path string) *Config {
	if cfg, err := Load(path); err == nil {
		return cfg
	}
	return LoadFromEnv()
}

func (c *Config) applyDefaults() {
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = defaultDatabasePath
	}
	if c.Data.Dir == "" {
		c.Data.Dir = defaultDataDir
	}
	if c.Data.StatementPath == "" {
		c.Data.StatementPath = filepath.Join(c.Data.Dir, "raw", "statements", "statement_lines.csv")
	}
	if c.Data.BankPath == "" {
		c.Data.BankPath = filepath.Join(c.Data.Dir, "raw", "bank", "bank_feed.csv")
	}

	defaults := matcher.DefaultConfig()
	if c.Matching.AutoMatchThreshold == 0 {
		c.Matching.AutoMatchThreshold = defaults.AutoMatchThreshold
	}
	if c.Matching.ReviewThreshold == 0 {
		c.Matching.ReviewThreshold = defaults.ReviewThreshold
	}

	if c.API.Port == 0 {
		c.API.Port = defaultPort
	}
	if c.Sweep.Interval == 0 {
		c.Sweep.Interval = defaultSweepEvery
	}
	if c.Sweep.Count == 0 {
		c.Sweep.Count = defaultSweepCount
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
	if c.Observability.Logging.Format == "" {
		c.Observability.Logging.Format = "text"
	}
}

// Validate checks that thresholds are ordered and within (0, 1].
func (c *Config) Validate() error {
	m := c.Matching
	if m.ReviewThreshold <= 0 || m.AutoMatchThreshold > 1 || m.ReviewThreshold > m.AutoMatchThreshold {
		return eris.Errorf("config: thresholds must satisfy 0 < review (%.2f) <= auto_match (%.2f) <= 1",
			m.ReviewThreshold, m.AutoMatchThreshold)
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return eris.Errorf("config: invalid api port %d", c.API.Port)
	}
	if c.Sweep.Interval < 0 || c.Sweep.Count < 0 {
		return eris.New("config: sweep interval and count must not be negative")
	}
	return nil
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getEnvInt retrieves an integer environment variable with a fallback default
func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var result int
		if _, err := fmt.Sscanf(val, "%d", &result); err == nil {
			return result
		}
	}
	return fallback
}

// getEnvFloat retrieves a float environment variable with a fallback default
func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		var result float64
		if _, err := fmt.Sscanf(val, "%g", &result); err == nil {
			return result
		}
	}
	return fallback
}

// getEnvBool retrieves a boolean environment variable with a fallback default
func getEnvBool(key string, fallback bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

// getEnvDuration retrieves a duration environment variable with a fallback default
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
