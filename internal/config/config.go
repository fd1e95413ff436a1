// Package config loads engine configuration from config files,
// environment variables, and .env files.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/homeatlas/homeatlas/pkg/entities"
	"github.com/homeatlas/homeatlas/pkg/errors"
)

// Defaults.
const (
	DefaultDatabasePath = "homeatlas.db"
	DefaultThreshold    = 0.75
	DefaultWorkers      = 4
	DefaultJobTimeout   = 2 * time.Minute
	DefaultCascadeDepth = 2
)

// Config holds the engine configuration loaded from all sources.
type Config struct {
	// Config file
	ConfigFile string

	// Persistence
	DatabasePath string

	// Extraction
	GeminiAPIKey      string
	ExtractionTimeout time.Duration

	// Scheduling
	Workers         int
	JobTimeout      time.Duration
	MaxCascadeDepth int

	// Review
	Threshold float64

	// Lifecycle sweep grace periods per entity type.
	GracePeriods map[entities.Type]time.Duration

	// Diff field-policy override file, optional.
	PolicyFile string

	// Logging configuration
	LogLevel  string
	LogFormat string
	LogOutput string
}

// Load reads configuration from all sources in order of precedence:
// 1. Environment variables
// 2. .env files
// 3. Config file (~/.homeatlas.yaml or ./.homeatlas.yaml)
// 4. Defaults
func Load() (*Config, error) {
	loadEnvFiles()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if err := viper.BindEnv("GEMINI_API_KEY"); err != nil {
		return nil, errors.NewConfigError("env", "binding GEMINI_API_KEY", err)
	}

	configFile := viper.GetString("config")
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.AddConfigPath(".")
			viper.SetConfigType("yaml")
			viper.SetConfigName(".homeatlas")
		}
	}

	// Read config file (ignore error if not found)
	_ = viper.ReadInConfig()

	config := &Config{
		ConfigFile: viper.ConfigFileUsed(),

		DatabasePath: viper.GetString("database_path"),

		GeminiAPIKey:      viper.GetString("GEMINI_API_KEY"),
		ExtractionTimeout: viper.GetDuration("extraction_timeout"),

		Workers:         viper.GetInt("workers"),
		JobTimeout:      viper.GetDuration("job_timeout"),
		MaxCascadeDepth: viper.GetInt("max_cascade_depth"),

		Threshold: viper.GetFloat64("approval_threshold"),

		PolicyFile: viper.GetString("policy_file"),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "auto"),
		LogOutput: getEnvOrDefault("LOG_OUTPUT", "stderr"),
	}

	config.GracePeriods = gracePeriods()
	applyDefaults(config)
	return config, nil
}

// gracePeriods reads per-type sweep grace periods, e.g.
// grace_period_builder: 2160h. Unset types are left to the lifecycle
// defaults.
func gracePeriods() map[entities.Type]time.Duration {
	grace := make(map[entities.Type]time.Duration)
	for _, t := range entities.Types {
		key := "grace_period_" + strings.ReplaceAll(string(t), "-", "_")
		if d := viper.GetDuration(key); d > 0 {
			grace[t] = d
		}
	}
	return grace
}

// applyDefaults fills unset values.
func applyDefaults(c *Config) {
	if c.DatabasePath == "" {
		c.DatabasePath = DefaultDatabasePath
	}
	if c.Threshold == 0 {
		c.Threshold = DefaultThreshold
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.JobTimeout == 0 {
		c.JobTimeout = DefaultJobTimeout
	}
	if c.MaxCascadeDepth == 0 {
		c.MaxCascadeDepth = DefaultCascadeDepth
	}
}

// Validate checks that the configuration can actually run jobs.
func (c *Config) Validate() error {
	if c.GeminiAPIKey == "" {
		return errors.NewConfigError("extraction", "GEMINI_API_KEY is not set", nil)
	}
	if c.Threshold <= 0 || c.Threshold > 1 {
		return errors.NewConfigError("review", "approval_threshold must be in (0, 1]", nil)
	}
	return nil
}

// loadEnvFiles loads environment variables from .env files.
// .env.local overrides .env.
func loadEnvFiles() {
	envFiles := []string{
		".env",
		".env.local",
	}
	for _, envFile := range envFiles {
		_ = godotenv.Load(envFile)
	}
}

// getEnvOrDefault returns the environment variable value or the default
// if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
