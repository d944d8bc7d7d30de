// Package config loads and validates service configuration from a YAML file
// and XMIGRATE_* environment variables.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"xmigrate/coverage"
	"xmigrate/xsiam"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// DataPaths holds file and directory locations. Relative paths are resolved
// against the working directory.
type DataPaths struct {
	// DataDir is the base data directory (XMIGRATE_DATA_DIR, default: ./data)
	DataDir string `mapstructure:"data_dir"`
	// SQLitePath is the migration history database (default: ${DataDir}/xmigrate.db)
	SQLitePath string `mapstructure:"sqlite_path"`
	// CatalogPath is the XSIAM analytics dataset (default: ${DataDir}/xsiam_analytics.json)
	CatalogPath string `mapstructure:"catalog_path"`
	// FieldMappingsPath optionally overrides the built-in AQL field map (YAML)
	FieldMappingsPath string `mapstructure:"field_mappings_path"`
}

// Config holds all configuration for the migration assistant.
type Config struct {
	DataPaths DataPaths `mapstructure:"data_paths"`

	API struct {
		Port           int      `mapstructure:"port"`
		TLS            bool     `mapstructure:"tls"`
		CertFile       string   `mapstructure:"cert_file"`
		KeyFile        string   `mapstructure:"key_file"`
		AllowedOrigins []string `mapstructure:"allowed_origins"`
		MaxUploadBytes int64    `mapstructure:"max_upload_bytes"`
		RateLimit      struct {
			RequestsPerSecond int `mapstructure:"requests_per_second"`
			Burst             int `mapstructure:"burst"`
		} `mapstructure:"rate_limit"`
	} `mapstructure:"api"`

	Auth struct {
		Enabled        bool   `mapstructure:"enabled"`
		Username       string `mapstructure:"username"`
		Password       string `mapstructure:"password"`
		HashedPassword string
		BcryptCost     int `mapstructure:"bcrypt_cost"`
	} `mapstructure:"auth"`

	// Coverage tunes the matching engine. Invalid values fail startup.
	Coverage coverage.Config `mapstructure:"coverage"`

	// CoverageCacheSize bounds the LRU of memoized coverage results.
	CoverageCacheSize int `mapstructure:"coverage_cache_size"`

	// XSIAM holds tenant credentials for direct rule upload. Optional: the
	// service runs without it, with push endpoints disabled.
	XSIAM xsiam.Config `mapstructure:"xsiam"`

	Secrets struct {
		Provider string `mapstructure:"provider"` // env, vault, aws
		Vault    struct {
			Address string `mapstructure:"address"`
			Token   string `mapstructure:"token"`
			Path    string `mapstructure:"path"`
		} `mapstructure:"vault"`
		AWS struct {
			Region    string `mapstructure:"region"`
			AccessKey string `mapstructure:"access_key"`
			SecretKey string `mapstructure:"secret_key"`
			SecretID  string `mapstructure:"secret_id"`
		} `mapstructure:"aws"`
	} `mapstructure:"secrets"`
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("data_paths.data_dir", "./data")
	viper.SetDefault("data_paths.sqlite_path", "")  // Empty = derive from data_dir
	viper.SetDefault("data_paths.catalog_path", "") // Empty = derive from data_dir
	viper.SetDefault("data_paths.field_mappings_path", "")

	viper.SetDefault("api.port", 8081)
	viper.SetDefault("api.tls", false)
	viper.SetDefault("api.cert_file", "server.crt")
	viper.SetDefault("api.key_file", "server.key")
	viper.SetDefault("api.allowed_origins", []string{"http://localhost:3000"})
	viper.SetDefault("api.max_upload_bytes", int64(10*1024*1024)) // 10MB
	viper.SetDefault("api.rate_limit.requests_per_second", 100)
	viper.SetDefault("api.rate_limit.burst", 100)

	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.bcrypt_cost", 10)

	defaults := coverage.DefaultConfig()
	viper.SetDefault("coverage.top_n", defaults.TopN)
	viper.SetDefault("coverage.threshold", defaults.Threshold)
	viper.SetDefault("coverage.name_weight", defaults.NameWeight)
	viper.SetDefault("coverage.keyword_weight", defaults.KeywordWeight)
	viper.SetDefault("coverage_cache_size", 4096)

	viper.SetDefault("xsiam.timeout", 30*time.Second)
	viper.SetDefault("xsiam.upload_rate", 5.0)
	viper.SetDefault("xsiam.upload_burst", 1)

	viper.SetDefault("secrets.provider", "env")
}

// loadFromEnv sets up environment variable loading.
func loadFromEnv() {
	viper.SetEnvPrefix("XMIGRATE")
	viper.AutomaticEnv()

	// Shorter env names for the paths and credentials operators set most.
	_ = viper.BindEnv("data_paths.data_dir", "XMIGRATE_DATA_DIR")
	_ = viper.BindEnv("data_paths.sqlite_path", "XMIGRATE_SQLITE_PATH")
	_ = viper.BindEnv("data_paths.catalog_path", "XMIGRATE_CATALOG_PATH")
	_ = viper.BindEnv("xsiam.fqdn", "XMIGRATE_XSIAM_FQDN")
	_ = viper.BindEnv("xsiam.api_key", "XMIGRATE_XSIAM_API_KEY")
	_ = viper.BindEnv("xsiam.api_key_id", "XMIGRATE_XSIAM_API_KEY_ID")
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, will use defaults and env vars
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Secrets overlay before validation so an enabled feature whose
	// credential lives in the secret store still validates.
	if err := LoadSecrets(&config); err != nil {
		return nil, err
	}

	if err := validateAndHash(&config); err != nil {
		return nil, err
	}

	config.ResolveDataPaths()
	return &config, nil
}

// validateAndHash hashes the auth password and validates the whole config.
func validateAndHash(config *Config) error {
	if config.Auth.Password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(config.Auth.Password), config.Auth.BcryptCost)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		config.Auth.HashedPassword = string(hashed)
		config.Auth.Password = "" // clear plain password
	}

	if err := validateConfig(config); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// ResolveDataPaths derives unset paths from DataDir.
func (c *Config) ResolveDataPaths() {
	dataDir := c.DataPaths.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}

	if c.DataPaths.SQLitePath == "" {
		c.DataPaths.SQLitePath = filepath.Join(dataDir, "xmigrate.db")
	} else if !filepath.IsAbs(c.DataPaths.SQLitePath) {
		c.DataPaths.SQLitePath = filepath.Clean(c.DataPaths.SQLitePath)
	}

	if c.DataPaths.CatalogPath == "" {
		c.DataPaths.CatalogPath = filepath.Join(dataDir, "xsiam_analytics.json")
	} else if !filepath.IsAbs(c.DataPaths.CatalogPath) {
		c.DataPaths.CatalogPath = filepath.Clean(c.DataPaths.CatalogPath)
	}

	c.DataPaths.DataDir = dataDir
}

// XSIAMConfigured reports whether tenant credentials are present.
func (c *Config) XSIAMConfigured() bool {
	return c.XSIAM.Validate() == nil
}

// validateConfig validates the configuration for security and correctness.
func validateConfig(config *Config) error {
	if config.API.Port < 1 || config.API.Port > 65535 {
		return fmt.Errorf("invalid API port: %d (must be 1-65535)", config.API.Port)
	}
	if config.API.MaxUploadBytes <= 0 {
		return fmt.Errorf("api.max_upload_bytes must be positive, got %d", config.API.MaxUploadBytes)
	}
	if config.API.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("api.rate_limit.requests_per_second must be positive, got %d", config.API.RateLimit.RequestsPerSecond)
	}
	if config.API.RateLimit.Burst <= 0 {
		return fmt.Errorf("api.rate_limit.burst must be positive, got %d", config.API.RateLimit.Burst)
	}

	if config.Auth.Enabled && config.Auth.HashedPassword == "" {
		return fmt.Errorf("authentication enabled but no password set")
	}
	if config.Auth.Enabled && config.Auth.Username == "" {
		return fmt.Errorf("username cannot be empty when auth is enabled")
	}

	if err := config.Coverage.Validate(); err != nil {
		return err
	}
	if config.CoverageCacheSize <= 0 {
		return fmt.Errorf("coverage_cache_size must be positive, got %d", config.CoverageCacheSize)
	}

	// Credentials are optional, but a partially-filled block is a config
	// mistake rather than an intentionally disabled integration.
	if config.XSIAM.FQDN != "" || config.XSIAM.APIKey != "" || config.XSIAM.APIKeyID != "" {
		if err := config.XSIAM.Validate(); err != nil {
			return err
		}
	}

	return nil
}
