// Package config loads the engine configuration for the scw CLI. Values come
// from an optional config file with SCW_-prefixed environment variables taking
// precedence, so CI runs can override a checked-in file without editing it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// S3Config is the configuration for s3:// dataset mirrors.
type S3Config struct {
	Region   string `mapstructure:"region" yaml:"region"`     // The AWS region of the bucket, e.g. us-east-1
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"` // Optional custom endpoint for S3-compatible stores
	// AnonymousCredentials requests unsigned access, which public genomics
	// mirrors require since signed anonymous requests are rejected.
	AnonymousCredentials bool `mapstructure:"anonymous_credentials" yaml:"anonymous_credentials"`
}

// CatalogConfig is the configuration to connect to a shared catalog database.
type CatalogConfig struct {
	DSN string `mapstructure:"dsn" yaml:"dsn"` // Secret: lib/pq connection string for the catalog Postgres
}

// Config wraps the entire configuration for the scw engine.
type Config struct {
	// LogLevel is the minimum level emitted by the CLI logger.
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	// CacheDir is the root of the download cache shared by all runs.
	CacheDir string `mapstructure:"cache_dir" yaml:"cache_dir"`
	// WorkspaceDir is the root of the workspace holding the datastore and
	// per-run reports and artifacts.
	WorkspaceDir string `mapstructure:"workspace_dir" yaml:"workspace_dir"`
	// HTTPTimeout bounds a single dataset download. Large count matrices on
	// slow mirrors need a generous default.
	HTTPTimeout time.Duration `mapstructure:"http_timeout" yaml:"http_timeout"`

	S3      S3Config      `mapstructure:"s3" yaml:"s3"`
	Catalog CatalogConfig `mapstructure:"catalog" yaml:"catalog"`
}

// ZapLevel parses the configured log level.
func (c *Config) ZapLevel() (zapcore.Level, error) {
	return zapcore.ParseLevel(c.LogLevel)
}

// Validate checks the configuration for values the engine cannot start with.
func (c *Config) Validate() error {
	if c.CacheDir == "" {
		return errors.New("cache_dir is required")
	}
	if c.WorkspaceDir == "" {
		return errors.New("workspace_dir is required")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http_timeout must be positive, got %s", c.HTTPTimeout)
	}
	if _, err := c.ZapLevel(); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}

	return nil
}

// Load loads the config from the file path, falling back to env vars if the
// file does not exist. If the file exists, any env vars that are set override
// the values loaded from the file.
func Load(filePath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(filePath)
	setDefaults(v)

	if err := bindEnvs(v); err != nil {
		return nil, err
	}

	// If the config file exists, we continue to read it, otherwise we fall
	// back to defaults and environment variables.
	if _, err := os.Stat(filePath); !errors.Is(err, fs.ErrNotExist) {
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadEnv loads the config from defaults and environment variables only.
func LoadEnv() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if err := bindEnvs(v); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("cache_dir", ".scw/cache")
	v.SetDefault("workspace_dir", ".scw/workspace")
	v.SetDefault("http_timeout", 10*time.Minute)
}

// envBindings defines how environment variables map to configuration keys used
// by Viper. Each entry maps a config key (as used in the struct, e.g.
// "s3.region") to the environment variable that can provide its value.
var envBindings = map[string][]string{
	"log_level":                {"SCW_LOG_LEVEL"},
	"cache_dir":                {"SCW_CACHE_DIR"},
	"workspace_dir":            {"SCW_WORKSPACE_DIR"},
	"http_timeout":             {"SCW_HTTP_TIMEOUT"},
	"s3.region":                {"SCW_S3_REGION"},
	"s3.endpoint":              {"SCW_S3_ENDPOINT"},
	"s3.anonymous_credentials": {"SCW_S3_ANONYMOUS_CREDENTIALS"},
	"catalog.dsn":              {"SCW_CATALOG_DSN"},
}

// bindEnvs binds the environment variables to the viper instance.
func bindEnvs(v *viper.Viper) error {
	for key, envs := range envBindings {
		inputs := slices.Insert(envs, 0, key)

		if err := v.BindEnv(inputs...); err != nil {
			return err
		}
	}

	return nil
}
