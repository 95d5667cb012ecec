package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func Test_Load_Defaults(t *testing.T) {
	t.Parallel()

	// A missing file falls back to defaults.
	cfg, err := Load(filepath.Join(t.TempDir(), "scw.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ".scw/cache", cfg.CacheDir)
	assert.Equal(t, ".scw/workspace", cfg.WorkspaceDir)
	assert.Equal(t, 10*time.Minute, cfg.HTTPTimeout)
	assert.Empty(t, cfg.Catalog.DSN)
}

func Test_Load_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "scw.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
cache_dir: /data/cache
workspace_dir: /data/workspace
http_timeout: 5m
s3:
  region: us-east-1
  anonymous_credentials: true
catalog:
  dsn: postgres://localhost/scw
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/data/cache", cfg.CacheDir)
	assert.Equal(t, "/data/workspace", cfg.WorkspaceDir)
	assert.Equal(t, 5*time.Minute, cfg.HTTPTimeout)
	assert.Equal(t, "us-east-1", cfg.S3.Region)
	assert.True(t, cfg.S3.AnonymousCredentials)
	assert.Equal(t, "postgres://localhost/scw", cfg.Catalog.DSN)

	lvl, err := cfg.ZapLevel()
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, lvl)
}

func Test_Load_EnvOverridesFile(t *testing.T) {
	t.Setenv("SCW_CACHE_DIR", "/env/cache")
	t.Setenv("SCW_LOG_LEVEL", "warn")

	path := filepath.Join(t.TempDir(), "scw.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache_dir: /file/cache\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/env/cache", cfg.CacheDir)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func Test_Load_RejectsInvalid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "scw.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: shouting\n"), 0o600))

	_, err := Load(path)
	require.ErrorContains(t, err, "invalid log_level")
}

func Test_Config_Validate(t *testing.T) {
	t.Parallel()

	valid := Config{
		LogLevel:     "info",
		CacheDir:     "cache",
		WorkspaceDir: "workspace",
		HTTPTimeout:  time.Minute,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing cache dir",
			mutate:  func(c *Config) { c.CacheDir = "" },
			wantErr: "cache_dir is required",
		},
		{
			name:    "missing workspace dir",
			mutate:  func(c *Config) { c.WorkspaceDir = "" },
			wantErr: "workspace_dir is required",
		},
		{
			name:    "zero timeout",
			mutate:  func(c *Config) { c.HTTPTimeout = 0 },
			wantErr: "http_timeout must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}
