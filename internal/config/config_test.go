package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "us-east-1", cfg.Backend.Region)
	assert.Equal(t, "AES256-GCM", cfg.Encryption.Algorithm)
	assert.Equal(t, 100000, cfg.Encryption.PBKDF2Iterations)
	assert.Equal(t, ".enc", cfg.Encryption.ArtifactSuffix)
	assert.False(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoadConfig_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
log_level: debug
backend:
  region: eu-central-1
  access_key: AKIATEST
  secret_key: secret
kms:
  region: eu-central-1
  key_id: alias/backups
encryption:
  algorithm: ChaCha20-Poly1305
  pbkdf2_iterations: 310000
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "eu-central-1", cfg.Backend.Region)
	assert.Equal(t, "alias/backups", cfg.KMS.KeyID)
	assert.Equal(t, "ChaCha20-Poly1305", cfg.Encryption.Algorithm)
	assert.Equal(t, 310000, cfg.Encryption.PBKDF2Iterations)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("BACKEND_REGION", "ap-southeast-2")
	t.Setenv("KMS_KEY_ID", "alias/from-env")
	t.Setenv("ENCRYPTION_PBKDF2_ITERATIONS", "200000")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "ap-southeast-2", cfg.Backend.Region)
	assert.Equal(t, "alias/from-env", cfg.KMS.KeyID)
	assert.Equal(t, 200000, cfg.Encryption.PBKDF2Iterations)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := LoadConfig("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "bad log level",
			mutate: func(c *Config) { c.LogLevel = "verbose" },
			errMsg: "log_level",
		},
		{
			name:   "missing backend region",
			mutate: func(c *Config) { c.Backend.Region = "" },
			errMsg: "backend.region",
		},
		{
			name:   "unauthenticated cipher mode rejected",
			mutate: func(c *Config) { c.Encryption.Algorithm = "AES-CFB" },
			errMsg: "encryption.algorithm",
		},
		{
			name:   "iteration count below floor",
			mutate: func(c *Config) { c.Encryption.PBKDF2Iterations = 1000 },
			errMsg: "pbkdf2_iterations",
		},
		{
			name: "otlp exporter without endpoint",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "otlp"
			},
			errMsg: "otlp_endpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
