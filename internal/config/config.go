package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalid indicates missing or invalid configuration.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the complete application configuration.
type Config struct {
	LogLevel   string           `yaml:"log_level"`
	Backend    BackendConfig    `yaml:"backend"`
	KMS        KMSConfig        `yaml:"kms"`
	Encryption EncryptionConfig `yaml:"encryption"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Audit      AuditConfig      `yaml:"audit"`
}

// BackendConfig holds S3 backend configuration.
type BackendConfig struct {
	Endpoint     string `yaml:"endpoint" env:"BACKEND_ENDPOINT"`
	Region       string `yaml:"region" env:"BACKEND_REGION"`
	AccessKey    string `yaml:"access_key" env:"BACKEND_ACCESS_KEY"`
	SecretKey    string `yaml:"secret_key" env:"BACKEND_SECRET_KEY"`
	UsePathStyle bool   `yaml:"use_path_style" env:"BACKEND_USE_PATH_STYLE"`
}

// KMSConfig holds key management service configuration.
type KMSConfig struct {
	Region    string `yaml:"region" env:"KMS_REGION"`
	Endpoint  string `yaml:"endpoint" env:"KMS_ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"KMS_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"KMS_SECRET_KEY"`
	KeyID     string `yaml:"key_id" env:"KMS_KEY_ID"` // may also come from the command line
}

// EncryptionConfig holds client-side encryption configuration.
type EncryptionConfig struct {
	Algorithm        string `yaml:"algorithm" env:"ENCRYPTION_ALGORITHM"`
	PBKDF2Iterations int    `yaml:"pbkdf2_iterations" env:"ENCRYPTION_PBKDF2_ITERATIONS"`
	ArtifactSuffix   string `yaml:"artifact_suffix" env:"ENCRYPTION_ARTIFACT_SUFFIX"`
}

// MetricsConfig holds the optional Prometheus endpoint configuration.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled" env:"METRICS_ENABLED"`
	ListenAddr string `yaml:"listen_addr" env:"METRICS_LISTEN_ADDR"`
}

// TracingConfig holds OpenTelemetry tracing configuration.
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled" env:"TRACING_ENABLED"`
	ServiceName    string  `yaml:"service_name" env:"TRACING_SERVICE_NAME"`
	ServiceVersion string  `yaml:"service_version" env:"TRACING_SERVICE_VERSION"`
	Exporter       string  `yaml:"exporter" env:"TRACING_EXPORTER"` // stdout or otlp
	OtlpEndpoint   string  `yaml:"otlp_endpoint" env:"TRACING_OTLP_ENDPOINT"`
	SamplingRatio  float64 `yaml:"sampling_ratio" env:"TRACING_SAMPLING_RATIO"`
}

// AuditConfig holds audit logging configuration.
type AuditConfig struct {
	Enabled   bool `yaml:"enabled" env:"AUDIT_ENABLED"`
	MaxEvents int  `yaml:"max_events" env:"AUDIT_MAX_EVENTS"`
}

// LoadConfig loads configuration from a file and environment variables.
func LoadConfig(path string) (*Config, error) {
	config := &Config{
		LogLevel: "info",
		Backend: BackendConfig{
			Region: "us-east-1",
		},
		KMS: KMSConfig{
			Region: "us-east-1",
		},
		Encryption: EncryptionConfig{
			Algorithm:        "AES256-GCM",
			PBKDF2Iterations: 100000,
			ArtifactSuffix:   ".enc",
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: ":9090",
		},
		Tracing: TracingConfig{
			Enabled:        false,
			ServiceName:    "arkive",
			ServiceVersion: "dev",
			Exporter:       "stdout",
			SamplingRatio:  1.0,
		},
		Audit: AuditConfig{
			Enabled:   false,
			MaxEvents: 1000,
		},
	}

	// Load from file if provided
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables
	loadFromEnv(config)

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// loadFromEnv loads configuration values from environment variables.
func loadFromEnv(config *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
	if v := os.Getenv("BACKEND_ENDPOINT"); v != "" {
		config.Backend.Endpoint = v
	}
	if v := os.Getenv("BACKEND_REGION"); v != "" {
		config.Backend.Region = v
	}
	if v := os.Getenv("BACKEND_ACCESS_KEY"); v != "" {
		config.Backend.AccessKey = v
	}
	if v := os.Getenv("BACKEND_SECRET_KEY"); v != "" {
		config.Backend.SecretKey = v
	}
	if v := os.Getenv("BACKEND_USE_PATH_STYLE"); v != "" {
		config.Backend.UsePathStyle = v == "true" || v == "1"
	}
	if v := os.Getenv("KMS_REGION"); v != "" {
		config.KMS.Region = v
	}
	if v := os.Getenv("KMS_ENDPOINT"); v != "" {
		config.KMS.Endpoint = v
	}
	if v := os.Getenv("KMS_ACCESS_KEY"); v != "" {
		config.KMS.AccessKey = v
	}
	if v := os.Getenv("KMS_SECRET_KEY"); v != "" {
		config.KMS.SecretKey = v
	}
	if v := os.Getenv("KMS_KEY_ID"); v != "" {
		config.KMS.KeyID = v
	}
	if v := os.Getenv("ENCRYPTION_ALGORITHM"); v != "" {
		config.Encryption.Algorithm = v
	}
	if v := os.Getenv("ENCRYPTION_PBKDF2_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Encryption.PBKDF2Iterations = n
		}
	}
	if v := os.Getenv("ENCRYPTION_ARTIFACT_SUFFIX"); v != "" {
		config.Encryption.ArtifactSuffix = v
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		config.Metrics.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("METRICS_LISTEN_ADDR"); v != "" {
		config.Metrics.ListenAddr = v
	}
	if v := os.Getenv("TRACING_ENABLED"); v != "" {
		config.Tracing.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TRACING_SERVICE_NAME"); v != "" {
		config.Tracing.ServiceName = v
	}
	if v := os.Getenv("TRACING_SERVICE_VERSION"); v != "" {
		config.Tracing.ServiceVersion = v
	}
	if v := os.Getenv("TRACING_EXPORTER"); v != "" {
		config.Tracing.Exporter = v
	}
	if v := os.Getenv("TRACING_OTLP_ENDPOINT"); v != "" {
		config.Tracing.OtlpEndpoint = v
	}
	if v := os.Getenv("TRACING_SAMPLING_RATIO"); v != "" {
		if ratio, err := strconv.ParseFloat(v, 64); err == nil && ratio >= 0.0 && ratio <= 1.0 {
			config.Tracing.SamplingRatio = ratio
		}
	}
	if v := os.Getenv("AUDIT_ENABLED"); v != "" {
		config.Audit.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("AUDIT_MAX_EVENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Audit.MaxEvents = n
		}
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.LogLevel != "" {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[c.LogLevel] {
			return fmt.Errorf("%w: invalid log_level: %s (must be debug, info, warn, or error)", ErrInvalid, c.LogLevel)
		}
	}

	if c.Backend.Region == "" {
		return fmt.Errorf("%w: backend.region is required", ErrInvalid)
	}
	if c.KMS.Region == "" {
		return fmt.Errorf("%w: kms.region is required", ErrInvalid)
	}

	allowed := map[string]bool{
		"AES256-GCM":        true,
		"ChaCha20-Poly1305": true,
	}
	if alg := strings.TrimSpace(c.Encryption.Algorithm); !allowed[alg] {
		return fmt.Errorf("%w: invalid encryption.algorithm: %s", ErrInvalid, alg)
	}
	if c.Encryption.PBKDF2Iterations < 100000 {
		return fmt.Errorf("%w: encryption.pbkdf2_iterations must be at least 100000, got %d", ErrInvalid, c.Encryption.PBKDF2Iterations)
	}
	if c.Encryption.ArtifactSuffix == "" {
		return fmt.Errorf("%w: encryption.artifact_suffix is required", ErrInvalid)
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("%w: metrics.listen_addr is required when metrics are enabled", ErrInvalid)
	}

	if c.Tracing.Enabled {
		if c.Tracing.ServiceName == "" {
			return fmt.Errorf("%w: tracing.service_name is required when tracing is enabled", ErrInvalid)
		}
		validExporters := map[string]bool{
			"stdout": true,
			"otlp":   true,
		}
		if !validExporters[c.Tracing.Exporter] {
			return fmt.Errorf("%w: invalid tracing.exporter: %s (must be stdout or otlp)", ErrInvalid, c.Tracing.Exporter)
		}
		if c.Tracing.SamplingRatio < 0.0 || c.Tracing.SamplingRatio > 1.0 {
			return fmt.Errorf("%w: tracing.sampling_ratio must be between 0.0 and 1.0", ErrInvalid)
		}
		if c.Tracing.Exporter == "otlp" && c.Tracing.OtlpEndpoint == "" {
			return fmt.Errorf("%w: tracing.otlp_endpoint is required when exporter is otlp", ErrInvalid)
		}
	}

	if c.Audit.Enabled && c.Audit.MaxEvents <= 0 {
		return fmt.Errorf("%w: audit.max_events must be positive when audit is enabled", ErrInvalid)
	}

	return nil
}
