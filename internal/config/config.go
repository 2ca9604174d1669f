// Package config loads the reader's YAML + environment-variable
// configuration surface: KMS connection, wrapping mode, cache lifetimes,
// AAD prefix policy, logging, and the metrics listen address.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	LogLevel      string        `yaml:"log_level" env:"LOG_LEVEL"`
	MetricsAddr   string        `yaml:"metrics_addr" env:"METRICS_ADDR"`
	Kms           KmsConfig     `yaml:"kms"`
	Cache         CacheConfig   `yaml:"cache"`
	Encryption    EncryptConfig `yaml:"encryption"`
	Aad           AadConfig     `yaml:"aad"`
	Audit         AuditConfig   `yaml:"audit"`
}

// KmsConfig holds KMS connection configuration.
type KmsConfig struct {
	InstanceID          string `yaml:"instance_id" env:"KMS_INSTANCE_ID"`
	InstanceURL         string `yaml:"instance_url" env:"KMS_INSTANCE_URL"`
	AccessToken         string `yaml:"access_token" env:"KMS_ACCESS_TOKEN"`
	WrapLocally         bool   `yaml:"wrap_locally" env:"KMS_WRAP_LOCALLY"`
	DoubleWrapping      bool   `yaml:"double_wrapping" env:"KMS_DOUBLE_WRAPPING"`
	InternalKeyMaterial bool   `yaml:"internal_key_material" env:"KMS_INTERNAL_KEY_MATERIAL"`
}

// CacheConfig holds the two-level expiring cache's lifetime parameters.
type CacheConfig struct {
	LifetimeSeconds       int `yaml:"lifetime_seconds" env:"CACHE_LIFETIME_SECONDS"`
	CleanupPeriodSeconds  int `yaml:"cleanup_period_seconds" env:"CACHE_CLEANUP_PERIOD_SECONDS"`
}

func (c CacheConfig) Lifetime() time.Duration {
	return time.Duration(c.LifetimeSeconds) * time.Second
}

func (c CacheConfig) CleanupPeriod() time.Duration {
	return time.Duration(c.CleanupPeriodSeconds) * time.Second
}

// EncryptConfig holds data-encryption key generation defaults.
type EncryptConfig struct {
	DataKeyLengthBits int    `yaml:"data_key_length_bits" env:"DATA_KEY_LENGTH_BITS"`
	Algorithm         string `yaml:"algorithm" env:"ALGORITHM"` // AES_GCM_V1, AES_GCM_CTR_V1
}

// AadConfig holds the AAD prefix reconciliation policy.
type AadConfig struct {
	Prefix           string `yaml:"prefix" env:"AAD_PREFIX"`
	RequireOnRead    bool   `yaml:"require_on_read" env:"AAD_REQUIRE_ON_READ"`
}

// AuditConfig holds audit logging configuration.
type AuditConfig struct {
	Enabled bool `yaml:"enabled" env:"AUDIT_ENABLED"`
}

// LoadConfig loads configuration from a file (if path is non-empty) and
// then layers environment variables on top.
func LoadConfig(path string) (*Config, error) {
	config := &Config{
		LogLevel:    "info",
		MetricsAddr: ":9090",
		Kms: KmsConfig{
			InstanceID:          "default",
			WrapLocally:         false,
			DoubleWrapping:      false,
			InternalKeyMaterial: true,
		},
		Cache: CacheConfig{
			LifetimeSeconds:      600,
			CleanupPeriodSeconds: 60,
		},
		Encryption: EncryptConfig{
			DataKeyLengthBits: 128,
			Algorithm:         "AES_GCM_V1",
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("config: parsing config file: %w", err)
			}
		}
	}

	loadFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return config, nil
}

func loadFromEnv(c *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("KMS_INSTANCE_ID"); v != "" {
		c.Kms.InstanceID = v
	}
	if v := os.Getenv("KMS_INSTANCE_URL"); v != "" {
		c.Kms.InstanceURL = v
	}
	if v := os.Getenv("KMS_ACCESS_TOKEN"); v != "" {
		c.Kms.AccessToken = v
	}
	if v := os.Getenv("KMS_WRAP_LOCALLY"); v != "" {
		c.Kms.WrapLocally = v == "true" || v == "1"
	}
	if v := os.Getenv("KMS_DOUBLE_WRAPPING"); v != "" {
		c.Kms.DoubleWrapping = v == "true" || v == "1"
	}
	if v := os.Getenv("KMS_INTERNAL_KEY_MATERIAL"); v != "" {
		c.Kms.InternalKeyMaterial = v == "true" || v == "1"
	}
	if v := os.Getenv("CACHE_LIFETIME_SECONDS"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			c.Cache.LifetimeSeconds = n
		}
	}
	if v := os.Getenv("CACHE_CLEANUP_PERIOD_SECONDS"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			c.Cache.CleanupPeriodSeconds = n
		}
	}
	if v := os.Getenv("DATA_KEY_LENGTH_BITS"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			c.Encryption.DataKeyLengthBits = n
		}
	}
	if v := os.Getenv("ALGORITHM"); v != "" {
		c.Encryption.Algorithm = v
	}
	if v := os.Getenv("AAD_PREFIX"); v != "" {
		c.Aad.Prefix = v
	}
	if v := os.Getenv("AAD_REQUIRE_ON_READ"); v != "" {
		c.Aad.RequireOnRead = v == "true" || v == "1"
	}
	if v := os.Getenv("AUDIT_ENABLED"); v != "" {
		c.Audit.Enabled = v == "true" || v == "1"
	}
}

func parsePositiveInt(v string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("config: %q is not a positive integer", v)
	}
	return n, nil
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	if c.Kms.InstanceID == "" {
		return fmt.Errorf("kms.instance_id is required")
	}

	if !c.Kms.InternalKeyMaterial {
		return fmt.Errorf("kms.internal_key_material=false requires an external key-material store, which config alone cannot supply; wire one in code")
	}

	switch c.Encryption.DataKeyLengthBits {
	case 128, 192, 256:
	default:
		return fmt.Errorf("encryption.data_key_length_bits must be 128, 192, or 256, got %d", c.Encryption.DataKeyLengthBits)
	}

	switch strings.ToUpper(c.Encryption.Algorithm) {
	case "AES_GCM_V1", "AES_GCM_CTR_V1":
	default:
		return fmt.Errorf("invalid encryption.algorithm: %s (must be AES_GCM_V1 or AES_GCM_CTR_V1)", c.Encryption.Algorithm)
	}

	if c.Cache.LifetimeSeconds <= 0 {
		return fmt.Errorf("cache.lifetime_seconds must be positive")
	}
	if c.Cache.CleanupPeriodSeconds <= 0 {
		return fmt.Errorf("cache.cleanup_period_seconds must be positive")
	}

	return nil
}
