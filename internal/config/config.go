// Package config loads statuswatchd's YAML configuration, via a
// Load()/Get() singleton with environment-variable overrides.
package config

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CheckConfig describes one probed endpoint: what kind of check it is, how
// often to run it, and the type-specific parameters (URL/expectations for
// HTTP, host/port/STARTTLS for TLS). statuswatchd's wiring in
// cmd/statuswatchd turns each of these into a scheduler.Check.
type CheckConfig struct {
	ID           int64  `yaml:"id" json:"id"`
	Desc         string `yaml:"desc" json:"desc"`
	Type         string `yaml:"type" json:"type"` // "http" | "tls"
	IntervalSecs int    `yaml:"interval_secs" json:"interval_secs"`

	// HTTP fields.
	URL               string   `yaml:"url" json:"url"`
	WarnTimeoutMillis  int     `yaml:"warn_timeout_millis" json:"warn_timeout_millis"`
	ErrorTimeoutMillis int     `yaml:"error_timeout_millis" json:"error_timeout_millis"`
	ExpectStatus       int     `yaml:"expect_status" json:"expect_status"`
	ExpectContains     string  `yaml:"expect_contains" json:"expect_contains"`
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second" json:"rate_limit_per_second"`

	// TLS fields.
	Host                string `yaml:"host" json:"host"`
	Port                int    `yaml:"port" json:"port"`
	STARTTLS            string `yaml:"starttls" json:"starttls"` // "" | "smtp"
	ExpiryThresholdHours int    `yaml:"expiry_threshold_hours" json:"expiry_threshold_hours"`
}

// Config is statuswatchd's full configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database" json:"database"`
	Server   ServerConfig   `yaml:"server" json:"server"`
	Push     PushConfig     `yaml:"push" json:"push"`
	Workers  int            `yaml:"workers" json:"workers"`
	Checks   []CheckConfig  `yaml:"checks" json:"checks"`

	Logs LogConfig `yaml:"logs" json:"logs"`
}

// DatabaseConfig holds the log store's location and SQLite busy timeout.
type DatabaseConfig struct {
	Path        string `yaml:"path" json:"path"`
	BusyTimeoutMillis int `yaml:"busy_timeout_millis" json:"busy_timeout_millis"`
}

// ServerConfig holds the process's own HTTP listener and VAPID identity.
type ServerConfig struct {
	Host          string `yaml:"host" json:"host"`
	Port          int    `yaml:"port" json:"port"`
	ECDSAKeyPath  string `yaml:"ecdsa_key_path" json:"ecdsa_key_path"`
}

// PushConfig holds the VAPID/dispatch knobs.
type PushConfig struct {
	VAPIDSubject    string `yaml:"vapid_subject" json:"vapid_subject"`
	JWTLifetimeHours int   `yaml:"jwt_lifetime_hours" json:"jwt_lifetime_hours"`
	TTLSeconds       int   `yaml:"ttl_seconds" json:"ttl_seconds"`
	QueueSize        int   `yaml:"queue_size" json:"queue_size"`
}

// LogConfig controls the process's own logging output.
type LogConfig struct {
	Level   string `yaml:"level" json:"level"`
	Console bool   `yaml:"console" json:"console"`
}

var globalConfig *Config

// Load reads the YAML config file named by the STATUSWATCH_CONFIG
// environment variable (defaulting to ./configs/<environment>.yaml, where
// environment comes from STATUSWATCH_ENV, defaulting to "development"),
// applies environment-variable overrides, fills in defaults, validates,
// and stores the result for Get().
func Load() (*Config, error) {
	environment := os.Getenv("STATUSWATCH_ENV")
	if environment == "" {
		environment = "development"
	}

	configPath := os.Getenv("STATUSWATCH_CONFIG")
	if configPath == "" {
		configPath = fmt.Sprintf("./configs/%s.yaml", environment)
	}

	cfg := &Config{}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	overrideWithEnv(cfg)
	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	globalConfig = cfg
	return cfg, nil
}

// Get returns the configuration loaded by Load.
func Get() *Config {
	if globalConfig == nil {
		panic("configuration not loaded, call Load() first")
	}
	return globalConfig
}

func overrideWithEnv(cfg *Config) {
	if val := os.Getenv("STATUSWATCH_DB_PATH"); val != "" {
		cfg.Database.Path = val
	}
	if val := os.Getenv("STATUSWATCH_SERVER_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Server.Port = port
		}
	}
	if val := os.Getenv("STATUSWATCH_ECDSA_KEY_PATH"); val != "" {
		cfg.Server.ECDSAKeyPath = val
	}
	if val := os.Getenv("STATUSWATCH_VAPID_SUBJECT"); val != "" {
		cfg.Push.VAPIDSubject = val
	}
	if val := os.Getenv("STATUSWATCH_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Workers = n
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Database.BusyTimeoutMillis == 0 {
		cfg.Database.BusyTimeoutMillis = 100
	}
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	if cfg.Push.JWTLifetimeHours == 0 {
		cfg.Push.JWTLifetimeHours = 12
	}
	if cfg.Push.TTLSeconds == 0 {
		cfg.Push.TTLSeconds = 86400
	}
	if cfg.Push.QueueSize == 0 {
		cfg.Push.QueueSize = 256
	}
	for i := range cfg.Checks {
		c := &cfg.Checks[i]
		if c.WarnTimeoutMillis == 0 {
			c.WarnTimeoutMillis = 2000
		}
		if c.ErrorTimeoutMillis == 0 {
			c.ErrorTimeoutMillis = 10000
		}
		if c.ExpiryThresholdHours == 0 {
			c.ExpiryThresholdHours = 48
		}
		if c.Type == "http" && c.RateLimitPerSecond == 0 {
			c.RateLimitPerSecond = 5
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Database.Path == "" {
		return fmt.Errorf("database.path cannot be empty")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", cfg.Server.Port)
	}
	if cfg.Server.ECDSAKeyPath == "" {
		return fmt.Errorf("server.ecdsa_key_path cannot be empty")
	}
	if cfg.Push.VAPIDSubject == "" {
		return fmt.Errorf("push.vapid_subject cannot be empty")
	}
	if !strings.HasPrefix(cfg.Push.VAPIDSubject, "mailto:") {
		return fmt.Errorf("push.vapid_subject must be a mailto: URL, got %q", cfg.Push.VAPIDSubject)
	}
	if cfg.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", cfg.Workers)
	}
	seen := make(map[int64]bool, len(cfg.Checks))
	for _, c := range cfg.Checks {
		if seen[c.ID] {
			return fmt.Errorf("duplicate check id %d", c.ID)
		}
		seen[c.ID] = true
		switch c.Type {
		case "http":
			if c.URL == "" {
				return fmt.Errorf("check %d: http check requires url", c.ID)
			}
		case "tls":
			if c.Host == "" || c.Port == 0 {
				return fmt.Errorf("check %d: tls check requires host and port", c.ID)
			}
		default:
			return fmt.Errorf("check %d: unknown type %q", c.ID, c.Type)
		}
	}
	return nil
}

// JWTLifetime returns the configured VAPID JWT validity window as a
// time.Duration.
func (c PushConfig) JWTLifetime() time.Duration {
	return time.Duration(c.JWTLifetimeHours) * time.Hour
}

// TTL returns the configured push TTL as a time.Duration.
func (c PushConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// BusyTimeout returns the configured SQLite busy timeout as a
// time.Duration.
func (c DatabaseConfig) BusyTimeout() time.Duration {
	return time.Duration(c.BusyTimeoutMillis) * time.Millisecond
}

// LoadServerKey reads and parses the PEM-encoded EC private key named by
// Server.ECDSAKeyPath — the server's VAPID signing identity.
func LoadServerKey(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ECDSA key %s: %w", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing EC private key in %s: %w", path, err)
	}
	return key, nil
}
