// Package config loads server configuration and wires the studyshare backends.
package config

import (
	"errors"
	"fmt"
	"strconv"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
// Options apply in order, so WithEnv should come before programmatic overrides.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:                  "8080",
		Environment:           "development",
		LogLevel:              "info",
		LogFormat:             "json",
		DatabaseType:          "memory",
		DefaultStorageBackend: "memory",
		StorageBackends: []StorageBackendConfig{
			{
				Name:   "memory",
				Type:   "memory",
				Config: map[string]interface{}{},
			},
		},
		ActivityType:     "memory",
		ActivityDatabase: "studyshare",
		LedgerType:       "memory",
		SubmitRateLimit:  1,
		SubmitBurst:      5,
		AuditQueueSize:   256,
		AuditWorkers:     1,
	}
}

// ServerConfig represents configuration for the studyshare server
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing
	LogLevel    string
	LogFormat   string // json or text

	// Database configuration
	DatabaseURL  string
	DatabaseType string // "memory", "postgres"
	AutoMigrate  bool   // apply embedded migrations on startup

	// Storage configuration
	DefaultStorageBackend string
	StorageBackends       []StorageBackendConfig

	// Session Activity Log
	ActivityType     string // "memory", "mongodb"
	ActivityURL      string
	ActivityDatabase string

	// Audit Ledger
	LedgerType     string // "memory", "redis", "none"
	LedgerURL      string
	AuditQueueSize int
	AuditWorkers   int

	// Admission
	RelevanceThreshold float64
	SubmitRateLimit    float64 // submissions per second per actor, 0 disables
	SubmitBurst        int

	JWTSecret string
}

// StorageBackendConfig represents configuration for a storage backend
type StorageBackendConfig struct {
	Name   string
	Type   string // "memory", "fs", "s3", "minio"
	Config map[string]interface{}
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}
	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	switch c.ActivityType {
	case "memory":
	case "mongodb":
		if c.ActivityURL == "" {
			return errors.New("activity_url is required when using mongodb")
		}
	default:
		return fmt.Errorf("unsupported activity log type: %s", c.ActivityType)
	}

	switch c.LedgerType {
	case "memory", "none":
	case "redis":
		if c.LedgerURL == "" {
			return errors.New("ledger_url is required when using redis")
		}
	default:
		return fmt.Errorf("unsupported audit ledger type: %s", c.LedgerType)
	}

	if c.RelevanceThreshold < 0 || c.RelevanceThreshold > 1 {
		return fmt.Errorf("relevance threshold must be within [0, 1], got %v", c.RelevanceThreshold)
	}
	if c.SubmitRateLimit < 0 {
		return errors.New("submit rate limit cannot be negative")
	}
	if c.AuditQueueSize <= 0 {
		return errors.New("audit queue size must be positive")
	}

	// Ensure default storage backend exists in configured backends
	found := false
	for _, backend := range c.StorageBackends {
		if backend.Name == c.DefaultStorageBackend {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("default storage backend '%s' not found in configured backends", c.DefaultStorageBackend)
	}

	return nil
}

func getString(config map[string]interface{}, key string, defaultValue string) string {
	if value, exists := config[key]; exists {
		if str, ok := value.(string); ok {
			return str
		}
	}
	return defaultValue
}

func getBool(config map[string]interface{}, key string, defaultValue bool) bool {
	if value, exists := config[key]; exists {
		if b, ok := value.(bool); ok {
			return b
		}
		if str, ok := value.(string); ok {
			if b, err := strconv.ParseBool(str); err == nil {
				return b
			}
		}
	}
	return defaultValue
}
