package config

import (
	"fmt"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithDatabase configures the repository backend
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		if dbType != "memory" && dbType != "postgres" {
			return fmt.Errorf("database type must be 'memory' or 'postgres', got: %s", dbType)
		}
		if dbType == "postgres" && url == "" {
			return fmt.Errorf("database URL is required for postgres")
		}
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithAutoMigrate applies embedded migrations when the repository is built
func WithAutoMigrate(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.AutoMigrate = enabled
		return nil
	}
}

// WithDefaultStorage sets the default storage backend name
func WithDefaultStorage(name string) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			return fmt.Errorf("default storage backend name cannot be empty")
		}
		c.DefaultStorageBackend = name
		return nil
	}
}

// WithFilesystemStorage adds a filesystem storage backend
// If name is empty, defaults to "fs"
func WithFilesystemStorage(name, baseDir string) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			name = "fs"
		}
		if baseDir == "" {
			return fmt.Errorf("filesystem base directory cannot be empty")
		}
		c.StorageBackends = upsertStorageBackend(c.StorageBackends, StorageBackendConfig{
			Name:   name,
			Type:   "fs",
			Config: map[string]interface{}{"base_dir": baseDir},
		})
		return nil
	}
}

// WithMinioStorage adds a MinIO storage backend
// If name is empty, defaults to "minio"
func WithMinioStorage(name, endpoint, bucket, accessKey, secretKey string, useSSL bool) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			name = "minio"
		}
		if endpoint == "" || bucket == "" {
			return fmt.Errorf("minio endpoint and bucket are required")
		}
		c.StorageBackends = upsertStorageBackend(c.StorageBackends, StorageBackendConfig{
			Name: name,
			Type: "minio",
			Config: map[string]interface{}{
				"endpoint":   endpoint,
				"bucket":     bucket,
				"access_key": accessKey,
				"secret_key": secretKey,
				"use_ssl":    useSSL,
			},
		})
		return nil
	}
}

// WithActivityLog selects the Session Activity Log backend
func WithActivityLog(activityType, url, database string) Option {
	return func(c *ServerConfig) error {
		if activityType != "memory" && activityType != "mongodb" {
			return fmt.Errorf("activity log type must be 'memory' or 'mongodb', got: %s", activityType)
		}
		c.ActivityType = activityType
		c.ActivityURL = url
		if database != "" {
			c.ActivityDatabase = database
		}
		return nil
	}
}

// WithLedger selects the Audit Ledger backend
func WithLedger(ledgerType, url string) Option {
	return func(c *ServerConfig) error {
		switch ledgerType {
		case "memory", "none", "redis":
		default:
			return fmt.Errorf("ledger type must be 'memory', 'none' or 'redis', got: %s", ledgerType)
		}
		c.LedgerType = ledgerType
		c.LedgerURL = url
		return nil
	}
}

// WithRelevanceThreshold sets the initial relevance threshold
func WithRelevanceThreshold(threshold float64) Option {
	return func(c *ServerConfig) error {
		c.RelevanceThreshold = threshold
		return nil
	}
}

// WithSubmitRateLimit sets the per-actor submission rate; zero disables the limit
func WithSubmitRateLimit(perSecond float64, burst int) Option {
	return func(c *ServerConfig) error {
		if burst <= 0 {
			return fmt.Errorf("burst must be positive, got: %d", burst)
		}
		c.SubmitRateLimit = perSecond
		c.SubmitBurst = burst
		return nil
	}
}

// WithJWTSecret sets the HS256 signing secret for actor tokens
func WithJWTSecret(secret string) Option {
	return func(c *ServerConfig) error {
		c.JWTSecret = secret
		return nil
	}
}
