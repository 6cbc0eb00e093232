package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// WithEnv applies environment variable overrides using the provided prefix.
//
// Server:
//
//	PORT - Server port (default: "8080")
//	ENVIRONMENT - Runtime environment (default: "development")
//
// Database:
//
//	DATABASE_URL - "memory" (default) or "postgres://..." / "postgresql://..."
//	DB_SCHEMA - Postgres schema used as search_path (default: "asset")
//	AUTO_MIGRATE - apply the table schema on startup
//
// Storage:
//
//	STORAGE_URL - one of:
//	  "memory://" - In-memory storage (default)
//	  "file:///path/to/data" - Filesystem storage
//	  "s3://bucket?region=us-east-1&endpoint=http://localhost:9000&path_style=true"
//
// Quota and uploads:
//
//	QUOTA_CAP_BYTES - cap for capped accounts (default: 52428800)
//	SPOOL_DIR - directory for upload spooling (default: os.TempDir)
//	IMAGE_MAX_DIMENSION - longest stored image side (default: 2048)
//	ENABLE_TRANSFORMS - set false to store every upload verbatim
//	EVENT_LOGGING - set false to disable lifecycle event logging
func WithEnv(prefix string) Option {
	return func(c *ServerConfig) error {
		if v, ok := lookupEnv(prefix, "PORT"); ok && v != "" {
			c.Port = v
		}
		if v, ok := lookupEnv(prefix, "ENVIRONMENT"); ok && v != "" {
			c.Environment = v
		}

		if err := applyDatabaseEnv(prefix, c); err != nil {
			return err
		}
		if err := applyStorageEnv(prefix, c); err != nil {
			return err
		}
		return applyQuotaEnv(prefix, c)
	}
}

// applyDatabaseEnv applies database configuration from environment
func applyDatabaseEnv(prefix string, c *ServerConfig) error {
	if v, ok := lookupEnv(prefix, "DB_SCHEMA"); ok && v != "" {
		c.DBSchema = v
	}
	if v, ok, err := parseBoolEnv(prefix, "AUTO_MIGRATE"); err != nil {
		return err
	} else if ok {
		c.AutoMigrate = v
	}

	dbURL, hasURL := lookupEnv(prefix, "DATABASE_URL")
	if !hasURL || dbURL == "" || dbURL == "memory" {
		c.DatabaseType = "memory"
		c.DatabaseURL = ""
		return nil
	}

	if strings.HasPrefix(dbURL, "postgresql://") || strings.HasPrefix(dbURL, "postgres://") {
		c.DatabaseType = "postgres"
		c.DatabaseURL = dbURL
		return nil
	}
	return fmt.Errorf("unsupported DATABASE_URL format (use 'memory' or 'postgresql://...')")
}

// applyStorageEnv applies storage configuration from environment
func applyStorageEnv(prefix string, c *ServerConfig) error {
	storageURL, hasURL := lookupEnv(prefix, "STORAGE_URL")
	if !hasURL || storageURL == "" || storageURL == "memory" || storageURL == "memory://" {
		c.Storage = StorageBackendConfig{Type: "memory", Config: map[string]interface{}{}}
		return nil
	}

	switch {
	case strings.HasPrefix(storageURL, "file://"):
		return applyFilesystemStorage(storageURL, c)
	case strings.HasPrefix(storageURL, "s3://"):
		return applyS3Storage(storageURL, c)
	}
	return fmt.Errorf("unsupported STORAGE_URL format: %s (use 'memory://', 'file://...', or 's3://...')", storageURL)
}

// applyFilesystemStorage configures filesystem storage from URL
// Format: file:///path/to/data
func applyFilesystemStorage(raw string, c *ServerConfig) error {
	path := strings.TrimPrefix(raw, "file://")
	if path == "" {
		return fmt.Errorf("filesystem path cannot be empty in STORAGE_URL")
	}
	c.Storage = StorageBackendConfig{
		Type:   "fs",
		Config: map[string]interface{}{"base_dir": path},
	}
	return nil
}

// applyS3Storage configures S3 storage from URL
// Format: s3://bucket?region=us-east-1&endpoint=http://localhost:9000
func applyS3Storage(raw string, c *ServerConfig) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid STORAGE_URL: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("S3 bucket name cannot be empty in STORAGE_URL")
	}

	backend := StorageBackendConfig{
		Type: "s3",
		Config: map[string]interface{}{
			"bucket": u.Host,
			"region": "us-east-1",
		},
	}

	q := u.Query()
	if v := q.Get("region"); v != "" {
		backend.Config["region"] = v
	}
	if v := q.Get("endpoint"); v != "" {
		backend.Config["endpoint"] = v
	}
	for param, key := range map[string]string{
		"path_style":         "use_path_style",
		"create_bucket":      "create_bucket_if_not_exist",
		"sse":                "enable_sse",
		"conditional_writes": "disable_conditional_writes",
	} {
		v := q.Get(param)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid boolean for STORAGE_URL parameter %s: %w", param, err)
		}
		if param == "conditional_writes" {
			b = !b
		}
		backend.Config[key] = b
	}

	// AWS credentials come from the standard environment variables
	if accessKey, ok := os.LookupEnv("AWS_ACCESS_KEY_ID"); ok && accessKey != "" {
		backend.Config["access_key_id"] = accessKey
	}
	if secretKey, ok := os.LookupEnv("AWS_SECRET_ACCESS_KEY"); ok && secretKey != "" {
		backend.Config["secret_access_key"] = secretKey
	}
	if region, ok := os.LookupEnv("AWS_REGION"); ok && region != "" && q.Get("region") == "" {
		backend.Config["region"] = region
	}

	c.Storage = backend
	return nil
}

func applyQuotaEnv(prefix string, c *ServerConfig) error {
	if v, ok, err := parseInt64Env(prefix, "QUOTA_CAP_BYTES"); err != nil {
		return err
	} else if ok {
		c.QuotaCapBytes = v
	}
	if v, ok := lookupEnv(prefix, "SPOOL_DIR"); ok && v != "" {
		c.SpoolDir = v
	}
	if v, ok, err := parseInt64Env(prefix, "IMAGE_MAX_DIMENSION"); err != nil {
		return err
	} else if ok {
		c.ImageMaxDimension = int(v)
	}
	if v, ok, err := parseBoolEnv(prefix, "ENABLE_TRANSFORMS"); err != nil {
		return err
	} else if ok {
		c.EnableTransforms = v
	}
	if v, ok, err := parseBoolEnv(prefix, "EVENT_LOGGING"); err != nil {
		return err
	} else if ok {
		c.EnableEventLogging = v
	}
	return nil
}

func lookupEnv(prefix, key string) (string, bool) {
	return os.LookupEnv(prefix + key)
}

func parseBoolEnv(prefix, key string) (bool, bool, error) {
	raw, ok := lookupEnv(prefix, key)
	if !ok || raw == "" {
		return false, false, nil
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("invalid boolean for %s%s: %w", prefix, key, err)
	}
	return parsed, true, nil
}

func parseInt64Env(prefix, key string) (int64, bool, error) {
	raw, ok := lookupEnv(prefix, key)
	if !ok || raw == "" {
		return 0, false, nil
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid integer for %s%s: %w", prefix, key, err)
	}
	return parsed, true, nil
}
