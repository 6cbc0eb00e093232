package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/repo/memory"
	repopg "github.com/tendant/simple-asset/pkg/simpleasset/repo/postgres"
	fsstorage "github.com/tendant/simple-asset/pkg/simpleasset/storage/fs"
	memorystorage "github.com/tendant/simple-asset/pkg/simpleasset/storage/memory"
	s3storage "github.com/tendant/simple-asset/pkg/simpleasset/storage/s3"
	"github.com/tendant/simple-asset/pkg/simpleasset/transform"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
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
		Port:         "8080",
		Environment:  "development",
		DatabaseType: "memory",
		DBSchema:     "asset",
		Storage: StorageBackendConfig{
			Type:   "memory",
			Config: map[string]interface{}{},
		},
		QuotaCapBytes:      simpleasset.DefaultQuotaCap,
		ImageMaxDimension:  transform.DefaultMaxDimension,
		EnableTransforms:   true,
		EnableEventLogging: true,
	}
}

// ServerConfig represents configuration for the asset service and its server
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Database configuration
	DatabaseURL  string
	DatabaseType string // "memory", "postgres"
	DBSchema     string // Postgres schema to use (default: asset)
	AutoMigrate  bool   // apply the table schema when the service is built

	// Blob storage configuration
	Storage StorageBackendConfig

	// Quota and upload handling
	QuotaCapBytes     int64  // cap for capped accounts without their own
	SpoolDir          string // where uploads are spooled while hashing
	ImageMaxDimension int
	EnableTransforms  bool

	EnableEventLogging bool

	// Logger is used by the service and its event sink. Nil means slog.Default.
	Logger *slog.Logger
}

// StorageBackendConfig represents configuration for the blob store
type StorageBackendConfig struct {
	Type   string // "memory", "fs", "s3"
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

	switch c.Storage.Type {
	case "memory", "fs", "s3":
	default:
		return fmt.Errorf("unsupported storage backend type: %s", c.Storage.Type)
	}

	if c.QuotaCapBytes <= 0 {
		return errors.New("quota cap must be positive")
	}
	if c.ImageMaxDimension <= 0 {
		return errors.New("image max dimension must be positive")
	}

	return nil
}

func (c *ServerConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// BuildService creates a Service instance from the server configuration
func (c *ServerConfig) BuildService(ctx context.Context) (simpleasset.Service, error) {
	repo, err := c.BuildRepository(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}
	return c.BuildServiceWithRepository(repo)
}

// BuildServiceWithRepository creates a Service around an existing repository
func (c *ServerConfig) BuildServiceWithRepository(repo simpleasset.Repository) (simpleasset.Service, error) {
	store, err := c.buildStorageBackend(c.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to build storage backend %s: %w", c.Storage.Type, err)
	}

	logger := c.logger()
	options := []simpleasset.Option{
		simpleasset.WithRepository(repo),
		simpleasset.WithBlobStore(store),
		simpleasset.WithLogger(logger),
		simpleasset.WithDefaultQuotaCap(c.QuotaCapBytes),
		simpleasset.WithSpoolDir(c.SpoolDir),
	}

	if c.EnableTransforms {
		options = append(options, simpleasset.WithTransformer(transform.NewRegistry(
			transform.WithMaxDimension(c.ImageMaxDimension),
			transform.WithLogger(logger),
		)))
	}

	if c.EnableEventLogging {
		options = append(options, simpleasset.WithEventSink(simpleasset.NewLogEventSink(logger)))
	}

	return simpleasset.New(options...)
}

// BuildRepository creates a Repository based on the configuration. Postgres
// repositories get the table schema applied when AutoMigrate is set.
func (c *ServerConfig) BuildRepository(ctx context.Context) (simpleasset.Repository, error) {
	switch c.DatabaseType {
	case "memory":
		return memory.New(), nil
	case "postgres":
		pool, err := OpenPostgres(ctx, c.DatabaseURL, c.DBSchema)
		if err != nil {
			return nil, err
		}
		repo := repopg.NewWithPool(pool)
		if c.AutoMigrate {
			if err := repo.EnsureSchema(ctx); err != nil {
				pool.Close()
				return nil, fmt.Errorf("failed to apply schema: %w", err)
			}
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

// OpenPostgres creates a pool whose sessions use schema as search_path.
func OpenPostgres(ctx context.Context, databaseURL, schema string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, errors.New("database_url is required for postgres")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema != "" {
		ident := pgx.Identifier{schema}.Sanitize()
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+ident)
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	return pool, nil
}

// PingPostgres verifies connectivity to Postgres and that schema is usable.
func PingPostgres(databaseURL, schema string) error {
	pool, err := OpenPostgres(context.Background(), databaseURL, schema)
	if err != nil {
		return err
	}
	defer pool.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// buildStorageBackend creates a BlobStore based on the backend configuration
func (c *ServerConfig) buildStorageBackend(config StorageBackendConfig) (simpleasset.BlobStore, error) {
	switch config.Type {
	case "memory":
		return memorystorage.New(), nil

	case "fs":
		fsConfig := fsstorage.Config{
			BaseDir: getString(config.Config, "base_dir", "./data/storage"),
			NoSync:  getBool(config.Config, "no_sync", false),
		}
		return fsstorage.New(fsConfig)

	case "s3":
		s3Config := s3storage.Config{
			Region:                   getString(config.Config, "region", "us-east-1"),
			Bucket:                   getString(config.Config, "bucket", ""),
			AccessKeyID:              getString(config.Config, "access_key_id", ""),
			SecretAccessKey:          getString(config.Config, "secret_access_key", ""),
			Endpoint:                 getString(config.Config, "endpoint", ""),
			UsePathStyle:             getBool(config.Config, "use_path_style", false),
			EnableSSE:                getBool(config.Config, "enable_sse", false),
			SSEAlgorithm:             getString(config.Config, "sse_algorithm", "AES256"),
			SSEKMSKeyID:              getString(config.Config, "sse_kms_key_id", ""),
			CreateBucketIfNotExist:   getBool(config.Config, "create_bucket_if_not_exist", false),
			DisableConditionalWrites: getBool(config.Config, "disable_conditional_writes", false),
			TempDir:                  getString(config.Config, "temp_dir", c.SpoolDir),
		}
		return s3storage.New(s3Config)

	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", config.Type)
	}
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
