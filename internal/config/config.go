// Package config reads process configuration from the environment, after
// loading an optional .env file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"archcore/pkg/domain"
)

// Config is the complete runtime configuration of the archcore binary.
type Config struct {
	HTTPAddr string
	LogLevel string

	StorageDriver string // memory|sqlite|postgres
	SQLitePath    string
	PostgresDSN   string

	SnapshotRoot   string
	SnapshotGit    bool
	GitAuthorName  string
	GitAuthorEmail string

	// SchemaFile names a JSON array of property schemas; empty disables
	// schema validation.
	SchemaFile string

	BlobDriver string // none|fs|s3|memory
	BlobPrefix string
	BlobFSRoot string
	S3         S3Config
}

// S3Config carries the ARCHCORE_BLOB_S3_* variables.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	PathStyle       bool
}

// Load reads envFiles (".env" when none are given; missing files are
// ignored) into the environment without overriding variables that are
// already set, then builds the Config.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}
	var errs []error
	flag := func(key string) bool {
		raw := get(key, "false")
		v, err := strconv.ParseBool(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid boolean %q", key, raw))
		}
		return v
	}
	cfg := Config{
		HTTPAddr:       get("ARCHCORE_HTTP_ADDR", ":8080"),
		LogLevel:       get("ARCHCORE_LOG_LEVEL", "info"),
		StorageDriver:  get("ARCHCORE_STORAGE_DRIVER", "sqlite"),
		SQLitePath:     get("ARCHCORE_SQLITE_PATH", "./archcore.db"),
		PostgresDSN:    get("ARCHCORE_POSTGRES_DSN", ""),
		SnapshotRoot:   get("ARCHCORE_SNAPSHOT_ROOT", "./exports"),
		SnapshotGit:    flag("ARCHCORE_SNAPSHOT_GIT"),
		GitAuthorName:  get("ARCHCORE_GIT_AUTHOR_NAME", "archcore"),
		GitAuthorEmail: get("ARCHCORE_GIT_AUTHOR_EMAIL", "archcore@localhost"),
		SchemaFile:     get("ARCHCORE_SCHEMA_FILE", ""),
		BlobDriver:     get("ARCHCORE_BLOB_DRIVER", "none"),
		BlobPrefix:     get("ARCHCORE_BLOB_PREFIX", "snapshots"),
		BlobFSRoot:     get("ARCHCORE_BLOB_FS_ROOT", "./blobdata"),
		S3: S3Config{
			Bucket:          get("ARCHCORE_BLOB_S3_BUCKET", ""),
			Region:          get("ARCHCORE_BLOB_S3_REGION", "us-east-1"),
			Endpoint:        get("ARCHCORE_BLOB_S3_ENDPOINT", ""),
			AccessKeyID:     get("ARCHCORE_BLOB_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: get("ARCHCORE_BLOB_S3_SECRET_ACCESS_KEY", ""),
			SessionToken:    get("ARCHCORE_BLOB_S3_SESSION_TOKEN", ""),
			PathStyle:       flag("ARCHCORE_BLOB_S3_PATH_STYLE"),
		},
	}
	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate checks driver names and the settings each driver requires.
func (c Config) Validate() error {
	var errs []error
	switch c.StorageDriver {
	case "memory", "sqlite":
	case "postgres":
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("ARCHCORE_POSTGRES_DSN is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.StorageDriver))
	}
	switch c.BlobDriver {
	case "none", "fs", "memory":
	case "s3":
		if c.S3.Bucket == "" {
			errs = append(errs, errors.New("ARCHCORE_BLOB_S3_BUCKET is required for the s3 blob driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.BlobDriver))
	}
	return errors.Join(errs...)
}

// PropertySchemas reads the schema file, if one is configured.
func (c Config) PropertySchemas() ([]domain.PropertySchema, error) {
	if c.SchemaFile == "" {
		return nil, nil
	}
	b, err := os.ReadFile(c.SchemaFile)
	if err != nil {
		return nil, fmt.Errorf("read schemas: %w", err)
	}
	var schemas []domain.PropertySchema
	if err := json.Unmarshal(b, &schemas); err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.SchemaFile, err)
	}
	for i, s := range schemas {
		if s.ElementType == "" {
			return nil, fmt.Errorf("decode %s: schema %d has no elementType", c.SchemaFile, i)
		}
	}
	return schemas, nil
}
